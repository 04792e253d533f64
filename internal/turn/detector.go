// Package turn segments a continuous audio stream into speech turns.
//
// The Detector runs a three-state machine over per-frame speech scores from a
// vad.Classifier. Activation requires the score to stay at or above the
// threshold for the debounce window, which rejects short bursts (coughs, key
// clicks). Deactivation requires the score to stay below the threshold for
// the hangover window, which bridges natural mid-sentence pauses. Each
// completed segment is emitted as exactly one Turn whose audio spans the
// first threshold crossing to the threshold drop.
package turn

import (
	"time"

	"github.com/google/uuid"
	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/provider/vad"
	"github.com/voxloop/voxloop/pkg/types"
)

// State enumerates the detector's segmentation states.
type State int

const (
	// StateSilence: no speech; an activation candidate may be accumulating.
	StateSilence State = iota

	// StateSpeechActive: inside a confirmed speech segment.
	StateSpeechActive

	// StateSpeechEnding: segment still open, score below threshold, waiting
	// out the hangover window.
	StateSpeechEnding
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateSilence:
		return "SILENCE"
	case StateSpeechActive:
		return "SPEECH_ACTIVE"
	case StateSpeechEnding:
		return "SPEECH_ENDING"
	default:
		return "UNKNOWN"
	}
}

// Defaults applied by NewDetector for zero Config fields.
const (
	DefaultFrameDuration = 20 * time.Millisecond
	DefaultThreshold     = 0.5
	DefaultDebounce      = 200 * time.Millisecond
	DefaultHangover      = 600 * time.Millisecond
	DefaultMaxSegment    = 30 * time.Second
)

// Config holds the segmentation parameters for a [Detector].
type Config struct {
	// Format is the PCM format of the incoming stream.
	Format audio.Format

	// FrameDuration is the analysis window fed to the classifier.
	FrameDuration time.Duration

	// Threshold is the classifier score at or above which a frame counts as
	// speech.
	Threshold float64

	// Debounce is how long speech must be sustained before a segment opens.
	Debounce time.Duration

	// Hangover is how long silence must be sustained before an open segment
	// closes. Pauses shorter than this stay inside the segment.
	Hangover time.Duration

	// MaxSegment bounds per-turn memory. A segment reaching this length is
	// emitted immediately and a new one may open behind it.
	MaxSegment time.Duration
}

func (c *Config) applyDefaults() {
	if c.Format.SampleRate == 0 {
		c.Format = audio.Format{SampleRate: 16000, Channels: 1}
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = DefaultFrameDuration
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Debounce < 0 {
		c.Debounce = DefaultDebounce
	}
	if c.Hangover <= 0 {
		c.Hangover = DefaultHangover
	}
	if c.MaxSegment <= 0 {
		c.MaxSegment = DefaultMaxSegment
	}
}

// Detector consumes a PCM stream and emits a Turn per detected speech
// segment. Not safe for concurrent use; feed it from a single goroutine.
type Detector struct {
	cfg    Config
	cls    vad.Classifier
	onTurn func(types.Turn)

	frameBytes int
	maxBytes   int

	state   State
	elapsed time.Duration

	// pending carries a partial frame between Process calls.
	pending []byte

	// segment accumulates audio from the first frame of the activation
	// candidate onward.
	segment  []byte
	segStart time.Duration

	// run tracks sustained speech in Silence (debounce progress); quiet
	// tracks sustained silence in an open segment (hangover progress).
	run        time.Duration
	quiet      time.Duration
	quietBytes int
}

// NewDetector creates a detector that scores frames with cls and invokes
// onTurn for every completed segment. onTurn runs synchronously on the
// feeding goroutine.
func NewDetector(cfg Config, cls vad.Classifier, onTurn func(types.Turn)) *Detector {
	cfg.applyDefaults()
	d := &Detector{
		cfg:        cfg,
		cls:        cls,
		onTurn:     onTurn,
		frameBytes: cfg.Format.Bytes(cfg.FrameDuration),
		maxBytes:   cfg.Format.Bytes(cfg.MaxSegment),
	}
	return d
}

// State returns the current segmentation state.
func (d *Detector) State() State { return d.state }

// Process consumes the next chunk of stream audio. Chunks need not align to
// frame boundaries; a trailing partial frame is carried over to the next
// call.
func (d *Detector) Process(p []byte) {
	if len(p) == 0 {
		return
	}
	data := p
	if len(d.pending) > 0 {
		data = append(d.pending, p...)
		d.pending = nil
	}

	off := 0
	for off+d.frameBytes <= len(data) {
		d.processFrame(data[off : off+d.frameBytes])
		off += d.frameBytes
	}
	if off < len(data) {
		d.pending = append(d.pending, data[off:]...)
	}
}

// Flush closes the stream: an open segment is emitted as a partial turn,
// with any trailing sub-hangover silence trimmed. The detector returns to
// Silence and may be fed again.
func (d *Detector) Flush() {
	switch d.state {
	case StateSpeechActive:
		d.emit(d.elapsed)
	case StateSpeechEnding:
		d.segment = d.segment[:len(d.segment)-d.quietBytes]
		d.emit(d.elapsed - d.quiet)
	}
	d.reset()
	d.pending = nil
}

func (d *Detector) processFrame(frame []byte) {
	speech := d.cls.Score(frame) >= d.cfg.Threshold

	switch d.state {
	case StateSilence:
		if !speech {
			// Candidate failed before debounce: short burst, discard.
			if d.run > 0 {
				d.reset()
			}
			break
		}
		if d.run == 0 {
			d.segStart = d.elapsed
			d.segment = make([]byte, 0, d.frameBytes*8)
		}
		d.run += d.cfg.FrameDuration
		d.segment = append(d.segment, frame...)
		if d.run >= d.cfg.Debounce {
			d.state = StateSpeechActive
		}

	case StateSpeechActive:
		d.segment = append(d.segment, frame...)
		if !speech {
			d.state = StateSpeechEnding
			d.quiet = d.cfg.FrameDuration
			d.quietBytes = len(frame)
		}

	case StateSpeechEnding:
		d.segment = append(d.segment, frame...)
		if speech {
			// Rebound: the pause stays inside the segment.
			d.state = StateSpeechActive
			d.quiet = 0
			d.quietBytes = 0
			break
		}
		d.quiet += d.cfg.FrameDuration
		d.quietBytes += len(frame)
		if d.quiet >= d.cfg.Hangover {
			d.segment = d.segment[:len(d.segment)-d.quietBytes]
			d.emit(d.elapsed + d.cfg.FrameDuration - d.quiet)
			d.reset()
		}
	}

	d.elapsed += d.cfg.FrameDuration

	// Bound per-turn memory: a runaway segment is emitted as-is.
	if d.state != StateSilence && d.maxBytes > 0 && len(d.segment) >= d.maxBytes {
		d.segment = d.segment[:len(d.segment)-d.quietBytes]
		d.emit(d.elapsed - d.quiet)
		d.reset()
	}
}

// emit hands the accumulated segment to the turn callback. end is the stream
// time of the last speech byte in the segment.
func (d *Detector) emit(end time.Duration) {
	if len(d.segment) == 0 || d.onTurn == nil {
		return
	}
	d.onTurn(types.Turn{
		ID:         uuid.NewString(),
		Start:      d.segStart,
		End:        end,
		Audio:      d.segment,
		SampleRate: d.cfg.Format.SampleRate,
		Channels:   d.cfg.Format.Channels,
	})
	// Ownership of the segment slice moved to the Turn.
	d.segment = nil
}

func (d *Detector) reset() {
	d.state = StateSilence
	d.segment = nil
	d.run = 0
	d.quiet = 0
	d.quietBytes = 0
}
