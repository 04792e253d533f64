// Package energy implements a voice activity classifier based on RMS frame
// energy.
//
// The score maps the frame's energy in dBFS linearly onto [0, 1]: FloorDB
// and below scores 0.0, CeilingDB and above scores 1.0. With the defaults
// (-60 dBFS floor, 0 dBFS ceiling) an activation threshold of 0.5
// corresponds to -30 dBFS, a reasonable speech level for close-mic input.
//
// Energy gating is crude next to model-based detection but needs no weights,
// adds no latency, and behaves predictably, which makes it the default.
package energy

import (
	"math"

	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/provider/vad"
)

// Defaults for the dBFS mapping range.
const (
	DefaultFloorDB   = -60.0
	DefaultCeilingDB = 0.0
)

// Compile-time assertion that Classifier satisfies vad.Classifier.
var _ vad.Classifier = (*Classifier)(nil)

// Classifier scores frames by RMS energy on a dBFS scale. Stateless and safe
// for concurrent use.
type Classifier struct {
	floorDB   float64
	ceilingDB float64
}

// Option configures a [Classifier].
type Option func(*Classifier)

// WithFloor sets the dBFS level scored as 0.0. Raise it in noisy
// environments so ambient sound stays below the activation threshold.
func WithFloor(db float64) Option {
	return func(c *Classifier) { c.floorDB = db }
}

// WithCeiling sets the dBFS level scored as 1.0.
func WithCeiling(db float64) Option {
	return func(c *Classifier) { c.ceilingDB = db }
}

// New creates an energy classifier with the default dBFS range, adjusted by
// the given options.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		floorDB:   DefaultFloorDB,
		ceilingDB: DefaultCeilingDB,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Score returns the frame's speech probability derived from its RMS energy.
// Empty and all-zero frames score 0.
func (c *Classifier) Score(frame []byte) float64 {
	rms := audio.RMS(frame)
	if rms <= 0 {
		return 0
	}

	db := 20 * math.Log10(rms/32768.0)
	score := (db - c.floorDB) / (c.ceilingDB - c.floorDB)
	return min(max(score, 0), 1)
}
