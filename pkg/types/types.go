// Package types defines the shared data model used across all voxloop packages.
//
// These types form the lingua franca between the audio front-end, the turn
// detector, the backend providers, and the pipeline orchestrator. Each package
// defines its own domain types; only cross-cutting data structures live here to
// avoid circular imports.
package types

import (
	"context"
	"errors"
	"net"
	"time"
)

// AudioFrame represents a single frame of audio data flowing into a session.
// Frames are the atomic unit of audio transport: produced by the stream
// gateway, appended to the session buffer, and consumed by the turn detector.
type AudioFrame struct {
	// PCM audio data, little-endian int16 samples.
	Data []byte

	// SampleRate in Hz (e.g. 48000 for Opus streams, 16000 for the pipeline).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int

	// Seq is the monotonically increasing frame sequence number within a
	// stream. Gaps indicate dropped frames.
	Seq uint64

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Turn is one detected speech segment: the unit of work handed to the
// pipeline. A Turn is created by the turn detector when speech ends (or the
// stream closes mid-speech), consumed exactly once, and never persisted.
type Turn struct {
	// ID uniquely identifies the turn across the process lifetime.
	ID string

	// Start and End bound the speech segment relative to stream start.
	Start time.Duration
	End   time.Duration

	// Audio is the captured PCM for the segment, little-endian int16.
	Audio []byte

	// SampleRate and Channels describe Audio.
	SampleRate int
	Channels   int
}

// Length returns the duration of the captured segment.
func (t Turn) Length() time.Duration { return t.End - t.Start }

// ContextChunk is one retrieved knowledge snippet. An empty slice of chunks
// is a valid, non-error retrieval result.
type ContextChunk struct {
	// DocumentID identifies the source document in the retrieval index.
	DocumentID string

	// Snippet is the retrieved text passage.
	Snippet string

	// Score is the retrieval relevance score (higher is more relevant).
	Score float64
}

// Stage identifies one pipeline stage.
type Stage string

const (
	StageTranscribe Stage = "transcribe"
	StageRetrieve   Stage = "retrieve"
	StageGenerate   Stage = "generate"
	StageSynthesize Stage = "synthesize"
)

// Stages lists every pipeline stage in execution order.
var Stages = []Stage{StageTranscribe, StageRetrieve, StageGenerate, StageSynthesize}

// ErrorKind classifies a stage failure. The zero value means no failure.
// Stage failures cross the orchestrator boundary as ErrorKind values in
// [PipelineResult.StageErrors], never as Go errors.
type ErrorKind string

const (
	// ErrorUnavailable: the backend could not be reached or refused to serve
	// (connection failure, non-2xx status, open circuit breaker).
	ErrorUnavailable ErrorKind = "unavailable"

	// ErrorTimeout: the stage deadline elapsed before the backend responded.
	ErrorTimeout ErrorKind = "timeout"

	// ErrorInvalidResponse: the backend answered with a payload the provider
	// could not decode.
	ErrorInvalidResponse ErrorKind = "invalid_response"

	// ErrorBufferOverflow: the session audio buffer evicted unread audio.
	// Non-fatal; logged and counted, never attached to a stage.
	ErrorBufferOverflow ErrorKind = "buffer_overflow"
)

// Sentinel errors wrapped by providers so that [Classify] can map transport
// failures onto the error taxonomy without string matching.
var (
	// ErrUnavailable marks a backend-side failure (non-2xx response).
	ErrUnavailable = errors.New("backend unavailable")

	// ErrInvalidResponse marks an undecodable backend payload.
	ErrInvalidResponse = errors.New("invalid backend response")
)

// Classify maps a provider error onto its [ErrorKind]. A nil error yields the
// zero ErrorKind. Deadline expiry and network timeouts classify as
// [ErrorTimeout]; wrapped [ErrInvalidResponse] as [ErrorInvalidResponse];
// everything else, including open circuit breakers and cancelled contexts,
// as [ErrorUnavailable].
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTimeout
	}
	if errors.Is(err, ErrInvalidResponse) {
		return ErrorInvalidResponse
	}
	return ErrorUnavailable
}

// PipelineResult is the complete outcome of processing one Turn. Exactly one
// result exists per turn regardless of stage failures; failed stages leave
// their fallback value in the corresponding field and record their kind in
// StageErrors. Results are immutable once returned.
type PipelineResult struct {
	// TurnID echoes the ID of the processed Turn.
	TurnID string

	// Transcript is the recognized speech, empty when transcription failed.
	Transcript string

	// Confidence is the transcriber's confidence in Transcript (0.0-1.0).
	Confidence float64

	// Context holds the retrieved knowledge chunks, empty on retrieval
	// failure.
	Context []ContextChunk

	// Reply is the generated answer text. On generation failure this is the
	// configured apology line.
	Reply string

	// Audio is the synthesized reply as PCM, nil when synthesis failed.
	Audio []byte

	// SampleRate describes Audio when present.
	SampleRate int

	// StageErrors maps each failed stage to its failure kind. Stages absent
	// from the map succeeded.
	StageErrors map[Stage]ErrorKind

	// Elapsed is the wall-clock time from turn pickup to result.
	Elapsed time.Duration
}
