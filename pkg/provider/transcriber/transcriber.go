// Package transcriber defines the Provider interface for speech-to-text
// backends.
//
// A transcriber converts one complete speech segment into text in a single
// bounded call. Streaming recognition is deliberately out of scope: the turn
// detector hands the pipeline whole segments, so the one-shot form keeps
// every backend (an HTTP whisper server, a cloud API) behind the same
// minimal surface.
//
// Implementations must be safe for concurrent use; the orchestrator invokes
// them from one goroutine per in-flight turn.
package transcriber

import "context"

// Segment is one complete speech segment submitted for transcription.
type Segment struct {
	// PCM is little-endian int16 audio.
	PCM []byte

	// SampleRate and Channels describe PCM.
	SampleRate int
	Channels   int
}

// Transcription is the recognized text for a segment.
type Transcription struct {
	// Text is the recognized speech, whitespace-trimmed. Empty when the
	// backend heard nothing intelligible.
	Text string

	// Confidence is the backend's overall confidence (0.0-1.0), zero when
	// the backend does not report one.
	Confidence float64
}

// Provider is the abstraction over any speech-to-text backend.
//
// Transcribe blocks until the backend answers or ctx expires. Backend-side
// failures wrap types.ErrUnavailable and undecodable payloads wrap
// types.ErrInvalidResponse so the pipeline can classify them; no retries
// happen at this layer.
type Provider interface {
	Transcribe(ctx context.Context, seg Segment) (Transcription, error)
}
