// Package synthesizer defines the Provider interface for text-to-speech
// backends.
//
// A synthesizer renders one reply to audio in a single bounded call and
// returns raw PCM in the format the provider was configured for, so the
// pipeline never touches container formats or backend-native sample rates.
//
// Implementations must be safe for concurrent use.
package synthesizer

import (
	"context"

	"github.com/voxloop/voxloop/pkg/audio"
)

// Voice selects and shapes the synthesis voice.
type Voice struct {
	// ID is the backend-specific voice identifier. Empty selects the
	// backend's default voice.
	ID string

	// Language is an optional language hint for multilingual backends
	// (e.g. "en").
	Language string

	// Speed adjusts the speaking rate where supported (1.0 = default).
	Speed float64
}

// Clip is one rendered utterance.
type Clip struct {
	// PCM is little-endian int16 audio, resampled by the provider to its
	// configured output format.
	PCM []byte

	// Format describes PCM.
	Format audio.Format
}

// Provider is the abstraction over any text-to-speech backend.
//
// Synthesize blocks until the backend answers or ctx expires. Backend-side
// failures wrap types.ErrUnavailable and undecodable payloads wrap
// types.ErrInvalidResponse; no retries happen at this layer.
type Provider interface {
	Synthesize(ctx context.Context, text string, voice Voice) (Clip, error)
}
