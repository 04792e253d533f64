// Package vad defines the frame-level speech scorer consumed by the turn
// detector.
//
// A Classifier wraps a speech detector (an energy gate, or a model such as
// Silero) and reduces it to a single synchronous operation: score one PCM
// frame. All segmentation state (debounce, hangover, turn assembly) lives in
// the turn detector, not here, so classifiers stay trivially swappable.
package vad

// Classifier scores a single audio frame for speech probability.
//
// Frames are raw little-endian int16 PCM at the session's configured sample
// rate and frame duration. Score must not block; it is called on the
// session's detector loop for every frame. Implementations must be safe for
// concurrent use across streams.
type Classifier interface {
	// Score returns the speech probability of the frame in [0.0, 1.0].
	Score(frame []byte) float64
}
