// Package mock provides a test double for the vad package.
//
// Use Classifier to script per-frame speech scores and inspect the frames
// that were submitted:
//
//	cls := &mock.Classifier{Scores: []float64{0.9, 0.9, 0.1}}
//	det := turn.NewDetector(cfg, cls)
package mock

import (
	"sync"

	"github.com/voxloop/voxloop/pkg/provider/vad"
)

// Ensure Classifier implements vad.Classifier at compile time.
var _ vad.Classifier = (*Classifier)(nil)

// Classifier is a mock implementation of vad.Classifier.
type Classifier struct {
	mu sync.Mutex

	// Scores are returned by successive Score calls in order. Once
	// exhausted, the last entry repeats. An empty slice scores 0.
	Scores []float64

	// ScoreFunc, if non-nil, overrides Scores entirely.
	ScoreFunc func(frame []byte) float64

	// ScoreCalls counts the Score invocations.
	ScoreCalls int
}

// Score records the call and returns the next scripted score.
func (c *Classifier) Score(frame []byte) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.ScoreCalls
	c.ScoreCalls++

	if c.ScoreFunc != nil {
		return c.ScoreFunc(frame)
	}
	if len(c.Scores) == 0 {
		return 0
	}
	if idx >= len(c.Scores) {
		idx = len(c.Scores) - 1
	}
	return c.Scores[idx]
}

// Reset clears all recorded calls. Thread-safe.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ScoreCalls = 0
}
