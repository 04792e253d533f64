package resilience

import (
	"context"

	"github.com/voxloop/voxloop/pkg/provider/synthesizer"
)

// SynthesizerFallback implements [synthesizer.Provider] with automatic
// failover across multiple text-to-speech backends. Each backend has its
// own circuit breaker.
type SynthesizerFallback struct {
	group *FallbackGroup[synthesizer.Provider]
}

// Compile-time interface assertion.
var _ synthesizer.Provider = (*SynthesizerFallback)(nil)

// NewSynthesizerFallback creates a [SynthesizerFallback] with primary as
// the preferred backend.
func NewSynthesizerFallback(primary synthesizer.Provider, primaryName string, cfg FallbackConfig) *SynthesizerFallback {
	return &SynthesizerFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional synthesizer backend as a fallback.
func (f *SynthesizerFallback) AddFallback(name string, provider synthesizer.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize renders text through the first healthy backend. If the
// primary fails, subsequent fallbacks are tried.
func (f *SynthesizerFallback) Synthesize(ctx context.Context, text string, voice synthesizer.Voice) (synthesizer.Clip, error) {
	return ExecuteWithResult(f.group, func(p synthesizer.Provider) (synthesizer.Clip, error) {
		return p.Synthesize(ctx, text, voice)
	})
}
