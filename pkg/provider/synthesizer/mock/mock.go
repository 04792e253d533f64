// Package mock provides a test double for the synthesizer package.
//
// Pre-populate Clip (or Err) with what Synthesize should return, or set
// SynthesizeFunc for per-call behaviour, then inspect SynthesizeCalls.
package mock

import (
	"context"
	"sync"

	"github.com/voxloop/voxloop/pkg/provider/synthesizer"
)

// SynthesizeCall records a single invocation of Provider.Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the voice passed to Synthesize.
	Voice synthesizer.Voice
}

// Provider is a mock implementation of synthesizer.Provider.
type Provider struct {
	mu sync.Mutex

	// Clip is returned by Synthesize when SynthesizeFunc is nil.
	Clip synthesizer.Clip

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// SynthesizeFunc, if non-nil, handles the call instead of Clip/Err.
	SynthesizeFunc func(ctx context.Context, text string, voice synthesizer.Voice) (synthesizer.Clip, error)

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns the configured result.
func (p *Provider) Synthesize(ctx context.Context, text string, voice synthesizer.Voice) (synthesizer.Clip, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	fn := p.SynthesizeFunc
	clip, err := p.Clip, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, voice)
	}
	if err != nil {
		return synthesizer.Clip{}, err
	}
	return clip, nil
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}

// Ensure Provider implements synthesizer.Provider at compile time.
var _ synthesizer.Provider = (*Provider)(nil)
