// Package mock provides a test double for the transcriber package.
//
// Pre-populate Result (or Err) with what Transcribe should return, or set
// TranscribeFunc for per-call behaviour, then inspect TranscribeCalls.
//
// Example:
//
//	p := &mock.Provider{Result: transcriber.Transcription{Text: "hello"}}
//	tr, _ := p.Transcribe(ctx, seg)
package mock

import (
	"context"
	"sync"

	"github.com/voxloop/voxloop/pkg/provider/transcriber"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Seg is the segment passed to Transcribe.
	Seg transcriber.Segment
}

// Provider is a mock implementation of transcriber.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe when TranscribeFunc is nil.
	Result transcriber.Transcription

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// TranscribeFunc, if non-nil, handles the call instead of Result/Err.
	TranscribeFunc func(ctx context.Context, seg transcriber.Segment) (transcriber.Transcription, error)

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the configured result.
func (p *Provider) Transcribe(ctx context.Context, seg transcriber.Segment) (transcriber.Transcription, error) {
	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Seg: seg})
	fn := p.TranscribeFunc
	result, err := p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, seg)
	}
	if err != nil {
		return transcriber.Transcription{}, err
	}
	return result, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements transcriber.Provider at compile time.
var _ transcriber.Provider = (*Provider)(nil)
