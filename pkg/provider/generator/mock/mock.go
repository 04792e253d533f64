// Package mock provides a test double for the generator package.
//
// Pre-populate Reply (or Err) with what Generate should return, or set
// GenerateFunc for per-call behaviour, then inspect GenerateCalls.
package mock

import (
	"context"
	"sync"

	"github.com/voxloop/voxloop/pkg/provider/generator"
)

// GenerateCall records a single invocation of Provider.Generate.
type GenerateCall struct {
	// Ctx is the context passed to Generate.
	Ctx context.Context
	// Req is the request passed to Generate.
	Req generator.Request
}

// Provider is a mock implementation of generator.Provider.
type Provider struct {
	mu sync.Mutex

	// Reply is returned by Generate when GenerateFunc is nil.
	Reply generator.Reply

	// Err, if non-nil, is returned as the error from Generate.
	Err error

	// GenerateFunc, if non-nil, handles the call instead of Reply/Err.
	GenerateFunc func(ctx context.Context, req generator.Request) (generator.Reply, error)

	// GenerateCalls records every call to Generate in order.
	GenerateCalls []GenerateCall
}

// Generate records the call and returns the configured result.
func (p *Provider) Generate(ctx context.Context, req generator.Request) (generator.Reply, error) {
	p.mu.Lock()
	p.GenerateCalls = append(p.GenerateCalls, GenerateCall{Ctx: ctx, Req: req})
	fn := p.GenerateFunc
	reply, err := p.Reply, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return generator.Reply{}, err
	}
	return reply, nil
}

// CallCount returns the number of Generate calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.GenerateCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GenerateCalls = nil
}

// Ensure Provider implements generator.Provider at compile time.
var _ generator.Provider = (*Provider)(nil)
