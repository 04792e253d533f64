// Package mock provides a test double for the retriever package.
//
// Pre-populate Chunks (or Err) with what Retrieve should return, or set
// RetrieveFunc for per-call behaviour, then inspect RetrieveCalls.
package mock

import (
	"context"
	"sync"

	"github.com/voxloop/voxloop/pkg/provider/retriever"
	"github.com/voxloop/voxloop/pkg/types"
)

// RetrieveCall records a single invocation of Provider.Retrieve.
type RetrieveCall struct {
	// Ctx is the context passed to Retrieve.
	Ctx context.Context
	// Query is the query string passed to Retrieve.
	Query string
	// TopK is the requested result count.
	TopK int
}

// Provider is a mock implementation of retriever.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks is returned by Retrieve when RetrieveFunc is nil.
	Chunks []types.ContextChunk

	// Err, if non-nil, is returned as the error from Retrieve.
	Err error

	// RetrieveFunc, if non-nil, handles the call instead of Chunks/Err.
	RetrieveFunc func(ctx context.Context, query string, topK int) ([]types.ContextChunk, error)

	// RetrieveCalls records every call to Retrieve in order.
	RetrieveCalls []RetrieveCall
}

// Retrieve records the call and returns the configured result.
func (p *Provider) Retrieve(ctx context.Context, query string, topK int) ([]types.ContextChunk, error) {
	p.mu.Lock()
	p.RetrieveCalls = append(p.RetrieveCalls, RetrieveCall{Ctx: ctx, Query: query, TopK: topK})
	fn := p.RetrieveFunc
	chunks, err := p.Chunks, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, query, topK)
	}
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// CallCount returns the number of Retrieve calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.RetrieveCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RetrieveCalls = nil
}

// Ensure Provider implements retriever.Provider at compile time.
var _ retriever.Provider = (*Provider)(nil)
