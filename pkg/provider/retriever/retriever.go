// Package retriever defines the Provider interface for knowledge-retrieval
// backends.
//
// A retriever queries an externally maintained index (a vector store, a
// search service) for passages relevant to a transcript. The orchestrator
// only ever reads: building and refreshing the index is an offline concern
// that never runs inside the voice path.
//
// Implementations must be safe for concurrent use.
package retriever

import (
	"context"

	"github.com/voxloop/voxloop/pkg/types"
)

// Provider is the abstraction over any retrieval backend.
//
// Retrieve returns up to topK context chunks relevant to query, most
// relevant first. An empty result is valid and distinct from an error.
// Backend-side failures wrap types.ErrUnavailable and undecodable payloads
// wrap types.ErrInvalidResponse; no retries happen at this layer.
type Provider interface {
	Retrieve(ctx context.Context, query string, topK int) ([]types.ContextChunk, error)
}
