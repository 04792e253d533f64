package resilience

import (
	"context"

	"github.com/voxloop/voxloop/pkg/provider/generator"
)

// GeneratorFallback implements [generator.Provider] with automatic failover
// across multiple language-model backends. Each backend has its own circuit
// breaker; when the primary fails or its breaker is open, the next healthy
// fallback is tried.
type GeneratorFallback struct {
	group *FallbackGroup[generator.Provider]
}

// Compile-time interface assertion.
var _ generator.Provider = (*GeneratorFallback)(nil)

// NewGeneratorFallback creates a [GeneratorFallback] with primary as the
// preferred backend.
func NewGeneratorFallback(primary generator.Provider, primaryName string, cfg FallbackConfig) *GeneratorFallback {
	return &GeneratorFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional generator backend as a fallback.
func (f *GeneratorFallback) AddFallback(name string, provider generator.Provider) {
	f.group.AddFallback(name, provider)
}

// Generate sends the request to the first healthy backend and returns its
// reply. If the primary fails, subsequent fallbacks are tried.
func (f *GeneratorFallback) Generate(ctx context.Context, req generator.Request) (generator.Reply, error) {
	return ExecuteWithResult(f.group, func(p generator.Provider) (generator.Reply, error) {
		return p.Generate(ctx, req)
	})
}
