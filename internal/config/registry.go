package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/voxloop/voxloop/pkg/provider/embeddings"
	"github.com/voxloop/voxloop/pkg/provider/generator"
	"github.com/voxloop/voxloop/pkg/provider/retriever"
	"github.com/voxloop/voxloop/pkg/provider/synthesizer"
	"github.com/voxloop/voxloop/pkg/provider/transcriber"
	"github.com/voxloop/voxloop/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory
// has been registered under the requested backend name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds one backend instance from its config entry.
type Factory[T any] func(Backend) (T, error)

// kindRegistry holds the named factories for one backend kind.
type kindRegistry[T any] struct {
	kind string

	mu sync.RWMutex
	m  map[string]Factory[T]
}

func newKindRegistry[T any](kind string) *kindRegistry[T] {
	return &kindRegistry[T]{kind: kind, m: make(map[string]Factory[T])}
}

func (k *kindRegistry[T]) register(name string, factory Factory[T]) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.m[name] = factory
}

func (k *kindRegistry[T]) create(entry Backend) (T, error) {
	k.mu.RLock()
	factory, ok := k.m[entry.Name]
	k.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, k.kind, entry.Name)
	}
	return factory(entry)
}

// Registry maps backend names to their constructor functions for each
// backend kind. It is safe for concurrent use.
type Registry struct {
	transcriber *kindRegistry[transcriber.Provider]
	retriever   *kindRegistry[retriever.Provider]
	generator   *kindRegistry[generator.Provider]
	synthesizer *kindRegistry[synthesizer.Provider]
	embeddings  *kindRegistry[embeddings.Provider]
	vad         *kindRegistry[vad.Classifier]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transcriber: newKindRegistry[transcriber.Provider]("transcriber"),
		retriever:   newKindRegistry[retriever.Provider]("retriever"),
		generator:   newKindRegistry[generator.Provider]("generator"),
		synthesizer: newKindRegistry[synthesizer.Provider]("synthesizer"),
		embeddings:  newKindRegistry[embeddings.Provider]("embeddings"),
		vad:         newKindRegistry[vad.Classifier]("vad"),
	}
}

// RegisterTranscriber registers a transcriber factory under name.
// Subsequent calls with the same name overwrite the previous registration;
// the same holds for every Register* method.
func (r *Registry) RegisterTranscriber(name string, factory Factory[transcriber.Provider]) {
	r.transcriber.register(name, factory)
}

// RegisterRetriever registers a retriever factory under name.
func (r *Registry) RegisterRetriever(name string, factory Factory[retriever.Provider]) {
	r.retriever.register(name, factory)
}

// RegisterGenerator registers a generator factory under name.
func (r *Registry) RegisterGenerator(name string, factory Factory[generator.Provider]) {
	r.generator.register(name, factory)
}

// RegisterSynthesizer registers a synthesizer factory under name.
func (r *Registry) RegisterSynthesizer(name string, factory Factory[synthesizer.Provider]) {
	r.synthesizer.register(name, factory)
}

// RegisterEmbeddings registers an embeddings factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory Factory[embeddings.Provider]) {
	r.embeddings.register(name, factory)
}

// RegisterVAD registers a voice-activity classifier factory under name.
func (r *Registry) RegisterVAD(name string, factory Factory[vad.Classifier]) {
	r.vad.register(name, factory)
}

// CreateTranscriber instantiates the transcriber registered under
// entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name; the same holds for every Create* method.
func (r *Registry) CreateTranscriber(entry Backend) (transcriber.Provider, error) {
	return r.transcriber.create(entry)
}

// CreateRetriever instantiates the retriever registered under entry.Name.
func (r *Registry) CreateRetriever(entry Backend) (retriever.Provider, error) {
	return r.retriever.create(entry)
}

// CreateGenerator instantiates the generator registered under entry.Name.
func (r *Registry) CreateGenerator(entry Backend) (generator.Provider, error) {
	return r.generator.create(entry)
}

// CreateSynthesizer instantiates the synthesizer registered under
// entry.Name.
func (r *Registry) CreateSynthesizer(entry Backend) (synthesizer.Provider, error) {
	return r.synthesizer.create(entry)
}

// CreateEmbeddings instantiates the embeddings backend registered under
// entry.Name.
func (r *Registry) CreateEmbeddings(entry Backend) (embeddings.Provider, error) {
	return r.embeddings.create(entry)
}

// CreateVAD instantiates the voice-activity classifier registered under
// entry.Name.
func (r *Registry) CreateVAD(entry Backend) (vad.Classifier, error) {
	return r.vad.create(entry)
}
