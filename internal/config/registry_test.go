package config_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/voxloop/voxloop/internal/config"
	"github.com/voxloop/voxloop/pkg/provider/generator"
	genmock "github.com/voxloop/voxloop/pkg/provider/generator/mock"
	"github.com/voxloop/voxloop/pkg/provider/transcriber"
	tmock "github.com/voxloop/voxloop/pkg/provider/transcriber/mock"
	"github.com/voxloop/voxloop/pkg/provider/vad"
	"github.com/voxloop/voxloop/pkg/provider/vad/energy"
)

func TestRegistry_CreatePassesEntryToFactory(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()

	var seen config.Backend
	r.RegisterTranscriber("whisper", func(entry config.Backend) (transcriber.Provider, error) {
		seen = entry
		return &tmock.Provider{}, nil
	})

	entry := config.Backend{Name: "whisper", BaseURL: "http://localhost:9000", Model: "base.en"}
	p, err := r.CreateTranscriber(entry)
	if err != nil {
		t.Fatalf("CreateTranscriber: %v", err)
	}
	if p == nil {
		t.Fatal("CreateTranscriber returned nil provider")
	}
	if seen.BaseURL != entry.BaseURL || seen.Model != entry.Model {
		t.Errorf("factory saw %+v, want %+v", seen, entry)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()

	_, err := r.CreateGenerator(config.Backend{Name: "nonexistent"})
	if err == nil {
		t.Fatal("expected error for unregistered backend, got nil")
	}
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("error = %v, want ErrProviderNotRegistered", err)
	}
	if !strings.Contains(err.Error(), "generator") {
		t.Errorf("error should name the kind, got: %v", err)
	}
	if !strings.Contains(err.Error(), "nonexistent") {
		t.Errorf("error should name the backend, got: %v", err)
	}
}

func TestRegistry_OverwritesSameName(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()

	first := &genmock.Provider{}
	second := &genmock.Provider{}
	r.RegisterGenerator("openai", func(config.Backend) (generator.Provider, error) {
		return first, nil
	})
	r.RegisterGenerator("openai", func(config.Backend) (generator.Provider, error) {
		return second, nil
	})

	p, err := r.CreateGenerator(config.Backend{Name: "openai"})
	if err != nil {
		t.Fatalf("CreateGenerator: %v", err)
	}
	if p != second {
		t.Error("second registration should win")
	}
}

func TestRegistry_VADKind(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	r.RegisterVAD("energy", func(config.Backend) (vad.Classifier, error) {
		return energy.New(), nil
	})

	cls, err := r.CreateVAD(config.Backend{Name: "energy"})
	if err != nil {
		t.Fatalf("CreateVAD: %v", err)
	}
	if cls == nil {
		t.Fatal("CreateVAD returned nil classifier")
	}
	if score := cls.Score(make([]byte, 640)); score != 0 {
		t.Errorf("silent frame score = %v, want 0", score)
	}
}

func TestRegistry_FactoryErrorPropagates(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	r.RegisterTranscriber("whisper", func(config.Backend) (transcriber.Provider, error) {
		return nil, errors.New("base_url is required")
	})

	_, err := r.CreateTranscriber(config.Backend{Name: "whisper"})
	if err == nil {
		t.Fatal("expected factory error, got nil")
	}
	if !strings.Contains(err.Error(), "base_url") {
		t.Errorf("error = %v, want factory error", err)
	}
}
