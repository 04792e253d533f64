package anyllm

import (
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
)

// TestNew_EmptyProviderName checks that an empty provider name is rejected.
func TestNew_EmptyProviderName(t *testing.T) {
	_, err := New("", "gpt-4o-mini")
	if err == nil {
		t.Fatal("expected error for empty provider name, got nil")
	}
}

// TestNew_EmptyModel checks that an empty model is rejected.
func TestNew_EmptyModel(t *testing.T) {
	_, err := New("openai", "")
	if err == nil {
		t.Fatal("expected error for empty model, got nil")
	}
}

// TestNew_UnsupportedProvider checks the error message lists alternatives.
func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := New("carrierpigeon", "some-model")
	if err == nil {
		t.Fatal("expected error for unsupported provider, got nil")
	}
	if !strings.Contains(err.Error(), "unsupported provider") {
		t.Errorf("error %q should mention the unsupported provider", err)
	}
}

// TestNew_KnownProviders verifies backends construct with an explicit key.
func TestNew_KnownProviders(t *testing.T) {
	providers := []string{"openai", "anthropic", "ollama", "llamacpp", "llamafile"}
	for _, name := range providers {
		t.Run(name, func(t *testing.T) {
			p, err := New(name, "test-model", anyllmlib.WithAPIKey("test-key"))
			if err != nil {
				t.Fatalf("New(%q): %v", name, err)
			}
			if p == nil {
				t.Fatalf("New(%q): expected non-nil Provider", name)
			}
		})
	}
}

// TestNew_CaseInsensitiveProviderName checks that provider matching ignores case.
func TestNew_CaseInsensitiveProviderName(t *testing.T) {
	p, err := New("OpenAI", "test-model", anyllmlib.WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("New(OpenAI): %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil Provider")
	}
}

// TestNewOllama_NoKeyRequired verifies local backends construct without credentials.
func TestNewOllama_NoKeyRequired(t *testing.T) {
	p, err := NewOllama("llama3.2")
	if err != nil {
		t.Fatalf("NewOllama: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil Provider")
	}
}
