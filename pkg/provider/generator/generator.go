// Package generator defines the Provider interface for language-model
// backends.
//
// A generator produces one reply for one turn: a single request/response
// exchange with no tool calls and no streaming. Conversation memory, if any,
// lives with the caller; the Request carries everything the model sees.
//
// Implementations must be safe for concurrent use.
package generator

import (
	"context"
	"strings"

	"github.com/voxloop/voxloop/pkg/types"
)

// Request carries everything the language model needs for one reply.
type Request struct {
	// System is the assistant persona and instruction prompt.
	System string

	// Transcript is the user's recognized speech. Empty means transcription
	// failed; Prompt renders an instruction to acknowledge that.
	Transcript string

	// Context holds the retrieved knowledge chunks, possibly empty.
	Context []types.ContextChunk

	// MaxTokens caps the completion length; zero leaves the backend default.
	MaxTokens int

	// Temperature sets sampling temperature; zero leaves the backend
	// default.
	Temperature float64
}

// Prompt renders the user-role message for the request: the transcript
// followed by the retrieved context block. An empty transcript renders an
// instruction to tell the user they could not be heard, so a transcription
// failure still produces a sensible spoken reply.
func (r Request) Prompt() string {
	var b strings.Builder
	if r.Transcript == "" {
		b.WriteString("The user's speech could not be transcribed. " +
			"Briefly let them know you could not hear them and ask them to repeat.")
	} else {
		b.WriteString(r.Transcript)
	}

	if len(r.Context) > 0 {
		b.WriteString("\n\nRelevant context:\n")
		for _, chunk := range r.Context {
			b.WriteString("- ")
			b.WriteString(chunk.Snippet)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Usage reports backend token consumption when available.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// Reply is one generated answer.
type Reply struct {
	// Text is the reply, whitespace-trimmed.
	Text string

	// Usage is zero-valued when the backend does not report it.
	Usage Usage
}

// Provider is the abstraction over any language-model backend.
//
// Generate blocks until the backend answers or ctx expires. Backend-side
// failures wrap types.ErrUnavailable and undecodable payloads wrap
// types.ErrInvalidResponse; no retries happen at this layer.
type Provider interface {
	Generate(ctx context.Context, req Request) (Reply, error)
}
