package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/voxloop/voxloop/pkg/provider/generator"
	genmock "github.com/voxloop/voxloop/pkg/provider/generator/mock"
)

func TestGeneratorFallback_PrimarySuccess(t *testing.T) {
	primary := &genmock.Provider{
		Reply: generator.Reply{Text: "hello from primary"},
	}
	secondary := &genmock.Provider{
		Reply: generator.Reply{Text: "hello from secondary"},
	}

	fb := NewGeneratorFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	reply, err := fb.Generate(context.Background(), generator.Request{Transcript: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Text != "hello from primary" {
		t.Fatalf("reply = %q, want 'hello from primary'", reply.Text)
	}
	if primary.CallCount() != 1 {
		t.Fatalf("primary called %d times, want 1", primary.CallCount())
	}
	if secondary.CallCount() != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.CallCount())
	}
}

func TestGeneratorFallback_Failover(t *testing.T) {
	primary := &genmock.Provider{
		Err: errors.New("primary down"),
	}
	secondary := &genmock.Provider{
		Reply: generator.Reply{Text: "hello from secondary"},
	}

	fb := NewGeneratorFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	reply, err := fb.Generate(context.Background(), generator.Request{Transcript: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Text != "hello from secondary" {
		t.Fatalf("reply = %q, want 'hello from secondary'", reply.Text)
	}
}

func TestGeneratorFallback_AllFail(t *testing.T) {
	primary := &genmock.Provider{Err: errors.New("primary down")}
	secondary := &genmock.Provider{Err: errors.New("secondary down")}

	fb := NewGeneratorFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Generate(context.Background(), generator.Request{Transcript: "hi"})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestGeneratorFallback_RequestReachesBackend(t *testing.T) {
	primary := &genmock.Provider{}

	fb := NewGeneratorFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	req := generator.Request{System: "be brief", Transcript: "what time is it"}
	if _, err := fb.Generate(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(primary.GenerateCalls) != 1 {
		t.Fatalf("primary recorded %d calls, want 1", len(primary.GenerateCalls))
	}
	got := primary.GenerateCalls[0].Req
	if got.Transcript != req.Transcript || got.System != req.System {
		t.Fatalf("backend saw request %+v, want %+v", got, req)
	}
}
