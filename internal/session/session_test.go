package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/voxloop/voxloop/internal/observe"
	"github.com/voxloop/voxloop/internal/session"
	"github.com/voxloop/voxloop/pkg/provider/vad/mock"
	"github.com/voxloop/voxloop/pkg/types"
)

// frameBytes is 20 ms of 16 kHz mono PCM.
const frameBytes = 640

// frames builds n consecutive PCM frames. Speech frames carry a 1 in their
// first byte so the scripted classifier can recognize them regardless of
// how the stream is later sliced.
func frames(speech bool, n int) []byte {
	buf := make([]byte, frameBytes*n)
	if speech {
		for i := range n {
			buf[i*frameBytes] = 1
		}
	}
	return buf
}

func markerClassifier() *mock.Classifier {
	return &mock.Classifier{ScoreFunc: func(frame []byte) float64 {
		if len(frame) > 0 && frame[0] == 1 {
			return 0.9
		}
		return 0.1
	}}
}

// stubProcessor is a Processor that records calls and echoes the turn ID.
type stubProcessor struct {
	mu    sync.Mutex
	calls []types.Turn
	fn    func(types.Turn) types.PipelineResult
}

func (p *stubProcessor) Process(_ context.Context, t types.Turn) types.PipelineResult {
	p.mu.Lock()
	p.calls = append(p.calls, t)
	fn := p.fn
	p.mu.Unlock()

	if fn != nil {
		return fn(t)
	}
	return types.PipelineResult{TurnID: t.ID, Reply: "ok"}
}

func (p *stubProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// recorder collects delivered results from any number of goroutines.
type recorder struct {
	mu      sync.Mutex
	results []types.PipelineResult
}

func (r *recorder) deliver(res types.PipelineResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recorder) list() []types.PipelineResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.PipelineResult(nil), r.results...)
}

func newSession(id string, cfg session.Config, proc *stubProcessor, rec *recorder) *session.Session {
	if cfg.Classifier == nil {
		cfg.Classifier = markerClassifier()
	}
	return session.New(id, cfg, proc, rec.deliver)
}

// ---- turn detection and delivery ----

func TestSession_DetectsTurnAndDeliversResult(t *testing.T) {
	t.Parallel()

	proc := &stubProcessor{}
	rec := &recorder{}
	s := newSession("s1", session.Config{}, proc, rec)

	var trace []byte
	trace = append(trace, frames(false, 5)...)
	trace = append(trace, frames(true, 15)...)
	trace = append(trace, frames(false, 35)...)
	s.Ingest(types.AudioFrame{Data: trace, SampleRate: 16000, Channels: 1})

	s.Close()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	results := rec.list()
	if len(results) != 1 {
		t.Fatalf("deliveries: got %d, want 1", len(results))
	}
	if results[0].TurnID == "" {
		t.Error("TurnID: got empty, want generated ID")
	}
	if proc.callCount() != 1 {
		t.Errorf("processor calls: got %d, want 1", proc.callCount())
	}
	proc.mu.Lock()
	audioLen := len(proc.calls[0].Audio)
	proc.mu.Unlock()
	if audioLen == 0 {
		t.Error("turn audio: got empty, want captured segment")
	}
}

func TestSession_StreamEndFlushesPartialTurn(t *testing.T) {
	t.Parallel()

	proc := &stubProcessor{}
	rec := &recorder{}
	s := newSession("s2", session.Config{}, proc, rec)

	// Speech that never drops below the threshold: only Flush can emit it.
	var trace []byte
	trace = append(trace, frames(false, 5)...)
	trace = append(trace, frames(true, 15)...)
	s.Ingest(types.AudioFrame{Data: trace, SampleRate: 16000, Channels: 1})

	s.Close()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := len(rec.list()); got != 1 {
		t.Fatalf("deliveries: got %d, want 1 flushed partial turn", got)
	}
}

func TestSession_SilenceProducesNoDeliveries(t *testing.T) {
	t.Parallel()

	proc := &stubProcessor{}
	rec := &recorder{}
	s := newSession("s3", session.Config{}, proc, rec)

	s.Ingest(types.AudioFrame{Data: frames(false, 50), SampleRate: 16000, Channels: 1})

	s.Close()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := len(rec.list()); got != 0 {
		t.Errorf("deliveries: got %d, want 0", got)
	}
}

func TestSession_CancelledContextReturnsErr(t *testing.T) {
	t.Parallel()

	proc := &stubProcessor{}
	rec := &recorder{}
	s := newSession("s4", session.Config{}, proc, rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Run(ctx); err != context.Canceled {
		t.Errorf("Run: got %v, want context.Canceled", err)
	}
}

// ---- concurrency between turns ----

func TestSession_LaterTurnMayDeliverFirst(t *testing.T) {
	t.Parallel()

	// Two bursts: the first short, the second longer. The processor slows
	// the short turn down so the long one finishes first.
	proc := &stubProcessor{}
	proc.fn = func(tn types.Turn) types.PipelineResult {
		label := "long"
		if len(tn.Audio) < 12000 {
			label = "short"
			time.Sleep(50 * time.Millisecond)
		}
		return types.PipelineResult{TurnID: tn.ID, Transcript: label}
	}
	rec := &recorder{}
	s := newSession("s5", session.Config{}, proc, rec)

	var trace []byte
	trace = append(trace, frames(false, 5)...)
	trace = append(trace, frames(true, 15)...) // short burst
	trace = append(trace, frames(false, 35)...)
	trace = append(trace, frames(true, 25)...) // long burst
	trace = append(trace, frames(false, 35)...)
	s.Ingest(types.AudioFrame{Data: trace, SampleRate: 16000, Channels: 1})

	s.Close()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	results := rec.list()
	if len(results) != 2 {
		t.Fatalf("deliveries: got %d, want 2", len(results))
	}
	if results[0].Transcript != "long" || results[1].Transcript != "short" {
		t.Errorf("delivery order: got [%s, %s], want [long, short]",
			results[0].Transcript, results[1].Transcript)
	}
	if results[0].TurnID == results[1].TurnID {
		t.Error("turn IDs: got identical IDs for distinct turns")
	}
}

// ---- metrics ----

func newTestCollector(t *testing.T) (*observe.Collector, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	c, err := observe.NewCollector(mp)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	return c, reader
}

func sumMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q: unexpected data type %T", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	t.Fatalf("metric %q not found", name)
	return 0
}

func TestSession_BufferOverflowCountsEvictions(t *testing.T) {
	t.Parallel()

	collector, reader := newTestCollector(t)
	proc := &stubProcessor{}
	rec := &recorder{}
	s := newSession("s6", session.Config{BufferCap: 1024, Collector: collector}, proc, rec)

	// Four times the capacity of silence; most of it is evicted unread.
	s.Ingest(types.AudioFrame{Data: frames(false, 7), SampleRate: 16000, Channels: 1})

	s.Close()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := sumMetric(t, reader, "voxloop.buffer.evictions"); got < 1 {
		t.Errorf("evictions: got %d, want >= 1", got)
	}
}

func TestSession_ActiveTurnGaugeReturnsToZero(t *testing.T) {
	t.Parallel()

	collector, reader := newTestCollector(t)
	proc := &stubProcessor{}
	rec := &recorder{}
	s := newSession("s7", session.Config{Collector: collector}, proc, rec)

	var trace []byte
	trace = append(trace, frames(false, 5)...)
	trace = append(trace, frames(true, 15)...)
	trace = append(trace, frames(false, 35)...)
	s.Ingest(types.AudioFrame{Data: trace, SampleRate: 16000, Channels: 1})

	s.Close()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := sumMetric(t, reader, "voxloop.active_turns"); got != 0 {
		t.Errorf("active turns after drain: got %d, want 0", got)
	}
}

// ---- manager ----

func TestManager_TracksAndClosesSessions(t *testing.T) {
	t.Parallel()

	m := session.NewManager()
	proc := &stubProcessor{}
	rec := &recorder{}

	a := newSession("a", session.Config{}, proc, rec)
	b := newSession("b", session.Config{}, proc, rec)
	m.Add(a)
	m.Add(b)

	if got := m.Len(); got != 2 {
		t.Fatalf("Len: got %d, want 2", got)
	}

	m.CloseAll()

	// Both sessions were signalled: Run returns without further input.
	if err := a.Run(context.Background()); err != nil {
		t.Errorf("a.Run: %v", err)
	}
	if err := b.Run(context.Background()); err != nil {
		t.Errorf("b.Run: %v", err)
	}

	m.Remove("a")
	if got := m.Len(); got != 1 {
		t.Errorf("Len after Remove: got %d, want 1", got)
	}
}
