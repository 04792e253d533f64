// Package session binds one audio stream to the turn pipeline.
//
// A Session owns the stream's bounded audio buffer and turn detector and
// fans detected turns out to the orchestrator, one goroutine per turn. The
// transport adapter feeds frames in with Ingest and receives results
// through the delivery callback. Turns are independent: a slow turn may be
// delivered after a later, faster one, and the transport owns any
// reordering it needs.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxloop/voxloop/internal/observe"
	"github.com/voxloop/voxloop/internal/turn"
	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/provider/vad"
	"github.com/voxloop/voxloop/pkg/types"
)

// DefaultBufferCap bounds the stream buffer when none is configured.
const DefaultBufferCap = 1 << 20

// Processor turns one speech segment into a result. Implemented by
// pipeline.Orchestrator.
type Processor interface {
	Process(ctx context.Context, turn types.Turn) types.PipelineResult
}

// Config carries the per-stream parameters a Session needs.
type Config struct {
	// Turn configures speech segmentation. Zero fields use the detector
	// defaults.
	Turn turn.Config

	// Classifier scores PCM frames for the detector.
	Classifier vad.Classifier

	// BufferCap bounds the stream buffer in bytes. Non-positive falls back
	// to [DefaultBufferCap].
	BufferCap int

	// Collector, when set, receives buffer-eviction counts and maintains
	// the active-turn gauge.
	Collector *observe.Collector
}

// Session is one live audio stream. Ingest has a single-writer contract;
// Run consumes the buffer from its own goroutine and may be called once.
type Session struct {
	id        string
	buffer    *audio.Buffer
	detector  *turn.Detector
	processor Processor
	deliver   func(types.PipelineResult)
	collector *observe.Collector

	frameDur time.Duration
	cursor   uint64

	ctx context.Context // set at Run entry, read only on the Run goroutine

	stopOnce sync.Once
	stopped  chan struct{}

	// wg tracks the per-turn goroutines so Run can drain before returning.
	wg sync.WaitGroup
}

// New creates a Session that hands detected turns to processor and their
// results to deliver. An empty id gets a generated one. deliver may be
// invoked from multiple goroutines concurrently.
func New(id string, cfg Config, processor Processor, deliver func(types.PipelineResult)) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	if cfg.BufferCap <= 0 {
		cfg.BufferCap = DefaultBufferCap
	}
	frameDur := cfg.Turn.FrameDuration
	if frameDur <= 0 {
		frameDur = turn.DefaultFrameDuration
	}

	s := &Session{
		id:        id,
		processor: processor,
		deliver:   deliver,
		collector: cfg.Collector,
		frameDur:  frameDur,
		stopped:   make(chan struct{}),
	}
	s.buffer = audio.NewBuffer(cfg.BufferCap, audio.WithEvictionHook(func(dropped int) {
		if s.collector != nil {
			s.collector.RecordBufferEviction(context.Background())
		}
		slog.Warn("audio buffer overflow",
			slog.String("session_id", id),
			slog.String("kind", string(types.ErrorBufferOverflow)),
			slog.Int("dropped_bytes", dropped))
	}))
	s.detector = turn.NewDetector(cfg.Turn, cfg.Classifier, s.onTurn)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Ingest appends one frame to the stream buffer. Frames must arrive from a
// single goroutine; gaps from dropped frames are tolerated and simply leave
// a discontinuity in the audio.
func (s *Session) Ingest(frame types.AudioFrame) {
	if len(frame.Data) == 0 {
		return
	}
	s.buffer.Add(frame.Data)
}

// Close signals end-of-stream. Run drains the remaining audio, flushes a
// partial turn if one is open, waits for in-flight turns, and returns.
// Close is safe to call multiple times and from any goroutine.
func (s *Session) Close() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

// Run polls the buffer on the frame cadence and feeds the detector until
// the stream ends or ctx is cancelled. It returns after every detected turn
// has been processed and delivered; on cancellation it returns ctx.Err()
// and in-flight turns fail fast through their stage timeouts.
func (s *Session) Run(ctx context.Context) error {
	s.ctx = ctx
	log := observe.Logger(ctx).With(slog.String("session_id", s.id))
	log.Info("session started")

	ticker := time.NewTicker(s.frameDur)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.detector.Flush()
			s.wg.Wait()
			log.Info("session aborted", slog.String("error", ctx.Err().Error()))
			return ctx.Err()
		case <-s.stopped:
			s.poll(log)
			s.detector.Flush()
			s.wg.Wait()
			log.Info("session drained")
			return nil
		case <-ticker.C:
			s.poll(log)
		}
	}
}

// poll moves the reader cursor over any newly buffered audio and feeds it
// to the detector.
func (s *Session) poll(log *slog.Logger) {
	data, next, gapped := s.buffer.Tail(s.cursor)
	s.cursor = next
	if gapped {
		log.Debug("buffer eviction overtook reader cursor")
	}
	if len(data) > 0 {
		s.detector.Process(data)
	}
}

// onTurn runs on the Run goroutine for every turn the detector emits and
// hands the turn to the processor on its own goroutine.
func (s *Session) onTurn(t types.Turn) {
	ctx := s.ctx
	if s.collector != nil {
		s.collector.TurnStarted(ctx)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.collector != nil {
			defer s.collector.TurnFinished(ctx)
		}
		s.deliver(s.processor.Process(ctx, t))
	}()
}

// Manager tracks live sessions for the readiness probe and shutdown.
// All methods are safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Add registers s under its ID, replacing any previous session with the
// same ID.
func (m *Manager) Add(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID()] = s
}

// Remove forgets the session with the given id. Unknown ids are a no-op.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Len returns the number of tracked sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll signals end-of-stream to every tracked session. Each session's
// Run call drains and returns on its own goroutine.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
