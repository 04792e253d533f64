// Package app wires all voxloop subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithProcessor,
// WithMeterProvider). When an option is not provided, New creates real
// implementations from the config and providers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxloop/voxloop/internal/config"
	"github.com/voxloop/voxloop/internal/gateway"
	"github.com/voxloop/voxloop/internal/health"
	"github.com/voxloop/voxloop/internal/observe"
	"github.com/voxloop/voxloop/internal/pipeline"
	"github.com/voxloop/voxloop/internal/resilience"
	"github.com/voxloop/voxloop/internal/session"
	"github.com/voxloop/voxloop/internal/turn"
	"github.com/voxloop/voxloop/internal/vocab"
	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/cache"
	"github.com/voxloop/voxloop/pkg/provider/embeddings"
	"github.com/voxloop/voxloop/pkg/provider/generator"
	"github.com/voxloop/voxloop/pkg/provider/retriever"
	"github.com/voxloop/voxloop/pkg/provider/retriever/pgvector"
	"github.com/voxloop/voxloop/pkg/provider/synthesizer"
	"github.com/voxloop/voxloop/pkg/provider/transcriber"
	"github.com/voxloop/voxloop/pkg/provider/vad"
	"github.com/voxloop/voxloop/pkg/types"
)

// shutdownGrace bounds the graceful HTTP drain when Run's context ends.
const shutdownGrace = 10 * time.Second

// NamedGenerator pairs a fallback generator with the backend name its
// circuit breaker logs under.
type NamedGenerator struct {
	Name     string
	Provider generator.Provider
}

// NamedSynthesizer pairs a fallback synthesizer with the backend name its
// circuit breaker logs under.
type NamedSynthesizer struct {
	Name     string
	Provider synthesizer.Provider
}

// Providers holds one interface value per backend slot. Populated by
// main.go via the config registry. Retriever may be nil when the config
// names the pgvector backend; New then builds the store itself so it can
// own the pool's lifetime and readiness check.
type Providers struct {
	Transcriber transcriber.Provider
	Retriever   retriever.Provider
	Generator   generator.Provider
	Synthesizer synthesizer.Provider
	Embeddings  embeddings.Provider
	VAD         vad.Classifier

	// GeneratorFallbacks and SynthesizerFallbacks are tried in order when
	// the primary backend fails or its breaker is open.
	GeneratorFallbacks   []NamedGenerator
	SynthesizerFallbacks []NamedSynthesizer
}

// App owns all subsystem lifetimes and serves the voxloop voice pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	collector    *observe.Collector
	retriever    retriever.Provider
	contextCache *cache.Cache[[]types.ContextChunk]
	orch         *pipeline.Orchestrator
	processor    session.Processor
	sessions     *session.Manager
	gw           *gateway.Handler
	checkers     []health.Checker
	handler      http.Handler
	server       *http.Server
	watcher      *config.Watcher

	meter     metric.MeterProvider
	logLevel  *slog.LevelVar
	watchPath string

	// closers run in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles
// or to opt into runtime reconfiguration.
type Option func(*App)

// WithProcessor injects a turn processor instead of building the
// orchestrator from the configured backends.
func WithProcessor(p session.Processor) Option {
	return func(a *App) { a.processor = p }
}

// WithMeterProvider overrides the global OTel meter provider for the
// metrics collector.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(a *App) { a.meter = mp }
}

// WithLogLevelVar hands the app the level var backing the slog handler so
// log_level changes from a config reload apply without a restart.
func WithLogLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithConfigWatch starts a file watcher on path and applies live config
// changes (log level, vocabulary) to the running server.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.watchPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together: metrics collector,
// retrieval backend, fallback groups, context cache, vocabulary corrector,
// the four-stage orchestrator, the session manager, the websocket gateway,
// and the ops endpoints. The providers struct comes from main.go.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		meter:     otel.GetMeterProvider(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.providers == nil {
		a.providers = &Providers{}
	}

	// Sessions cannot segment speech without a classifier, regardless of
	// how the turns are processed afterwards.
	if a.providers.VAD == nil {
		return nil, fmt.Errorf("app: a vad classifier is required")
	}

	// ── 1. Metrics collector ─────────────────────────────────────────────
	col, err := observe.NewCollector(a.meter)
	if err != nil {
		return nil, fmt.Errorf("app: init collector: %w", err)
	}
	a.collector = col

	// ── 2. Orchestrator (skipped when a processor is injected) ───────────
	if a.processor == nil {
		if err := a.checkProviders(); err != nil {
			return nil, err
		}
		if err := a.initRetriever(ctx); err != nil {
			return nil, fmt.Errorf("app: init retriever: %w", err)
		}
		a.initPipeline()
	}

	// ── 3. Session manager + gateway ─────────────────────────────────────
	a.initGateway()

	// ── 4. Ops endpoints + HTTP server ───────────────────────────────────
	a.initHTTP()

	// ── 5. Config watcher (optional) ─────────────────────────────────────
	if err := a.initWatcher(); err != nil {
		return nil, fmt.Errorf("app: watch config: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// checkProviders verifies the slots the orchestrator cannot run without.
func (a *App) checkProviders() error {
	if a.providers.Transcriber == nil {
		return fmt.Errorf("app: a transcriber backend is required")
	}
	if a.providers.Generator == nil {
		return fmt.Errorf("app: a generator backend is required")
	}
	if a.providers.Synthesizer == nil {
		return fmt.Errorf("app: a synthesizer backend is required")
	}
	return nil
}

// initRetriever resolves the retrieval backend. An injected provider wins;
// otherwise the pgvector store is built from config, its pool registered
// as a readiness check and its Close as a shutdown step.
func (a *App) initRetriever(ctx context.Context) error {
	if a.providers.Retriever != nil {
		a.retriever = a.providers.Retriever
		return nil
	}

	be := a.cfg.Backends.Retriever
	if be.Name != "pgvector" {
		return fmt.Errorf("retriever backend %q was not constructed", be.Name)
	}
	if a.providers.Embeddings == nil {
		return fmt.Errorf("pgvector retriever requires an embeddings backend")
	}

	store, err := pgvector.New(ctx, a.cfg.Retrieval.PostgresDSN, a.providers.Embeddings)
	if err != nil {
		return err
	}
	a.retriever = store
	a.checkers = append(a.checkers, health.Ping("postgres", store))
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initPipeline assembles fallback groups around the primary generator and
// synthesizer, then builds the orchestrator with everything the config
// tunes: cache, corrector, timeouts, prompt, voice.
func (a *App) initPipeline() {
	gen := a.providers.Generator
	if fbs := a.providers.GeneratorFallbacks; len(fbs) > 0 {
		fg := resilience.NewGeneratorFallback(gen, a.cfg.Backends.Generator.Name, resilience.FallbackConfig{})
		for _, fb := range fbs {
			fg.AddFallback(fb.Name, fb.Provider)
		}
		gen = fg
	}

	syn := a.providers.Synthesizer
	if fbs := a.providers.SynthesizerFallbacks; len(fbs) > 0 {
		fg := resilience.NewSynthesizerFallback(syn, a.cfg.Backends.Synthesizer.Name, resilience.FallbackConfig{})
		for _, fb := range fbs {
			fg.AddFallback(fb.Name, fb.Provider)
		}
		syn = fg
	}

	opts := []pipeline.Option{
		pipeline.WithCollector(a.collector),
		pipeline.WithStageTimeout(a.cfg.Pipeline.StageTimeout()),
		pipeline.WithTopK(a.cfg.Retrieval.TopK),
	}

	// ttl_ms: -1 disables retrieval caching entirely.
	if ttl := a.cfg.Cache.TTL(); ttl > 0 {
		a.contextCache = cache.New[[]types.ContextChunk](a.cfg.Cache.Capacity,
			cache.WithObserver(func(r cache.Result) {
				a.collector.RecordCacheRequest(context.Background(), string(r))
			}))
		opts = append(opts, pipeline.WithCache(a.contextCache, ttl))
	}

	if terms := a.cfg.Vocabulary; len(terms) > 0 {
		opts = append(opts, pipeline.WithCorrector(vocab.New(terms)))
	}
	for stage, ms := range a.cfg.Pipeline.StageTimeoutsMs {
		opts = append(opts, pipeline.WithStageTimeoutFor(types.Stage(stage), time.Duration(ms)*time.Millisecond))
	}
	if s := a.cfg.Pipeline.SystemPrompt; s != "" {
		opts = append(opts, pipeline.WithSystemPrompt(s))
	}
	if s := a.cfg.Pipeline.Apology; s != "" {
		opts = append(opts, pipeline.WithApology(s))
	}
	if v := a.cfg.Pipeline.Voice; v != (config.VoiceConfig{}) {
		opts = append(opts, pipeline.WithVoice(synthesizer.Voice{
			ID:       v.ID,
			Language: v.Language,
			Speed:    v.Speed,
		}))
	}
	if n := a.cfg.Pipeline.MaxTokens; n > 0 {
		opts = append(opts, pipeline.WithMaxTokens(n))
	}
	if t := a.cfg.Pipeline.Temperature; t != 0 {
		opts = append(opts, pipeline.WithTemperature(t))
	}

	a.orch = pipeline.New(a.providers.Transcriber, a.retriever, gen, syn, opts...)
	a.processor = a.orch
}

// initGateway builds the session factory and the websocket handler from the
// audio and VAD config blocks.
func (a *App) initGateway() {
	format := audio.Format{
		SampleRate: a.cfg.Audio.SampleRate,
		Channels:   a.cfg.Audio.Channels,
	}
	turnCfg := turn.Config{
		Format:        format,
		FrameDuration: a.cfg.Audio.FrameDuration(),
		Threshold:     a.cfg.VAD.Threshold,
		Debounce:      a.cfg.VAD.Debounce(),
		Hangover:      a.cfg.VAD.Hangover(),
		MaxSegment:    a.cfg.VAD.MaxSegment(),
	}

	a.sessions = session.NewManager()
	newSession := func(deliver func(types.PipelineResult)) *session.Session {
		return session.New("", session.Config{
			Turn:       turnCfg,
			Classifier: a.providers.VAD,
			BufferCap:  a.cfg.Audio.BufferCapacity,
			Collector:  a.collector,
		}, a.processor, deliver)
	}

	var gwOpts []gateway.Option
	if origins := a.cfg.Server.AllowedOrigins; len(origins) > 0 {
		gwOpts = append(gwOpts, gateway.WithOriginPatterns(origins...))
	}
	a.gw = gateway.New(format, a.sessions, newSession, gwOpts...)
}

// initHTTP assembles the mux: the streaming endpoint, liveness/readiness
// probes, and the Prometheus scrape target, all behind the tracing and
// request-metrics middleware.
func (a *App) initHTTP() {
	mux := http.NewServeMux()
	mux.Handle("GET /v1/stream", a.gw)
	health.New(a.checkers).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.handler = observe.Middleware(a.collector)(mux)
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// initWatcher starts the config file watcher when WithConfigWatch was given.
func (a *App) initWatcher() error {
	if a.watchPath == "" {
		return nil
	}
	w, err := config.NewWatcher(a.watchPath, a.applyConfigChange)
	if err != nil {
		return err
	}
	a.watcher = w
	a.closers = append(a.closers, func() error {
		w.Stop()
		return nil
	})
	return nil
}

// applyConfigChange reacts to a config reload: log level and vocabulary
// apply to the running server, everything else is reported as needing a
// restart.
func (a *App) applyConfigChange(old, new *config.Config) {
	d := config.Compare(old, new)

	if d.LogLevelChanged {
		if a.logLevel != nil {
			a.logLevel.Set(d.NewLogLevel.Slog())
			slog.Info("log level changed", "level", d.NewLogLevel)
		} else {
			slog.Warn("log level change needs a restart: no dynamic handler installed")
		}
	}

	if d.VocabularyChanged && a.orch != nil {
		var c *vocab.Corrector
		if len(d.NewVocabulary) > 0 {
			c = vocab.New(d.NewVocabulary)
		}
		a.orch.SetCorrector(c)
		slog.Info("vocabulary reloaded", "terms", len(d.NewVocabulary))
	}

	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect",
			"sections", strings.Join(d.RestartRequired, ", "))
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails. ctx is installed as the server's base context, so
// cancellation reaches every live stream; once the streams drain the
// server shuts down gracefully and Run returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	a.server.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		var err error
		if t := a.cfg.Server.TLS; t != nil {
			err = a.server.ListenAndServeTLS(t.CertFile, t.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("server listening",
		"addr", a.cfg.Server.ListenAddr,
		"tls", a.cfg.Server.TLS != nil,
	)

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", "err", err)
	}
	return ctx.Err()
}

// Handler returns the fully assembled HTTP handler. Tests mount it on an
// httptest server instead of binding a real listener.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Sessions returns the live session manager.
func (a *App) Sessions() *session.Manager {
	return a.sessions
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes live sessions and tears subsystems down in reverse-init
// order, at most once. If ctx expires before all closers finish, the
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.sessions.CloseAll()

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
