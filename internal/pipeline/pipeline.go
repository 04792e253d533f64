// Package pipeline drives one detected speech turn through the four backend
// stages: transcribe, retrieve, generate, synthesize.
//
// The orchestrator never aborts a turn. A failed stage records its ErrorKind
// in the result, feeds a fallback value downstream, and the next stage runs
// regardless: an unreadable segment still produces a spoken reply, a dead
// retrieval backend degrades to context-free generation, a dead synthesizer
// degrades to a text-only result. Every Process call returns exactly one
// PipelineResult.
//
// Concurrent Process calls are independent; the orchestrator holds no
// per-turn state.
package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/voxloop/voxloop/internal/observe"
	"github.com/voxloop/voxloop/internal/vocab"
	"github.com/voxloop/voxloop/pkg/cache"
	"github.com/voxloop/voxloop/pkg/provider/generator"
	"github.com/voxloop/voxloop/pkg/provider/retriever"
	"github.com/voxloop/voxloop/pkg/provider/synthesizer"
	"github.com/voxloop/voxloop/pkg/provider/transcriber"
	"github.com/voxloop/voxloop/pkg/types"
)

const (
	// DefaultStageTimeout bounds each backend call when no override is
	// configured.
	DefaultStageTimeout = 30 * time.Second

	// DefaultApology is the reply substituted when the generator fails.
	DefaultApology = "Sorry, I'm having trouble answering right now."

	// DefaultSystemPrompt frames the assistant when none is configured.
	DefaultSystemPrompt = "You are a helpful voice assistant. Answer briefly and in plain spoken language."

	// DefaultTopK is the retrieval fan-out when none is configured.
	DefaultTopK = 4
)

// Orchestrator runs the fixed four-stage pipeline over a Turn.
//
// All four providers must be non-nil; the collector, corrector, and cache
// are optional. Safe for concurrent use.
type Orchestrator struct {
	transcriber transcriber.Provider
	retriever   retriever.Provider
	generator   generator.Provider
	synthesizer synthesizer.Provider

	collector *observe.Collector
	corrector atomic.Pointer[vocab.Corrector]
	cache     *cache.Cache[[]types.ContextChunk]
	cacheTTL  time.Duration

	stageTimeout time.Duration
	timeouts     map[types.Stage]time.Duration

	system      string
	apology     string
	voice       synthesizer.Voice
	topK        int
	maxTokens   int
	temperature float64
}

// Option configures an Orchestrator during construction.
type Option func(*Orchestrator)

// WithCollector records a per-stage metric sample and a turn count on c.
func WithCollector(c *observe.Collector) Option {
	return func(o *Orchestrator) { o.collector = c }
}

// WithCorrector post-processes transcripts with the given vocabulary
// corrector. Correction overlaps the retrieval round-trip; the corrected
// transcript feeds generation and the returned result.
func WithCorrector(c *vocab.Corrector) Option {
	return func(o *Orchestrator) { o.corrector.Store(c) }
}

// WithCache fronts the retrieval stage with c. Entries live for ttl;
// concurrent turns asking the same question share one backend call.
func WithCache(c *cache.Cache[[]types.ContextChunk], ttl time.Duration) Option {
	return func(o *Orchestrator) {
		o.cache = c
		o.cacheTTL = ttl
	}
}

// WithStageTimeout bounds every backend call that has no per-stage override.
// The default is [DefaultStageTimeout].
func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.stageTimeout = d }
}

// WithStageTimeoutFor overrides the timeout for a single stage.
func WithStageTimeoutFor(stage types.Stage, d time.Duration) Option {
	return func(o *Orchestrator) { o.timeouts[stage] = d }
}

// WithSystemPrompt replaces the generator system prompt.
func WithSystemPrompt(s string) Option {
	return func(o *Orchestrator) { o.system = s }
}

// WithApology replaces the reply substituted on generation failure.
func WithApology(s string) Option {
	return func(o *Orchestrator) { o.apology = s }
}

// WithVoice selects the synthesis voice. The zero value uses the backend's
// default voice.
func WithVoice(v synthesizer.Voice) Option {
	return func(o *Orchestrator) { o.voice = v }
}

// WithTopK sets how many context chunks retrieval asks for.
func WithTopK(n int) Option {
	return func(o *Orchestrator) { o.topK = n }
}

// WithMaxTokens caps the generator completion length. Zero leaves the
// backend default.
func WithMaxTokens(n int) Option {
	return func(o *Orchestrator) { o.maxTokens = n }
}

// WithTemperature sets the generator sampling temperature. Zero leaves the
// backend default.
func WithTemperature(t float64) Option {
	return func(o *Orchestrator) { o.temperature = t }
}

// New constructs an Orchestrator over the four stage providers.
func New(t transcriber.Provider, r retriever.Provider, g generator.Provider, s synthesizer.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		transcriber:  t,
		retriever:    r,
		generator:    g,
		synthesizer:  s,
		stageTimeout: DefaultStageTimeout,
		timeouts:     make(map[types.Stage]time.Duration),
		system:       DefaultSystemPrompt,
		apology:      DefaultApology,
		topK:         DefaultTopK,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetCorrector swaps the vocabulary corrector. In-flight turns finish with
// the corrector they started with; nil disables correction. Used when the
// configured vocabulary changes at runtime.
func (o *Orchestrator) SetCorrector(c *vocab.Corrector) {
	o.corrector.Store(c)
}

// corrected carries the outcome of the concurrent vocabulary pass.
type corrected struct {
	text  string
	fixes []vocab.Correction
}

// Process runs turn through all four stages and returns its result.
//
// The stage order is fixed and no stage is skipped: each stage's outcome
// only determines the payload the next stage sees. Failures surface in
// PipelineResult.StageErrors, never as Go errors.
func (o *Orchestrator) Process(ctx context.Context, turn types.Turn) types.PipelineResult {
	start := time.Now()

	ctx, span := observe.StartSpan(ctx, "pipeline.turn",
		trace.WithAttributes(attribute.String("turn.id", turn.ID)))
	defer span.End()

	res := types.PipelineResult{
		TurnID:      turn.ID,
		StageErrors: make(map[types.Stage]types.ErrorKind),
	}

	tr, kind := runStage(ctx, o, types.StageTranscribe,
		func(ctx context.Context) (transcriber.Transcription, error) {
			return o.transcriber.Transcribe(ctx, transcriber.Segment{
				PCM:        turn.Audio,
				SampleRate: turn.SampleRate,
				Channels:   turn.Channels,
			})
		})
	if kind != "" {
		res.StageErrors[types.StageTranscribe] = kind
	}
	res.Transcript = tr.Text
	res.Confidence = tr.Confidence

	// Vocabulary correction overlaps the retrieval round-trip: retrieval
	// queries the raw transcript, generation consumes the corrected one.
	var fixCh chan corrected
	if corr := o.corrector.Load(); corr != nil && tr.Text != "" {
		fixCh = make(chan corrected, 1)
		go func(raw string) {
			text, fixes := corr.Correct(raw)
			fixCh <- corrected{text: text, fixes: fixes}
		}(tr.Text)
	}

	chunks, kind := runStage(ctx, o, types.StageRetrieve,
		func(ctx context.Context) ([]types.ContextChunk, error) {
			return o.lookupContext(ctx, tr.Text)
		})
	if kind != "" {
		res.StageErrors[types.StageRetrieve] = kind
	}
	res.Context = chunks

	if fixCh != nil {
		fix := <-fixCh
		res.Transcript = fix.text
		if len(fix.fixes) > 0 {
			observe.Logger(ctx).Debug("transcript corrected",
				slog.String("turn_id", turn.ID),
				slog.Int("corrections", len(fix.fixes)))
		}
	}

	req := generator.Request{
		System:      o.system,
		Transcript:  res.Transcript,
		Context:     res.Context,
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	}
	reply, kind := runStage(ctx, o, types.StageGenerate,
		func(ctx context.Context) (generator.Reply, error) {
			return o.generator.Generate(ctx, req)
		})
	if kind != "" {
		res.StageErrors[types.StageGenerate] = kind
		res.Reply = o.apology
	} else {
		res.Reply = reply.Text
	}

	clip, kind := runStage(ctx, o, types.StageSynthesize,
		func(ctx context.Context) (synthesizer.Clip, error) {
			return o.synthesizer.Synthesize(ctx, res.Reply, o.voice)
		})
	if kind != "" {
		res.StageErrors[types.StageSynthesize] = kind
	} else if len(clip.PCM) > 0 {
		res.Audio = clip.PCM
		res.SampleRate = clip.Format.SampleRate
	}

	res.Elapsed = time.Since(start)
	if o.collector != nil {
		o.collector.RecordTurn(ctx)
	}
	observe.Logger(ctx).LogAttrs(ctx, slog.LevelInfo, "turn processed",
		slog.String("turn_id", turn.ID),
		slog.Duration("elapsed", res.Elapsed),
		slog.Int("failed_stages", len(res.StageErrors)))

	return res
}

// lookupContext resolves the retrieval context for query, through the cache
// when one is configured.
func (o *Orchestrator) lookupContext(ctx context.Context, query string) ([]types.ContextChunk, error) {
	if o.cache == nil {
		return o.retriever.Retrieve(ctx, query, o.topK)
	}
	return o.cache.GetOrCompute(ctx, query, o.cacheTTL,
		func(ctx context.Context) ([]types.ContextChunk, error) {
			return o.retriever.Retrieve(ctx, query, o.topK)
		})
}

// timeout returns the bound for stage, falling back to the shared default.
func (o *Orchestrator) timeout(stage types.Stage) time.Duration {
	if d, ok := o.timeouts[stage]; ok {
		return d
	}
	return o.stageTimeout
}

// runStage executes one backend call under the stage's timeout and maps its
// outcome to an ErrorKind. On failure the zero T is returned and the caller
// substitutes the stage's fallback value. Exactly one metric sample is
// recorded per invocation, success or not.
func runStage[T any](ctx context.Context, o *Orchestrator, stage types.Stage, fn func(context.Context) (T, error)) (T, types.ErrorKind) {
	ctx, span := observe.StartSpan(ctx, "stage."+string(stage))
	defer span.End()

	sctx, cancel := context.WithTimeout(ctx, o.timeout(stage))
	defer cancel()

	start := time.Now()
	v, err := fn(sctx)
	elapsed := time.Since(start)

	kind := types.Classify(err)
	if o.collector != nil {
		o.collector.RecordStage(ctx, stage, elapsed, kind)
	}
	if err != nil {
		span.SetAttributes(attribute.String("error.kind", string(kind)))
		observe.Logger(ctx).Warn("stage failed",
			slog.String("stage", string(stage)),
			slog.String("kind", string(kind)),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()))
		var zero T
		return zero, kind
	}
	return v, ""
}
