package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/voxloop/voxloop/internal/pipeline"
	"github.com/voxloop/voxloop/internal/turn"
	"github.com/voxloop/voxloop/pkg/cache"
	"github.com/voxloop/voxloop/pkg/types"
)

// Defaults applied by [Load] for fields left unset. Stage, VAD, and cache
// tunables default to the constants owned by their packages.
const (
	DefaultListenAddr         = ":8080"
	DefaultBufferCapacity     = 1 << 20
	DefaultSampleRate         = 16000
	DefaultChannels           = 1
	DefaultFrameMs            = 20
	DefaultCacheTTLMs         = 120_000
	DefaultEmbeddingDimension = 1536
	DefaultVADBackend         = "energy"
)

// ValidBackendNames lists known backend names per kind. [Validate] warns
// about unrecognised names; third-party factories registered under new
// names still work.
var ValidBackendNames = map[string][]string{
	"transcriber": {"whisper", "deepgram"},
	"retriever":   {"http", "pgvector"},
	"generator":   {"openai", "any-llm"},
	"synthesizer": {"coqui", "elevenlabs"},
	"embeddings":  {"openai", "ollama"},
	"vad":         {"energy"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Unknown YAML fields are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero fields in place. Called once per load, before
// validation, so Validate sees the effective configuration.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Backends.VAD.Name == "" {
		cfg.Backends.VAD.Name = DefaultVADBackend
	}
	if cfg.Pipeline.StageTimeoutMs == 0 {
		cfg.Pipeline.StageTimeoutMs = int(pipeline.DefaultStageTimeout.Milliseconds())
	}
	if cfg.Audio.BufferCapacity == 0 {
		cfg.Audio.BufferCapacity = DefaultBufferCapacity
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = DefaultChannels
	}
	if cfg.Audio.FrameMs == 0 {
		cfg.Audio.FrameMs = DefaultFrameMs
	}
	if cfg.VAD.Threshold == 0 {
		cfg.VAD.Threshold = turn.DefaultThreshold
	}
	if cfg.VAD.DebounceMs == 0 {
		cfg.VAD.DebounceMs = int(turn.DefaultDebounce.Milliseconds())
	}
	if cfg.VAD.HangoverMs == 0 {
		cfg.VAD.HangoverMs = int(turn.DefaultHangover.Milliseconds())
	}
	if cfg.VAD.MaxSegmentMs == 0 {
		cfg.VAD.MaxSegmentMs = int(turn.DefaultMaxSegment.Milliseconds())
	}
	if cfg.Cache.TTLMs == 0 {
		cfg.Cache.TTLMs = DefaultCacheTTLMs
	}
	if cfg.Cache.Capacity == 0 {
		cfg.Cache.Capacity = cache.DefaultCapacity
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = pipeline.DefaultTopK
	}
	if cfg.Backends.Embeddings.Name != "" && cfg.Retrieval.EmbeddingDimensions == 0 {
		cfg.Retrieval.EmbeddingDimensions = DefaultEmbeddingDimension
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// The four stages are the product; a pipeline cannot run without them.
	if cfg.Backends.Transcriber.Name == "" {
		errs = append(errs, errors.New("backends.transcriber.name is required"))
	}
	if cfg.Backends.Retriever.Name == "" {
		errs = append(errs, errors.New("backends.retriever.name is required"))
	}
	if cfg.Backends.Generator.Name == "" {
		errs = append(errs, errors.New("backends.generator.name is required"))
	}
	if cfg.Backends.Synthesizer.Name == "" {
		errs = append(errs, errors.New("backends.synthesizer.name is required"))
	}

	for _, kb := range []struct {
		kind string
		b    Backend
	}{
		{"transcriber", cfg.Backends.Transcriber},
		{"retriever", cfg.Backends.Retriever},
		{"generator", cfg.Backends.Generator},
		{"synthesizer", cfg.Backends.Synthesizer},
		{"embeddings", cfg.Backends.Embeddings},
		{"vad", cfg.Backends.VAD},
	} {
		warnUnknownBackend(kb.kind, kb.b.Name)
		for i, fb := range kb.b.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("backends.%s.fallbacks[%d].name is required", kb.kind, i))
			} else {
				warnUnknownBackend(kb.kind, fb.Name)
			}
			if len(fb.Fallbacks) > 0 {
				errs = append(errs, fmt.Errorf("backends.%s.fallbacks[%d]: nested fallbacks are not supported", kb.kind, i))
			}
		}
	}

	if cfg.Backends.Retriever.Name == "pgvector" {
		if cfg.Retrieval.PostgresDSN == "" {
			errs = append(errs, errors.New("retrieval.postgres_dsn is required when backends.retriever is pgvector"))
		}
		if cfg.Backends.Embeddings.Name == "" {
			errs = append(errs, errors.New("backends.embeddings.name is required when backends.retriever is pgvector"))
		}
	}
	if cfg.Backends.Embeddings.Name != "" && cfg.Retrieval.EmbeddingDimensions <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.embedding_dimensions %d must be positive", cfg.Retrieval.EmbeddingDimensions))
	}

	if cfg.Pipeline.StageTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.stage_timeout_ms %d must be positive", cfg.Pipeline.StageTimeoutMs))
	}
	for stage, ms := range cfg.Pipeline.StageTimeoutsMs {
		if !slices.Contains(types.Stages, types.Stage(stage)) {
			errs = append(errs, fmt.Errorf("pipeline.stage_timeouts_ms: unknown stage %q; valid stages: transcribe, retrieve, generate, synthesize", stage))
		}
		if ms <= 0 {
			errs = append(errs, fmt.Errorf("pipeline.stage_timeouts_ms.%s %d must be positive", stage, ms))
		}
	}
	if s := cfg.Pipeline.Voice.Speed; s != 0 && (s < 0.5 || s > 2.0) {
		errs = append(errs, fmt.Errorf("pipeline.voice.speed %.2f is out of range [0.5, 2.0]", s))
	}
	if cfg.Pipeline.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_tokens %d must not be negative", cfg.Pipeline.MaxTokens))
	}
	if tp := cfg.Pipeline.Temperature; tp < 0 || tp > 2 {
		errs = append(errs, fmt.Errorf("pipeline.temperature %.2f is out of range [0, 2]", tp))
	}

	if cfg.Audio.BufferCapacity <= 0 {
		errs = append(errs, fmt.Errorf("audio.buffer_capacity %d must be positive", cfg.Audio.BufferCapacity))
	}
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if c := cfg.Audio.Channels; c != 1 && c != 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d must be 1 or 2", c))
	}
	if cfg.Audio.FrameMs <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d must be positive", cfg.Audio.FrameMs))
	}

	if th := cfg.VAD.Threshold; th < 0 || th > 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %.2f is out of range [0, 1]", th))
	}
	if cfg.VAD.DebounceMs < 0 {
		errs = append(errs, fmt.Errorf("vad.debounce_ms %d must not be negative", cfg.VAD.DebounceMs))
	}
	if cfg.VAD.HangoverMs < 0 {
		errs = append(errs, fmt.Errorf("vad.hangover_ms %d must not be negative", cfg.VAD.HangoverMs))
	}
	if cfg.VAD.MaxSegmentMs <= 0 {
		errs = append(errs, fmt.Errorf("vad.max_segment_ms %d must be positive", cfg.VAD.MaxSegmentMs))
	}

	if cfg.Cache.TTLMs < -1 {
		errs = append(errs, fmt.Errorf("cache.ttl_ms %d must be -1 (disabled) or non-negative", cfg.Cache.TTLMs))
	}
	if cfg.Cache.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("cache.capacity %d must be positive", cfg.Cache.Capacity))
	}

	if cfg.Retrieval.TopK <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.top_k %d must be positive", cfg.Retrieval.TopK))
	}

	return errors.Join(errs...)
}

// warnUnknownBackend logs a warning if name is non-empty and not found in
// the [ValidBackendNames] list for the given kind.
func warnUnknownBackend(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidBackendNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown backend name, may be a typo or third-party factory",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
