// Command voxloop is the real-time voice assistant server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxloop/voxloop/internal/app"
	"github.com/voxloop/voxloop/internal/config"
	"github.com/voxloop/voxloop/internal/observe"
	"github.com/voxloop/voxloop/pkg/provider/embeddings"
	ollamaembed "github.com/voxloop/voxloop/pkg/provider/embeddings/ollama"
	oaembed "github.com/voxloop/voxloop/pkg/provider/embeddings/openai"
	"github.com/voxloop/voxloop/pkg/provider/generator"
	"github.com/voxloop/voxloop/pkg/provider/generator/anyllm"
	oagen "github.com/voxloop/voxloop/pkg/provider/generator/openai"
	"github.com/voxloop/voxloop/pkg/provider/retriever"
	"github.com/voxloop/voxloop/pkg/provider/retriever/httpapi"
	"github.com/voxloop/voxloop/pkg/provider/synthesizer"
	"github.com/voxloop/voxloop/pkg/provider/synthesizer/coqui"
	"github.com/voxloop/voxloop/pkg/provider/synthesizer/elevenlabs"
	oatts "github.com/voxloop/voxloop/pkg/provider/synthesizer/openai"
	"github.com/voxloop/voxloop/pkg/provider/transcriber"
	"github.com/voxloop/voxloop/pkg/provider/transcriber/deepgram"
	oastt "github.com/voxloop/voxloop/pkg/provider/transcriber/openai"
	"github.com/voxloop/voxloop/pkg/provider/transcriber/whisper"
	"github.com/voxloop/voxloop/pkg/provider/vad"
	"github.com/voxloop/voxloop/pkg/provider/vad/energy"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watchConfig := flag.Bool("watch-config", false, "apply live config changes (log level, vocabulary) on file change")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxloop: config file %q not found, copy config.example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxloop: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so a config reload can retune it.
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(newLogger(level))

	slog.Info("voxloop starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	mp, otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "voxloop",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg, cfg)

	// ── Instantiate backends ──────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build backends", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	appOpts := []app.Option{
		app.WithMeterProvider(mp),
		app.WithLogLevelVar(level),
	}
	if *watchConfig {
		appOpts = append(appOpts, app.WithConfigWatch(*configPath))
	}

	application, err := app.New(ctx, cfg, providers, appOpts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires all built-in backend factories into reg.
// Each factory receives a config.Backend and constructs the appropriate
// provider from the real implementation packages. The pgvector retriever
// is absent on purpose: it needs a context and the embeddings backend, so
// app.New builds it.
func registerBuiltinBackends(reg *config.Registry, cfg *config.Config) {
	// ── Transcribers ──────────────────────────────────────────────────────────

	reg.RegisterTranscriber("whisper", func(entry config.Backend) (transcriber.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.Option("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterTranscriber("deepgram", func(entry config.Backend) (transcriber.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.Option("language", ""); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterTranscriber("openai", func(entry config.Backend) (transcriber.Provider, error) {
		var opts []oastt.Option
		if entry.Model != "" {
			opts = append(opts, oastt.WithModel(entry.Model))
		}
		if lang := entry.Option("language", ""); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		return oastt.New(entry.APIKey, opts...)
	})

	// ── Retrievers ────────────────────────────────────────────────────────────

	reg.RegisterRetriever("http", func(entry config.Backend) (retriever.Provider, error) {
		var opts []httpapi.Option
		if entry.APIKey != "" {
			opts = append(opts, httpapi.WithAPIKey(entry.APIKey))
		}
		return httpapi.New(entry.BaseURL, opts...)
	})

	// ── Generators ────────────────────────────────────────────────────────────

	reg.RegisterGenerator("openai", func(entry config.Backend) (generator.Provider, error) {
		var opts []oagen.Option
		if entry.BaseURL != "" {
			opts = append(opts, oagen.WithBaseURL(entry.BaseURL))
		}
		return oagen.New(entry.APIKey, entry.Model, opts...)
	})

	// any-llm routes to whichever upstream the "provider" option names
	// (ollama, anthropic, gemini, groq, ...).
	reg.RegisterGenerator("any-llm", func(entry config.Backend) (generator.Provider, error) {
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(entry.Option("provider", "openai"), entry.Model, opts...)
	})

	// ── Synthesizers ──────────────────────────────────────────────────────────

	reg.RegisterSynthesizer("coqui", func(entry config.Backend) (synthesizer.Provider, error) {
		var opts []coqui.Option
		if lang := entry.Option("language", ""); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := entry.Option("api_mode", ""); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterSynthesizer("elevenlabs", func(entry config.Backend) (synthesizer.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterSynthesizer("openai", func(entry config.Backend) (synthesizer.Provider, error) {
		var opts []oatts.Option
		if entry.Model != "" {
			opts = append(opts, oatts.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		return oatts.New(entry.APIKey, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.Backend) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.Backend) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if dims := cfg.Retrieval.EmbeddingDimensions; dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.Backend) (vad.Classifier, error) {
		return energy.New(), nil
	})
}

// buildProviders instantiates all backends named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume. Backends without a registered factory are skipped; app.New
// reports the ones it cannot run without.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Backends.Transcriber.Name; name != "" {
		p, err := reg.CreateTranscriber(cfg.Backends.Transcriber)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("backend has no factory, skipping", "kind", "transcriber", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create transcriber backend %q: %w", name, err)
		} else {
			ps.Transcriber = p
			slog.Info("backend created", "kind", "transcriber", "name", name)
		}
	}

	if name := cfg.Backends.Retriever.Name; name != "" {
		p, err := reg.CreateRetriever(cfg.Backends.Retriever)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			// pgvector lands here; app.New constructs it.
			slog.Debug("backend has no factory, skipping", "kind", "retriever", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create retriever backend %q: %w", name, err)
		} else {
			ps.Retriever = p
			slog.Info("backend created", "kind", "retriever", "name", name)
		}
	}

	if name := cfg.Backends.Generator.Name; name != "" {
		p, err := reg.CreateGenerator(cfg.Backends.Generator)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("backend has no factory, skipping", "kind", "generator", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create generator backend %q: %w", name, err)
		} else {
			ps.Generator = p
			slog.Info("backend created", "kind", "generator", "name", name)
		}
	}

	for _, fb := range cfg.Backends.Generator.Fallbacks {
		p, err := reg.CreateGenerator(fb)
		if err != nil {
			return nil, fmt.Errorf("create generator fallback %q: %w", fb.Name, err)
		}
		ps.GeneratorFallbacks = append(ps.GeneratorFallbacks, app.NamedGenerator{Name: fb.Name, Provider: p})
		slog.Info("backend created", "kind", "generator", "name", fb.Name, "role", "fallback")
	}

	if name := cfg.Backends.Synthesizer.Name; name != "" {
		p, err := reg.CreateSynthesizer(cfg.Backends.Synthesizer)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("backend has no factory, skipping", "kind", "synthesizer", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create synthesizer backend %q: %w", name, err)
		} else {
			ps.Synthesizer = p
			slog.Info("backend created", "kind", "synthesizer", "name", name)
		}
	}

	for _, fb := range cfg.Backends.Synthesizer.Fallbacks {
		p, err := reg.CreateSynthesizer(fb)
		if err != nil {
			return nil, fmt.Errorf("create synthesizer fallback %q: %w", fb.Name, err)
		}
		ps.SynthesizerFallbacks = append(ps.SynthesizerFallbacks, app.NamedSynthesizer{Name: fb.Name, Provider: p})
		slog.Info("backend created", "kind", "synthesizer", "name", fb.Name, "role", "fallback")
	}

	if name := cfg.Backends.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Backends.Embeddings)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("backend has no factory, skipping", "kind", "embeddings", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create embeddings backend %q: %w", name, err)
		} else {
			ps.Embeddings = p
			slog.Info("backend created", "kind", "embeddings", "name", name)
		}
	}

	if name := cfg.Backends.VAD.Name; name != "" {
		p, err := reg.CreateVAD(cfg.Backends.VAD)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("backend has no factory, skipping", "kind", "vad", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create vad backend %q: %w", name, err)
		} else {
			ps.VAD = p
			slog.Info("backend created", "kind", "vad", "name", name)
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         voxloop — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printBackend("Transcriber", cfg.Backends.Transcriber.Name, cfg.Backends.Transcriber.Model)
	printBackend("Retriever", cfg.Backends.Retriever.Name, cfg.Backends.Retriever.Model)
	printBackend("Generator", cfg.Backends.Generator.Name, cfg.Backends.Generator.Model)
	printBackend("Synthesizer", cfg.Backends.Synthesizer.Name, cfg.Backends.Synthesizer.Model)
	printBackend("Embeddings", cfg.Backends.Embeddings.Name, cfg.Backends.Embeddings.Model)
	printBackend("VAD", cfg.Backends.VAD.Name, "")
	fmt.Printf("║  Fallbacks       : %-19d ║\n",
		len(cfg.Backends.Generator.Fallbacks)+len(cfg.Backends.Synthesizer.Fallbacks))
	fmt.Printf("║  Vocab terms     : %-19d ║\n", len(cfg.Vocabulary))
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printBackend(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
