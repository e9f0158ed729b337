// Command loquad is the loqua real-time conversation server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/loqua-ai/loqua/internal/config"
	"github.com/loqua-ai/loqua/internal/event"
	"github.com/loqua-ai/loqua/internal/health"
	"github.com/loqua-ai/loqua/internal/observe"
	"github.com/loqua-ai/loqua/internal/resilience"
	"github.com/loqua-ai/loqua/internal/server"
	"github.com/loqua-ai/loqua/internal/session"
	"github.com/loqua-ai/loqua/pkg/provider/llm"
	"github.com/loqua-ai/loqua/pkg/provider/llm/anyllm"
	"github.com/loqua-ai/loqua/pkg/provider/llm/openai"
	"github.com/loqua-ai/loqua/pkg/provider/stt"
	"github.com/loqua-ai/loqua/pkg/provider/stt/deepgram"
	"github.com/loqua-ai/loqua/pkg/provider/vad/energy"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loquad: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("loquad starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry first so every later component records into the global
	// providers.
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "loqua"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	sttProvider, llmProvider, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	registry := session.NewRegistry(session.RegistryConfig{
		MaxSessions: cfg.Session.MaxSessions,
		IdleTTL:     cfg.Session.IdleTTL(),
		Logger:      logger,
	})
	supervisor := session.NewSupervisor(registry, session.SupervisorConfig{
		SweepInterval: cfg.Session.SweepInterval(),
		Logger:        logger,
	})

	vadEngine := energy.New()
	systemPrompt := optString(cfg.Providers.LLM.Options, "system_prompt")

	factory := func(sessionID, language string, sink event.Sink) (*session.Orchestrator, error) {
		return session.New(session.Config{
			SessionID:    sessionID,
			Language:     language,
			SystemPrompt: systemPrompt,
			Sink:         sink,
			VAD:          vadEngine,
			STT:          sttProvider,
			LLM:          llmProvider,
			Conf:         cfg,
			Logger:       logger,
			Metrics:      metrics,
		})
	}

	ws, err := server.New(server.Config{
		Registry: registry,
		Factory:  factory,
		Conf:     cfg,
		Logger:   logger,
	})
	if err != nil {
		slog.Error("failed to build server", "err", err)
		return 1
	}

	healthHandler := health.New(
		health.Check{
			Name: "capacity",
			Probe: func(context.Context) error {
				if registry.AtCapacity() {
					return fmt.Errorf("session capacity reached")
				}
				return nil
			},
		},
		health.Check{
			Name: "providers",
			Probe: func(context.Context) error {
				if cfg.Providers.STT.Name == "" || cfg.Providers.LLM.Name == "" {
					return fmt.Errorf("stt and llm providers must both be configured")
				}
				return nil
			},
		},
	)

	mux := http.NewServeMux()
	mux.Handle("/ws", ws.Handler())
	mux.HandleFunc("/healthz", healthHandler.Healthz)
	mux.HandleFunc("/readyz", healthHandler.Readyz)
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := supervisor.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinProviders wires the provider factories that ship with loqua.
func registerBuiltinProviders(reg *config.Registry) {
	// The OpenAI chat API gets the dedicated SDK-backed provider; the other
	// hosted backends share the any-llm client.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})
}

// buildProviders instantiates the configured providers and wraps each in a
// circuit-breaker fallback group.
func buildProviders(cfg *config.Config, reg *config.Registry) (stt.Provider, llm.Provider, error) {
	if cfg.Providers.STT.Name == "" {
		return nil, nil, fmt.Errorf("providers.stt must be configured")
	}
	if cfg.Providers.LLM.Name == "" {
		return nil, nil, fmt.Errorf("providers.llm must be configured")
	}

	sttProv, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	llmProv, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)

	sttGuarded := resilience.NewSTTFallback(sttProv, cfg.Providers.STT.Name, resilience.FallbackConfig{})
	llmGuarded := resilience.NewLLMFallback(llmProv, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
	return sttGuarded, llmGuarded, nil
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}
