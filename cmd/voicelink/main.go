// Command voicelink runs the voice-call bridge: a WebSocket endpoint for the
// media gateway on one side and cloud speech services on the other.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arens-io/voicelink/internal/bridge"
	"github.com/arens-io/voicelink/internal/config"
	"github.com/arens-io/voicelink/internal/health"
	"github.com/arens-io/voicelink/internal/observe"
	"github.com/arens-io/voicelink/internal/outbound"
	"github.com/arens-io/voicelink/internal/recorder"
	"github.com/arens-io/voicelink/pkg/memory"
	pgstore "github.com/arens-io/voicelink/pkg/memory/postgres"
	"github.com/arens-io/voicelink/pkg/provider/agent"
	agentanyllm "github.com/arens-io/voicelink/pkg/provider/agent/anyllm"
	agentoai "github.com/arens-io/voicelink/pkg/provider/agent/openai"
	rtoai "github.com/arens-io/voicelink/pkg/provider/realtime/openai"
	sttoai "github.com/arens-io/voicelink/pkg/provider/stt/openai"
	ttsoai "github.com/arens-io/voicelink/pkg/provider/tts/openai"
)

const apiKeyEnv = "VOICELINK_API_KEY"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicelink: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicelink: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voicelink starting",
		"config", *configPath,
		"bind", cfg.Serve.Bind,
		"port", cfg.Serve.Port,
		"path", cfg.Serve.Path,
		"tts_mode", cfg.EffectiveTTSMode(),
		"log_level", cfg.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voicelink",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	providers, err := buildProviders(cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// Session store is optional; without it records are dropped.
	var store memory.SessionStore
	var storeClose func()
	if dsn := cfg.Memory.PostgresDSN; dsn != "" {
		pg, err := pgstore.NewStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect session store", "err", err)
			return 1
		}
		store = pg
		storeClose = pg.Close
		slog.Info("session store connected")
	} else {
		slog.Info("no session store configured, call records disabled")
	}
	rec := recorder.New(store, logger)

	pipeline := bridge.NewPipeline(cfg, providers, rec, logger)
	server := bridge.NewServer(ctx, cfg, pipeline, rec, logger)
	coordinator := outbound.New(cfg.Outbound, server, logger)
	server.SetCoordinator(coordinator)

	mux := http.NewServeMux()
	mux.Handle("GET "+cfg.Serve.Path, server)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(func() health.Stats {
		return health.Stats{
			ActiveCalls:        server.Registry().Len(),
			GatewayConnections: server.ConnectionCount(),
			PendingOutbound:    coordinator.PendingCount(),
		}
	}).Register(mux)

	addr := net.JoinHostPort(cfg.Serve.Bind, strconv.Itoa(cfg.Serve.Port))
	httpServer := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		slog.Error("listener failed", "err", err)
		return 1
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received, stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	coordinator.Shutdown()
	server.Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	if storeClose != nil {
		storeClose()
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// buildProviders instantiates the upstream services named in configuration.
// Providers for the inactive TTS mode are left nil.
func buildProviders(cfg *config.Config) (bridge.Providers, error) {
	var p bridge.Providers

	if cfg.EffectiveTTSMode() == config.TTSModeRealtime {
		entry := cfg.Providers.Realtime
		var opts []rtoai.Option
		if entry.BaseURL != "" {
			opts = append(opts, rtoai.WithBaseURL(entry.BaseURL))
		}
		rt, err := rtoai.New(apiKey(entry), opts...)
		if err != nil {
			return p, fmt.Errorf("realtime provider: %w", err)
		}
		p.Realtime = rt
		return p, nil
	}

	sttEntry := cfg.Providers.STT
	var sttOpts []sttoai.Option
	if sttEntry.BaseURL != "" {
		sttOpts = append(sttOpts, sttoai.WithEndpoint(sttEntry.BaseURL))
	}
	if cfg.Streaming.STTModel != "" {
		sttOpts = append(sttOpts, sttoai.WithModel(cfg.Streaming.STTModel))
	}
	sttProvider, err := sttoai.New(apiKey(sttEntry), sttOpts...)
	if err != nil {
		return p, fmt.Errorf("stt provider: %w", err)
	}
	p.STT = sttProvider

	ttsEntry := cfg.Providers.TTS
	var ttsOpts []ttsoai.Option
	if ttsEntry.BaseURL != "" {
		ttsOpts = append(ttsOpts, ttsoai.WithBaseURL(ttsEntry.BaseURL))
	}
	ttsProvider, err := ttsoai.New(apiKey(ttsEntry), ttsOpts...)
	if err != nil {
		return p, fmt.Errorf("tts provider: %w", err)
	}
	p.TTS = ttsProvider

	agentProvider, err := buildAgent(cfg.Providers.Agent)
	if err != nil {
		return p, fmt.Errorf("agent provider: %w", err)
	}
	p.Agent = agentProvider
	return p, nil
}

// buildAgent selects the agent engine. "openai" talks to the chat-completions
// API directly; "anyllm" routes through any-llm-go so alternative backends
// (anthropic, groq, ollama, ...) can serve responses.
func buildAgent(entry config.ProviderEntry) (agent.Provider, error) {
	switch entry.Name {
	case "", "openai":
		var opts []agentoai.Option
		if entry.BaseURL != "" {
			opts = append(opts, agentoai.WithBaseURL(entry.BaseURL))
		}
		return agentoai.New(apiKey(entry), opts...)
	case "anyllm":
		var opts []anyllmlib.Option
		if key := apiKey(entry); key != "" {
			opts = append(opts, anyllmlib.WithAPIKey(key))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return agentanyllm.New(entry.Backend, opts...)
	default:
		return nil, fmt.Errorf("unrecognized agent provider %q", entry.Name)
	}
}

// apiKey resolves the provider key, falling back to the one environment
// variable the bridge consumes.
func apiKey(entry config.ProviderEntry) string {
	if entry.APIKey != "" {
		return entry.APIKey
	}
	return os.Getenv(apiKeyEnv)
}

func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
