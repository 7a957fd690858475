// Command audiohookbridge runs the AudioHook-to-realtime-provider bridge: a
// WebSocket server that accepts Genesys Cloud AudioHook connections and
// bridges each one to an OpenAI Realtime session for the lifetime of the
// call.
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

	"go.opentelemetry.io/otel"

	"github.com/coraltel/audiohookbridge/internal/bridge"
	"github.com/coraltel/audiohookbridge/internal/config"
	"github.com/coraltel/audiohookbridge/internal/mcp/mcphost"
	"github.com/coraltel/audiohookbridge/internal/observe"
	"github.com/coraltel/audiohookbridge/pkg/provider/realtime/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ──────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "audiohookbridge: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "audiohookbridge: %v\n", err)
		}
		return 1
	}

	// ── Logger ───────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("audiohookbridge starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"carrier_path", cfg.Carrier.Path,
		"provider_model", cfg.Provider.Model,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "audiohookbridge",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to construct metrics", "err", err)
		return 1
	}

	// ── Model-provider client ───────────────────────────────────────────
	providerOpts := []openai.Option{openai.WithModel(cfg.Provider.Model)}
	if cfg.Provider.RealtimeURL != "" {
		providerOpts = append(providerOpts, openai.WithBaseURL(cfg.Provider.RealtimeURL))
	}
	provider := openai.New(cfg.Provider.APIKey, providerOpts...)

	// ── Data-action (MCP) host ──────────────────────────────────────────
	mcpHost := mcphost.New()
	for _, server := range cfg.MCP.Servers {
		if err := mcpHost.RegisterServer(ctx, server); err != nil {
			slog.Error("failed to register MCP server", "name", server.Name, "err", err)
			return 1
		}
	}
	defer func() {
		if err := mcpHost.Close(); err != nil {
			slog.Error("error closing MCP host", "err", err)
		}
	}()

	// ── HTTP server ──────────────────────────────────────────────────────
	srv := bridge.New(bridge.Deps{
		Config:   cfg,
		Provider: provider,
		MCPHost:  mcpHost,
		Metrics:  metrics,
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: srv,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-serveErr:
		if err != nil {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "err", err)
		return 1
	}
	if err := srv.Shutdown(shutdownCtx, 15*time.Second); err != nil {
		slog.Error("session drain error", "err", err)
	}

	slog.Info("goodbye")
	return 0
}

// newLogger builds the process-wide slog.Logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
