package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/regscout/api"
	"github.com/use-agent/regscout/config"
	"github.com/use-agent/regscout/diagnostics"
	"github.com/use-agent/regscout/engine"
	"github.com/use-agent/regscout/scraper"
	"github.com/use-agent/regscout/search"
	"github.com/use-agent/regscout/webhook"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	logger := initLogger(cfg.Log)
	logger.Info("regscout starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"maxSessions", cfg.Engine.MaxSessions,
		"pooled", cfg.Engine.PoolEngine,
	)

	// ── 3. Session manager (launches the browser when pooled) ───────
	manager, err := engine.NewManager(scraper.NewLauncher(logger), cfg.Engine, logger)
	if err != nil {
		logger.Error("invalid engine configuration", "error", err)
		os.Exit(1)
	}
	warmCtx, cancelWarm := context.WithTimeout(context.Background(), cfg.Engine.Timeouts.Launch)
	if err := manager.Warm(warmCtx); err != nil {
		// Not fatal: the next search retries the launch.
		logger.Warn("browser warm-up failed", "error", err)
	}
	cancelWarm()

	// ── 4. Diagnostics ──────────────────────────────────────────────
	var (
		sink  diagnostics.MultiSink
		store *diagnostics.Store
	)
	if cfg.Diagnostics.Enabled {
		store = diagnostics.NewStore(cfg.Diagnostics.MaxEntries, cfg.Diagnostics.TTL, cfg.Diagnostics.DedupeDistance)
		defer store.Close()
		sink = append(sink, store)
	}
	if cfg.Webhook.URL != "" {
		sink = append(sink, &diagnostics.WebhookSink{Sender: &webhook.Sender{
			URL:    cfg.Webhook.URL,
			Secret: cfg.Webhook.Secret,
			Logger: logger,
		}})
		logger.Info("diagnostic webhook enabled", "url", cfg.Webhook.URL)
	}

	// ── 5. Search core ──────────────────────────────────────────────
	opts := search.Options{Logger: logger}
	if len(sink) > 0 {
		opts.Sink = sink
	}
	svc, err := search.NewService(manager, cfg.Engine, cfg.Search, opts)
	if err != nil {
		logger.Error("invalid search configuration", "error", err)
		os.Exit(1)
	}

	// ── 6. Setup router ─────────────────────────────────────────────
	deps := api.Deps{
		Searcher:  svc,
		Stats:     manager,
		Registry:  svc.Registry(),
		Prober:    engine.NewProbe(cfg.Engine, cfg.Search.BlockPhrases),
		StartTime: time.Now(),
	}
	if store != nil {
		deps.Artifacts = store
	}
	router := api.NewRouter(cfg, deps)

	// ── 7. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 8. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	// A search can hold a session for the whole outcome race, so give
	// in-flight requests that long to finish.
	drain := cfg.Engine.Timeouts.Navigation + cfg.Engine.Timeouts.OutcomeRace
	ctx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP server forced shutdown", "error", err)
	} else {
		logger.Info("HTTP server drained gracefully")
	}

	closeCtx, cancelClose := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelClose()
	if err := manager.Close(closeCtx); err != nil {
		logger.Error("session manager close", "error", err)
	}
	logger.Info("regscout stopped")
}

// initLogger configures slog based on the LogConfig and installs it as the
// default logger.
func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
