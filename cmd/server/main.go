// cmd/server runs the HTTP edge and the per-bot orchestrator in one
// process, the same single-binary shape as polybot's cmd/scanner: load
// config, wire collaborators, run until a signal arrives.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voltaforge/dlmmbot/internal/cache"
	"github.com/voltaforge/dlmmbot/internal/config"
	"github.com/voltaforge/dlmmbot/internal/domain"
	"github.com/voltaforge/dlmmbot/internal/eventbus"
	"github.com/voltaforge/dlmmbot/internal/executor"
	"github.com/voltaforge/dlmmbot/internal/httpapi"
	"github.com/voltaforge/dlmmbot/internal/orchestrator"
	"github.com/voltaforge/dlmmbot/internal/predictor"
	"github.com/voltaforge/dlmmbot/internal/presets"
	"github.com/voltaforge/dlmmbot/internal/safety"
	"github.com/voltaforge/dlmmbot/internal/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	setupLogger(cfg.LogLevel, cfg.LogFormat)

	slog.Info("dlmmbot server starting", "port", cfg.Port, "environment", cfg.Environment, "database", cfg.DatabasePath)

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "path", cfg.DatabasePath)
		os.Exit(1)
	}
	defer store.Close()

	if err := seedSystemPresets(store); err != nil {
		slog.Error("failed to seed system presets", "err", err)
		os.Exit(1)
	}

	bus := eventbus.New()

	var bridge *eventbus.RedisBridge
	if cfg.RedisAddr != "" {
		bridge = eventbus.NewRedisBridge(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), cfg.RedisChannel)
		slog.Info("redis event bridge enabled", "addr", cfg.RedisAddr, "channel", cfg.RedisChannel)
	}

	upstream := cache.NewHTTPUpstream(cfg.PoolAPIURL)
	sharedCache := cache.New(upstream)

	var pred *predictor.Client
	if cfg.PredictorURL != "" {
		pred = predictor.New(cfg.PredictorURL, cfg.PredictorAPIKey)
	}

	tokens := httpapi.NewTokenIssuer(cfg.AccessTokenSecret, cfg.AccessTokenIssuer, cfg.AccessTokenTTL)

	orch := orchestrator.New(orchestrator.Config{
		Store:       store,
		Bus:         bus,
		Bridge:      bridge,
		Cache:       sharedCache,
		Chain:       nil, // no concrete on-chain active-bin reader wired; Provider falls back to its synthetic estimate
		Predictor:   pred,
		LiveTrading: unavailableLiveTrading{},

		MaxConcurrentPositions: 5,
		CircuitBreakerLimits: safety.CircuitBreakerLimits{
			MaxOpenPositions:     5,
			MaxPositionsPerPool:  1,
			MaxSinglePositionSOL: 5,
			MaxTotalExposureSOL:  25,
			MaxTxPerMinute:       20,
			CooldownMs:           2000,
		},
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	recovered, err := orch.RecoverRunningBots(ctx)
	if err != nil {
		slog.Error("failed to recover running bots", "err", err)
	} else if recovered > 0 {
		slog.Info("recovered running bots", "count", recovered)
	}

	handler := httpapi.New(httpapi.Deps{
		Store: store, Orchestrator: orch, Bus: bus, Predictor: pred, Tokens: tokens,
		CORSOrigins: cfg.CORSOrigins, Environment: string(cfg.Environment),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			slog.Error("http server exited with error", "err", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown exceeded its deadline", "err", err)
		orch.StopAll(context.Background())
		os.Exit(1)
	}

	orch.StopAll(shutdownCtx)
	slog.Info("dlmmbot server stopped cleanly")
}

func seedSystemPresets(store *storage.Store) error {
	rows, err := presets.SystemSeedRows()
	if err != nil {
		return fmt.Errorf("build system preset rows: %w", err)
	}
	return store.SeedSystemPresets(context.Background(), rows)
}

// unavailableLiveTrading is the default LiveTradingFactory: this build
// wires no concrete Solana/DLMM chain adapter, so a bot started in LIVE
// mode fails fast with an actionable error rather than silently trading
// through a stub. A deployment wanting real live trading supplies its own
// orchestrator.LiveTradingFactory at startup in place of this one.
type unavailableLiveTrading struct{}

func (unavailableLiveTrading) BuildLiveExecutor(ctx context.Context, cfg domain.BotConfig, stop *safety.EmergencyStop, breaker *safety.CircuitBreaker) (executor.Executor, error) {
	return nil, fmt.Errorf("live trading requires a configured on-chain adapter, none is wired into this build")
}

func setupLogger(level, format string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
