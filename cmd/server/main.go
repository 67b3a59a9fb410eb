// Package main is the entrypoint for the sourcefinder API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sourcefinder/internal/api"
	"github.com/kiranshivaraju/sourcefinder/internal/api/handler"
	mw "github.com/kiranshivaraju/sourcefinder/internal/api/middleware"
	"github.com/kiranshivaraju/sourcefinder/internal/cache"
	"github.com/kiranshivaraju/sourcefinder/internal/clock"
	"github.com/kiranshivaraju/sourcefinder/internal/config"
	"github.com/kiranshivaraju/sourcefinder/internal/gateway"
	"github.com/kiranshivaraju/sourcefinder/internal/logging"
	"github.com/kiranshivaraju/sourcefinder/internal/metrics"
	"github.com/kiranshivaraju/sourcefinder/internal/recorder"
	"github.com/kiranshivaraju/sourcefinder/internal/store"
	"github.com/kiranshivaraju/sourcefinder/internal/tracker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser := logging.Setup(cfg.Log)
	defer logCloser.Close()
	logger.Info("config loaded",
		"env", cfg.Server.Env,
		"search_base_url", cfg.Search.BaseURL,
		"submit_policy", cfg.Tracker.SubmitPolicy,
		"poll_interval", cfg.Poll.Interval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations applied")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis connected")

	gw, err := gateway.NewHTTPClient(cfg.Search)
	if err != nil {
		return fmt.Errorf("create search gateway: %w", err)
	}

	pgStore := store.NewPostgresStore(pool)
	collector := metrics.NewCollector(nil)
	rec := recorder.New(redisCache, pgStore, cfg.Tracker.SnapshotTTL, collector)

	registry := tracker.NewRegistry(newTrackerFactory(cfg, gw, collector, rec, logger))

	router := api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.RateLimit.RequestsPerMinute),

		HealthHandler: handler.NewHealthHandler(map[string]handler.Check{
			"database": pgStore.Ping,
			"cache":    redisCache.Ping,
			"search":   gw.Ready,
		}),
		MetricsHandler: collector.Handler(),

		SubmitSearchHandler:  handler.NewSubmitSearchHandler(registry),
		CurrentSearchHandler: handler.NewCurrentSearchHandler(registry, redisCache),
		StreamHandler:        handler.NewStreamHandler(registry),
		ListJobsHandler:      handler.NewListJobsHandler(pgStore),
		GetJobHandler:        handler.NewGetJobHandler(redisCache, pgStore),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	})

	// Cancelled on shutdown so open search streams close.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
		ReadTimeout: 15 * time.Second,
		// The submit call can outlive the request, but the response does not.
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	srv.RegisterOnShutdown(cancelBase)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		registry.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)

	// Stop every poller and flush the last snapshots to the recorder.
	registry.Shutdown()

	if shutdownErr != nil {
		return fmt.Errorf("server shutdown: %w", shutdownErr)
	}
	logger.Info("server stopped gracefully")
	return nil
}

func newTrackerFactory(cfg *config.Config, gw gateway.Client, m *metrics.Collector, rec *recorder.Recorder, logger *slog.Logger) tracker.Factory {
	tcfg := tracker.Config{
		Policy:            cfg.Tracker.SubmitPolicy,
		Interval:          cfg.Poll.Interval,
		MaxStatusFailures: cfg.Poll.MaxStatusFailures,
	}
	return func(clientID uuid.UUID) *tracker.Tracker {
		return tracker.New(gw, clock.Real{}, tcfg,
			tracker.WithLogger(logger.With("client_id", clientID)),
			tracker.WithMetrics(m),
			tracker.WithListener(rec.Listener(clientID)),
		)
	}
}
