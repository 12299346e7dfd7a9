package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brojonat/voxpay/service/config"
	"github.com/brojonat/voxpay/service/db"
	"github.com/brojonat/voxpay/service/metrics"
	natspkg "github.com/brojonat/voxpay/service/nats"
	"github.com/brojonat/voxpay/service/pipeline"
	"github.com/brojonat/voxpay/service/substrate"
	"github.com/brojonat/voxpay/service/temporal"
)

func main() {
	// Load and validate configuration from environment
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Start metrics HTTP server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.Handler(),
	}

	go func() {
		logger.Info("starting metrics HTTP server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	// Chain components; the worker signs with the same phrase as the server
	components, err := pipeline.NewComponents(cfg, substrate.NewRPCDialer(logger), metricsCollector, logger)
	if err != nil {
		logger.Error("failed to initialize signer", "error", err)
		os.Exit(1)
	}

	opts := pipeline.Options{
		Endpoints:        cfg.NodeEndpoints,
		WaitForInclusion: cfg.WaitForInclusion,
		Metrics:          metricsCollector,
	}

	// Background payments are recorded and published like synchronous ones
	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to database")
		opts.Recorder = db.NewStore(dbPool, metricsCollector)
	}

	if cfg.NATSURL != "" {
		natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer natsPublisher.Close()
		opts.Publisher = natsPublisher
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	svc := pipeline.NewService(components, opts, logger)

	// Initialize Temporal worker
	worker, err := temporal.NewWorker(temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Executor:          svc,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	logger.Info("temporal worker initialized, all dependencies ready",
		"signer", components.Identity.Address(),
		"total_endpoints", len(cfg.NodeEndpoints),
		"recorder", opts.Recorder != nil,
		"publisher", opts.Publisher != nil,
	)

	// Start worker in background
	workerErrors := make(chan error, 1)
	go func() {
		logger.Info("starting temporal worker")
		workerErrors <- worker.Start()
	}()

	// Wait for shutdown signal or worker error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		if err != nil {
			logger.Error("temporal worker error", "error", err)
			os.Exit(1)
		}
		<-shutdown
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	logger.Info("stopping temporal worker")
	worker.Stop()
	logger.Info("shutdown complete")
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
