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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/brojonat/voxpay/service/config"
	"github.com/brojonat/voxpay/service/db"
	"github.com/brojonat/voxpay/service/intent"
	"github.com/brojonat/voxpay/service/metrics"
	natspkg "github.com/brojonat/voxpay/service/nats"
	"github.com/brojonat/voxpay/service/pipeline"
	"github.com/brojonat/voxpay/service/server"
	"github.com/brojonat/voxpay/service/substrate"
	"github.com/brojonat/voxpay/service/temporal"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"endpoints", len(cfg.NodeEndpoints),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	components, err := pipeline.NewComponents(cfg, substrate.NewRPCDialer(logger), m, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize signer: %w", err)
	}
	logger.Info("signer ready", "address", components.Identity.Address())

	opts := pipeline.Options{
		Endpoints:        cfg.NodeEndpoints,
		WaitForInclusion: cfg.WaitForInclusion,
		Parser:           intent.NewRuleParser(cfg.TokenSymbol),
		Metrics:          m,
	}
	resolvers := intent.Chain{cfg.Contacts}

	// Database is optional: it enables history and the stored address book
	var store server.Store
	if cfg.DatabaseURL != "" {
		if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
			return err
		}

		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			return fmt.Errorf("failed to ping database: %w", err)
		}
		logger.Info("connected to database")

		dbStore := db.NewStore(dbPool, m)
		resolvers = append(resolvers, intent.ResolverFunc(dbStore.ResolveContact))
		opts.Recorder = dbStore
		store = dbStore
	}
	opts.Resolver = resolvers

	// NATS is optional: it enables payment events and the SSE stream
	var ssePublisher *server.SSEPublisher
	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, m, logger)
		if err != nil {
			return fmt.Errorf("failed to create NATS publisher: %w", err)
		}
		defer publisher.Close()
		opts.Publisher = publisher

		ssePublisher, err = server.NewSSEPublisher(cfg.NATSURL, logger)
		if err != nil {
			return fmt.Errorf("failed to create SSE publisher: %w", err)
		}
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	svc := pipeline.NewService(components, opts, logger)

	// Temporal is optional: without it async payments are rejected
	var dispatcher temporal.Dispatcher
	if cfg.TemporalHost != "" {
		temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
		if err != nil {
			logger.Warn("temporal unavailable, async payments disabled", "host", cfg.TemporalHost, "error", err)
		} else {
			defer temporalClient.Close()
			dispatcher = temporalClient
		}
	}

	httpServer := server.New(cfg.ServerAddr, svc, store, dispatcher, ssePublisher, m, logger)

	logger.Info("server initialized, all dependencies ready",
		"database", store != nil,
		"nats", ssePublisher != nil,
		"temporal", dispatcher != nil,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server gracefully: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
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
