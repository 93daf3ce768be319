// Package main is the entry point for the saaskit API server.
//
// It loads configuration, builds the database pool and domain services,
// wires the handler groups onto the core chassis, and serves HTTP until a
// shutdown signal arrives.
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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"saaskit/internal/api/handlers"
	"saaskit/internal/auth"
	"saaskit/internal/billing"
	"saaskit/internal/config"
	"saaskit/internal/core"
	"saaskit/internal/db"
	"saaskit/internal/external"
	"saaskit/internal/queue"
	"saaskit/internal/scheduler"
	"saaskit/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main can cleanly exit on error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("saaskit API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := newDBPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()
	dbPool := db.NewPool(pool)

	// Optional SQS notifier: workers poll regardless, the queue only cuts
	// pickup latency for actions due immediately.
	var notifier scheduler.Notifier
	if cfg.Queue.ActionsQueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Queue.Region))
		if err != nil {
			return fmt.Errorf("loading AWS configuration: %w", err)
		}
		notifier = queue.NewActionTrigger(sqs.NewFromConfig(awsCfg), cfg.Queue.ActionsQueueURL, types.RealClock{}, logger)
	}

	sched := scheduler.New(dbPool, cfg.Scheduler.DedupWindow, types.RealClock{}, logger, notifier)

	planRegistry := billing.NewStaticRegistry()
	subRepo := db.NewSubscriptionRepo(dbPool, logger)
	usageRepo := db.NewUsageRepo(dbPool)
	subService := billing.NewSubscriptionService(subRepo, usageRepo, planRegistry)
	enforcer := billing.NewEnforcer(subService, usageRepo, planRegistry)

	teamRepo := db.NewTeamRepo(dbPool)
	gateway := external.NewStripeClient(cfg.Billing.StripeSecretKey, logger)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Authenticator = auth.NewService(db.NewAPIKeyRepo(dbPool))
	srv.HealthProbes = append(srv.HealthProbes, db.NewProbe(dbPool))

	actionHandler := handlers.NewActionHandler(sched, db.NewActionRepo(dbPool), srv.Validator, logger)
	billingHandler := handlers.NewBillingHandler(enforcer, teamRepo, gateway, cfg.Server.DashboardURL, srv.Validator, logger)
	webhookHandler := handlers.NewStripeWebhookHandler(subRepo, teamRepo, gateway,
		planRegistry, cfg.Billing.StripeWebhookSecret, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		actionHandler.RegisterRoutes,
		billingHandler.RegisterRoutes,
	)
	srv.PublicRouteRegistrars = append(srv.PublicRouteRegistrars,
		webhookHandler.RegisterRoutes,
	)
	srv.MountRoutes()

	return serveHTTP(ctx, srv, cfg, logger)
}

// newDBPool builds a pgx pool with the configured tuning parameters.
func newDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// serveHTTP runs the HTTP server until ctx is cancelled, then shuts down
// gracefully with a 10-second deadline.
func serveHTTP(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured JSON logger for the given level.
func newLogger(level string) *slog.Logger {
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
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
