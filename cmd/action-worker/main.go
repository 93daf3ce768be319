// Package main is the entry point for the saaskit action worker.
//
// The worker claims due scheduled actions from the database on a poll
// interval, executes them through registered handlers, and reschedules
// recurring actions. When an SQS due-action queue is configured, a listener
// triggers an immediate pass on notification instead of waiting for the next
// tick. Hook execution statistics are periodically exported to CloudWatch
// when metrics are enabled.
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
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"saaskit/internal/billing"
	"saaskit/internal/config"
	"saaskit/internal/db"
	"saaskit/internal/hooks"
	"saaskit/internal/queue"
	"saaskit/internal/registry"
	"saaskit/internal/scheduler"
	"saaskit/internal/types"
	"saaskit/internal/worker"
)

// trackedLimitSlugs are the plan limits the recurring quota recheck covers.
var trackedLimitSlugs = []string{"projects", "members", "storage_mb", "api_calls_daily"}

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("saaskit action worker starting",
		"environment", cfg.Environment,
		"batch_size", cfg.Worker.BatchSize,
		"poll_interval", cfg.Worker.PollInterval.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()
	dbPool := db.NewPool(pool)

	clock := types.RealClock{}

	sched := scheduler.New(dbPool, cfg.Scheduler.DedupWindow, clock, logger, nil)

	// Hook pipeline: entity configurations install their hook chains at
	// startup; the quota recheck handler fires onPlanLimitReached. When a
	// plan-limit webhook URL is configured, a breach schedules a one-shot
	// "webhook:send" keyed by the team id, so repeated breaches inside the
	// dedup window coalesce into a single delivery.
	manager := hooks.NewManager(clock, logger)
	entities := registry.NewEntityRegistry()
	if cfg.Webhook.PlanLimitURL != "" {
		teamEntity := &registry.EntityConfig{
			Name:   "team",
			Plural: "teams",
			Hooks: map[hooks.HookType][]registry.HookDeclaration{
				hooks.HookOnPlanLimitReached: {{
					Name:     "notify-plan-limit",
					Priority: hooks.PriorityHigh,
					Fn: func(ctx context.Context, hctx *hooks.HookContext) hooks.HookResult {
						data, _ := hctx.Data.(map[string]any)
						teamID, _ := data["team_id"].(string)
						payload := types.Payload{
							types.PayloadEntityIDKey: teamID,
							"url":                    cfg.Webhook.PlanLimitURL,
							"body":                   data,
						}
						if _, err := sched.ScheduleAction(ctx, "webhook:send", payload, nil); err != nil {
							logger.Error("failed to schedule plan-limit notification",
								slog.String("team_id", teamID),
								slog.String("error", err.Error()),
							)
						}
						return hooks.HookResult{Continue: true}
					},
				}},
			},
		}
		if err := entities.Register(teamEntity); err != nil {
			return fmt.Errorf("registering team entity: %w", err)
		}
	}
	entities.InstallAll(manager)

	planRegistry := billing.NewStaticRegistry()
	subRepo := db.NewSubscriptionRepo(dbPool, logger)
	usageRepo := db.NewUsageRepo(dbPool)
	subService := billing.NewSubscriptionService(subRepo, usageRepo, planRegistry)
	enforcer := billing.NewEnforcer(subService, usageRepo, planRegistry)

	w := worker.New(db.NewActionRepo(dbPool), cfg.Worker.BatchSize, cfg.Worker.RetryBackoff, clock, logger)
	webhookClient := &http.Client{Timeout: cfg.Webhook.DefaultTimeout}
	w.RegisterHandler("webhook:send", worker.NewWebhookHandler(
		webhookClient, cfg.Webhook.SigningSecret, cfg.Webhook.UserAgent, clock, logger,
	))
	w.RegisterHandler("quota:recheck", worker.NewQuotaHandler(enforcer, manager, trackedLimitSlugs, logger))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.Run(gctx, cfg.Worker.PollInterval)
	})

	if cfg.Queue.ActionsQueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Queue.Region))
		if err != nil {
			return fmt.Errorf("loading AWS configuration: %w", err)
		}
		listener := queue.NewDueListener(sqs.NewFromConfig(awsCfg), cfg.Queue.ActionsQueueURL, logger)
		g.Go(func() error {
			return listener.Run(gctx, func(ctx context.Context) error {
				_, err := w.RunOnce(ctx)
				return err
			})
		})
	}

	if cfg.Metrics.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Queue.Region))
		if err != nil {
			return fmt.Errorf("loading AWS configuration: %w", err)
		}
		publisher := hooks.NewStatsPublisher(cloudwatch.NewFromConfig(awsCfg), manager, logger)
		g.Go(func() error {
			ticker := time.NewTicker(cfg.Metrics.PublishInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-ticker.C:
					publisher.Publish(gctx)
				}
			}
		})
	}

	err = g.Wait()
	logger.Info("action worker stopped")
	return err
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
