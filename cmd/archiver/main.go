// Package main is the entry point for the saaskit archiver.
//
// The archiver is a run-to-completion maintenance job, typically invoked
// from cron or a scheduler. Each invocation drains every batch of terminal
// scheduled actions past the retention cutoff into compressed archive files,
// then exits.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"saaskit/internal/archive"
	"saaskit/internal/config"
	"saaskit/internal/db"
	"saaskit/internal/types"
)

func main() {
	if err := run(); err != nil {
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
	logger.Info("saaskit archiver starting",
		"environment", cfg.Environment,
		"archive_dir", cfg.Archive.Dir,
		"retention", cfg.Archive.Retention.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	archiver := archive.New(
		db.NewActionRepo(db.NewPool(pool)),
		cfg.Archive.Dir,
		cfg.Archive.Retention,
		cfg.Archive.BatchSize,
		types.RealClock{},
		logger,
	)

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		archived, err := archiver.RunOnce(ctx)
		if err != nil {
			return fmt.Errorf("archive pass failed after %d actions: %w", total, err)
		}
		if archived == 0 {
			break
		}
		total += archived
	}

	logger.Info("archiver finished", slog.Int("total_archived", total))
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
