// Package archive moves terminal scheduled actions out of the hot table
// into compressed JSON-lines files, keeping scheduled_actions small enough
// for the worker's claim query to stay on its index.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"saaskit/internal/types"
)

// ActionSource is the slice of ActionRepo the archiver needs.
type ActionSource interface {
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.ScheduledAction, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// Archiver writes completed/failed actions older than the retention period
// to gzip-compressed JSON-lines files and deletes the archived rows.
type Archiver struct {
	source    ActionSource
	dir       string
	retention time.Duration
	batchSize int
	clock     types.Clock
	logger    *slog.Logger
}

// New creates an Archiver writing to dir.
func New(source ActionSource, dir string, retention time.Duration, batchSize int, clock types.Clock, logger *slog.Logger) *Archiver {
	if batchSize <= 0 {
		batchSize = 500
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		source:    source,
		dir:       dir,
		retention: retention,
		batchSize: batchSize,
		clock:     clock,
		logger:    logger,
	}
}

// RunOnce archives one batch. Returns the number of actions archived.
// Rows are deleted only after the archive file is flushed and synced, so a
// failure between the two steps duplicates data instead of losing it.
func (a *Archiver) RunOnce(ctx context.Context) (int, error) {
	cutoff := a.clock.Now().Add(-a.retention)
	actions, err := a.source.ListTerminalBefore(ctx, cutoff, a.batchSize)
	if err != nil {
		return 0, err
	}
	if len(actions) == 0 {
		return 0, nil
	}

	path, err := a.writeArchive(actions)
	if err != nil {
		return 0, err
	}

	ids := make([]string, len(actions))
	for i := range actions {
		ids[i] = actions[i].ID
	}
	deleted, err := a.source.DeleteByIDs(ctx, ids)
	if err != nil {
		return 0, err
	}

	a.logger.InfoContext(ctx, "archived scheduled actions",
		slog.String("file", path),
		slog.Int("archived", len(actions)),
		slog.Int64("deleted", deleted),
	)
	return len(actions), nil
}

// writeArchive writes one gzip JSON-lines file named by the archive moment.
func (a *Archiver) writeArchive(actions []types.ScheduledAction) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("archive: failed to create directory: %w", err)
	}

	name := fmt.Sprintf("scheduled_actions_%s.jsonl.gz", a.clock.Now().Format("20060102T150405"))
	path := filepath.Join(a.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("archive: failed to create file: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	enc := json.NewEncoder(gz)
	for i := range actions {
		if err := enc.Encode(&actions[i]); err != nil {
			gz.Close()
			return "", fmt.Errorf("archive: failed to encode action: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("archive: failed to finalize gzip stream: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("archive: failed to sync file: %w", err)
	}
	return path, nil
}
