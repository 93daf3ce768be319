// Package scheduler creates, deduplicates, and cancels scheduled actions.
//
// A scheduled action is a row in scheduled_actions representing deferred or
// recurring work. One-shot actions that carry an entityId in their payload
// are deduplicated: concurrent attempts to schedule the same logical unit of
// work are serialized by a transaction-scoped Postgres advisory lock and
// coalesced into a single pending row.
package scheduler

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"saaskit/internal/db"
	"saaskit/internal/types"
)

// DefaultDedupWindow bounds how far back the scheduler looks for an existing
// pending row to coalesce into.
const DefaultDedupWindow = 5 * time.Second

// DefaultMaxRetries is applied when options do not specify a retry budget.
const DefaultMaxRetries = 3

// CancelledMessage is the fixed error message written to cancelled actions.
const CancelledMessage = "cancelled by user"

// Notifier is told about actions that are due immediately, so a worker fleet
// can pick them up without waiting for the next poll. Implemented by
// queue.ActionTrigger; nil disables notification.
type Notifier interface {
	NotifyDue(ctx context.Context, actionIDs []string) error
}

// Options carries the optional parameters of ScheduleAction.
type Options struct {
	ScheduledAt       time.Time
	TeamID            string
	RecurringInterval string
	RecurrenceType    types.RecurrenceType
	LockGroup         string
	MaxRetries        int
}

// Scheduler issues scheduled_actions writes. The deduplication path runs
// inside a single transaction so a mid-failure leaves no partial row.
type Scheduler struct {
	pool     db.TxBeginner
	window   time.Duration
	clock    types.Clock
	logger   *slog.Logger
	notifier Notifier
}

// New creates a Scheduler. A zero dedupWindow falls back to
// DefaultDedupWindow; notifier may be nil.
func New(pool db.TxBeginner, dedupWindow time.Duration, clock types.Clock, logger *slog.Logger, notifier Notifier) *Scheduler {
	if dedupWindow <= 0 {
		dedupWindow = DefaultDedupWindow
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		pool:     pool,
		window:   dedupWindow,
		clock:    clock,
		logger:   logger,
		notifier: notifier,
	}
}

// ScheduleAction schedules a one-shot or recurring action and returns its id.
//
// Recurring actions and actions whose payload has no entityId are inserted
// directly. Otherwise the deduplication path runs:
//  1. open a transaction
//  2. take pg_advisory_xact_lock on a stable hash of (actionType, entityId)
//  3. look for an existing pending row inside the dedup window
//  4. found: update its payload in place and return the existing id
//  5. not found: insert a new row
//
// The advisory lock serializes concurrent callers racing on the same logical
// unit of work, so at most one pending row survives. Any failure rolls the
// transaction back and propagates.
func (s *Scheduler) ScheduleAction(ctx context.Context, actionType string, payload types.Payload, opts *Options) (string, error) {
	if actionType == "" {
		return "", types.NewAppError(types.ErrCodeValidationActionType, "action type must not be empty", nil)
	}
	if opts == nil {
		opts = &Options{}
	}

	action := s.buildAction(actionType, payload, opts)

	entityID, hasEntity := payload.EntityID()
	if action.IsRecurring() || !hasEntity {
		if err := db.NewActionRepo(s.pool).Insert(ctx, action); err != nil {
			return "", err
		}
		s.notifyIfDue(ctx, action)
		return action.ID, nil
	}

	id, err := s.scheduleDeduplicated(ctx, action, entityID)
	if err != nil {
		return "", err
	}
	s.notifyIfDue(ctx, action)
	return id, nil
}

// ScheduleRecurringAction schedules a recurring action. It forces the
// interval and otherwise behaves like ScheduleAction; recurring actions
// always take the direct-insert path and are never deduplicated.
func (s *Scheduler) ScheduleRecurringAction(ctx context.Context, actionType string, payload types.Payload, interval string, opts *Options) (string, error) {
	if interval == "" {
		return "", types.NewAppError(types.ErrCodeValidationInterval, "recurring interval must not be empty", nil)
	}
	if _, err := NextRun(interval, s.clock.Now()); err != nil {
		return "", err
	}
	forced := Options{}
	if opts != nil {
		forced = *opts
	}
	forced.RecurringInterval = interval
	return s.ScheduleAction(ctx, actionType, payload, &forced)
}

// CancelScheduledAction cancels a pending action. Returns true when the row
// was transitioned, false when it does not exist or is no longer pending;
// repeated cancels return false.
func (s *Scheduler) CancelScheduledAction(ctx context.Context, id string) (bool, error) {
	cancelled, err := db.NewActionRepo(s.pool).Cancel(ctx, id, CancelledMessage)
	if err != nil {
		return false, err
	}
	if cancelled {
		s.logger.Info("scheduled action cancelled", slog.String("action_id", id))
	}
	return cancelled, nil
}

// scheduleDeduplicated runs the advisory-lock upsert inside one transaction.
func (s *Scheduler) scheduleDeduplicated(ctx context.Context, action *types.ScheduledAction, entityID string) (string, error) {
	tx, err := s.pool.BeginTx(ctx)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to begin dedup transaction", err)
	}
	// Rollback is a no-op after a successful commit.
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, DedupLockKey(action.ActionType, entityID)); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to acquire dedup advisory lock", err)
	}

	repo := db.NewActionRepo(tx)
	since := s.clock.Now().Add(-s.window)

	existingID, err := repo.FindPendingDuplicate(ctx, action.ActionType, entityID, since)
	if err != nil {
		return "", err
	}

	if existingID != "" {
		if err := repo.UpdatePayload(ctx, existingID, action.Payload); err != nil {
			return "", err
		}
		if err := tx.Commit(ctx); err != nil {
			return "", types.NewAppError(types.ErrCodeInternalDB, "failed to commit dedup transaction", err)
		}
		s.logger.Info("coalesced duplicate scheduled action",
			slog.String("action_type", action.ActionType),
			slog.String("entity_id", entityID),
			slog.String("action_id", existingID),
		)
		return existingID, nil
	}

	if err := repo.Insert(ctx, action); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to commit dedup transaction", err)
	}
	return action.ID, nil
}

func (s *Scheduler) buildAction(actionType string, payload types.Payload, opts *Options) *types.ScheduledAction {
	scheduledAt := opts.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = s.clock.Now()
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	recurrenceType := opts.RecurrenceType
	if recurrenceType == "" {
		recurrenceType = types.RecurrenceFixed
	}

	action := &types.ScheduledAction{
		ID:             NewActionID(),
		ActionType:     actionType,
		Status:         types.ActionPending,
		Payload:        payload,
		ScheduledAt:    scheduledAt,
		RecurrenceType: recurrenceType,
		MaxRetries:     maxRetries,
	}
	if opts.TeamID != "" {
		teamID := opts.TeamID
		action.TeamID = &teamID
	}
	if opts.RecurringInterval != "" {
		interval := opts.RecurringInterval
		action.RecurringInterval = &interval
	}
	if opts.LockGroup != "" {
		group := opts.LockGroup
		action.LockGroup = &group
	}
	return action
}

// notifyIfDue pings the notifier for actions scheduled at or before now.
// Notification failures are logged, never propagated: the row is already
// committed and the poll loop will pick it up regardless.
func (s *Scheduler) notifyIfDue(ctx context.Context, action *types.ScheduledAction) {
	if s.notifier == nil || action.ScheduledAt.After(s.clock.Now()) {
		return
	}
	if err := s.notifier.NotifyDue(ctx, []string{action.ID}); err != nil {
		s.logger.Warn("failed to notify worker of due action",
			slog.String("action_id", action.ID),
			slog.String("error", err.Error()),
		)
	}
}

// DedupLockKey derives the advisory lock key from the dedup identity.
// FNV-1a gives a stable 64-bit hash; the result is reinterpreted as int64
// because pg_advisory_xact_lock takes a bigint.
func DedupLockKey(actionType, entityID string) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%s", actionType, entityID)
	return int64(h.Sum64())
}

// NewActionID generates a scheduled action identifier.
func NewActionID() string {
	return "act_" + uuid.New().String()
}
