// Package worker executes scheduled actions: it claims due rows, dispatches
// them to type-specific handlers, applies retry bookkeeping, and reschedules
// recurring actions.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"saaskit/internal/scheduler"
	"saaskit/internal/types"
)

// Handler executes one action type. A returned error marks the attempt as
// failed; RetryableError errors are rescheduled until the retry budget is
// exhausted, anything else fails the action immediately.
type Handler interface {
	Execute(ctx context.Context, action *types.ScheduledAction) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, action *types.ScheduledAction) error

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, action *types.ScheduledAction) error {
	return f(ctx, action)
}

// RetryableError wraps an error that justifies another attempt.
type RetryableError struct {
	Err error
}

// Error implements the error interface.
func (e *RetryableError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error.
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable marks an error as transient.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// ActionStore is the slice of ActionRepo the worker needs.
type ActionStore interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]types.ScheduledAction, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, message string) error
	Reschedule(ctx context.Context, id string, runAt time.Time, retryCount int, message *string) error
}

// Worker claims and executes due scheduled actions.
type Worker struct {
	store     ActionStore
	handlers  map[string]Handler
	batchSize int
	backoff   time.Duration
	clock     types.Clock
	logger    *slog.Logger
}

// New creates a Worker. backoff is the base delay between retry attempts;
// attempt n waits n*backoff.
func New(store ActionStore, batchSize int, backoff time.Duration, clock types.Clock, logger *slog.Logger) *Worker {
	if batchSize <= 0 {
		batchSize = 25
	}
	if backoff <= 0 {
		backoff = time.Minute
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:     store,
		handlers:  make(map[string]Handler),
		batchSize: batchSize,
		backoff:   backoff,
		clock:     clock,
		logger:    logger,
	}
}

// RegisterHandler binds a handler to an action type tag (e.g. "webhook:send").
func (w *Worker) RegisterHandler(actionType string, h Handler) {
	w.handlers[actionType] = h
}

// Run polls for due actions until the context is cancelled.
func (w *Worker) Run(ctx context.Context, pollInterval time.Duration) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Error("worker pass failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce claims one batch of due actions and executes them sequentially.
// Returns the number of actions processed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	actions, err := w.store.ClaimDue(ctx, w.clock.Now(), w.batchSize)
	if err != nil {
		return 0, err
	}

	for i := range actions {
		w.process(ctx, &actions[i])
	}
	return len(actions), nil
}

// process runs one claimed action through its handler and settles the row.
func (w *Worker) process(ctx context.Context, action *types.ScheduledAction) {
	log := w.logger.With(
		slog.String("action_id", action.ID),
		slog.String("action_type", action.ActionType),
	)

	handler, ok := w.handlers[action.ActionType]
	if !ok {
		log.Error("no handler registered for action type")
		w.settleFailure(ctx, action, fmt.Errorf("no handler registered for %q", action.ActionType), false, log)
		return
	}

	execErr := w.executeSafely(ctx, handler, action)
	if execErr == nil {
		w.settleSuccess(ctx, action, log)
		return
	}

	_, retryable := asRetryable(execErr)
	w.settleFailure(ctx, action, execErr, retryable, log)
}

// executeSafely converts a handler panic into an error so one broken handler
// cannot take down the worker loop.
func (w *Worker) executeSafely(ctx context.Context, handler Handler, action *types.ScheduledAction) (err error) {
	defer func() {
		if rvr := recover(); rvr != nil {
			err = fmt.Errorf("handler panicked: %v", rvr)
		}
	}()
	return handler.Execute(ctx, action)
}

// settleSuccess completes a one-shot action or reschedules a recurring one.
func (w *Worker) settleSuccess(ctx context.Context, action *types.ScheduledAction, log *slog.Logger) {
	if !action.IsRecurring() {
		if err := w.store.MarkCompleted(ctx, action.ID); err != nil {
			log.Error("failed to mark action completed", slog.String("error", err.Error()))
		}
		return
	}

	next, err := w.nextRecurrence(action)
	if err != nil {
		log.Error("failed to resolve recurrence", slog.String("error", err.Error()))
		if ferr := w.store.MarkFailed(ctx, action.ID, err.Error()); ferr != nil {
			log.Error("failed to mark action failed", slog.String("error", ferr.Error()))
		}
		return
	}

	if err := w.store.Reschedule(ctx, action.ID, next, 0, nil); err != nil {
		log.Error("failed to reschedule recurring action", slog.String("error", err.Error()))
		return
	}
	log.Info("recurring action rescheduled", slog.Time("next_run", next))
}

// settleFailure reschedules a retryable failure until the retry budget is
// exhausted, then fails the row.
func (w *Worker) settleFailure(ctx context.Context, action *types.ScheduledAction, execErr error, retryable bool, log *slog.Logger) {
	if retryable && action.RetryCount < action.MaxRetries {
		attempt := action.RetryCount + 1
		runAt := w.clock.Now().Add(time.Duration(attempt) * w.backoff)
		msg := execErr.Error()
		if err := w.store.Reschedule(ctx, action.ID, runAt, attempt, &msg); err != nil {
			log.Error("failed to reschedule retry", slog.String("error", err.Error()))
			return
		}
		log.Warn("action attempt failed, retry scheduled",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", action.MaxRetries),
			slog.Time("run_at", runAt),
			slog.String("error", msg),
		)
		return
	}

	if err := w.store.MarkFailed(ctx, action.ID, execErr.Error()); err != nil {
		log.Error("failed to mark action failed", slog.String("error", err.Error()))
		return
	}
	log.Error("action failed", slog.String("error", execErr.Error()))
}

// nextRecurrence computes the next run time for a recurring action.
// Fixed recurrence anchors on the previous scheduled time to keep a stable
// cadence; rolling recurrence anchors on completion. A fixed anchor that has
// fallen behind (worker outage) is advanced past now so the action does not
// fire in a rapid catch-up burst.
func (w *Worker) nextRecurrence(action *types.ScheduledAction) (time.Time, error) {
	now := w.clock.Now()
	anchor := now
	if action.RecurrenceType == types.RecurrenceFixed {
		anchor = action.ScheduledAt
	}

	next, err := scheduler.NextRun(*action.RecurringInterval, anchor)
	if err != nil {
		return time.Time{}, err
	}
	for !next.After(now) {
		next, err = scheduler.NextRun(*action.RecurringInterval, next)
		if err != nil {
			return time.Time{}, err
		}
	}
	return next, nil
}

// asRetryable unwraps a RetryableError if present.
func asRetryable(err error) (*RetryableError, bool) {
	var re *RetryableError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
