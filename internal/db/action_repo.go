package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"saaskit/internal/types"
)

// actionColumns is the canonical column list for scheduled_actions scans.
const actionColumns = `id, action_type, status, payload, team_id, scheduled_at,
	recurring_interval, recurrence_type, lock_group, max_retries, retry_count,
	error_message, created_at, updated_at`

// ActionRepo provides data access for the scheduled_actions table.
//
// Key invariants:
//   - FindPendingDuplicate only matches rows inside the caller-supplied dedup
//     window; the serialization of check-then-act belongs to the scheduler's
//     advisory lock, not this repository.
//   - Cancel and the worker transition methods guard on the current status in
//     the WHERE clause so state changes are race-safe at the row level.
type ActionRepo struct {
	db DBTX
}

// NewActionRepo creates a new ActionRepo backed by the given database
// connection (pool or transaction).
func NewActionRepo(db DBTX) *ActionRepo {
	return &ActionRepo{db: db}
}

// Insert creates a new scheduled_actions row with status 'pending'.
func (r *ActionRepo) Insert(ctx context.Context, a *types.ScheduledAction) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO scheduled_actions
		 (id, action_type, status, payload, team_id, scheduled_at,
		  recurring_interval, recurrence_type, lock_group, max_retries,
		  retry_count, created_at, updated_at)
		 VALUES ($1, $2, 'pending', $3, $4, $5, $6, $7, $8, $9, 0, NOW(), NOW())`,
		a.ID,
		a.ActionType,
		a.Payload,
		a.TeamID,
		a.ScheduledAt,
		a.RecurringInterval,
		a.RecurrenceType,
		a.LockGroup,
		a.MaxRetries,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert scheduled action", err)
	}
	return nil
}

// FindPendingDuplicate returns the id of an existing pending one-shot action
// with the same (action_type, payload entityId) created inside the dedup
// window, or "" if none exists. Recurring rows are excluded: they are never
// deduplication targets.
func (r *ActionRepo) FindPendingDuplicate(ctx context.Context, actionType, entityID string, since time.Time) (string, error) {
	var id string
	err := r.db.QueryRow(ctx,
		`SELECT id FROM scheduled_actions
		 WHERE action_type = $1
		   AND status = 'pending'
		   AND recurring_interval IS NULL
		   AND payload->>'entityId' = $2
		   AND created_at >= $3
		 ORDER BY created_at DESC
		 LIMIT 1`,
		actionType,
		entityID,
		since,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to query pending duplicate", err)
	}
	return id, nil
}

// UpdatePayload replaces the payload of an existing pending row, coalescing a
// duplicate trigger into the surviving action.
func (r *ActionRepo) UpdatePayload(ctx context.Context, id string, payload types.Payload) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_actions
		 SET payload = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		id,
		payload,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update action payload", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictActionState, "action is no longer pending", nil)
	}
	return nil
}

// Cancel soft-cancels a pending action: it transitions the row to 'failed'
// with the given cancellation message, but only while status is 'pending'.
// Returns false (without error) when the row does not exist or has already
// left the pending state, which makes repeated cancels idempotent.
func (r *ActionRepo) Cancel(ctx context.Context, id string, message string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_actions
		 SET status = 'failed', error_message = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		id,
		message,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to cancel scheduled action", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetByID fetches a single action row.
func (r *ActionRepo) GetByID(ctx context.Context, id string) (*types.ScheduledAction, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+actionColumns+` FROM scheduled_actions WHERE id = $1`,
		id,
	)
	a, err := scanAction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundAction, "scheduled action not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get scheduled action", err)
	}
	return a, nil
}

// ListByTeam returns the most recent actions owned by a team.
func (r *ActionRepo) ListByTeam(ctx context.Context, teamID string, limit int) ([]types.ScheduledAction, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+actionColumns+` FROM scheduled_actions
		 WHERE team_id = $1
		 ORDER BY scheduled_at DESC
		 LIMIT $2`,
		teamID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list scheduled actions", err)
	}
	defer rows.Close()

	var actions []types.ScheduledAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan scheduled action", err)
		}
		actions = append(actions, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating scheduled actions", err)
	}
	return actions, nil
}

// ClaimDue atomically claims up to limit due pending actions and transitions
// them to 'running'. FOR UPDATE SKIP LOCKED lets concurrent workers claim
// disjoint batches without blocking each other.
//
// An action with a lock_group is skipped while another action of the same
// group is running, serializing related work without session-scoped locks.
func (r *ActionRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]types.ScheduledAction, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE scheduled_actions
		 SET status = 'running', updated_at = NOW()
		 WHERE id IN (
		   SELECT s.id FROM scheduled_actions s
		   WHERE s.status = 'pending'
		     AND s.scheduled_at <= $1
		     AND (s.lock_group IS NULL OR NOT EXISTS (
		       SELECT 1 FROM scheduled_actions g
		       WHERE g.lock_group = s.lock_group AND g.status = 'running'
		     ))
		   ORDER BY s.scheduled_at ASC
		   LIMIT $2
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+actionColumns,
		now,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to claim due actions", err)
	}
	defer rows.Close()

	var actions []types.ScheduledAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan claimed action", err)
		}
		actions = append(actions, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating claimed actions", err)
	}
	return actions, nil
}

// MarkCompleted transitions a running action to 'completed'.
func (r *ActionRepo) MarkCompleted(ctx context.Context, id string) error {
	return r.transition(ctx, id, types.ActionCompleted, nil)
}

// MarkFailed transitions a running action to 'failed' with an error message.
func (r *ActionRepo) MarkFailed(ctx context.Context, id string, message string) error {
	return r.transition(ctx, id, types.ActionFailed, &message)
}

func (r *ActionRepo) transition(ctx context.Context, id string, status types.ActionStatus, message *string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_actions
		 SET status = $2, error_message = $3, updated_at = NOW()
		 WHERE id = $1 AND status = 'running'`,
		id,
		status,
		message,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to transition scheduled action", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictActionState, "action is not running", nil)
	}
	return nil
}

// Reschedule returns a running action to 'pending' with a new run time.
// Used both for retry backoff and for recurring rescheduling; the retry
// counter is set explicitly by the caller (0 for a fresh recurrence).
func (r *ActionRepo) Reschedule(ctx context.Context, id string, runAt time.Time, retryCount int, message *string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_actions
		 SET status = 'pending', scheduled_at = $2, retry_count = $3,
		     error_message = $4, updated_at = NOW()
		 WHERE id = $1 AND status = 'running'`,
		id,
		runAt,
		retryCount,
		message,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to reschedule action", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictActionState, "action is not running", nil)
	}
	return nil
}

// ListTerminalBefore returns completed/failed actions last touched before the
// cutoff, for the archiver.
func (r *ActionRepo) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.ScheduledAction, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+actionColumns+` FROM scheduled_actions
		 WHERE status IN ('completed', 'failed')
		   AND updated_at < $1
		 ORDER BY updated_at ASC
		 LIMIT $2`,
		cutoff,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list terminal actions", err)
	}
	defer rows.Close()

	var actions []types.ScheduledAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan terminal action", err)
		}
		actions = append(actions, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating terminal actions", err)
	}
	return actions, nil
}

// DeleteByIDs removes archived rows. Returns the number of rows deleted.
func (r *ActionRepo) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM scheduled_actions WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete archived actions", err)
	}
	return tag.RowsAffected(), nil
}

// scanAction scans one scheduled_actions row in actionColumns order.
func scanAction(row pgx.Row) (*types.ScheduledAction, error) {
	var a types.ScheduledAction
	err := row.Scan(
		&a.ID,
		&a.ActionType,
		&a.Status,
		&a.Payload,
		&a.TeamID,
		&a.ScheduledAt,
		&a.RecurringInterval,
		&a.RecurrenceType,
		&a.LockGroup,
		&a.MaxRetries,
		&a.RetryCount,
		&a.ErrorMessage,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
