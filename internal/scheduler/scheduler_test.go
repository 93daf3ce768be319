package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"saaskit/internal/db"
	"saaskit/internal/types"
)

// --- Mocks ---

type mockPool struct {
	mock.Mock
}

func (m *mockPool) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	margs := m.Called(ctx, sql, args)
	if r := margs.Get(0); r != nil {
		return r.(pgx.Rows), margs.Error(1)
	}
	return nil, margs.Error(1)
}

func (m *mockPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	margs := m.Called(ctx, sql, args)
	return margs.Get(0).(pgx.Row)
}

func (m *mockPool) BeginTx(ctx context.Context) (db.Tx, error) {
	args := m.Called(ctx)
	if tx := args.Get(0); tx != nil {
		return tx.(db.Tx), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockTx struct {
	mock.Mock
}

func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	margs := m.Called(ctx, sql, args)
	if r := margs.Get(0); r != nil {
		return r.(pgx.Rows), margs.Error(1)
	}
	return nil, margs.Error(1)
}

func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	margs := m.Called(ctx, sql, args)
	return margs.Get(0).(pgx.Row)
}

func (m *mockTx) Commit(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockTx) Rollback(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func sqlContaining(fragment string) any {
	return mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, fragment)
	})
}

func newTestScheduler(pool db.TxBeginner) *Scheduler {
	return New(pool, 5*time.Second, fixedClock{now: testNow}, nil, nil)
}

// --- ScheduleAction ---

func TestScheduler_ScheduleAction_EmptyTypeRejected(t *testing.T) {
	s := newTestScheduler(new(mockPool))

	_, err := s.ScheduleAction(context.Background(), "", types.Payload{}, nil)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationActionType, appErr.Code)
}

func TestScheduler_ScheduleAction_NoEntityIDInsertsDirectly(t *testing.T) {
	pool := new(mockPool)
	pool.On("Exec", mock.Anything, sqlContaining("INSERT INTO scheduled_actions"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	s := newTestScheduler(pool)
	id, err := s.ScheduleAction(context.Background(), "report:generate", types.Payload{"scope": "all"}, nil)

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "act_"))
	pool.AssertNotCalled(t, "BeginTx", mock.Anything)
}

func TestScheduler_ScheduleAction_RecurringSkipsDedup(t *testing.T) {
	pool := new(mockPool)
	pool.On("Exec", mock.Anything, sqlContaining("INSERT INTO scheduled_actions"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	s := newTestScheduler(pool)
	// Recurring takes the direct path even though the payload has an entityId.
	_, err := s.ScheduleAction(context.Background(), "quota:recheck",
		types.Payload{types.PayloadEntityIDKey: "team_1"},
		&Options{RecurringInterval: "daily"})

	require.NoError(t, err)
	pool.AssertNotCalled(t, "BeginTx", mock.Anything)
}

func TestScheduler_ScheduleAction_DedupCoalescesIntoExisting(t *testing.T) {
	pool := new(mockPool)
	tx := new(mockTx)
	pool.On("BeginTx", mock.Anything).Return(tx, nil)

	tx.On("Exec", mock.Anything, sqlContaining("pg_advisory_xact_lock"),
		[]any{DedupLockKey("sync:entity", "ent_1")}).
		Return(pgconn.NewCommandTag("SELECT 1"), nil)
	tx.On("QueryRow", mock.Anything, sqlContaining("payload->>'entityId'"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*string) = "act_existing"
			return nil
		}})
	tx.On("Exec", mock.Anything, sqlContaining("SET payload"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)
	tx.On("Commit", mock.Anything).Return(nil)
	tx.On("Rollback", mock.Anything).Return(nil)

	s := newTestScheduler(pool)
	id, err := s.ScheduleAction(context.Background(), "sync:entity",
		types.Payload{types.PayloadEntityIDKey: "ent_1", "rev": 2}, nil)

	require.NoError(t, err)
	assert.Equal(t, "act_existing", id, "duplicate coalesces into the surviving row")
	tx.AssertNotCalled(t, "Exec", mock.Anything, sqlContaining("INSERT INTO scheduled_actions"), mock.Anything)
	tx.AssertExpectations(t)
}

func TestScheduler_ScheduleAction_DedupInsertsWhenNoDuplicate(t *testing.T) {
	pool := new(mockPool)
	tx := new(mockTx)
	pool.On("BeginTx", mock.Anything).Return(tx, nil)

	tx.On("Exec", mock.Anything, sqlContaining("pg_advisory_xact_lock"), mock.Anything).
		Return(pgconn.NewCommandTag("SELECT 1"), nil)
	tx.On("QueryRow", mock.Anything, sqlContaining("payload->>'entityId'"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})
	tx.On("Exec", mock.Anything, sqlContaining("INSERT INTO scheduled_actions"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)
	tx.On("Commit", mock.Anything).Return(nil)
	tx.On("Rollback", mock.Anything).Return(nil)

	s := newTestScheduler(pool)
	id, err := s.ScheduleAction(context.Background(), "sync:entity",
		types.Payload{types.PayloadEntityIDKey: "ent_1"}, nil)

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "act_"))
	tx.AssertExpectations(t)
}

func TestScheduler_ScheduleAction_LockFailureRollsBack(t *testing.T) {
	pool := new(mockPool)
	tx := new(mockTx)
	pool.On("BeginTx", mock.Anything).Return(tx, nil)

	tx.On("Exec", mock.Anything, sqlContaining("pg_advisory_xact_lock"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection reset"))
	tx.On("Rollback", mock.Anything).Return(nil)

	s := newTestScheduler(pool)
	_, err := s.ScheduleAction(context.Background(), "sync:entity",
		types.Payload{types.PayloadEntityIDKey: "ent_1"}, nil)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	tx.AssertCalled(t, "Rollback", mock.Anything)
	tx.AssertNotCalled(t, "Commit", mock.Anything)
}

func TestScheduler_ScheduleAction_DefaultsApplied(t *testing.T) {
	pool := new(mockPool)
	var inserted []any
	pool.On("Exec", mock.Anything, sqlContaining("INSERT INTO scheduled_actions"), mock.Anything).
		Run(func(args mock.Arguments) {
			inserted = args.Get(2).([]any)
		}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	s := newTestScheduler(pool)
	_, err := s.ScheduleAction(context.Background(), "report:generate", nil, nil)

	require.NoError(t, err)
	// Insert args: id, action_type, payload, team_id, scheduled_at,
	// recurring_interval, recurrence_type, lock_group, max_retries
	assert.Equal(t, testNow, inserted[4], "zero ScheduledAt defaults to now")
	assert.Equal(t, types.RecurrenceFixed, inserted[6])
	assert.Equal(t, DefaultMaxRetries, inserted[8])
}

// --- ScheduleRecurringAction ---

func TestScheduler_ScheduleRecurringAction_InvalidInterval(t *testing.T) {
	s := newTestScheduler(new(mockPool))

	_, err := s.ScheduleRecurringAction(context.Background(), "quota:recheck", nil, "fortnightly", nil)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationInterval, appErr.Code)
}

func TestScheduler_ScheduleRecurringAction_ForcesInterval(t *testing.T) {
	pool := new(mockPool)
	var inserted []any
	pool.On("Exec", mock.Anything, sqlContaining("INSERT INTO scheduled_actions"), mock.Anything).
		Run(func(args mock.Arguments) {
			inserted = args.Get(2).([]any)
		}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	s := newTestScheduler(pool)
	_, err := s.ScheduleRecurringAction(context.Background(), "quota:recheck", nil, "daily",
		&Options{RecurringInterval: "weekly"})

	require.NoError(t, err)
	interval := inserted[5].(*string)
	require.NotNil(t, interval)
	assert.Equal(t, "daily", *interval, "the explicit interval argument wins")
}

// --- CancelScheduledAction ---

func TestScheduler_CancelScheduledAction(t *testing.T) {
	t.Run("pending action cancelled", func(t *testing.T) {
		pool := new(mockPool)
		pool.On("Exec", mock.Anything, sqlContaining("SET status = 'failed'"),
			[]any{"act_1", CancelledMessage}).
			Return(pgconn.NewCommandTag("UPDATE 1"), nil)

		cancelled, err := newTestScheduler(pool).CancelScheduledAction(context.Background(), "act_1")

		require.NoError(t, err)
		assert.True(t, cancelled)
	})

	t.Run("repeat cancel returns false", func(t *testing.T) {
		pool := new(mockPool)
		pool.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
			Return(pgconn.NewCommandTag("UPDATE 0"), nil)

		cancelled, err := newTestScheduler(pool).CancelScheduledAction(context.Background(), "act_1")

		require.NoError(t, err)
		assert.False(t, cancelled)
	})
}

// --- DedupLockKey ---

func TestDedupLockKey_StableAndDistinct(t *testing.T) {
	assert.Equal(t,
		DedupLockKey("sync:entity", "ent_1"),
		DedupLockKey("sync:entity", "ent_1"),
	)
	assert.NotEqual(t,
		DedupLockKey("sync:entity", "ent_1"),
		DedupLockKey("sync:entity", "ent_2"),
	)
	assert.NotEqual(t,
		DedupLockKey("sync:entity", "ent_1"),
		DedupLockKey("purge:entity", "ent_1"),
	)
}
