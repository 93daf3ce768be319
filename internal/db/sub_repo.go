package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"saaskit/internal/types"
)

// SubscriptionRepo manages local billing state synchronization for teams.
//
// Key invariant: UpdateFromEvent uses optimistic locking via
// last_event_at to handle out-of-order Stripe webhooks. Old or duplicate
// events are silently ignored (idempotent no-op).
type SubscriptionRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepo creates a new SubscriptionRepo backed by the given
// database connection (pool or transaction).
func NewSubscriptionRepo(db DBTX, logger *slog.Logger) *SubscriptionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepo{db: db, logger: logger}
}

// GetActive returns the team's active (or trialing) subscription, or nil when
// the team has no live subscription. Absence is not an error: free-tier teams
// simply have no subscription row.
func (r *SubscriptionRepo) GetActive(ctx context.Context, teamID string) (*types.Subscription, error) {
	var s types.Subscription
	err := r.db.QueryRow(ctx,
		`SELECT id, team_id, plan_slug, status, stripe_subscription_id,
		        current_period_end, cancel_at_period_end, created_at, updated_at
		 FROM subscriptions
		 WHERE team_id = $1 AND status IN ('active', 'trialing')
		 ORDER BY created_at DESC
		 LIMIT 1`,
		teamID,
	).Scan(
		&s.ID,
		&s.TeamID,
		&s.PlanSlug,
		&s.Status,
		&s.StripeSubscriptionID,
		&s.CurrentPeriodEnd,
		&s.CancelAtPeriodEnd,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get active subscription", err)
	}
	return &s, nil
}

// UpdateFromEvent applies a billing webhook event to the local subscription
// row. The WHERE clause enforces optimistic locking: the update only lands
// when this event is newer than the last one processed.
func (r *SubscriptionRepo) UpdateFromEvent(
	ctx context.Context,
	stripeSubscriptionID string,
	planSlug string,
	status types.SubscriptionStatus,
	periodEnd time.Time,
	eventTimestamp time.Time,
) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET plan_slug = $1,
		     status = $2,
		     current_period_end = $3,
		     last_event_at = $4,
		     updated_at = NOW()
		 WHERE stripe_subscription_id = $5
		   AND (last_event_at IS NULL OR last_event_at < $4)`,
		planSlug,
		status,
		periodEnd,
		eventTimestamp,
		stripeSubscriptionID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription from event", err)
	}

	if tag.RowsAffected() == 0 {
		// Event is older than or equal to what we already have.
		r.logger.Info("stale subscription event ignored (optimistic lock)",
			slog.String("stripe_subscription_id", stripeSubscriptionID),
			slog.Time("event_timestamp", eventTimestamp),
		)
	}
	return nil
}
