package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"saaskit/internal/types"
)

// TeamRepo provides read and write access to teams, the tenant boundary.
type TeamRepo struct {
	db DBTX
}

// NewTeamRepo creates a TeamRepo backed by the given connection.
func NewTeamRepo(db DBTX) *TeamRepo {
	return &TeamRepo{db: db}
}

// GetByID returns the team, or nil when it does not exist or is soft-deleted.
func (r *TeamRepo) GetByID(ctx context.Context, id string) (*types.Team, error) {
	var t types.Team
	err := r.db.QueryRow(ctx,
		`SELECT id, name, slug, plan_slug, stripe_customer_id, created_at, deleted_at
		 FROM teams
		 WHERE id = $1 AND deleted_at IS NULL`,
		id,
	).Scan(
		&t.ID,
		&t.Name,
		&t.Slug,
		&t.PlanSlug,
		&t.StripeCustomerID,
		&t.CreatedAt,
		&t.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get team", err)
	}
	return &t, nil
}

// UpdatePlan sets the team's plan slug. Called after billing events settle.
func (r *TeamRepo) UpdatePlan(ctx context.Context, id string, planSlug string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE teams SET plan_slug = $1, updated_at = NOW()
		 WHERE id = $2 AND deleted_at IS NULL`,
		planSlug, id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update team plan", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTeam, "team not found", nil)
	}
	return nil
}
