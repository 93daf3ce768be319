package db

import (
	"context"

	"saaskit/internal/types"
)

// UsageRepo answers "how much of limit X is team Y using right now" with
// direct count queries, one per limit slug. Direct counts were chosen over a
// cached counter table so enforcement never acts on stale numbers.
type UsageRepo struct {
	db DBTX
}

// NewUsageRepo creates a new UsageRepo backed by the given database
// connection (pool or transaction).
func NewUsageRepo(db DBTX) *UsageRepo {
	return &UsageRepo{db: db}
}

// usageQueries maps a limit slug to its direct count query. Every query
// takes the team id as $1 and returns a single integer.
var usageQueries = map[string]string{
	"projects": `SELECT COUNT(*) FROM projects
	             WHERE team_id = $1 AND deleted_at IS NULL`,
	"members": `SELECT COUNT(*) FROM team_members
	            WHERE team_id = $1 AND status = 'active'`,
	"storage_mb": `SELECT COALESCE(SUM(size_bytes) / 1048576, 0) FROM media_files
	               WHERE team_id = $1 AND deleted_at IS NULL`,
	"api_calls_daily": `SELECT COALESCE(SUM(call_count), 0) FROM api_usage
	                    WHERE team_id = $1 AND date = CURRENT_DATE`,
}

// CurrentUsage returns the team's current consumption for the given limit
// slug. Unknown slugs count as zero usage rather than failing: a plan may
// define limits for resources this deployment does not track.
func (r *UsageRepo) CurrentUsage(ctx context.Context, teamID string, limitSlug string) (int, error) {
	query, ok := usageQueries[limitSlug]
	if !ok {
		return 0, nil
	}

	var count int
	if err := r.db.QueryRow(ctx, query, teamID).Scan(&count); err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to query current usage", err)
	}
	return count, nil
}
