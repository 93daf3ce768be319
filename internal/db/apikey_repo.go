package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"saaskit/internal/auth"
	"saaskit/internal/types"
)

// APIKeyRepo loads API key records for authentication.
type APIKeyRepo struct {
	db DBTX
}

// Compile-time assertion that APIKeyRepo satisfies the auth store contract.
var _ auth.APIKeyStore = (*APIKeyRepo)(nil)

// NewAPIKeyRepo creates an APIKeyRepo backed by the given connection.
func NewAPIKeyRepo(db DBTX) *APIKeyRepo {
	return &APIKeyRepo{db: db}
}

// GetByKeyID returns the key record, or nil when the key id is unknown.
// Revoked keys are returned with Revoked set so the caller can distinguish
// revocation from absence.
func (r *APIKeyRepo) GetByKeyID(ctx context.Context, keyID string) (*auth.APIKeyRecord, error) {
	var record auth.APIKeyRecord
	err := r.db.QueryRow(ctx,
		`SELECT key_id, secret_hash, team_id, revoked_at IS NOT NULL
		 FROM api_keys
		 WHERE key_id = $1`,
		keyID,
	).Scan(
		&record.KeyID,
		&record.SecretHash,
		&record.TeamID,
		&record.Revoked,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get api key", err)
	}
	return &record, nil
}
