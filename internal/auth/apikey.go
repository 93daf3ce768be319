// Package auth resolves API keys into actors. Keys have the form
// "sk_<key_id>_<secret>"; only a bcrypt hash of the secret is stored.
package auth

import (
	"context"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"saaskit/internal/types"
)

// bcryptCost is the bcrypt cost factor used for API key secret hashing.
// API keys are verified on every request, so the cost stays moderate.
const bcryptCost = 10

// APIKeyRecord is the stored representation of an API key.
type APIKeyRecord struct {
	KeyID      string
	SecretHash string
	TeamID     string
	Revoked    bool
}

// APIKeyStore looks up key records by key id.
type APIKeyStore interface {
	GetByKeyID(ctx context.Context, keyID string) (*APIKeyRecord, error)
}

// Service verifies API keys and resolves them to actors.
type Service struct {
	store APIKeyStore
}

// NewService creates an API key verification service.
func NewService(store APIKeyStore) *Service {
	return &Service{store: store}
}

// HashSecret hashes an API key secret for storage.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcryptCost)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to hash api key secret", err)
	}
	return string(hash), nil
}

// ResolveKey parses and verifies a raw API key, returning the actor it
// authenticates. All parse and verification failures map to the same
// error code so responses do not leak which part failed.
func (s *Service) ResolveKey(ctx context.Context, raw string) (*types.Actor, error) {
	keyID, secret, ok := splitKey(raw)
	if !ok {
		return nil, types.NewAppError(types.ErrCodeAuthKeyInvalid, "malformed api key", nil)
	}

	record, err := s.store.GetByKeyID(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, types.NewAppError(types.ErrCodeAuthKeyInvalid, "unknown api key", nil)
	}
	if record.Revoked {
		return nil, types.NewAppError(types.ErrCodeAuthKeyRevoked, "api key has been revoked", nil)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(record.SecretHash), []byte(secret)); err != nil {
		return nil, types.NewAppError(types.ErrCodeAuthKeyInvalid, "api key verification failed", nil)
	}

	return &types.Actor{
		ID:     record.KeyID,
		Type:   types.ActorTypeAPIKey,
		TeamID: record.TeamID,
	}, nil
}

// splitKey breaks "sk_<key_id>_<secret>" into its parts.
func splitKey(raw string) (keyID, secret string, ok bool) {
	if !strings.HasPrefix(raw, "sk_") {
		return "", "", false
	}
	rest := strings.TrimPrefix(raw, "sk_")
	idx := strings.IndexByte(rest, '_')
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}
