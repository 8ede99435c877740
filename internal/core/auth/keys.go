package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/solatis/segmentkeeper/internal/types"
)

// IssuedKey is a newly provisioned API key. Key is shown once; only its
// HMAC is stored.
type IssuedKey struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`
	Key      string `json:"key"`
}

// CreateAPIKey provisions a key for tenantID signed with the secret secretID.
func CreateAPIKey(ctx context.Context, q Queries, secrets map[string][]byte, secretID, tenantID, name string, now time.Time) (IssuedKey, error) {
	if tenantID == "" {
		return IssuedKey{}, types.ErrTenantRequired
	}
	secret, ok := secrets[secretID]
	if !ok {
		return IssuedKey{}, fmt.Errorf("secret %q: %w", secretID, ErrUnknownKey)
	}

	key, err := GenerateAPIKey(secretID)
	if err != nil {
		return IssuedKey{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return IssuedKey{}, fmt.Errorf("generate api key id: %w", err)
	}

	_, err = q.Exec(ctx, "insert-api-key", id.String(), tenantID, name, secretID, ComputeHMAC(secret, key), now.UnixMilli())
	if err != nil {
		return IssuedKey{}, &types.StoreError{Op: "insert api key", Err: err}
	}
	return IssuedKey{ID: id.String(), TenantID: tenantID, Name: name, Key: key}, nil
}

// RevokeAPIKey marks the key id of tenantID revoked. Revoking an unknown or
// already revoked key returns types.ErrNotFound.
func RevokeAPIKey(ctx context.Context, q Queries, tenantID, id string, now time.Time) error {
	res, err := q.Exec(ctx, "revoke-api-key", now.UnixMilli(), id, tenantID)
	if err != nil {
		return &types.StoreError{Op: "revoke api key", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &types.StoreError{Op: "revoke api key", Err: err}
	}
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}
