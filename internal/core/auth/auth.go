// Package auth provides HMAC-based API key authentication for gRPC services.
// An authenticated key resolves to a tenant id; every segment and customer
// operation downstream is scoped to that tenant.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/solatis/segmentkeeper/internal/types"
)

// MetadataKey is the gRPC metadata key carrying the API key.
const MetadataKey = "x-api-key"

// lastUsedThrottle bounds how often last_used_at_ms is rewritten per key.
const lastUsedThrottle = time.Minute

type contextKey string

const tenantIDKey = contextKey("tenant_id")

// Queries defines the database operations needed for authentication.
// Implemented by *db.Queries.
type Queries interface {
	Get(ctx context.Context, name string, dest any, args ...any) error
	Exec(ctx context.Context, name string, args ...any) (sql.Result, error)
}

// Authenticator validates API keys using HMAC-SHA256 signatures.
type Authenticator struct {
	secrets map[string][]byte
	queries Queries
	logger  zerolog.Logger
	now     func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithClock overrides the clock used for last-used bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

// NewAuthenticator creates an authenticator over secret_id -> secret and queries.
func NewAuthenticator(secrets map[string][]byte, queries Queries, logger zerolog.Logger, opts ...Option) *Authenticator {
	a := &Authenticator{
		secrets: secrets,
		queries: queries,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate validates apiKey and returns its tenant id.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (string, error) {
	secretID, _, err := ParseAPIKey(apiKey)
	if err != nil {
		return "", err
	}

	secret, ok := a.secrets[secretID]
	if !ok {
		return "", ErrUnknownKey
	}

	var row struct {
		APIKeyID     string        `db:"api_key_id"`
		TenantID     string        `db:"tenant_id"`
		RevokedAtMs  sql.NullInt64 `db:"revoked_at_ms"`
		LastUsedAtMs sql.NullInt64 `db:"last_used_at_ms"`
	}
	err = a.queries.Get(ctx, "get-api-key-by-hash", &row, ComputeHMAC(secret, apiKey))
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidKey
	}
	if err != nil {
		// The key may be valid; report the lookup as retryable.
		return "", &types.StoreError{Op: "authenticate", Err: err, Transient: true}
	}

	if row.RevokedAtMs.Valid {
		return "", ErrKeyRevoked
	}

	now := a.now()
	if shouldUpdateLastUsed(row.LastUsedAtMs, now) {
		if _, err := a.queries.Exec(ctx, "update-last-used", now.UnixMilli(), row.APIKeyID); err != nil {
			a.logger.Warn().Err(err).Str("api_key_id", row.APIKeyID).Msg("update last used")
		}
	}

	return row.TenantID, nil
}

// shouldUpdateLastUsed reports whether the throttle window has passed.
func shouldUpdateLastUsed(lastUsedMs sql.NullInt64, now time.Time) bool {
	if !lastUsedMs.Valid {
		return true
	}
	return now.Sub(time.UnixMilli(lastUsedMs.Int64)) > lastUsedThrottle
}

// UnaryInterceptor returns a gRPC interceptor that authenticates requests
// and stores the tenant id in the handler context.
// Methods listed in skip (full method names) bypass authentication.
func (a *Authenticator) UnaryInterceptor(skip ...string) grpc.UnaryServerInterceptor {
	public := make(map[string]bool, len(skip))
	for _, m := range skip {
		public[m] = true
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if public[info.FullMethod] {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		keys := md.Get(MetadataKey)
		if len(keys) == 0 {
			return nil, status.Error(codes.Unauthenticated, ErrMissingKey.Error())
		}

		tenantID, err := a.Authenticate(ctx, keys[0])
		if err != nil {
			return nil, authStatus(err)
		}

		return handler(WithTenantID(ctx, tenantID), req)
	}
}

func authStatus(err error) error {
	switch {
	case errors.Is(err, ErrKeyRevoked):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, types.ErrStoreUnavailable):
		return status.Error(codes.Unavailable, fmt.Sprintf("authentication unavailable: %v", err))
	default:
		return status.Error(codes.Unauthenticated, err.Error())
	}
}

// WithTenantID returns a context carrying tenantID.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TenantIDFromContext extracts tenant ID from context.
// Returns empty string if not found.
func TenantIDFromContext(ctx context.Context) string {
	if tenantID, ok := ctx.Value(tenantIDKey).(string); ok {
		return tenantID
	}
	return ""
}
