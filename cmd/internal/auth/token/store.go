package token

import (
	"context"
	"time"
)

// RefreshCredential mirrors the care.refresh_credentials row.
type RefreshCredential struct {
	ID               string
	IdentityID       string
	Role             string
	TokenHash        string
	IssuedAt         time.Time
	ExpiresAt        time.Time
	RevokedAt        *time.Time
	RevocationReason string
}

// CredentialStore abstracts persistence for refresh credentials and the
// access-token blacklist.
//
// Implementations must ensure rotation safety: RotateRefresh serializes
// concurrent exchanges of the same credential so exactly one caller wins.
// No implementation may cache refresh validity in-process.
type CredentialStore interface {
	// CreateRefresh inserts a new refresh credential row.
	// A digest collision returns ErrHashConflict.
	CreateRefresh(ctx context.Context, cred RefreshCredential) error

	// RotateRefresh atomically consumes the credential identified by oldHash
	// and stores newCred in its place: the old row is revoked with reason
	// "rotation" and the new row is inserted in the same transaction. The
	// replacement inherits the identity of the consumed row; newCred only
	// needs ID, TokenHash, IssuedAt and ExpiresAt.
	//
	// Returns the pre-rotation row on success.
	// Errors: ErrInvalidRefresh (unknown hash), ErrExpiredRefresh,
	// ErrRevokedRefresh (already consumed or revoked), ErrHashConflict
	// (newCred digest collides; caller retries with fresh randomness).
	RotateRefresh(ctx context.Context, now time.Time, oldHash string, newCred RefreshCredential) (RefreshCredential, error)

	// RevokeAllForIdentity revokes every live refresh credential for an
	// identity (idempotent).
	RevokeAllForIdentity(ctx context.Context, now time.Time, identityID string, reason string) error

	// DeleteExpiredRefresh removes rows that are expired, or revoked and
	// older than the retention window. Returns the number of rows removed.
	DeleteExpiredRefresh(ctx context.Context, now time.Time, revokedRetention time.Duration) (int64, error)

	// BlacklistAccess records an access-token digest until the token's own
	// expiry (idempotent).
	BlacklistAccess(ctx context.Context, tokenHash string, expiresAt, now time.Time) error

	// IsAccessBlacklisted reports whether the digest is currently blacklisted.
	IsAccessBlacklisted(ctx context.Context, tokenHash string, now time.Time) (bool, error)

	// DeleteExpiredBlacklist prunes blacklist entries whose tokens have
	// expired on their own. Returns the number of rows removed.
	DeleteExpiredBlacklist(ctx context.Context, now time.Time) (int64, error)
}
