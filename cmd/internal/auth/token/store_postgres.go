package token

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements CredentialStore using PostgreSQL
// (care.refresh_credentials, care.access_blacklist).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed credential store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// CreateRefresh inserts a new refresh credential row.
func (s *PostgresStore) CreateRefresh(ctx context.Context, cred RefreshCredential) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO care.refresh_credentials (
			id, identity_id, role, token_hash,
			issued_at, expires_at, revoked_at, revocation_reason
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, NULL, NULL
		)
	`, cred.ID, cred.IdentityID, cred.Role, cred.TokenHash, cred.IssuedAt, cred.ExpiresAt)
	if isUniqueViolation(err) {
		return ErrHashConflict
	}
	return err
}

// RotateRefresh consumes the old credential and inserts the replacement in a
// single transaction. The row lock on token_hash serializes concurrent
// exchanges: exactly one caller observes a live row.
func (s *PostgresStore) RotateRefresh(ctx context.Context, now time.Time, oldHash string, newCred RefreshCredential) (RefreshCredential, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return RefreshCredential{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var old RefreshCredential
	var reason *string
	err = tx.QueryRow(ctx, `
		SELECT
			id, identity_id, role, token_hash,
			issued_at, expires_at, revoked_at, revocation_reason
		FROM care.refresh_credentials
		WHERE token_hash = $1
		FOR UPDATE
	`, oldHash).Scan(
		&old.ID,
		&old.IdentityID,
		&old.Role,
		&old.TokenHash,
		&old.IssuedAt,
		&old.ExpiresAt,
		&old.RevokedAt,
		&reason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return RefreshCredential{}, ErrInvalidRefresh
	}
	if err != nil {
		return RefreshCredential{}, err
	}
	if reason != nil {
		old.RevocationReason = *reason
	}

	if old.RevokedAt != nil {
		return RefreshCredential{}, ErrRevokedRefresh
	}
	if !old.ExpiresAt.After(now) {
		return RefreshCredential{}, ErrExpiredRefresh
	}

	_, err = tx.Exec(ctx, `
		UPDATE care.refresh_credentials
		SET revoked_at = $2, revocation_reason = 'rotation'
		WHERE id = $1
	`, old.ID, now)
	if err != nil {
		return RefreshCredential{}, err
	}

	// The replacement row inherits the identity of the consumed credential.
	_, err = tx.Exec(ctx, `
		INSERT INTO care.refresh_credentials (
			id, identity_id, role, token_hash,
			issued_at, expires_at, revoked_at, revocation_reason
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, NULL, NULL
		)
	`, newCred.ID, old.IdentityID, old.Role, newCred.TokenHash, newCred.IssuedAt, newCred.ExpiresAt)
	if isUniqueViolation(err) {
		return RefreshCredential{}, ErrHashConflict
	}
	if err != nil {
		return RefreshCredential{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return RefreshCredential{}, err
	}

	return old, nil
}

// RevokeAllForIdentity revokes all live refresh credentials for an identity (idempotent).
func (s *PostgresStore) RevokeAllForIdentity(ctx context.Context, now time.Time, identityID string, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE care.refresh_credentials
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE identity_id = $1
	`, identityID, now, reason)
	return err
}

// DeleteExpiredRefresh removes expired rows and revoked rows past retention.
func (s *PostgresStore) DeleteExpiredRefresh(ctx context.Context, now time.Time, revokedRetention time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM care.refresh_credentials
		WHERE expires_at <= $1
		   OR (revoked_at IS NOT NULL AND revoked_at <= $2)
	`, now, now.Add(-revokedRetention))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// BlacklistAccess records an access-token digest until the token's own expiry (idempotent).
func (s *PostgresStore) BlacklistAccess(ctx context.Context, tokenHash string, expiresAt, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO care.access_blacklist (token_hash, expires_at, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO NOTHING
	`, tokenHash, expiresAt, now)
	return err
}

// IsAccessBlacklisted reports whether the digest is currently blacklisted.
func (s *PostgresStore) IsAccessBlacklisted(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM care.access_blacklist
			WHERE token_hash = $1 AND expires_at > $2
		)
	`, tokenHash, now).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// DeleteExpiredBlacklist prunes entries whose tokens expired on their own.
func (s *PostgresStore) DeleteExpiredBlacklist(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM care.access_blacklist
		WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505"
}

var _ CredentialStore = (*PostgresStore)(nil)
