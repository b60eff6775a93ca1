package token

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"carelink/cmd/identity"
)

// Service implements the high-level token lifecycle operations for Carelink.
//
// It issues credential pairs, validates access tokens against the blacklist,
// rotates refresh credentials under a strict serialization model, revokes
// credentials on logout and password change, and garbage-collects expired
// state.
type Service struct {
	cfg     Config
	tokens  AccessTokenManager
	store   CredentialStore
	log     *slog.Logger
	metrics Metrics
	gate    IdentityGate
}

// IdentityGate looks up a credential's owning identity so deactivation takes
// effect on verify and rotate, not only at login. Satisfied by identity.Store.
// A nil gate skips the check.
type IdentityGate interface {
	GetByID(ctx context.Context, id string) (identity.Identity, error)
}

// Metrics receives lifecycle counters. Implementations must be non-blocking;
// a nil Metrics disables instrumentation.
type Metrics interface {
	RefreshRotated()
	RotationConflict()
	CleanupSwept(refreshRemoved, blacklistRemoved int64)
}

// Pair is the result of issuing or rotating credentials.
// It includes a short-lived access token and an opaque refresh credential.
type Pair struct {
	CredentialID string
	IdentityID   string
	Role         string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// CleanupStats summarizes one sweep of expired credential state.
type CleanupStats struct {
	RefreshRemoved   int64
	BlacklistRemoved int64
}

// NewService constructs a Service with the provided configuration, store, and token manager.
func NewService(cfg Config, store CredentialStore, tokens AccessTokenManager, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{cfg: cfg, store: store, tokens: tokens, log: log}
}

// SetMetrics attaches a metrics sink. Call before the service handles traffic.
func (s *Service) SetMetrics(m Metrics) { s.metrics = m }

// SetIdentityGate attaches the identity lookup. Call before the service
// handles traffic.
func (s *Service) SetIdentityGate(g IdentityGate) { s.gate = g }

// IssuePair creates a fresh access + refresh pair for an active identity.
//
// Refresh credentials are opaque random strings and must never be persisted
// in plaintext. Only the 64-char hex digest is stored.
func (s *Service) IssuePair(ctx context.Context, now time.Time, ident identity.Identity) (Pair, error) {
	if !ident.Active {
		return Pair{}, ErrAccountInactive
	}

	refreshExp := now.Add(s.cfg.RefreshTTL)

	// A digest collision is astronomically unlikely; retry once with fresh
	// randomness rather than failing the login.
	var cred RefreshCredential
	var refreshPlain string
	for attempt := 0; ; attempt++ {
		plain, hash, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes)
		if err != nil {
			return Pair{}, err
		}

		id, err := identity.NewULID(now)
		if err != nil {
			return Pair{}, err
		}

		cred = RefreshCredential{
			ID:         id,
			IdentityID: ident.ID,
			Role:       string(ident.Role),
			TokenHash:  hash,
			IssuedAt:   now,
			ExpiresAt:  refreshExp,
		}

		err = s.withStoreTimeout(ctx, func(ctx context.Context) error {
			return s.store.CreateRefresh(ctx, cred)
		})
		if errors.Is(err, ErrHashConflict) && attempt == 0 {
			continue
		}
		if err != nil {
			return Pair{}, err
		}
		refreshPlain = plain
		break
	}

	accessToken, accessExp, err := s.tokens.Issue(ident.ID, string(ident.Role), now)
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		CredentialID: cred.ID,
		IdentityID:   ident.ID,
		Role:         string(ident.Role),
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: refreshPlain,
		RefreshExp:   refreshExp,
	}, nil
}

// VerifyAccess verifies an access token's signature and expiry, then checks
// the revocation blacklist.
//
// Failure model:
//   - signature/expiry failure: ErrUnauthenticated
//   - blacklisted: ErrRevoked
//   - owning identity deactivated or gone: ErrAccountInactive
//   - blacklist or identity store unreachable: ErrTransient (never a
//     silent allow)
func (s *Service) VerifyAccess(ctx context.Context, token string, now time.Time) (AccessClaims, error) {
	claims, err := s.tokens.Verify(token, now)
	if err != nil {
		return AccessClaims{}, err
	}

	hash := hashCredentialHex(token)

	blacklisted, err := s.isBlacklistedWithRetry(ctx, hash, now)
	if err != nil {
		s.log.ErrorContext(ctx, "auth.verify.blacklist_unavailable", "err", err)
		return AccessClaims{}, TransientError{Op: "token.VerifyAccess", Cause: err}
	}
	if blacklisted {
		return AccessClaims{}, ErrRevoked
	}

	if err := s.requireActive(ctx, claims.IdentityID); err != nil {
		return AccessClaims{}, err
	}

	return claims, nil
}

// requireActive fails closed: a missing identity counts as inactive and a
// store failure is transient, never a silent allow.
func (s *Service) requireActive(ctx context.Context, identityID string) error {
	if s.gate == nil {
		return nil
	}

	var ident identity.Identity
	err := s.withStoreTimeout(ctx, func(ctx context.Context) error {
		var gerr error
		ident, gerr = s.gate.GetByID(ctx, identityID)
		return gerr
	})
	if err != nil {
		if identity.IsNotFound(err) {
			return ErrAccountInactive
		}
		s.log.ErrorContext(ctx, "auth.verify.identity_unavailable", "err", err)
		return TransientError{Op: "token.requireActive", Cause: err}
	}
	if !ident.Active {
		return ErrAccountInactive
	}
	return nil
}

func (s *Service) isBlacklistedWithRetry(ctx context.Context, hash string, now time.Time) (bool, error) {
	var blacklisted bool
	check := func(ctx context.Context) error {
		var err error
		blacklisted, err = s.store.IsAccessBlacklisted(ctx, hash, now)
		return err
	}

	err := s.withStoreTimeout(ctx, check)
	if err == nil {
		return blacklisted, nil
	}
	if ctx.Err() != nil {
		return false, err
	}

	// One retry for idempotent reads.
	if err2 := s.withStoreTimeout(ctx, check); err2 == nil {
		return blacklisted, nil
	}
	return false, err
}

// Rotate exchanges a refresh credential for a fresh pair.
//
// Security model:
//   - The store serializes concurrent exchanges of the same credential;
//     exactly one caller wins, the rest observe ErrRevokedRefresh.
//   - A digest collision on the replacement credential is retried exactly
//     once with fresh randomness.
//   - A deactivated owning identity cannot re-extend its session: the
//     exchange fails with ErrAccountInactive and every refresh credential
//     for that identity is revoked.
func (s *Service) Rotate(ctx context.Context, now time.Time, refreshPlain string) (Pair, error) {
	refreshPlain = strings.TrimSpace(refreshPlain)
	// Basic sanity bounds to avoid pathological inputs.
	if refreshPlain == "" || len(refreshPlain) > 4096 {
		return Pair{}, ErrInvalidRefresh
	}

	oldHash := hashCredentialHex(refreshPlain)
	refreshExp := now.Add(s.cfg.RefreshTTL)

	var old RefreshCredential
	var newCred RefreshCredential
	var newPlain string
	for attempt := 0; ; attempt++ {
		plain, hash, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes)
		if err != nil {
			return Pair{}, err
		}

		id, err := identity.NewULID(now)
		if err != nil {
			return Pair{}, err
		}

		newCred = RefreshCredential{
			ID:        id,
			TokenHash: hash,
			IssuedAt:  now,
			ExpiresAt: refreshExp,
		}

		err = s.withStoreTimeout(ctx, func(ctx context.Context) error {
			consumed, rerr := s.store.RotateRefresh(ctx, now, oldHash, newCred)
			if rerr != nil {
				return rerr
			}
			old = consumed
			return nil
		})
		if errors.Is(err, ErrHashConflict) && attempt == 0 {
			continue
		}
		if err != nil {
			if s.metrics != nil && errors.Is(err, ErrRevokedRefresh) {
				s.metrics.RotationConflict()
			}
			return Pair{}, err
		}
		newPlain = plain
		break
	}

	if err := s.requireActive(ctx, old.IdentityID); err != nil {
		if errors.Is(err, ErrAccountInactive) {
			// The freshly minted replacement must not survive the refusal.
			revokeErr := s.withStoreTimeout(ctx, func(ctx context.Context) error {
				return s.store.RevokeAllForIdentity(ctx, now, old.IdentityID, "deactivated")
			})
			if revokeErr != nil {
				s.log.ErrorContext(ctx, "auth.rotate.deactivated_revoke_fail", "identity_id", old.IdentityID, "err", revokeErr)
			}
		}
		return Pair{}, err
	}

	if s.metrics != nil {
		s.metrics.RefreshRotated()
	}

	accessToken, accessExp, err := s.tokens.Issue(old.IdentityID, old.Role, now)
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		CredentialID: newCred.ID,
		IdentityID:   old.IdentityID,
		Role:         old.Role,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: newPlain,
		RefreshExp:   refreshExp,
	}, nil
}

// Revoke terminates an identity's credentials on logout: every live refresh
// credential is revoked and the presented access token is blacklisted for
// its remaining lifetime.
//
// Access tokens other than the presented one remain valid until natural
// expiry; the short access TTL bounds that exposure.
func (s *Service) Revoke(ctx context.Context, now time.Time, identityID, accessToken string, accessExp time.Time) error {
	return s.revokeAll(ctx, now, identityID, accessToken, accessExp, "logout")
}

// RevokeAllOnCredentialChange performs the same full revocation after a
// password change. It must complete before the password-change response is
// written.
func (s *Service) RevokeAllOnCredentialChange(ctx context.Context, now time.Time, identityID, accessToken string, accessExp time.Time) error {
	return s.revokeAll(ctx, now, identityID, accessToken, accessExp, "credential_change")
}

func (s *Service) revokeAll(ctx context.Context, now time.Time, identityID, accessToken string, accessExp time.Time, reason string) error {
	err := s.withStoreTimeout(ctx, func(ctx context.Context) error {
		return s.store.RevokeAllForIdentity(ctx, now, identityID, reason)
	})
	if err != nil {
		return err
	}

	if strings.TrimSpace(accessToken) == "" || !accessExp.After(now) {
		return nil
	}

	hash := hashCredentialHex(accessToken)
	return s.withStoreTimeout(ctx, func(ctx context.Context) error {
		return s.store.BlacklistAccess(ctx, hash, accessExp, now)
	})
}

// CleanupExpired garbage-collects expired refresh rows, stale revoked rows,
// and expired blacklist entries. Best-effort: partial failures return the
// counts collected so far.
func (s *Service) CleanupExpired(ctx context.Context, now time.Time) (CleanupStats, error) {
	var stats CleanupStats

	refreshRemoved, err := s.store.DeleteExpiredRefresh(ctx, now, s.cfg.RevokedRetention)
	stats.RefreshRemoved = refreshRemoved
	if err != nil {
		return stats, err
	}

	blacklistRemoved, err := s.store.DeleteExpiredBlacklist(ctx, now)
	stats.BlacklistRemoved = blacklistRemoved
	if err != nil {
		return stats, err
	}

	if s.metrics != nil {
		s.metrics.CleanupSwept(stats.RefreshRemoved, stats.BlacklistRemoved)
	}
	return stats, nil
}

func (s *Service) withStoreTimeout(ctx context.Context, fn func(context.Context) error) error {
	if s.cfg.StoreTimeout <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return fn(tctx)
}
