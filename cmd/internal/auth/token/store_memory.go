package token

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory CredentialStore for tests and single-process
// dev runs. Rotation is serialized by the store mutex, which gives the same
// winner-take-all guarantee the Postgres row lock provides.
type MemoryStore struct {
	mu        sync.Mutex
	byHash    map[string]RefreshCredential
	blacklist map[string]time.Time // token_hash -> expires_at
}

// NewMemoryStore returns an empty in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash:    make(map[string]RefreshCredential),
		blacklist: make(map[string]time.Time),
	}
}

func (s *MemoryStore) CreateRefresh(ctx context.Context, cred RefreshCredential) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byHash[cred.TokenHash]; exists {
		return ErrHashConflict
	}
	s.byHash[cred.TokenHash] = cred
	return nil
}

func (s *MemoryStore) RotateRefresh(ctx context.Context, now time.Time, oldHash string, newCred RefreshCredential) (RefreshCredential, error) {
	if err := ctx.Err(); err != nil {
		return RefreshCredential{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byHash[oldHash]
	if !ok {
		return RefreshCredential{}, ErrInvalidRefresh
	}
	if old.RevokedAt != nil {
		return RefreshCredential{}, ErrRevokedRefresh
	}
	if !old.ExpiresAt.After(now) {
		return RefreshCredential{}, ErrExpiredRefresh
	}
	if _, exists := s.byHash[newCred.TokenHash]; exists {
		return RefreshCredential{}, ErrHashConflict
	}

	revokedAt := now
	old.RevokedAt = &revokedAt
	old.RevocationReason = "rotation"
	s.byHash[oldHash] = old

	// The replacement row inherits the identity of the consumed credential.
	newCred.IdentityID = old.IdentityID
	newCred.Role = old.Role
	s.byHash[newCred.TokenHash] = newCred

	// Return the pre-rotation view (revoked markers belong to the stored row).
	out := old
	out.RevokedAt = nil
	out.RevocationReason = ""
	return out, nil
}

func (s *MemoryStore) RevokeAllForIdentity(ctx context.Context, now time.Time, identityID string, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for hash, cred := range s.byHash {
		if cred.IdentityID != identityID || cred.RevokedAt != nil {
			continue
		}
		revokedAt := now
		cred.RevokedAt = &revokedAt
		cred.RevocationReason = reason
		s.byHash[hash] = cred
	}
	return nil
}

func (s *MemoryStore) DeleteExpiredRefresh(ctx context.Context, now time.Time, revokedRetention time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	cutoff := now.Add(-revokedRetention)
	for hash, cred := range s.byHash {
		expired := !cred.ExpiresAt.After(now)
		stale := cred.RevokedAt != nil && !cred.RevokedAt.After(cutoff)
		if expired || stale {
			delete(s.byHash, hash)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) BlacklistAccess(ctx context.Context, tokenHash string, expiresAt, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.blacklist[tokenHash]; !exists {
		s.blacklist[tokenHash] = expiresAt
	}
	return nil
}

func (s *MemoryStore) IsAccessBlacklisted(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.blacklist[tokenHash]
	return ok && exp.After(now), nil
}

func (s *MemoryStore) DeleteExpiredBlacklist(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for hash, exp := range s.blacklist {
		if !exp.After(now) {
			delete(s.blacklist, hash)
			removed++
		}
	}
	return removed, nil
}

var _ CredentialStore = (*MemoryStore)(nil)
