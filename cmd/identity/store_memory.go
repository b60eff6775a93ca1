package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-process dev runs.
// It mirrors the Postgres store's error contract (conflict on duplicate
// email, not-found on missing rows, admin delete refusal).
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]Identity
	byEmail map[string]string // email_norm -> id
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]Identity),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, in CreateIdentityInput) (Identity, error) {
	const op = "identity.Create"

	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	if !in.Role.Valid() {
		return Identity{}, pgInvalid(op, "invalid role")
	}
	email := strings.TrimSpace(in.Email)
	if email == "" {
		return Identity{}, pgInvalid(op, "email is required")
	}
	if strings.TrimSpace(in.Password) == "" {
		return Identity{}, pgInvalid(op, "password is required")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	pwHash, err := HashPassword(in.Password, DefaultArgon2idParams())
	if err != nil {
		return Identity{}, pgInvalid(op, err.Error())
	}

	id, err := NewULID(now)
	if err != nil {
		return Identity{}, err
	}

	out := Identity{
		ID:           id,
		Role:         in.Role,
		Email:        email,
		EmailNorm:    NormalizeEmail(email),
		DisplayName:  NormalizeDisplayName(in.DisplayName),
		Active:       in.Active,
		PasswordHash: pwHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[out.EmailNorm]; exists {
		return Identity{}, ConflictError{Op: op, Field: "email"}
	}
	s.byID[out.ID] = out
	s.byEmail[out.EmailNorm] = out.ID

	return out, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (Identity, error) {
	const op = "identity.GetByID"

	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	if strings.TrimSpace(id) == "" {
		return Identity{}, pgInvalid(op, "id is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out, ok := s.byID[id]
	if !ok {
		return Identity{}, NotFoundError{Op: op, Resource: "identity"}
	}
	return out, nil
}

func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (Identity, error) {
	const op = "identity.GetByEmail"

	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	norm := NormalizeEmail(email)
	if norm == "" {
		return Identity{}, pgInvalid(op, "email is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[norm]
	if !ok {
		return Identity{}, NotFoundError{Op: op, Resource: "identity"}
	}
	return s.byID[id], nil
}

func (s *MemoryStore) SetActive(ctx context.Context, id string, active bool, now time.Time) error {
	const op = "identity.SetActive"

	if err := ctx.Err(); err != nil {
		return err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out, ok := s.byID[id]
	if !ok {
		return NotFoundError{Op: op, Resource: "identity"}
	}
	out.Active = active
	out.UpdatedAt = now
	s.byID[id] = out
	return nil
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, id string, passwordHash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"

	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(passwordHash) == "" {
		return pgInvalid(op, "password hash is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out, ok := s.byID[id]
	if !ok {
		return NotFoundError{Op: op, Resource: "identity"}
	}
	out.PasswordHash = passwordHash
	out.UpdatedAt = now
	s.byID[id] = out
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	const op = "identity.Delete"

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out, ok := s.byID[id]
	if !ok {
		return NotFoundError{Op: op, Resource: "identity"}
	}
	if out.Role == RoleAdmin {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "admin identities are deactivated, never deleted"}
	}
	delete(s.byID, id)
	delete(s.byEmail, out.EmailNorm)
	return nil
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*PostgresStore)(nil)
