package identity

import (
	"context"
	"time"
)

// Identity is Carelink's canonical security principal.
// IMPORTANT: PasswordHash is the server-stored Argon2id PHC string; the plain
// password is never stored.
type Identity struct {
	ID          string
	Role        Role
	Email       string
	EmailNorm   string
	DisplayName string

	// Active gates every credentialed operation: inactive identities cannot
	// obtain token pairs and fail real-time authentication.
	Active bool

	PasswordHash string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateIdentityInput describes an identity registration request.
type CreateIdentityInput struct {
	Role        Role
	Email       string
	DisplayName string
	Password    string

	// Active controls the initial state. Self-service patient signups start
	// inactive (pending approval); operator-provisioned staff start active.
	Active bool

	Now time.Time
}

// Store is the identity persistence boundary.
type Store interface {
	Create(ctx context.Context, in CreateIdentityInput) (Identity, error)
	GetByID(ctx context.Context, id string) (Identity, error)
	GetByEmail(ctx context.Context, email string) (Identity, error)

	// SetActive flips the active flag. Deactivation is the only removal path
	// for admin identities; they are never deleted.
	SetActive(ctx context.Context, id string, active bool, now time.Time) error

	// UpdatePasswordHash replaces the stored hash. Callers are responsible
	// for revoking outstanding credentials afterwards.
	UpdatePasswordHash(ctx context.Context, id string, passwordHash string, now time.Time) error

	// Delete removes a non-admin identity. Admin identities return
	// ErrInvalidInput; deactivate them instead.
	Delete(ctx context.Context, id string) error
}
