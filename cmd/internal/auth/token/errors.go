package token

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated is returned when an access token fails signature or
	// expiry verification. Callers must not leak which check failed.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrRevoked is returned when a structurally valid access token has been
	// blacklisted (logout, password change).
	ErrRevoked = errors.New("token revoked")

	// ErrInvalidRefresh is returned when a refresh credential does not match
	// any stored digest.
	ErrInvalidRefresh = errors.New("invalid refresh credential")

	// ErrExpiredRefresh is returned when the refresh credential is past its expiry.
	ErrExpiredRefresh = errors.New("refresh credential expired")

	// ErrRevokedRefresh is returned when the refresh credential was revoked
	// (single-use exchange already consumed, logout, or password change).
	ErrRevokedRefresh = errors.New("refresh credential revoked")

	// ErrAccountInactive is returned when the identity is deactivated or
	// pending approval.
	ErrAccountInactive = errors.New("account inactive")

	// ErrTransient marks a store failure that may succeed on retry. It is
	// never silently converted into an allow.
	ErrTransient = errors.New("transient store failure")

	// ErrHashConflict is returned when a freshly generated credential digest
	// collides with a stored one. Callers retry once with new randomness.
	ErrHashConflict = errors.New("credential hash conflict")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// TransientError wraps a store failure with its operation for logs while
// keeping errors.Is(err, ErrTransient) stable for callers.
type TransientError struct {
	Op    string
	Cause error
}

func (e TransientError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrTransient, e.Cause)
}

func (e TransientError) Unwrap() error { return ErrTransient }

// IsTransient reports whether err represents ErrTransient.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IsAuthFailure reports whether err belongs to the auth-failure class that
// maps to a uniform 401 on the wire.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrRevoked) ||
		errors.Is(err, ErrInvalidRefresh) ||
		errors.Is(err, ErrExpiredRefresh) ||
		errors.Is(err, ErrRevokedRefresh) ||
		errors.Is(err, ErrAccountInactive)
}
