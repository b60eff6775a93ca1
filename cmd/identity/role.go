package identity

import (
	"fmt"
	"strings"
)

// Role is the closed set of principal roles.
type Role string

const (
	RolePatient         Role = "patient"
	RoleCareCoordinator Role = "care_coordinator"
	RoleClinician       Role = "clinician"
	RoleAdmin           Role = "admin"
)

// Roles lists every valid role in stable order.
func Roles() []Role {
	return []Role{RolePatient, RoleCareCoordinator, RoleClinician, RoleAdmin}
}

// Valid reports whether r is a member of the closed role set.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleCareCoordinator, RoleClinician, RoleAdmin:
		return true
	default:
		return false
	}
}

func (r Role) String() string { return string(r) }

// ParseRole canonicalizes and validates a role string.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", OpError{Op: "identity.ParseRole", Kind: ErrInvalidInput, Msg: fmt.Sprintf("unknown role %q", s)}
	}
	return r, nil
}
