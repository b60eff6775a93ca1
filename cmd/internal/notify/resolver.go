package notify

import (
	"context"
	"fmt"

	"carelink/cmd/identity"
)

// RecipientResolver maps a domain-level recipient reference to the identity
// that owns it. Resolution runs once per dispatch, before the notification is
// persisted, so a bad reference fails the whole operation instead of
// producing an orphaned record.
type RecipientResolver interface {
	ResolveOwningIdentity(ctx context.Context, ref string) (identityID string, err error)
}

// RecipientResolverFunc adapts a function to the RecipientResolver interface.
type RecipientResolverFunc func(ctx context.Context, ref string) (string, error)

func (f RecipientResolverFunc) ResolveOwningIdentity(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// StaticResolver treats the reference as the identity id itself. Used for
// roles whose domain records are keyed directly by identity id.
func StaticResolver() RecipientResolver {
	return RecipientResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "" {
			return "", fmt.Errorf("empty recipient reference")
		}
		return ref, nil
	})
}

// IdentityResolver verifies the reference against the identity store and
// refuses inactive accounts. The reference is still the identity id; the
// store round trip guards dispatches against deactivated recipients.
func IdentityResolver(store identity.Store) RecipientResolver {
	return RecipientResolverFunc(func(ctx context.Context, ref string) (string, error) {
		id, err := store.GetByID(ctx, ref)
		if err != nil {
			return "", err
		}
		if !id.Active {
			return "", fmt.Errorf("recipient identity %s is not active", ref)
		}
		return id.ID, nil
	})
}

// ResolverSet holds one resolver per recipient role.
type ResolverSet map[string]RecipientResolver

// Resolve dispatches to the role's resolver.
func (rs ResolverSet) Resolve(ctx context.Context, role, ref string) (string, error) {
	r, ok := rs[role]
	if !ok {
		return "", fmt.Errorf("no recipient resolver for role %q", role)
	}
	return r.ResolveOwningIdentity(ctx, ref)
}
