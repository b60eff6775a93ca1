package app

import (
	"errors"

	"carelink/cmd/security/token"
)

// ValidateSecurityConfig enforces Carelink's security policy at startup.
// Fail-fast: silently falling back to weaker credential hashing in
// production is unacceptable, so enforcement validates the same module that
// performs the hashing (security/token).
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	// Minimum 32 bytes for an HMAC-SHA256 secret, measured as raw bytes.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: CARELINK_REQUIRE_TOKEN_HMAC=true but CARELINK_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: CARELINK_REQUIRE_TOKEN_HMAC=true but CARELINK_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	// Hard assertion: hashing must actually be in HMAC mode in this runtime.
	if !token.HMACEnabled() {
		return errors.New("security policy: CARELINK_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}

	return nil
}
