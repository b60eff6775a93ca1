package token

import (
	"os"
	"strconv"
	"time"
)

// Config defines all runtime configuration for the token subsystem.
//
// It controls access-token TTL, refresh-credential policy, clock skew
// tolerance, refresh entropy size, store timeouts, cleanup cadence, and the
// PASETO v4 signing key.
//
// This struct is intentionally explicit and environment-driven so that
// production deployments can tune security parameters without code changes.
type Config struct {
	// Issuer is the value set in the "iss" claim of access tokens.
	Issuer string

	// AccessTokenTTL defines the lifetime of PASETO access tokens.
	AccessTokenTTL time.Duration

	// RefreshTTL defines the lifetime of opaque refresh credentials.
	RefreshTTL time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// RefreshTokenBytes defines the number of random bytes used
	// to generate opaque refresh credentials.
	RefreshTokenBytes int

	// StoreTimeout bounds individual credential-store calls made on the
	// request path (blacklist checks, rotation).
	StoreTimeout time.Duration

	// CleanupInterval is the cadence of the expired-credential sweeper.
	CleanupInterval time.Duration

	// RevokedRetention keeps revoked refresh rows around for forensics
	// before the sweeper removes them.
	RevokedRetention time.Duration

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key
	// used to sign PASETO v4.public access tokens.
	PasetoV4SecretKeyHex string
}

// DefaultConfig returns a secure default configuration suitable for development.
//
// Production environments should override values via environment variables.
func DefaultConfig() Config {
	return Config{
		Issuer:            "carelink",
		AccessTokenTTL:    15 * time.Minute,
		RefreshTTL:        30 * 24 * time.Hour,
		ClockSkew:         30 * time.Second,
		RefreshTokenBytes: 32,
		StoreTimeout:      3 * time.Second,
		CleanupInterval:   time.Hour,
		RevokedRetention:  7 * 24 * time.Hour,
	}
}

// LoadConfigFromEnv loads token configuration from environment variables.
//
// Required:
//   - CARELINK_PASETO_V4_SECRET_KEY_HEX
//
// Optional (durations must be valid Go duration strings):
//   - CARELINK_AUTH_ISSUER
//   - CARELINK_AUTH_ACCESS_TTL
//   - CARELINK_AUTH_REFRESH_TTL
//   - CARELINK_AUTH_CLOCK_SKEW
//   - CARELINK_AUTH_REFRESH_TOKEN_BYTES
//   - CARELINK_AUTH_STORE_TIMEOUT
//   - CARELINK_AUTH_CLEANUP_INTERVAL
//   - CARELINK_AUTH_REVOKED_RETENTION
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("CARELINK_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("CARELINK_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("CARELINK_AUTH_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTTL = d
	}

	if v := os.Getenv("CARELINK_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := os.Getenv("CARELINK_AUTH_REFRESH_TOKEN_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenBytes = n
	}

	if v := os.Getenv("CARELINK_AUTH_STORE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.StoreTimeout = d
	}

	if v := os.Getenv("CARELINK_AUTH_CLEANUP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.CleanupInterval = d
	}

	if v := os.Getenv("CARELINK_AUTH_REVOKED_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.RevokedRetention = d
	}

	cfg.PasetoV4SecretKeyHex = os.Getenv("CARELINK_PASETO_V4_SECRET_KEY_HEX")
	if cfg.PasetoV4SecretKeyHex == "" {
		return Config{}, ErrConfig
	}

	// Invariants: access tokens must be much shorter-lived than refresh credentials.
	if cfg.AccessTokenTTL >= cfg.RefreshTTL {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
