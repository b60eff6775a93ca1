package authapi

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Per-IP login throttle.
	LoginIPPerMinute int
	LoginIPBurst     int

	// Per-identifier (normalized email) login throttle.
	LoginIdentifierPerMinute int
	LoginIdentifierBurst     int

	ThrottleCleanupInterval time.Duration
}

// LoadConfigFromEnv loads auth config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:               envBool("CARELINK_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:             envInt64("CARELINK_AUTH_MAX_BODY_BYTES", 1<<20), // 1 MiB
		LoginIPPerMinute:         envInt("CARELINK_AUTH_LOGIN_IP_PER_MINUTE", 20),
		LoginIPBurst:             envInt("CARELINK_AUTH_LOGIN_IP_BURST", 10),
		LoginIdentifierPerMinute: envInt("CARELINK_AUTH_LOGIN_IDENTIFIER_PER_MINUTE", 5),
		LoginIdentifierBurst:     envInt("CARELINK_AUTH_LOGIN_IDENTIFIER_BURST", 5),
		ThrottleCleanupInterval:  envDuration("CARELINK_AUTH_THROTTLE_CLEANUP_INTERVAL", 5*time.Minute),
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return cfg
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
