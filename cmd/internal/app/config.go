package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Security policy:
	// If true, CARELINK_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and credential hashing must be HMAC-based.
	RequireTokenHMAC bool

	// MetricsEnabled exposes the prometheus registry on /metrics.
	MetricsEnabled bool

	NotifySweepInterval time.Duration

	// Browser policy. An empty allowlist disables CORS handling entirely.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("CARELINK_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("CARELINK_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("CARELINK_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CARELINK_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("CARELINK_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("CARELINK_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("CARELINK_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("CARELINK_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("CARELINK_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("CARELINK_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("CARELINK_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("CARELINK_REQUIRE_TOKEN_HMAC", false),

		MetricsEnabled: EnvBool("CARELINK_METRICS_ENABLED", true),

		NotifySweepInterval: EnvDuration("CARELINK_NOTIFY_SWEEP_INTERVAL", time.Hour),

		CORSAllowedOrigins:   EnvCSV("CARELINK_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("CARELINK_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("CARELINK_CORS_MAX_AGE_SECONDS", 600),
	}
}
