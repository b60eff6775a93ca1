package app

import (
	"log/slog"
	"os"
	"strings"
)

// Logger is the app-wide logger type (slog).
type Logger = *slog.Logger

// NewLogger creates a structured logger. CARELINK_LOG_FORMAT selects the
// handler: "json" (default, production) or "pretty" (human-readable dev
// output with optional color).
func NewLogger(level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(level),
		AddSource: true,
	}

	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(os.Getenv("CARELINK_LOG_FORMAT"))) {
	case "pretty":
		color := EnvBool("CARELINK_LOG_COLOR", true)
		h = newPrettyHandler(os.Stdout, opts, color)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(h)
	slog.SetDefault(log)
	return log
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
