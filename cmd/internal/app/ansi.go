package app

import (
	"log/slog"
	"regexp"
	"strconv"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// stripANSI removes color escapes (tests, width math).
func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

func colorizeHTTPMethod(method string, color bool) string {
	if !color {
		return method
	}
	switch method {
	case "GET":
		return ansiGreen + method + ansiReset
	case "POST", "PUT", "PATCH":
		return ansiYellow + method + ansiReset
	case "DELETE":
		return ansiRed + method + ansiReset
	default:
		return ansiCyan + method + ansiReset
	}
}

func colorizeStatusCode(status int, color bool) string {
	s := strconv.Itoa(status)
	if !color {
		return s
	}
	switch {
	case status >= 500:
		return ansiRed + s + ansiReset
	case status >= 400:
		return ansiYellow + s + ansiReset
	case status >= 300:
		return ansiCyan + s + ansiReset
	default:
		return ansiGreen + s + ansiReset
	}
}

func colorizeStatusClass(class string, color bool) string {
	if !color {
		return class
	}
	switch class {
	case "5xx":
		return ansiRed + class + ansiReset
	case "4xx":
		return ansiYellow + class + ansiReset
	default:
		return ansiGreen + class + ansiReset
	}
}

func colorizeDurationMS(ms int64, color bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	if !color {
		return s
	}
	switch {
	case ms >= 1000:
		return ansiRed + s + ansiReset
	case ms >= 200:
		return ansiYellow + s + ansiReset
	default:
		return ansiDim + s + ansiReset
	}
}

func colorizeResult(result string, color bool) string {
	if !color {
		return result
	}
	switch result {
	case "ok", "success":
		return ansiGreen + result + ansiReset
	case "fail", "error":
		return ansiRed + result + ansiReset
	default:
		return result
	}
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		u := v.Uint64()
		return int64(u), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	default:
		return 0, false
	}
}
