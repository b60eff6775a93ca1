package identity

import "strings"

// NormalizeEmail performs case-insensitive canonicalization.
// Note: for now we only trim + lower-case. Additional rules (unicode
// confusables) can be added later behind a versioned policy.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeDisplayName trims surrounding whitespace; display names keep their case.
func NormalizeDisplayName(s string) string {
	return strings.TrimSpace(s)
}
