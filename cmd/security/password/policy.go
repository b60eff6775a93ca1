package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validate checks the password policy. It does not mutate input.
func (c Config) Validate(password string) error {
	// Policy lengths count characters (runes), not bytes.
	n := utf8.RuneCountInString(password)

	if n < c.Policy.MinLength {
		return ErrPasswordTooShort
	}
	if n > c.Policy.MaxLength {
		return ErrPasswordTooLong
	}

	if c.Policy.RejectVeryWeak && looksVeryWeak(password) {
		return ErrWeakPassword
	}
	return nil
}

// looksVeryWeak catches only the most trivial passwords. It is not a
// zxcvbn-style strength estimator.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	// A single repeated character.
	allSame := true
	var first rune
	for i, r := range s {
		if i == 0 {
			first = r
			continue
		}
		if r != first {
			allSame = false
			break
		}
	}
	if allSame {
		return true
	}

	// Short all-digit strings (PIN-like).
	onlyDigits := true
	for _, r := range s {
		if !unicode.IsDigit(r) {
			onlyDigits = false
			break
		}
	}
	if onlyDigits && utf8.RuneCountInString(s) < 12 {
		return true
	}

	switch strings.ToLower(s) {
	case "password", "password123", "123456", "123456789",
		"qwerty", "qwerty123", "11111111", "letmein", "changeme":
		return true
	}
	return false
}
