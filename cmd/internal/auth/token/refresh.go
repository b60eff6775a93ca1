package token

import (
	"crypto/rand"
	"encoding/base64"

	sectoken "carelink/cmd/security/token"
)

func newOpaqueRefreshToken(nBytes int) (plain string, hashHex string, err error) {
	b := make([]byte, nBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", err
	}

	// URL-safe, no padding.
	plain = base64.RawURLEncoding.EncodeToString(b)

	hashHex = sectoken.HashCredentialHex(plain) // 64 hex chars

	return plain, hashHex, nil
}

func hashCredentialHex(plain string) string {
	return sectoken.HashCredentialHex(plain)
}
