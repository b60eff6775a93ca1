package token

import (
	"strings"
	"testing"
)

func TestHashSHA256HexStable(t *testing.T) {
	got := HashSHA256Hex("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Fatalf("HashSHA256Hex: got %s want %s", got, want)
	}
}

func TestHashHMACSHA256HexKeyed(t *testing.T) {
	a := HashHMACSHA256Hex("tok", []byte("key-one"))
	b := HashHMACSHA256Hex("tok", []byte("key-two"))
	if a == b {
		t.Fatalf("different keys produced identical digests")
	}
	if len(a) != 64 || len(b) != 64 {
		t.Fatalf("unexpected digest lengths: %d %d", len(a), len(b))
	}
}

func TestHashCredentialHexFallsBackToSHA(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	if got, want := HashCredentialHex("tok"), HashSHA256Hex("tok"); got != want {
		t.Fatalf("expected SHA fallback digest, got %s", got)
	}
}

func TestHashCredentialHexUsesHMACWhenConfigured(t *testing.T) {
	t.Setenv(HMACEnvKey, "0123456789abcdef0123456789abcdef")
	got := HashCredentialHex("tok")
	want := HashHMACSHA256Hex("tok", []byte("0123456789abcdef0123456789abcdef"))
	if got != want {
		t.Fatalf("expected HMAC digest, got %s", got)
	}
	if got == HashSHA256Hex("tok") {
		t.Fatalf("HMAC digest must not equal plain SHA digest")
	}
}

func TestHashCredentialHexRequireHMAC(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	if _, err := HashCredentialHexRequireHMAC("tok", 32); err != ErrHMACKeyMissing {
		t.Fatalf("expected ErrHMACKeyMissing, got %v", err)
	}

	t.Setenv(HMACEnvKey, "short")
	if _, err := HashCredentialHexRequireHMAC("tok", 32); err != ErrHMACKeyTooShort {
		t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
	}

	key := strings.Repeat("k", 32)
	t.Setenv(HMACEnvKey, key)
	got, err := HashCredentialHexRequireHMAC("tok", 32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := HashHMACSHA256Hex("tok", []byte(key)); got != want {
		t.Fatalf("digest mismatch: got %s want %s", got, want)
	}
}

func TestHMACEnabled(t *testing.T) {
	t.Setenv(HMACEnvKey, "  ")
	if HMACEnabled() {
		t.Fatalf("blank key should not enable HMAC")
	}
	t.Setenv(HMACEnvKey, "x")
	if !HMACEnabled() {
		t.Fatalf("non-empty key should enable HMAC")
	}
}
