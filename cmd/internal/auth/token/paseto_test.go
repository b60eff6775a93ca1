package token

import (
	"errors"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func testConfig() Config {
	secret := paseto.NewV4AsymmetricSecretKey()
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = secret.ExportHex()
	return cfg
}

func TestPasetoV4_IssueAndVerify(t *testing.T) {
	mgr, err := NewPasetoV4PublicManager(testConfig())
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}

	now := time.Now().UTC()
	tok, exp, err := mgr.Issue("01HZZZZZZZZZZZZZZZZZZZZZZZ", "clinician", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.After(now) {
		t.Fatalf("expected exp after now")
	}

	claims, err := mgr.Verify(tok, now.Add(1*time.Second))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.IdentityID != "01HZZZZZZZZZZZZZZZZZZZZZZZ" {
		t.Fatalf("unexpected identity claim: %q", claims.IdentityID)
	}
	if claims.Role != "clinician" {
		t.Fatalf("unexpected role claim: %q", claims.Role)
	}
	if claims.TokenID == "" {
		t.Fatalf("missing jti claim")
	}
}

func TestPasetoV4_VerifyRejectsExpired(t *testing.T) {
	mgr, err := NewPasetoV4PublicManager(testConfig())
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}

	now := time.Now().UTC()
	tok, _, err := mgr.Issue("01HZZZZZZZZZZZZZZZZZZZZZZZ", "patient", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	_, err = mgr.Verify(tok, now.Add(16*time.Minute))
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for expired token, got: %v", err)
	}
}

func TestPasetoV4_VerifyRejectsWrongKey(t *testing.T) {
	mgr, err := NewPasetoV4PublicManager(testConfig())
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}
	other, err := NewPasetoV4PublicManager(testConfig())
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager (other): %v", err)
	}

	now := time.Now().UTC()
	tok, _, err := mgr.Issue("01HZZZZZZZZZZZZZZZZZZZZZZZ", "admin", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := other.Verify(tok, now); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated under foreign key, got: %v", err)
	}
}

func TestPasetoV4_RejectsBadSecret(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = "not-hex"
	if _, err := NewPasetoV4PublicManager(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got: %v", err)
	}
}
