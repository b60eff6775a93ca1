package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	authtoken "carelink/cmd/internal/auth/token"
)

type stubVerifier struct {
	claims authtoken.AccessClaims
	err    error
}

func (v stubVerifier) VerifyAccess(context.Context, string, time.Time) (authtoken.AccessClaims, error) {
	return v.claims, v.err
}

func TestHandleWS_RejectsBeforeUpgrade(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"deactivated identity", authtoken.ErrAccountInactive, http.StatusUnauthorized},
		{"revoked token", authtoken.ErrRevoked, http.StatusUnauthorized},
		{"store down", authtoken.TransientError{Op: "blacklist", Cause: context.DeadlineExceeded}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewWSGateway(nil, stubVerifier{err: tc.err}, nil, nil)

			req := httptest.NewRequest(http.MethodGet, "/realtime?access_token=tok", nil)
			req.Header.Set("Origin", "http://localhost")
			rec := httptest.NewRecorder()
			g.HandleWS(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("%s: got %d want %d", tc.name, rec.Code, tc.want)
			}
		})
	}
}

func TestHandshakeToken(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/realtime?access_token=qtok", nil)
	if got := handshakeToken(r); got != "qtok" {
		t.Fatalf("query token: got %q", got)
	}

	r = httptest.NewRequest("GET", "/realtime", nil)
	r.Header.Set("Authorization", "Bearer htok")
	if got := handshakeToken(r); got != "htok" {
		t.Fatalf("header token: got %q", got)
	}

	// Query parameter wins when both are present.
	r = httptest.NewRequest("GET", "/realtime?access_token=qtok", nil)
	r.Header.Set("Authorization", "Bearer htok")
	if got := handshakeToken(r); got != "qtok" {
		t.Fatalf("precedence: got %q", got)
	}

	r = httptest.NewRequest("GET", "/realtime", nil)
	if got := handshakeToken(r); got != "" {
		t.Fatalf("missing token: got %q", got)
	}
}

func TestOriginHostOnly(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"http://localhost":           "localhost",
		"https://App.Example.com:80": "app.example.com",
		"localhost:3000":             "localhost",
		"":                           "",
	}
	for in, want := range cases {
		if got := originHostOnly(in); got != want {
			t.Fatalf("originHostOnly(%q): got %q want %q", in, got, want)
		}
	}
}

func TestDeriveOriginPatterns(t *testing.T) {
	t.Parallel()

	got := deriveOriginPatternsFromAllowedOrigins([]string{
		"http://localhost", "http://127.0.0.1", "http://localhost:3000", "*",
	})
	want := []string{"127.0.0.1", "localhost"}
	if len(got) != len(want) {
		t.Fatalf("patterns: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("patterns: got %v want %v", got, want)
		}
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Second)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		if !rl.Allow(now) {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	if rl.Allow(now) {
		t.Fatalf("fourth event inside window should be limited")
	}
	if !rl.Allow(now.Add(2 * time.Second)) {
		t.Fatalf("event after window should be allowed again")
	}
}
