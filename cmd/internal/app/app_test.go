package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aidanwoods.dev/go-paseto"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel=%q", cfg.LogLevel)
	}
	if !cfg.MetricsEnabled {
		t.Fatalf("MetricsEnabled should default to true")
	}
	if cfg.NotifySweepInterval != time.Hour {
		t.Fatalf("NotifySweepInterval=%v", cfg.NotifySweepInterval)
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Fatalf("CORSAllowedOrigins=%v want empty", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("CARELINK_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("CARELINK_METRICS_ENABLED", "false")
	t.Setenv("CARELINK_NOTIFY_SWEEP_INTERVAL", "10m")
	t.Setenv("CARELINK_CORS_ALLOWED_ORIGINS", "http://localhost:*, https://app.example.com")

	cfg := LoadConfig()

	if cfg.HTTPAddr != "127.0.0.1:9999" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.MetricsEnabled {
		t.Fatalf("MetricsEnabled should be overridden to false")
	}
	if cfg.NotifySweepInterval != 10*time.Minute {
		t.Fatalf("NotifySweepInterval=%v", cfg.NotifySweepInterval)
	}
	want := []string{"http://localhost:*", "https://app.example.com"}
	if len(cfg.CORSAllowedOrigins) != len(want) {
		t.Fatalf("CORSAllowedOrigins=%v want %v", cfg.CORSAllowedOrigins, want)
	}
	for i := range want {
		if cfg.CORSAllowedOrigins[i] != want[i] {
			t.Fatalf("CORSAllowedOrigins[%d]=%q want %q", i, cfg.CORSAllowedOrigins[i], want[i])
		}
	}
}

func TestOriginAllowed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		origin  string
		allowed []string
		want    bool
	}{
		{name: "exact match", origin: "https://app.example.com", allowed: []string{"https://app.example.com"}, want: true},
		{name: "case insensitive", origin: "https://App.Example.Com", allowed: []string{"https://app.example.com"}, want: true},
		{name: "wildcard all", origin: "https://anything.test", allowed: []string{"*"}, want: true},
		{name: "port wildcard", origin: "http://localhost:5173", allowed: []string{"http://localhost:*"}, want: true},
		{name: "port wildcard wrong host", origin: "http://evil.test:5173", allowed: []string{"http://localhost:*"}, want: false},
		{name: "no match", origin: "https://evil.test", allowed: []string{"https://app.example.com"}, want: false},
		{name: "empty allowlist", origin: "https://app.example.com", allowed: nil, want: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := originAllowed(tc.origin, tc.allowed); got != tc.want {
				t.Fatalf("originAllowed(%q, %v)=%v want=%v", tc.origin, tc.allowed, got, tc.want)
			}
		})
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()

	key := paseto.NewV4AsymmetricSecretKey()
	t.Setenv("CARELINK_PASETO_V4_SECRET_KEY_HEX", key.ExportHex())

	cfg := LoadConfig()
	cfg.DatabaseURL = ""
	cfg.MetricsEnabled = true

	a, err := New(cfg, NewLogger("error"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func testAppHandler(t *testing.T, a *App) http.Handler {
	t.Helper()

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws, a.auth, a.notifyHandler, a.metrics)
	return mux
}

func TestNew_InMemoryRuntimeRoutes(t *testing.T) {
	a := newTestApp(t)
	defer a.auth.Close()
	h := testAppHandler(t, a)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/healthz status=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/readyz status=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics status=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "carelink_ws_active_connections") {
		t.Fatalf("/metrics body missing gauge: %q", rec.Body.String()[:min(200, rec.Body.Len())])
	}

	// Authenticated surfaces refuse anonymous callers.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notifications", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("/notifications status=%d want 401", rec.Code)
	}
}

func TestReadyz_RequiresDBWhenConfigured(t *testing.T) {
	a := newTestApp(t)
	defer a.auth.Close()
	a.cfg.ReadinessRequireDB = true
	h := testAppHandler(t, a)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("/readyz status=%d want 503", rec.Code)
	}
}

func TestNew_RequiresPasetoKey(t *testing.T) {
	t.Setenv("CARELINK_PASETO_V4_SECRET_KEY_HEX", "")

	cfg := LoadConfig()
	cfg.DatabaseURL = ""

	if _, err := New(cfg, NewLogger("error")); err == nil {
		t.Fatalf("expected error when signing key is missing")
	}
}

func TestEnvCSV(t *testing.T) {
	t.Setenv("CARELINK_TEST_CSV", " a, ,b ,")
	got := EnvCSV("CARELINK_TEST_CSV", nil)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("EnvCSV=%v", got)
	}

	t.Setenv("CARELINK_TEST_CSV", "")
	got = EnvCSV("CARELINK_TEST_CSV", []string{"x"})
	if len(got) != 1 || got[0] != "x" {
		t.Fatalf("EnvCSV default=%v", got)
	}
}
