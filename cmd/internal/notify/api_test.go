package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
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

func newTestHandler(t *testing.T, verifier AccessVerifier) (*Handler, *Service) {
	t.Helper()
	svc := newTestService(t)
	return NewHandler(nil, svc, verifier), svc
}

func TestHandler_RequiresBearerToken(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, stubVerifier{claims: authtoken.AccessClaims{IdentityID: "id-1"}})
	mux := http.NewServeMux()
	h.Register(mux)

	for _, path := range []string{"/notifications", "/notifications/unread_count"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s without token: got %d", path, rec.Code)
		}
	}
}

func TestHandler_InvalidTokenIs401_TransientIs503(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want int
	}{
		{authtoken.ErrUnauthenticated, http.StatusUnauthorized},
		{authtoken.TransientError{Op: "blacklist", Cause: errors.New("down")}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		h, _ := newTestHandler(t, stubVerifier{err: tc.err})
		mux := http.NewServeMux()
		h.Register(mux)

		req := httptest.NewRequest(http.MethodGet, "/notifications", nil)
		req.Header.Set("Authorization", "Bearer tok")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("verify err %v: got %d want %d", tc.err, rec.Code, tc.want)
		}
	}
}

func TestHandler_ListAndUnreadCount(t *testing.T) {
	t.Parallel()

	h, svc := newTestHandler(t, stubVerifier{claims: authtoken.AccessClaims{IdentityID: "id-patient-1", Role: "patient"}})
	mux := http.NewServeMux()
	h.Register(mux)

	now := time.Now().UTC()
	if _, err := svc.Dispatch(context.Background(), dispatchInput(now)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/notifications?read=false", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: got %d body %s", rec.Code, rec.Body.String())
	}
	var list listResponse
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Notifications) != 1 || list.Notifications[0].VisualPriority != "urgent" {
		t.Fatalf("list body: %+v", list)
	}

	req = httptest.NewRequest(http.MethodGet, "/notifications/unread_count", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unread_count: got %d", rec.Code)
	}
	var count unreadCountResponse
	if err := json.NewDecoder(rec.Body).Decode(&count); err != nil {
		t.Fatalf("decode count: %v", err)
	}
	if count.Unread != 1 {
		t.Fatalf("unread: got %d want 1", count.Unread)
	}
}

func TestHandler_MarkRead(t *testing.T) {
	t.Parallel()

	h, svc := newTestHandler(t, stubVerifier{claims: authtoken.AccessClaims{IdentityID: "id-patient-1", Role: "patient"}})
	mux := http.NewServeMux()
	h.Register(mux)

	ctx := context.Background()
	now := time.Now().UTC()
	n, err := svc.Dispatch(ctx, dispatchInput(now))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	body := `{"ids":["` + n.ID + `","missing"]}`
	req := httptest.NewRequest(http.MethodPost, "/notifications/read", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("mark read: got %d body %s", rec.Code, rec.Body.String())
	}
	var resp markReadResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.MarkedRead != 1 {
		t.Fatalf("marked_read: got %d want 1", resp.MarkedRead)
	}

	// Empty batch is a client error.
	req = httptest.NewRequest(http.MethodPost, "/notifications/read", strings.NewReader(`{"ids":[]}`))
	req.Header.Set("Authorization", "Bearer tok")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty ids: got %d", rec.Code)
	}
}
