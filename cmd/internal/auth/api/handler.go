package authapi

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"carelink/cmd/identity"
	authtoken "carelink/cmd/internal/auth/token"
)

// Handler wires the HTTP auth endpoints to the identity store and the token
// lifecycle service.
//
// Failure policy: every auth-class failure (unknown email, bad password,
// inactive account, revoked or expired token) maps to the same generic
// response; the concrete reason is logged, never returned.
type Handler struct {
	log *slog.Logger
	cfg Config

	identities identity.Store
	tokens     *authtoken.Service

	ipThrottle         *keyedLimiter
	identifierThrottle *keyedLimiter

	dummyHash string
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, identities identity.Store, tokens *authtoken.Service) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if identities == nil {
		return nil, errors.New("auth: nil identity store")
	}
	if tokens == nil {
		return nil, errors.New("auth: nil token service")
	}

	h := &Handler{
		log:        log,
		cfg:        cfg,
		identities: identities,
		tokens:     tokens,

		ipThrottle:         newKeyedLimiter(cfg.LoginIPPerMinute, cfg.LoginIPBurst, cfg.ThrottleCleanupInterval),
		identifierThrottle: newKeyedLimiter(cfg.LoginIdentifierPerMinute, cfg.LoginIdentifierBurst, cfg.ThrottleCleanupInterval),
	}

	// Dummy hash for timing-resistant login checks.
	if hash, err := identity.HashPassword("dummy-password-for-timing-only", identity.DefaultArgon2idParams()); err == nil {
		h.dummyHash = hash
	}

	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/change_password", h.handleChangePassword)
	mux.HandleFunc("/auth/register", h.handleRegister)
	mux.HandleFunc("/me", h.handleMe)
}

// Close stops the throttle cleanup loops.
func (h *Handler) Close() {
	if h == nil {
		return
	}
	h.ipThrottle.Stop()
	h.identifierThrottle.Stop()
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	email := identity.NormalizeEmail(req.Email)
	password := req.Password
	if email == "" || password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)

	// Throttle before any store work.
	if !h.ipThrottle.Allow(ipString(ip)) {
		h.auditLoginRateLimited(ctx, ip, email, "ip")
		writeRateLimited(w, h.ipThrottle.limit)
		return
	}
	if !h.identifierThrottle.Allow(email) {
		h.auditLoginRateLimited(ctx, ip, email, "identifier")
		writeRateLimited(w, h.identifierThrottle.limit)
		return
	}

	ident, err := h.identities.GetByEmail(ctx, email)
	if err != nil {
		// Timing resistance: perform a dummy verify when the identity is missing.
		if h.dummyHash != "" {
			_, _ = identity.VerifyPassword(password, h.dummyHash)
		}
		if !identity.IsNotFound(err) {
			h.log.Error("auth.login.lookup.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		h.auditLoginFailed(ctx, "", ip, email, "not_found")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	okPw, err := identity.VerifyPassword(password, ident.PasswordHash)
	if err != nil || !okPw {
		h.auditLoginFailed(ctx, ident.ID, ip, email, "bad_password")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	pair, err := h.tokens.IssuePair(ctx, now, ident)
	if err != nil {
		if errors.Is(err, authtoken.ErrAccountInactive) {
			h.auditLoginFailed(ctx, ident.ID, ip, email, "inactive")
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return
		}
		h.log.Error("auth.login.issue.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditLoginSuccess(ctx, ident.ID, ip, email)
	writeJSON(w, http.StatusOK, loginResponse{
		Identity:    toIdentityResponse(ident),
		Credentials: toCredentialsResponse(pair),
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)

	pair, err := h.tokens.Rotate(ctx, now, req.RefreshToken)
	if err != nil {
		switch {
		case authtoken.IsAuthFailure(err):
			h.auditRefreshFailed(ctx, ip, refreshFailReason(err))
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		case authtoken.IsTransient(err):
			writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		default:
			h.log.Error("auth.refresh.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.auditRefresh(ctx, pair.IdentityID, ip)
	writeJSON(w, http.StatusOK, refreshResponse{Credentials: toCredentialsResponse(pair)})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, token, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	if err := h.tokens.Revoke(ctx, now, claims.IdentityID, token, claims.ExpiresAt); err != nil {
		h.log.Error("auth.logout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditLogout(ctx, claims.IdentityID, clientIP(r, h.cfg.TrustProxy))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, token, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if req.OldPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "old_password and new_password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	ident, err := h.identities.GetByID(ctx, claims.IdentityID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		h.log.Error("auth.change_password.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	okPw, err := identity.VerifyPassword(req.OldPassword, ident.PasswordHash)
	if err != nil || !okPw {
		h.auditLoginFailed(ctx, ident.ID, clientIP(r, h.cfg.TrustProxy), ident.EmailNorm, "bad_old_password")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	newHash, err := identity.HashPassword(req.NewPassword, identity.DefaultArgon2idParams())
	if err != nil {
		if identity.IsInvalidInput(err) {
			writeError(w, http.StatusBadRequest, "invalid_request", "new password is too weak")
			return
		}
		h.log.Error("auth.change_password.hash.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	if err := h.identities.UpdatePasswordHash(ctx, ident.ID, newHash, now); err != nil {
		h.log.Error("auth.change_password.update.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	// Full revocation completes before the response is written. Other
	// devices must re-authenticate with the new password.
	if err := h.tokens.RevokeAllOnCredentialChange(ctx, now, ident.ID, token, claims.ExpiresAt); err != nil {
		h.log.Error("auth.change_password.revoke.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditPasswordChanged(ctx, ident.ID, clientIP(r, h.cfg.TrustProxy))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)

	// Registration shares the login IP throttle.
	if !h.ipThrottle.Allow(ipString(ip)) {
		writeRateLimited(w, h.ipThrottle.limit)
		return
	}

	// Self-registration is patient-only and starts inactive: a coordinator
	// or admin activates the account before it can sign in.
	ident, err := h.identities.Create(ctx, identity.CreateIdentityInput{
		Role:        identity.RolePatient,
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Password:    req.Password,
		Active:      false,
		Now:         now,
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			writeError(w, http.StatusConflict, "conflict", "email already registered")
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid registration input")
		default:
			h.log.Error("auth.register.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.auditRegistered(ctx, ident.ID, ip)
	writeJSON(w, http.StatusCreated, registerResponse{Identity: toIdentityResponse(ident)})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, _, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ident, err := h.identities.GetByID(r.Context(), claims.IdentityID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{Identity: toIdentityResponse(ident)})
}

// ---- helpers ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (authtoken.AccessClaims, string, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return authtoken.AccessClaims{}, "", false
	}
	claims, err := h.tokens.VerifyAccess(r.Context(), token, time.Now().UTC())
	if err != nil {
		if authtoken.IsTransient(err) {
			writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
			return authtoken.AccessClaims{}, "", false
		}
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return authtoken.AccessClaims{}, "", false
	}
	return claims, token, true
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func refreshFailReason(err error) string {
	switch {
	case errors.Is(err, authtoken.ErrExpiredRefresh):
		return "expired"
	case errors.Is(err, authtoken.ErrRevokedRefresh):
		return "revoked"
	case errors.Is(err, authtoken.ErrAccountInactive):
		return "inactive"
	default:
		return "invalid"
	}
}

func toIdentityResponse(i identity.Identity) identityResponse {
	return identityResponse{
		ID:          i.ID,
		Role:        i.Role.String(),
		Email:       i.Email,
		DisplayName: i.DisplayName,
		Active:      i.Active,
		CreatedAt:   i.CreatedAt,
	}
}

func toCredentialsResponse(p authtoken.Pair) credentialsResponse {
	return credentialsResponse{
		AccessToken:      p.AccessToken,
		AccessExpiresAt:  p.AccessExp,
		RefreshToken:     p.RefreshToken,
		RefreshExpiresAt: p.RefreshExp,
	}
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
