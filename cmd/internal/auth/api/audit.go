package authapi

import (
	"context"
	"net"
)

// Audit events are structured log lines only; nothing is persisted. The
// internal reason for an auth failure appears here and never in the HTTP
// response, which stays a uniform invalid_credentials.

func (h *Handler) auditLoginFailed(ctx context.Context, identityID string, ip net.IP, identifier, reason string) {
	h.log.InfoContext(ctx, "auth.login.failed",
		"identity_id", identityID,
		"ip", ipString(ip),
		"identifier", identifier,
		"reason", reason,
	)
}

func (h *Handler) auditLoginSuccess(ctx context.Context, identityID string, ip net.IP, identifier string) {
	h.log.InfoContext(ctx, "auth.login.success",
		"identity_id", identityID,
		"ip", ipString(ip),
		"identifier", identifier,
	)
}

func (h *Handler) auditLoginRateLimited(ctx context.Context, ip net.IP, identifier, scope string) {
	h.log.WarnContext(ctx, "auth.login.rate_limited",
		"ip", ipString(ip),
		"identifier", identifier,
		"scope", scope,
	)
}

func (h *Handler) auditRefresh(ctx context.Context, identityID string, ip net.IP) {
	h.log.InfoContext(ctx, "auth.refresh.success",
		"identity_id", identityID,
		"ip", ipString(ip),
	)
}

func (h *Handler) auditRefreshFailed(ctx context.Context, ip net.IP, reason string) {
	h.log.InfoContext(ctx, "auth.refresh.failed",
		"ip", ipString(ip),
		"reason", reason,
	)
}

func (h *Handler) auditLogout(ctx context.Context, identityID string, ip net.IP) {
	h.log.InfoContext(ctx, "auth.logout",
		"identity_id", identityID,
		"ip", ipString(ip),
	)
}

func (h *Handler) auditPasswordChanged(ctx context.Context, identityID string, ip net.IP) {
	h.log.InfoContext(ctx, "auth.password.changed",
		"identity_id", identityID,
		"ip", ipString(ip),
	)
}

func (h *Handler) auditRegistered(ctx context.Context, identityID string, ip net.IP) {
	h.log.InfoContext(ctx, "auth.register",
		"identity_id", identityID,
		"ip", ipString(ip),
	)
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
