package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	authtoken "carelink/cmd/internal/auth/token"
)

// AccessVerifier validates a bearer access token and returns its claims.
// Satisfied by the auth token service.
type AccessVerifier interface {
	VerifyAccess(ctx context.Context, accessToken string, now time.Time) (authtoken.AccessClaims, error)
}

// Handler exposes the recipient-facing notification endpoints.
type Handler struct {
	log      *slog.Logger
	svc      *Service
	verifier AccessVerifier

	maxBodyBytes int64
}

// NewHandler constructs the notification HTTP handler. log may be nil.
func NewHandler(log *slog.Logger, svc *Service, verifier AccessVerifier) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		log:          log,
		svc:          svc,
		verifier:     verifier,
		maxBodyBytes: 64 << 10,
	}
}

// Register wires notification routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/notifications", h.handleList)
	mux.HandleFunc("/notifications/unread_count", h.handleUnreadCount)
	mux.HandleFunc("/notifications/read", h.handleMarkRead)
}

// ---- handlers ----

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	f := ListFilter{}
	q := r.URL.Query()
	switch strings.ToLower(strings.TrimSpace(q.Get("read"))) {
	case "":
	case "true":
		v := true
		f.Read = &v
	case "false":
		v := false
		f.Read = &v
	default:
		writeNotifyError(w, http.StatusBadRequest, "invalid_request", "read must be true or false")
		return
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeNotifyError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	items, err := h.svc.ListForRecipient(r.Context(), claims.IdentityID, claims.Role, f, time.Now().UTC())
	if err != nil {
		h.log.Error("notify.list.fail", "err", err)
		writeNotifyError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	out := make([]notificationResponse, 0, len(items))
	for _, n := range items {
		out = append(out, toNotificationResponse(n))
	}
	writeNotifyJSON(w, http.StatusOK, listResponse{Notifications: out})
}

func (h *Handler) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	count, err := h.svc.UnreadCount(r.Context(), claims.IdentityID, claims.Role, time.Now().UTC())
	if err != nil {
		h.log.Error("notify.unread_count.fail", "err", err)
		writeNotifyError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeNotifyJSON(w, http.StatusOK, unreadCountResponse{Unread: count})
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req markReadRequest
	if err := decodeNotifyJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeNotifyError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		writeNotifyError(w, http.StatusBadRequest, "invalid_request", "ids is required")
		return
	}
	if len(req.IDs) > 100 {
		writeNotifyError(w, http.StatusBadRequest, "invalid_request", "too many ids (max 100)")
		return
	}

	transitioned, err := h.svc.MarkManyRead(r.Context(), claims.IdentityID, claims.Role, req.IDs, time.Now().UTC())
	if err != nil {
		h.log.Error("notify.mark_read.fail", "err", err)
		writeNotifyError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeNotifyJSON(w, http.StatusOK, markReadResponse{MarkedRead: transitioned})
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (authtoken.AccessClaims, bool) {
	token := bearerNotifyToken(r)
	if token == "" {
		writeNotifyError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return authtoken.AccessClaims{}, false
	}
	claims, err := h.verifier.VerifyAccess(r.Context(), token, time.Now().UTC())
	if err != nil {
		if authtoken.IsTransient(err) {
			writeNotifyError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
			return authtoken.AccessClaims{}, false
		}
		writeNotifyError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return authtoken.AccessClaims{}, false
	}
	return claims, true
}

func bearerNotifyToken(r *http.Request) string {
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

// ---- wire models ----

type notificationResponse struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	Title          string     `json:"title"`
	Body           string     `json:"body,omitempty"`
	EntityKind     string     `json:"entity_kind,omitempty"`
	EntityID       string     `json:"entity_id,omitempty"`
	Priority       string     `json:"priority"`
	VisualPriority string     `json:"visual_priority"`
	Read           bool       `json:"read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
}

func toNotificationResponse(n Notification) notificationResponse {
	return notificationResponse{
		ID:             n.ID,
		Type:           n.Type,
		Title:          n.Title,
		Body:           n.Body,
		EntityKind:     n.EntityKind,
		EntityID:       n.EntityID,
		Priority:       string(n.Priority),
		VisualPriority: n.VisualPriority,
		Read:           n.Read,
		ReadAt:         n.ReadAt,
		CreatedAt:      n.CreatedAt,
		ExpiresAt:      n.ExpiresAt,
	}
}

type listResponse struct {
	Notifications []notificationResponse `json:"notifications"`
}

type unreadCountResponse struct {
	Unread int64 `json:"unread"`
}

type markReadRequest struct {
	IDs []string `json:"ids"`
}

type markReadResponse struct {
	MarkedRead int64 `json:"marked_read"`
}

// ---- json helpers ----

type notifyAPIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type notifyErrorResponse struct {
	Error notifyAPIError `json:"error"`
}

func writeNotifyJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeNotifyError(w http.ResponseWriter, status int, code, msg string) {
	writeNotifyJSON(w, status, notifyErrorResponse{Error: notifyAPIError{Code: code, Message: msg}})
}

func decodeNotifyJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
