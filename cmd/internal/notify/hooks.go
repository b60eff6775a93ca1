package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	v1 "carelink/contracts/realtime/v1"
	"carelink/cmd/internal/realtime"
)

// Hook observes a notification after it has been persisted. Hooks run
// post-commit and are error-isolated: a failing hook is logged, never
// propagated, and never rolls back the record.
type Hook interface {
	Notify(ctx context.Context, n Notification)
}

// Metrics counts push outcomes. Implementations must be safe for concurrent
// use. A nil Metrics is valid and counts nothing.
type Metrics interface {
	// NotificationPushed counts a successful live websocket push.
	NotificationPushed()
	// NotificationDeferred counts a dispatch whose recipient was offline.
	NotificationDeferred()
	// NotificationDropped counts a push refused by a saturated send queue.
	NotificationDropped()
}

// RealtimePushHook pushes freshly persisted notifications to the recipient's
// live websocket connection, when one exists. Offline recipients are a
// deferred delivery, not an error; the persisted record is their fallback.
type RealtimePushHook struct {
	presence *realtime.Presence
	metrics  Metrics
	log      *slog.Logger
}

// NewRealtimePushHook constructs the live-push hook. metrics may be nil.
func NewRealtimePushHook(presence *realtime.Presence, metrics Metrics, log *slog.Logger) *RealtimePushHook {
	if log == nil {
		log = slog.Default()
	}
	return &RealtimePushHook{presence: presence, metrics: metrics, log: log}
}

func (h *RealtimePushHook) Notify(_ context.Context, n Notification) {
	client := h.presence.Lookup(n.RecipientID)
	if client == nil {
		if h.metrics != nil {
			h.metrics.NotificationDeferred()
		}
		return
	}

	payload, err := json.Marshal(v1.NotificationPayload{
		ID:             n.ID,
		Type:           n.Type,
		Title:          n.Title,
		Body:           n.Body,
		EntityKind:     n.EntityKind,
		EntityID:       n.EntityID,
		Priority:       string(n.Priority),
		VisualPriority: n.VisualPriority,
		CreatedAt:      n.CreatedAt,
		ExpiresAt:      n.ExpiresAt,
	})
	if err != nil {
		h.log.Error("notify.push.marshal_failed", "notification_id", n.ID, "err", err)
		return
	}

	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeNotification,
		ID:      n.ID,
		TS:      time.Now().UTC(),
		Payload: payload,
	}
	if client.TryEnqueue(env) {
		if h.metrics != nil {
			h.metrics.NotificationPushed()
		}
		return
	}

	// Saturated or closing client. The persisted record still reaches the
	// recipient through the list endpoint.
	if h.metrics != nil {
		h.metrics.NotificationDropped()
	}
	h.log.Warn("notify.push.dropped",
		"notification_id", n.ID,
		"recipient_id", n.RecipientID,
	)
}

var _ Hook = (*RealtimePushHook)(nil)
