package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"carelink/cmd/identity/ids"
)

// Service is the notification delivery engine: resolve the recipient,
// persist, then fan out to post-persist hooks.
type Service struct {
	store     Store
	resolvers ResolverSet
	hooks     []Hook
	log       *slog.Logger
}

// NewService constructs the engine. log may be nil.
func NewService(store Store, resolvers ResolverSet, hooks []Hook, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, resolvers: resolvers, hooks: hooks, log: log}
}

// Dispatch resolves, persists and pushes one notification. Persistence is
// the commit point: once the record is stored the dispatch has succeeded,
// and hook failures (including an offline recipient) do not surface to the
// caller.
func (s *Service) Dispatch(ctx context.Context, in DispatchInput) (Notification, error) {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if err := validateDispatch(in); err != nil {
		return Notification{}, err
	}

	priority := in.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	if !priority.Valid() {
		return Notification{}, fmt.Errorf("invalid priority %q", priority)
	}

	recipientID, err := s.resolvers.Resolve(ctx, in.RecipientRole, in.RecipientRef)
	if err != nil {
		return Notification{}, fmt.Errorf("resolve recipient: %w", err)
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Notification{}, err
	}

	expiresAt := in.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(DefaultExpiry)
	}
	if !expiresAt.After(now) {
		return Notification{}, fmt.Errorf("expires_at must be in the future")
	}

	n := Notification{
		ID:             id,
		RecipientID:    recipientID,
		RecipientRole:  in.RecipientRole,
		Type:           strings.TrimSpace(in.Type),
		Title:          strings.TrimSpace(in.Title),
		Body:           in.Body,
		EntityKind:     in.EntityKind,
		EntityID:       in.EntityID,
		Priority:       priority,
		VisualPriority: priority.VisualPriority(),
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
	}

	if err := s.store.Create(ctx, n); err != nil {
		return Notification{}, fmt.Errorf("persist notification: %w", err)
	}

	s.runHooks(ctx, n)
	return n, nil
}

func (s *Service) runHooks(ctx context.Context, n Notification) {
	for _, h := range s.hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("notify.hook.panic",
						"notification_id", n.ID,
						"panic", fmt.Sprint(r),
					)
				}
			}()
			h.Notify(ctx, n)
		}()
	}
}

func validateDispatch(in DispatchInput) error {
	if strings.TrimSpace(in.RecipientRole) == "" {
		return fmt.Errorf("missing recipient role")
	}
	if strings.TrimSpace(in.RecipientRef) == "" {
		return fmt.Errorf("missing recipient reference")
	}
	if strings.TrimSpace(in.Type) == "" {
		return fmt.Errorf("missing notification type")
	}
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("missing notification title")
	}
	return nil
}

// MarkRead flags one notification read for its recipient. Ownership is the
// identity/role pair. Marking an already-read record succeeds (idempotent);
// marking someone else's record is ErrNotFound, never a disclosure.
func (s *Service) MarkRead(ctx context.Context, recipientID, recipientRole, notificationID string, now time.Time) error {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	n, err := s.store.GetByID(ctx, notificationID)
	if err != nil {
		return err
	}
	if n.RecipientID != recipientID || n.RecipientRole != recipientRole {
		return ErrNotFound
	}
	return s.store.MarkRead(ctx, notificationID, now)
}

// MarkManyRead flags a batch for the recipient and returns how many records
// transitioned from unread to read. Ids belonging to other recipients or
// unknown ids are skipped.
func (s *Service) MarkManyRead(ctx context.Context, recipientID, recipientRole string, ids []string, now time.Time) (int64, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	owned := make([]string, 0, len(ids))
	for _, id := range ids {
		n, err := s.store.GetByID(ctx, id)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return 0, err
		}
		if n.RecipientID == recipientID && n.RecipientRole == recipientRole {
			owned = append(owned, id)
		}
	}
	return s.store.MarkManyRead(ctx, owned, now)
}

// UnreadCount returns the recipient's live unread total (badge counts).
func (s *Service) UnreadCount(ctx context.Context, recipientID, recipientRole string, now time.Time) (int64, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return s.store.UnreadCount(ctx, recipientID, recipientRole, now)
}

// ListForRecipient returns the recipient's notifications, newest first,
// excluding expired records.
func (s *Service) ListForRecipient(ctx context.Context, recipientID, recipientRole string, f ListFilter, now time.Time) ([]Notification, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return s.store.ListForRecipient(ctx, recipientID, recipientRole, f, now)
}

// SweepExpired removes notifications past their expiry horizon.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return s.store.DeleteExpired(ctx, now)
}
