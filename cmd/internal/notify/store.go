package notify

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a notification id does not exist.
var ErrNotFound = errors.New("notification not found")

// ListFilter narrows ListForRecipient results. A nil Read means both read
// and unread records.
type ListFilter struct {
	Read  *bool
	Limit int
}

// Store persists notifications.
//
// All read-side queries exclude records past their expiry; expired rows are
// physically removed by the sweeper, so the exclusion only covers the window
// between expiry and the next sweep.
type Store interface {
	Create(ctx context.Context, n Notification) error

	GetByID(ctx context.Context, id string) (Notification, error)

	// MarkRead flags a notification as read (idempotent; re-marking an
	// already-read record is a successful no-op).
	MarkRead(ctx context.Context, id string, now time.Time) error

	// MarkManyRead flags a batch and returns how many records transitioned
	// from unread to read. Unknown ids are skipped, not errors.
	MarkManyRead(ctx context.Context, ids []string, now time.Time) (int64, error)

	// UnreadCount and ListForRecipient scope by the identity/role pair;
	// a record addressed to the same identity under a different role is
	// not visible.
	UnreadCount(ctx context.Context, recipientID, recipientRole string, now time.Time) (int64, error)

	// ListForRecipient returns the recipient's notifications, newest first.
	ListForRecipient(ctx context.Context, recipientID, recipientRole string, f ListFilter, now time.Time) ([]Notification, error)

	// DeleteExpired removes records past their expiry. Returns rows removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
