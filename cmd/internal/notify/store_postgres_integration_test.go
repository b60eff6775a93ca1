package notify

import (
	"context"
	"os"
	"testing"
	"time"

	"carelink/cmd/identity/ids"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests run only when CARELINK_DATABASE_URL is set.

func openNotifyTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("CARELINK_DATABASE_URL")
	if dsn == "" {
		t.Skip("CARELINK_DATABASE_URL not set; skipping integration test")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func applyNotificationSchema(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()
	_, err := pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS care`)
	if err != nil {
		t.Fatalf("create schema: %v", err)
	}
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS care.notifications (
			id              TEXT PRIMARY KEY,
			recipient_id    TEXT NOT NULL,
			recipient_role  TEXT NOT NULL,
			type            TEXT NOT NULL,
			title           TEXT NOT NULL,
			body            TEXT NOT NULL DEFAULT '',
			entity_kind     TEXT NOT NULL DEFAULT '',
			entity_id       TEXT NOT NULL DEFAULT '',
			priority        TEXT NOT NULL,
			visual_priority TEXT NOT NULL,
			read            BOOLEAN NOT NULL DEFAULT FALSE,
			read_at         TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL,
			expires_at      TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
}

func seedNotification(t *testing.T, recipientID string, now time.Time, expiresAt time.Time) Notification {
	t.Helper()
	id, err := ids.NewULID(now)
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	return Notification{
		ID:             id,
		RecipientID:    recipientID,
		RecipientRole:  "patient",
		Type:           "appointment.reminder",
		Title:          "Upcoming appointment",
		Priority:       PriorityNormal,
		VisualPriority: PriorityNormal.VisualPriority(),
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
	}
}

func TestPostgresStore_ReadLifecycle(t *testing.T) {
	pool := openNotifyTestPool(t)
	applyNotificationSchema(t, pool)
	store := NewPostgresStore(pool)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	recipient, err := ids.NewULID(now)
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}

	n := seedNotification(t, recipient, now, now.Add(DefaultExpiry))
	if err := store.Create(ctx, n); err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, `DELETE FROM care.notifications WHERE recipient_id = $1`, recipient)
	})

	count, err := store.UnreadCount(ctx, recipient, "patient", now)
	if err != nil || count != 1 {
		t.Fatalf("unread count: %d %v", count, err)
	}

	if err := store.MarkRead(ctx, n.ID, now); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	// Idempotent; the original read_at sticks.
	if err := store.MarkRead(ctx, n.ID, now.Add(time.Hour)); err != nil {
		t.Fatalf("mark read again: %v", err)
	}
	got, err := store.GetByID(ctx, n.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Read || got.ReadAt == nil || !got.ReadAt.Equal(now) {
		t.Fatalf("read state: %+v", got)
	}

	if err := store.MarkRead(ctx, "missing", now); err != ErrNotFound {
		t.Fatalf("unknown id: got %v want ErrNotFound", err)
	}
}

func TestPostgresStore_ExpirySweep(t *testing.T) {
	pool := openNotifyTestPool(t)
	applyNotificationSchema(t, pool)
	store := NewPostgresStore(pool)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	recipient, err := ids.NewULID(now)
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, `DELETE FROM care.notifications WHERE recipient_id = $1`, recipient)
	})

	stale := seedNotification(t, recipient, now.Add(-2*time.Hour), now.Add(-time.Hour))
	fresh := seedNotification(t, recipient, now, now.Add(DefaultExpiry))
	for _, n := range []Notification{stale, fresh} {
		if err := store.Create(ctx, n); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	items, err := store.ListForRecipient(ctx, recipient, "patient", ListFilter{}, now)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].ID != fresh.ID {
		t.Fatalf("expiry exclusion: got %d items", len(items))
	}

	if _, err := store.DeleteExpired(ctx, now); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if _, err := store.GetByID(ctx, stale.ID); err != ErrNotFound {
		t.Fatalf("stale record must be gone: got %v", err)
	}
	if _, err := store.GetByID(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh record must survive: %v", err)
	}
}
