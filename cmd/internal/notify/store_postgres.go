package notify

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL (care.notifications).
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed notification store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const notificationColumns = `
	id, recipient_id, recipient_role,
	type, title, body, entity_kind, entity_id,
	priority, visual_priority,
	read, read_at, created_at, expires_at`

func (s *PostgresStore) Create(ctx context.Context, n Notification) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO care.notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		n.ID, n.RecipientID, n.RecipientRole,
		n.Type, n.Title, n.Body, n.EntityKind, n.EntityID,
		string(n.Priority), n.VisualPriority,
		n.Read, n.ReadAt, n.CreatedAt, n.ExpiresAt,
	)
	return err
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (Notification, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+notificationColumns+`
		FROM care.notifications
		WHERE id = $1
	`, id)
	return scanNotification(row)
}

func (s *PostgresStore) MarkRead(ctx context.Context, id string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE care.notifications
		SET read = TRUE, read_at = COALESCE(read_at, $2)
		WHERE id = $1
	`, id, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkManyRead(ctx context.Context, ids []string, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE care.notifications
		SET read = TRUE, read_at = COALESCE(read_at, $2)
		WHERE id = ANY($1) AND read = FALSE
	`, ids, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) UnreadCount(ctx context.Context, recipientID, recipientRole string, now time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM care.notifications
		WHERE recipient_id = $1 AND recipient_role = $2 AND read = FALSE AND expires_at > $3
	`, recipientID, recipientRole, now).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *PostgresStore) ListForRecipient(ctx context.Context, recipientID, recipientRole string, f ListFilter, now time.Time) ([]Notification, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var rows pgx.Rows
	var err error
	if f.Read == nil {
		rows, err = s.pool.Query(ctx, `
			SELECT `+notificationColumns+`
			FROM care.notifications
			WHERE recipient_id = $1 AND recipient_role = $2 AND expires_at > $3
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		`, recipientID, recipientRole, now, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT `+notificationColumns+`
			FROM care.notifications
			WHERE recipient_id = $1 AND recipient_role = $2 AND expires_at > $3 AND read = $4
			ORDER BY created_at DESC, id DESC
			LIMIT $5
		`, recipientID, recipientRole, now, *f.Read, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM care.notifications
		WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanNotification(row pgx.Row) (Notification, error) {
	var n Notification
	var priority string
	err := row.Scan(
		&n.ID, &n.RecipientID, &n.RecipientRole,
		&n.Type, &n.Title, &n.Body, &n.EntityKind, &n.EntityID,
		&priority, &n.VisualPriority,
		&n.Read, &n.ReadAt, &n.CreatedAt, &n.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Notification{}, ErrNotFound
	}
	if err != nil {
		return Notification{}, err
	}
	n.Priority = Priority(priority)
	return n, nil
}

var _ Store = (*PostgresStore)(nil)
