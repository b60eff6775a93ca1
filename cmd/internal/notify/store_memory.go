package notify

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development. It
// mirrors the Postgres store's behavior, including the idempotent MarkRead
// contract and expiry exclusion on reads.
type MemoryStore struct {
	mu   sync.Mutex
	byID map[string]Notification
}

// NewMemoryStore constructs an empty in-memory notification store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]Notification)}
}

func (s *MemoryStore) Create(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[n.ID] = n
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (Notification, error) {
	if err := ctx.Err(); err != nil {
		return Notification{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.byID[id]
	if !ok {
		return Notification{}, ErrNotFound
	}
	return n, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, id string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if !n.Read {
		n.Read = true
		t := now
		n.ReadAt = &t
		s.byID[id] = n
	}
	return nil
}

func (s *MemoryStore) MarkManyRead(ctx context.Context, ids []string, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var transitioned int64
	for _, id := range ids {
		n, ok := s.byID[id]
		if !ok || n.Read {
			continue
		}
		n.Read = true
		t := now
		n.ReadAt = &t
		s.byID[id] = n
		transitioned++
	}
	return transitioned, nil
}

func (s *MemoryStore) UnreadCount(ctx context.Context, recipientID, recipientRole string, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, n := range s.byID {
		if n.RecipientID == recipientID && n.RecipientRole == recipientRole && !n.Read && n.ExpiresAt.After(now) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ListForRecipient(ctx context.Context, recipientID, recipientRole string, f ListFilter, now time.Time) ([]Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	s.mu.Lock()
	var out []Notification
	for _, n := range s.byID {
		if n.RecipientID != recipientID || n.RecipientRole != recipientRole || !n.ExpiresAt.After(now) {
			continue
		}
		if f.Read != nil && n.Read != *f.Read {
			continue
		}
		out = append(out, n)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, n := range s.byID {
		if !n.ExpiresAt.After(now) {
			delete(s.byID, id)
			removed++
		}
	}
	return removed, nil
}

var _ Store = (*MemoryStore)(nil)
