package audit

import (
	"context"
	"sync"
)

type Store interface {
	Append(ctx context.Context, e Entry) (Entry, error)
	List(ctx context.Context, limit int) ([]Entry, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]Entry, error)
}

// InMemoryStore keeps the most recent capacity entries.
type InMemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	capacity int
	entries  []Entry
}

func NewInMemoryStore(capacity int) *InMemoryStore {
	if capacity <= 0 {
		capacity = 10000
	}
	return &InMemoryStore{capacity: capacity}
}

func (s *InMemoryStore) Append(_ context.Context, e Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	e.ID = s.nextID
	s.entries = append(s.entries, e)
	if over := len(s.entries) - s.capacity; over > 0 {
		s.entries = append(s.entries[:0:0], s.entries[over:]...)
	}
	return e, nil
}

func (s *InMemoryStore) List(_ context.Context, limit int) ([]Entry, error) {
	return s.newest(normalizeLimit(limit), func(Entry) bool { return true }), nil
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID int64, limit int) ([]Entry, error) {
	return s.newest(normalizeLimit(limit), func(e Entry) bool {
		return e.UserID != nil && *e.UserID == userID
	}), nil
}

func (s *InMemoryStore) newest(limit int, keep func(Entry) bool) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, min(limit, len(s.entries)))
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if keep(s.entries[i]) {
			out = append(out, s.entries[i])
		}
	}
	return out
}
