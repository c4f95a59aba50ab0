package archive

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultInMemoryLimit = 1000

// InMemoryStore keeps the newest entries per entity in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	limit   int
	closed  bool
	entries map[string][]Entry
}

func NewInMemoryStore(limit int) *InMemoryStore {
	if limit <= 0 {
		limit = defaultInMemoryLimit
	}
	return &InMemoryStore{limit: limit, entries: make(map[string][]Entry)}
}

func (s *InMemoryStore) SaveTurn(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	arr := append(s.entries[entry.EntityID], entry)
	if len(arr) > s.limit {
		arr = append([]Entry(nil), arr[len(arr)-s.limit:]...)
	}
	s.entries[entry.EntityID] = arr
	return nil
}

func (s *InMemoryStore) Recent(_ context.Context, entityID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	arr := s.entries[entityID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	return append([]Entry(nil), arr[len(arr)-limit:]...), nil
}

func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
