package quota

import (
	"context"
	"sync"
)

// MemoryStore keeps usage counters in process memory. Suitable for
// development and tests; counts reset on restart.
type MemoryStore struct {
	mu   sync.Mutex
	used map[string]int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{used: make(map[string]int)}
}

// Used implements Store.
func (s *MemoryStore) Used(ctx context.Context, clientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used[clientID], nil
}

// Incr implements Store.
func (s *MemoryStore) Incr(ctx context.Context, clientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used[clientID]++
	return s.used[clientID], nil
}

var _ Store = (*MemoryStore)(nil)
