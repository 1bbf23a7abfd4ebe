package memory

import (
	"context"
	"sync"
)

// IdempotencyStore is the in-memory counterpart of the redis-backed key
// store. Keys never expire here; lifetime equals the process.
type IdempotencyStore struct {
	mu   sync.RWMutex
	keys map[string]string
}

func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{keys: make(map[string]string)}
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (string, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys[key], nil
}

func (s *IdempotencyStore) Put(ctx context.Context, key, orderID string) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[key]; !exists {
		s.keys[key] = orderID
	}
	return nil
}
