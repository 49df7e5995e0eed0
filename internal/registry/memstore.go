package registry

import (
	"context"
	"sync"
)

// MemStore is the in-memory local store used in tests and single-node runs.
type MemStore struct {
	mu   sync.RWMutex
	keys map[Ref]Key
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{keys: make(map[Ref]Key)}
}

func (s *MemStore) Get(ctx context.Context, ref Ref) (Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[ref]
	if !ok {
		return Key{}, ErrNotCached
	}
	return key, nil
}

func (s *MemStore) Put(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.Ref()] = key
	return nil
}
