package artifacts

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps artifacts in process memory. It is safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func memoryKey(prefix string, kind Kind) string {
	return prefix + "/" + string(kind)
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, prefix string, kind Kind) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[memoryKey(prefix, kind)]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", prefix, kind, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, prefix string, kind Kind, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blobs[memoryKey(prefix, kind)] = append([]byte(nil), data...)
	return nil
}

// Delete implements Deleter.
func (s *MemoryStore) Delete(ctx context.Context, prefix string, kind Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey(prefix, kind)
	if _, ok := s.blobs[key]; !ok {
		return fmt.Errorf("%s/%s: %w", prefix, kind, ErrNotFound)
	}
	delete(s.blobs, key)
	return nil
}

// Keys lists stored keys in sorted order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.blobs))
	for k := range s.blobs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ Deleter = (*MemoryStore)(nil)
)
