package store

import (
	"context"
	"sync"
)

// MemStore is an in-memory Store used in tests.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string][]byte)}
}

// Get implements Store.
func (m *MemStore) Get(_ context.Context, keys ...string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	values := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if v, ok := m.entries[key]; ok {
			cp := make([]byte, len(v))
			copy(cp, v)
			values[key] = cp
		}
	}
	return values, nil
}

// Set implements Store.
func (m *MemStore) Set(_ context.Context, entries map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, value := range entries {
		cp := make([]byte, len(value))
		copy(cp, value)
		m.entries[key] = cp
	}
	return nil
}

// Remove implements Store.
func (m *MemStore) Remove(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}
