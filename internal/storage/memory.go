package storage

import (
	"strings"
	"sync"
)

// MemoryStore is an in-memory KeyValueStore with an optional byte quota.
// It models tab-scoped session storage: contents live only as long as the
// process, and writes past the quota fail the way a full browser store does.
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string]string
	maxBytes int64
	size     int64
}

// NewMemoryStore creates an unbounded in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

// NewBoundedMemoryStore creates an in-memory store that rejects writes
// once the total size of keys and values would exceed maxBytes.
func NewBoundedMemoryStore(maxBytes int64) *MemoryStore {
	return &MemoryStore{data: make(map[string]string), maxBytes: maxBytes}
}

// Get returns the value for key.
func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Set stores value under key. Returns ErrQuotaExceeded when the store is
// bounded and the write would push it past its quota.
func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delta := int64(len(key) + len(value))
	if old, ok := m.data[key]; ok {
		delta -= int64(len(key) + len(old))
	}
	if m.maxBytes > 0 && m.size+delta > m.maxBytes {
		return ErrQuotaExceeded
	}

	m.data[key] = value
	m.size += delta
	return nil
}

// Remove deletes the value for key.
func (m *MemoryStore) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.data[key]; ok {
		m.size -= int64(len(key) + len(old))
		delete(m.data, key)
	}
	return nil
}

// Keys returns all keys starting with prefix.
func (m *MemoryStore) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
