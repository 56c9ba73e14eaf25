package store

import (
	"context"
	"sync"
)

// MemoryBackend keeps values in process memory. It serves single-replica
// deployments and tests.
type MemoryBackend struct {
	mu     sync.Mutex
	values map[string][]byte
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string][]byte)}
}

// Get returns a copy of the value stored at key.
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.values[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

// Set stores a raw value, bypassing versioning.
func (m *MemoryBackend) Set(_ context.Context, key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
}

// Update holds the backend lock for the whole read-modify-write cycle.
func (m *MemoryBackend) Update(_ context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := fn(m.values[key])
	if err != nil {
		return err
	}
	m.values[key] = next
	return nil
}

// Close is a no-op.
func (m *MemoryBackend) Close() error {
	return nil
}
