package publish

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"
)

// MemoryTarget is an in-memory implementation of the Target interface.
// It is useful for testing and is safe for concurrent use.
type MemoryTarget struct {
	objects map[string][]byte
	mu      sync.RWMutex
}

// NewMemoryTarget creates a new, empty in-memory target.
func NewMemoryTarget() *MemoryTarget {
	return &MemoryTarget{objects: make(map[string][]byte)}
}

// Put stores the object at key, replacing any previous version.
func (m *MemoryTarget) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read object: %w", err)
	}

	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = data
	return nil
}

// Get returns the object stored at key.
func (m *MemoryTarget) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[key]
	return data, ok
}

// Keys returns the stored keys, sorted.
func (m *MemoryTarget) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Sorted(maps.Keys(m.objects))
}

// ValidateSetup always succeeds for the in-memory target.
func (m *MemoryTarget) ValidateSetup(ctx context.Context) error {
	return nil
}

// Compile-time check that MemoryTarget implements Target
var _ Target = (*MemoryTarget)(nil)
