package snapshot

import (
	"context"
	"sync"
)

// MemoryStore keeps the encoded snapshot in process. It serves both as the
// single-process backend and as a test double.
type MemoryStore struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// Publish implements Publisher.
func (m *MemoryStore) Publish(_ context.Context, s *Snapshot) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
	return nil
}

// Load implements Source. Each call returns a fresh copy.
func (m *MemoryStore) Load(context.Context) (*Snapshot, error) {
	m.mu.RLock()
	data := m.data
	m.mu.RUnlock()
	if data == nil {
		return nil, ErrNotFound
	}
	return Parse(data)
}

// Bytes returns the last published document, nil when none.
func (m *MemoryStore) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data
}
