package memory

import (
	"context"
	"slices"
	"sync"

	"wordchat/internal/domain"
)

// MemBlobs is a process-local domain.BlobStore.
type MemBlobs struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemBlobs() *MemBlobs {
	return &MemBlobs{data: make(map[string][]byte)}
}

func (m *MemBlobs) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, domain.ErrBlobNotFound
	}
	return slices.Clone(v), nil
}

func (m *MemBlobs) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = slices.Clone(value)
	return nil
}

func (m *MemBlobs) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemBlobs) Close() error { return nil }
