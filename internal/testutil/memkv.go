package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/Zerg00s/captions-relay/internal/store"
)

// MemKV is a thread-safe in-memory store.KV for testing. It enforces the
// same per-key ceiling as the real backends and can inject failures.
type MemKV struct {
	mu   sync.Mutex
	data map[string][]byte

	SetErr error
	GetErr error

	SetCalls    int
	DeleteCalls int
}

func NewMemKV() *MemKV {
	return &MemKV{data: make(map[string][]byte)}
}

func (m *MemKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, store.ErrKeyNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *MemKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetCalls++
	if m.SetErr != nil {
		return m.SetErr
	}
	if len(value) > store.MaxValueBytes {
		return store.ErrValueTooLarge
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

func (m *MemKV) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *MemKV) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Len returns the number of stored keys.
func (m *MemKV) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// Drop removes a single key directly, simulating a lost chunk.
func (m *MemKV) Drop(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}
