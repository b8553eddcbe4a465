package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process SnapshotStore. It backs tests and hosts that
// persist snapshots through their own save system.
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string][]byte
	blobs  map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents: make(map[string][]byte),
		blobs:  make(map[string][]byte),
	}
}

func (m *MemoryStore) SaveAgent(_ context.Context, agentID string, payload []byte) error {
	m.mu.Lock()
	m.agents[agentID] = append([]byte(nil), payload...)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) LoadAgent(_ context.Context, agentID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.agents[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), p...), nil
}

func (m *MemoryStore) ListAgents(context.Context) ([]string, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.agents))
	for id := range m.agents {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) DeleteAgent(_ context.Context, agentID string) error {
	m.mu.Lock()
	delete(m.agents, agentID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) SaveBlob(_ context.Context, key string, payload []byte) error {
	m.mu.Lock()
	m.blobs[key] = append([]byte(nil), payload...)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) LoadBlob(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), p...), nil
}

func (m *MemoryStore) Close() error { return nil }
