package state

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in process memory. Records are copied on the
// way in and out.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, guildID string) (*GuildRecord, error) {
	m.mu.RLock()
	data, ok := m.data[guildID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeRecord(data)
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, rec *GuildRecord) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[rec.GuildID] = data
	m.mu.Unlock()
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, guildID string) error {
	m.mu.Lock()
	delete(m.data, guildID)
	m.mu.Unlock()
	return nil
}

// List implements Store.
func (m *MemoryStore) List(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Raw returns the encoded bytes stored for guildID.
func (m *MemoryStore) Raw(guildID string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.data[guildID]...)
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
