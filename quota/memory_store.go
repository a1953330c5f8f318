package quota

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a Store backed by a map. Used in tests and when no
// database path is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]UserRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]UserRecord)}
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, userID string) (UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return UserRecord{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[userID]
	if !ok {
		return UserRecord{}, ErrNotFound
	}
	return rec, nil
}

// Put implements Store.
func (m *MemoryStore) Put(ctx context.Context, rec UserRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.records[rec.UserID] = rec
	m.mu.Unlock()
	return nil
}

// List implements Store.
func (m *MemoryStore) List(ctx context.Context) ([]UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]UserRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
