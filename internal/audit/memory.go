package audit

import (
	"context"
	"sync"
)

// MemoryStore keeps audit records in memory. Used embedded and in tests.
type MemoryStore struct {
	mu   sync.Mutex
	recs []Record
}

// NewMemoryStore constructs an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Insert appends a record.
func (m *MemoryStore) Insert(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

// List returns the most recent records, newest first.
func (m *MemoryStore) List(ctx context.Context, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, limit)
	for i := len(m.recs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.recs[i])
	}
	return out, nil
}
