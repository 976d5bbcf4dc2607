package resultstore

import (
	"sync"

	"github.com/fortiblox/stackvm/internal/types"
)

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[types.ProgramID]Record
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[types.ProgramID]Record),
	}
}

// Get retrieves the record for id.
func (m *MemoryStore) Get(id types.ProgramID) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// Put stores a record, replacing any previous one for the same program.
func (m *MemoryStore) Put(record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.records[record.ProgramID] = *record
	return nil
}

// Has reports whether a record exists for id.
func (m *MemoryStore) Has(id types.ProgramID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[id]
	return ok && !m.closed
}

// Delete removes the record for id.
func (m *MemoryStore) Delete(id types.ProgramID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.records, id)
	return nil
}

// Count returns the number of stored records.
func (m *MemoryStore) Count() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.records)), nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
