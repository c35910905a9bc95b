package storage

import "fmt"

// MemoryStore is a thread-safe in-memory Store.
// It wraps BadgerDB's in-memory mode for testing purposes.
//
// Use Cases:
//   - Unit testing (no disk I/O, fast cleanup)
//   - One-shot `vecrank query` runs over a corpus indexed in the same process
//
// Implementation Note:
//
//	MemoryStore is a thin wrapper around BadgerStore with InMemory=true.
//	This ensures tests use the exact same code path as production.
type MemoryStore struct {
	*BadgerStore
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() (*MemoryStore, error) {
	s, err := NewBadgerStoreInMemory()
	if err != nil {
		return nil, fmt.Errorf("storage: in-memory badger: %w", err)
	}
	return &MemoryStore{BadgerStore: s}, nil
}
