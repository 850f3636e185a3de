package lease

import (
	"context"
	"sync"
)

// MemoryStore is an in-process lease store. Single-replica deployments and
// manager tests use it; it serializes every operation behind one mutex.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory lease store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Record{}}
}

// Get returns the lease record for name.
func (s *MemoryStore) Get(_ context.Context, name string) (Record, error) {
	if name == "" {
		return Record{}, leaseError(ErrInvalidArgument, "lease name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[name]
	if !ok {
		return Record{}, leaseError(ErrNotFound, "lease "+name)
	}
	return rec, nil
}

// Insert creates the lease record.
func (s *MemoryStore) Insert(_ context.Context, rec Record) error {
	if rec.Name == "" {
		return leaseError(ErrInvalidArgument, "lease name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.Name]; exists {
		return leaseError(ErrConflict, "lease "+rec.Name+" already exists")
	}
	s.records[rec.Name] = rec
	return nil
}

// Update swaps ownership fields under the version guard.
func (s *MemoryStore) Update(_ context.Context, rec Record, expectedVersion int64) (bool, error) {
	if rec.Name == "" {
		return false, leaseError(ErrInvalidArgument, "lease name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[rec.Name]
	if !ok || current.Version != expectedVersion {
		return false, nil
	}
	s.records[rec.Name] = Record{
		Name:       rec.Name,
		Owner:      rec.Owner,
		AcquiredAt: rec.AcquiredAt,
		ExpiresAt:  rec.ExpiresAt,
		Version:    expectedVersion + 1,
	}
	return true, nil
}
