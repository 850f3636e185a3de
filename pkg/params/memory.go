package params

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store for tests and single-replica
// development runs.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]float64
}

// NewMemoryStore returns an empty in-memory parameter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]float64)}
}

// Seed writes value only when id has never been seeded.
func (s *MemoryStore) Seed(_ context.Context, id string, value float64) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return paramsError(ErrInvalidArgument, "parameter id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[id]; !ok {
		s.values[id] = value
	}
	return nil
}

// Number returns the value for id, or ErrNotFound when absent.
func (s *MemoryStore) Number(_ context.Context, id string) (float64, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return 0, paramsError(ErrInvalidArgument, "parameter id is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[id]
	if !ok {
		return 0, paramsError(ErrNotFound, "parameter "+id)
	}
	return value, nil
}
