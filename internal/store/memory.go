package store

import (
	"context"
	"sync"

	"github.com/atmx/tradesim/internal/model"
)

// MemoryStore implements Store in memory. Used for testing and development.
// Not suitable for production (no persistence).
type MemoryStore struct {
	mu    sync.RWMutex
	snap  *model.Snapshot
	saves int
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snap == nil {
		return nil, ErrNotFound
	}
	return s.snap.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, snap *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	s.snap = snap.Clone()
	s.saves++
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap = nil
	return nil
}

// Saves reports how many times Save has been called.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
