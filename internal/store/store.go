// Package store defines the persistence interface for the session snapshot.
// Implementations include a JSON file (default), PostgreSQL, a Redis
// write-through cache in front of either, and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/tradesim/internal/model"
)

// ErrNotFound is returned by Load when no snapshot has been saved.
var ErrNotFound = errors.New("store: no saved session")

// Store persists the whole session as one document. Save overwrites; Clear
// deletes. Implementations must not retain the caller's snapshot.
type Store interface {
	// Load returns the last saved snapshot or ErrNotFound.
	Load(ctx context.Context) (*model.Snapshot, error)

	// Save replaces the stored snapshot.
	Save(ctx context.Context, snap *model.Snapshot) error

	// Clear deletes the stored snapshot. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}
