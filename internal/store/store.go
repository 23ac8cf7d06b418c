package store

import (
	"context"
	"errors"
	"time"

	"stockwatch/internal/inventory"
)

// ErrConflict is returned when a write's expected version no longer matches
// the stored snapshot.
var ErrConflict = errors.New("snapshot version conflict")

// Snapshot is the last recorded state of a tracked item.
type Snapshot struct {
	Item      inventory.Item `json:"item"`
	Version   int64          `json:"version"`
	FirstSeen time.Time      `json:"first_seen"`
	LastSeen  time.Time      `json:"last_seen"`
}

// Store keeps one snapshot per (site, id). Failures of the underlying storage
// are wrapped with inventory.ErrStoreUnavailable.
//
// Writes are compare-and-swap on Version so that overlapping poll cycles
// cannot lose updates.
type Store interface {
	// Get returns false if no snapshot exists for the key.
	Get(ctx context.Context, site, id string) (Snapshot, bool, error)
	// Put writes item as the new snapshot. expectedVersion 0 creates the
	// snapshot and fails with ErrConflict if one already exists.
	Put(ctx context.Context, item inventory.Item, seenAt time.Time, expectedVersion int64) (Snapshot, error)
	// Touch only refreshes the last seen time, touching a missing snapshot is
	// a no-op.
	Touch(ctx context.Context, site, id string, seenAt time.Time) error
	Delete(ctx context.Context, site, id string, expectedVersion int64) error
	ListBySource(ctx context.Context, source string) ([]Snapshot, error)
	List(ctx context.Context) ([]Snapshot, error)
}
