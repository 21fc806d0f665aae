// Package cache persists podcast episode lists, one entry per source key.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/model"
)

var (
	// ErrNotFound is returned by Load when the key has never been saved.
	ErrNotFound = errors.New("cache: entry not found")
	// ErrCorrupt is returned by Load when the stored payload cannot be decoded.
	ErrCorrupt = errors.New("cache: entry unreadable")
	// ErrConflict is returned by Save when the entry changed since it was loaded.
	ErrConflict = errors.New("cache: version conflict")
)

// Snapshot is one stored episode list.
type Snapshot struct {
	Episodes  []model.Episode
	UpdatedAt time.Time
	// Version changes on every successful Save. Zero means "no entry".
	Version int64
}

// Age returns how old the snapshot is at now.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.UpdatedAt)
}

// Store is a key-addressed episode cache with compare-and-swap writes.
type Store interface {
	// Load returns the snapshot for key, ErrNotFound or ErrCorrupt.
	Load(ctx context.Context, key string) (Snapshot, error)
	// Save replaces the entry for key if its current version is
	// expectVersion (0 when absent) and returns ErrConflict otherwise.
	Save(ctx context.Context, key string, episodes []model.Episode, expectVersion int64) (Snapshot, error)
	Close() error
}
