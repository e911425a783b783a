// Package revision keeps per-key revision counters.
//
// A revision is a uint64 that changes whenever the data behind a cache key
// changes. Entries written with a revision vector are rejected on read once any
// of those revisions moved. Counters are seeded from the clock on first use so
// a counter that was evicted and recreated never repeats an earlier value.
package revision

import (
	"context"
	"errors"
)

// ErrContention is returned when a counter could not be initialized within the
// configured number of attempts.
var ErrContention = errors.New("revision: too much contention initializing counter")

// DefaultMaxAttempts bounds the read/add/re-read loop of Get.
const DefaultMaxAttempts = 3

// Store abstracts where revisions live. Keys are cache storage keys; stores
// derive their own record keys from them.
type Store interface {
	// Get returns the current revision, initializing a missing counter.
	Get(ctx context.Context, storageKey string) (uint64, error)
	// GetMany returns revisions for every key, initializing missing counters.
	GetMany(ctx context.Context, storageKeys []string) (map[string]uint64, error)
	// Increment adds delta (0 is treated as 1) and returns the new revision.
	Increment(ctx context.Context, storageKey string, delta uint64) (uint64, error)
	// Close releases resources (no-op ok).
	Close(ctx context.Context) error
}
