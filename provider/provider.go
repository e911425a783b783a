// Package provider defines the process-local tier used by nemocache.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key. The cache stores the
// encoded envelope here, so any transform must be fully reversed on Get.
//
// A local tier is owned by exactly one Cache. It is never shared across
// processes and MUST be safe for concurrent use.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL (0 = no expiry). May ignore cost if
	// unsupported. Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Clear drops every entry.
	Clear(ctx context.Context) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Stats is a point-in-time snapshot of a local tier's counters. Fields a
// backing store does not track stay zero.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Entries int64
}

// Stater is implemented by providers that can report Stats. The cache logs the
// snapshot on Close.
type Stater interface {
	Stats() Stats
}
