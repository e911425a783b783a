package nemocache

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/uber-go/tally/v4"

	"github.com/unkn0wn-root/nemocache/backend"
	c "github.com/unkn0wn-root/nemocache/codec"
	pr "github.com/unkn0wn-root/nemocache/provider"
	"github.com/unkn0wn-root/nemocache/revision"
)

// WriteMode selects how Set reaches the remote tier.
type WriteMode uint8

const (
	// WriteAsync queues remote writes and sliding refreshes on a worker pool.
	// Set returns once the write is queued. Writes to one key are applied in
	// the order they were queued.
	WriteAsync WriteMode = iota
	// WriteSync performs remote writes inline and returns the backend result.
	WriteSync
)

func (m WriteMode) String() string {
	if m == WriteSync {
		return "sync"
	}
	return "async"
}

// Loader produces the value for key on a cache miss.
type Loader[V any] func(ctx context.Context, key string) (V, error)

// Cache is the two-tier distributed cache API. V is the caller's value type;
// serialization is handled by a pluggable Codec[V].
//
// Decode and validity failures on read are misses, not errors. Add, CAS and
// lock conflicts are reported as false, never as errors.
type Cache[V any] interface {
	Enabled() bool
	Close(context.Context) error

	// Reads
	Get(ctx context.Context, key string) (v V, ok bool, err error)
	GetMany(ctx context.Context, keys []string) (map[string]V, error)
	GetStale(ctx context.Context, key string) (v V, ok bool, err error)
	GetManyStale(ctx context.Context, keys []string) (map[string]V, error)
	GetIndex(ctx context.Context, key string) (members []string, ok bool, err error)

	// Writes
	Set(ctx context.Context, key string, value V) (bool, error)
	SetMany(ctx context.Context, items map[string]V) (bool, error)
	Add(ctx context.Context, key string, value V) (bool, error)
	SetIndex(ctx context.Context, key string, members []string) (bool, error)
	Remove(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context) error

	// Versioned (CAS-capable backends only; ErrCASUnsupported otherwise)
	GetVersioned(ctx context.Context, key string) (v V, cas backend.CAS, ok bool, err error)
	GetManyVersioned(ctx context.Context, keys []string) (map[string]V, map[string]backend.CAS, error)
	SetVersioned(ctx context.Context, key string, value V, cas backend.CAS) (bool, error)

	// Revisions
	Revision(ctx context.Context, key string) (uint64, error)
	Revisions(ctx context.Context, keys []string) (map[string]uint64, error)
	IncrementRevision(ctx context.Context, key string, delta uint64) (uint64, error)
	Dependencies(ctx context.Context, deps ...string) ([]uint64, error)
	SetDependent(ctx context.Context, key string, value V, revs []uint64) (bool, error)
	GetDependent(ctx context.Context, key string, revs []uint64) (v V, ok bool, err error)

	// Locks
	TryAcquireLock(ctx context.Context, key string) (bool, error)
	AcquireLock(ctx context.Context, key string) error
	ReleaseLock(ctx context.Context, key string) (bool, error)
	WaitForItems(ctx context.Context, keys ...string) error

	// Fetch returns the cached value or loads it with herd protection.
	Fetch(ctx context.Context, key string, load Loader[V]) (V, error)
}

// Options tune the behavior of the cache.
// Only Namespace, Backend and Codec are required; others have sensible defaults.
type Options[V any] struct {
	// Required
	Namespace string         // logical namespace to avoid collisions. e.g. "order", "customer"
	Backend   backend.Client // remote tier; usually shared through registry.Registry
	Codec     c.Codec[V]

	Local     pr.Provider    // nil => provider/memory (unbounded, 1m sweep)
	Revisions revision.Store // nil => revision.Remote over Backend
	Logger    Logger         // if nil, NopLogger is used
	Hooks     Hooks          // if nil, NopHooks is used
	Scope     tally.Scope    // if nil, tally.NoopScope is used
	Clock     clock.Clock    // if nil, the wall clock is used
	Disabled  bool           // default false (enabled)

	// Expiration is the remote (and local) lifetime of every write. Default Never.
	Expiration backend.Expiration
	// Sliding refreshes the remote expiration on every remote hit. Requires an
	// ExpireAfter Expiration.
	Sliding bool
	// StaleAware rejects entries whose logical freshness elapsed. GetStale still
	// serves them.
	StaleAware bool
	// StaleAfter is the logical freshness of a write. 0 => derived from Expiration
	// (never for sliding).
	StaleAfter time.Duration

	WriteMode    WriteMode
	AsyncWorkers int // 0 => 4
	AsyncQueue   int // 0 => 1024

	LockTimeout       time.Duration // 0 => 30s
	VerifyLocks       bool          // read lock records back after acquiring
	LockRetryInterval time.Duration // AcquireLock polling; 0 => 50ms

	Parallelism         int  // batch fan-out; 0 => 8
	MaxRevisionAttempts int  // revision init retries; 0 => 3
	CloseBackend        bool // Close also closes Backend; set only if this cache owns it
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}
