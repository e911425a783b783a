package nemocache

import "time"

// Fallbacks for zero-valued Options fields.
const (
	defaultAsyncWorkers = 4
	defaultAsyncQueue   = 1024
	defaultParallelism  = 8 // concurrent remote calls per batch
	defaultLocalSweep   = time.Minute
)

// coalesce picks def for the zero value of T. Interface types compare against
// a nil interface, so a typed nil pointer is kept.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v != zero {
		return v
	}
	return def
}
