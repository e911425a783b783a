// Package nemocache is the second-level cache of the Nemo ORM: a two-tier cache
// with a private in-process local tier in front of a shared remote key-value
// store.
//
// Components:
//   - backend.Client: the remote tier (memcached, Redis, in-memory). Redis
//     advertises native CAS; memcached does not.
//   - provider.Provider: the local tier, a byte store with TTL owned by one Cache.
//   - Codec[V]: (de)serializes V <-> []byte inside the cache envelope.
//   - revision.Store: per-key revision counters for dependency invalidation.
//   - lock.Locker: a cooperative lock to keep one process recomputing a key.
//
// Keys:
//
//	nemo:<ns>:<key>               - entries (hashed when long or not printable)
//	REVISION::nemo:<ns>:<key>     - revision counters
//	STALE::nemo:<ns>:<key>        - lock records
//
// Reads consult the local tier first and never touch the remote tier on a local
// hit. Writes update the local tier eagerly and reach the remote tier either on
// a detached worker (WriteAsync, the default) or inline (WriteSync).
//
// Versioned write on a CAS backend:
//
//	v, cas, ok, _ := cache.GetVersioned(ctx, k)
//	v.Total += 1
//	won, _ := cache.SetVersioned(ctx, k, v, cas) // false: someone else wrote first
//
// Dependency invalidation without CAS:
//
//	revs, _ := cache.Dependencies(ctx, "customer:7", "region:eu")
//	_, _ = cache.SetDependent(ctx, k, v, revs)
//	_, _ = cache.IncrementRevision(ctx, "customer:7", 1) // k is now rejected on read
package nemocache
