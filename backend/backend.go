// Package backend defines the remote tier contract consumed by nemocache.
//
// A Client is a shared, cross-process key-value store. Implementations MUST be
// byte-for-byte transparent (Get returns exactly the bytes passed to Store) and
// safe for concurrent use. Keys passed in are already namespaced by the caller.
//
// Two realizations ship with this module:
//   - memcache: plain store, no native CAS (versioning via revision counters).
//   - redis:    CAS-capable store (every write bumps a per-key CAS token).
//
// The memory realization implements the full contract in-process.
package backend

import (
	"context"
	"errors"
)

var (
	// ErrCASUnsupported is returned by the CAS methods of plain backends.
	ErrCASUnsupported = errors.New("backend: compare-and-swap not supported")
	// ErrClosed is returned by clients used after Close.
	ErrClosed = errors.New("backend: client closed")
	// ErrNotNumeric is returned by Increment when the stored value is not a decimal uint64.
	ErrNotNumeric = errors.New("backend: value is not numeric")
)

// StoreMode selects the write semantics of Store.
type StoreMode uint8

const (
	// Set writes unconditionally.
	Set StoreMode = iota
	// Add writes only if the key is absent.
	Add
	// Replace writes only if the key is present.
	Replace
)

func (m StoreMode) String() string {
	switch m {
	case Set:
		return "set"
	case Add:
		return "add"
	case Replace:
		return "replace"
	default:
		return "unknown"
	}
}

// CAS is an opaque version token. Zero never matches a stored entry.
type CAS uint64

// Item is a value together with its CAS token.
type Item struct {
	Value []byte
	CAS   CAS
}

// Capabilities advertises optional features of a Client. It is fixed for the
// lifetime of the client.
type Capabilities struct {
	// CAS reports native compare-and-swap support (GetWithCAS, GetMultiWithCAS,
	// CompareAndSwap, RemoveCAS).
	CAS bool
}

// Client is the remote tier capability contract.
//
// Boolean results report store-level outcomes (add on an existing key, replace
// on a missing key, CAS mismatch): they are (false, nil), never errors.
// Errors are reserved for transport/server failures.
type Client interface {
	Capabilities() Capabilities

	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// GetMulti returns the present keys only.
	GetMulti(ctx context.Context, keys []string) (map[string][]byte, error)

	Store(ctx context.Context, mode StoreMode, key string, value []byte, exp Expiration) (bool, error)
	Remove(ctx context.Context, key string) (bool, error)
	FlushAll(ctx context.Context) error

	// Touch refreshes the expiration without rewriting the value.
	Touch(ctx context.Context, key string, exp Expiration) (bool, error)
	// Append concatenates data to an existing value; false when the key is missing.
	Append(ctx context.Context, key string, data []byte) (bool, error)
	// Increment adds delta to a decimal counter. A missing counter is created
	// with initial (delta is not applied) and initial is returned.
	Increment(ctx context.Context, key string, initial, delta uint64) (uint64, error)

	GetWithCAS(ctx context.Context, key string) ([]byte, CAS, bool, error)
	GetMultiWithCAS(ctx context.Context, keys []string) (map[string]Item, error)
	// CompareAndSwap stores value only if the current token equals cas.
	CompareAndSwap(ctx context.Context, key string, value []byte, cas CAS, exp Expiration) (bool, error)
	// RemoveCAS removes key only if the current token equals cas.
	RemoveCAS(ctx context.Context, key string, cas CAS) (bool, error)

	Close() error
}
