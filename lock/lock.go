// Package lock implements a cooperative distributed lock over a remote tier.
//
// A lock is the record STALE::<storageKey> holding a random token, created with
// an atomic add and an expiration equal to the lock timeout. Only the Locker
// that created a record can release it: on CAS-capable backends the release is
// an atomic compare-and-remove, on plain backends it is read, compare, remove.
package lock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/unkn0wn-root/nemocache/backend"
	"github.com/unkn0wn-root/nemocache/internal/keys"
)

const (
	DefaultTimeout       = 30 * time.Second
	DefaultRetryInterval = 50 * time.Millisecond
)

var ErrNilClient = errors.New("lock: nil backend client")

type Config struct {
	Client backend.Client
	// Timeout is the lock record lifetime. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Verify reads the record back after a successful add and compares tokens.
	Verify bool
	// RetryInterval is the polling period of Acquire.
	RetryInterval time.Duration
	Clock         clock.Clock

	// OnContended is called when the record already exists.
	OnContended func(storageKey string)
	// OnMismatch is called when verification read back a foreign token.
	OnMismatch func(storageKey string)
}

type held struct {
	token []byte
	cas   backend.CAS // 0 when the backend has no CAS
	at    time.Time
}

// Locker is safe for concurrent use. Locks are not reentrant.
type Locker struct {
	c       backend.Client
	cas     bool
	timeout time.Duration
	verify  bool
	retry   time.Duration
	clk     clock.Clock

	onContended func(string)
	onMismatch  func(string)

	mu   sync.Mutex
	held map[string]held
}

func New(cfg Config) (*Locker, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	l := &Locker{
		c:           cfg.Client,
		cas:         cfg.Client.Capabilities().CAS,
		timeout:     cfg.Timeout,
		verify:      cfg.Verify,
		retry:       cfg.RetryInterval,
		clk:         cfg.Clock,
		onContended: cfg.OnContended,
		onMismatch:  cfg.OnMismatch,
		held:        make(map[string]held),
	}
	if l.timeout <= 0 {
		l.timeout = DefaultTimeout
	}
	if l.retry <= 0 {
		l.retry = DefaultRetryInterval
	}
	if l.clk == nil {
		l.clk = clock.New()
	}
	return l, nil
}

// Timeout is the lifetime of lock records created by l.
func (l *Locker) Timeout() time.Duration { return l.timeout }

// Held reports whether l believes it owns the lock on storageKey. A lock older
// than the timeout is no longer held.
func (l *Locker) Held(storageKey string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.held[storageKey]
	return ok && !l.expired(h, l.clk.Now())
}

func (l *Locker) expired(h held, now time.Time) bool {
	return now.Sub(h.at) >= l.timeout
}

// TryAcquire makes a single attempt. It returns (false, nil) when another owner
// holds the lock or verification failed.
func (l *Locker) TryAcquire(ctx context.Context, storageKey string) (bool, error) {
	lk := keys.Lock(storageKey)
	token := []byte(uuid.NewString())

	ok, err := l.c.Store(ctx, backend.Add, lk, token, backend.After(l.timeout))
	if err != nil {
		return false, fmt.Errorf("lock: add %q: %w", storageKey, err)
	}
	if !ok {
		if l.onContended != nil {
			l.onContended(storageKey)
		}
		return false, nil
	}

	h := held{token: token, at: l.clk.Now()}
	if l.cas {
		v, cas, found, err := l.c.GetWithCAS(ctx, lk)
		if err != nil {
			l.abandon(ctx, lk)
			return false, fmt.Errorf("lock: read back %q: %w", storageKey, err)
		}
		if l.verify && (!found || !bytes.Equal(v, token)) {
			l.mismatch(storageKey)
			return false, nil
		}
		if found && bytes.Equal(v, token) {
			h.cas = cas
		}
	} else if l.verify {
		v, found, err := l.c.Get(ctx, lk)
		if err != nil {
			l.abandon(ctx, lk)
			return false, fmt.Errorf("lock: read back %q: %w", storageKey, err)
		}
		if !found || !bytes.Equal(v, token) {
			l.mismatch(storageKey)
			return false, nil
		}
	}

	l.mu.Lock()
	for k, old := range l.held {
		if l.expired(old, h.at) {
			delete(l.held, k)
		}
	}
	l.held[storageKey] = h
	l.mu.Unlock()
	return true, nil
}

// abandon drops a record this call added but could not read back. Ownership is
// unknown at that point; leaving the record would lock everyone out until it
// expires.
func (l *Locker) abandon(ctx context.Context, lk string) {
	_, _ = l.c.Remove(context.WithoutCancel(ctx), lk)
}

func (l *Locker) mismatch(storageKey string) {
	if l.onMismatch != nil {
		l.onMismatch(storageKey)
	}
}

// Acquire polls TryAcquire every retry interval until it succeeds or ctx ends.
func (l *Locker) Acquire(ctx context.Context, storageKey string) error {
	for {
		ok, err := l.TryAcquire(ctx, storageKey)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		t := l.clk.Timer(l.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Release removes the lock record if l still owns it. It returns (false, nil)
// when l never acquired the lock or the record now belongs to someone else
// (for example after it expired and was re-acquired).
func (l *Locker) Release(ctx context.Context, storageKey string) (bool, error) {
	l.mu.Lock()
	h, ok := l.held[storageKey]
	l.mu.Unlock()
	if !ok {
		return false, nil
	}

	released, err := l.release(ctx, storageKey, h)
	if err != nil {
		return false, err
	}
	l.mu.Lock()
	delete(l.held, storageKey)
	l.mu.Unlock()
	return released, nil
}

func (l *Locker) release(ctx context.Context, storageKey string, h held) (bool, error) {
	lk := keys.Lock(storageKey)
	cas := h.cas
	if l.cas && cas == 0 {
		v, c, found, err := l.c.GetWithCAS(ctx, lk)
		if err != nil {
			return false, fmt.Errorf("lock: read %q: %w", storageKey, err)
		}
		if !found || !bytes.Equal(v, h.token) {
			return false, nil
		}
		cas = c
	}
	if l.cas {
		ok, err := l.c.RemoveCAS(ctx, lk, cas)
		if err != nil {
			return false, fmt.Errorf("lock: remove %q: %w", storageKey, err)
		}
		return ok, nil
	}

	v, found, err := l.c.Get(ctx, lk)
	if err != nil {
		return false, fmt.Errorf("lock: read %q: %w", storageKey, err)
	}
	if !found || !bytes.Equal(v, h.token) {
		return false, nil
	}
	ok, err := l.c.Remove(ctx, lk)
	if err != nil {
		return false, fmt.Errorf("lock: remove %q: %w", storageKey, err)
	}
	return ok, nil
}
