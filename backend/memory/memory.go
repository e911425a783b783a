// Package memory is an in-process backend.Client with native CAS.
//
// It honors every expiration policy against an injectable clock, which makes it
// the reference backend for tests. It is also usable as the remote tier of a
// single-process deployment.
package memory

import (
	"bytes"
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/unkn0wn-root/nemocache/backend"
)

type entry struct {
	v   []byte
	cas uint64
	exp time.Time // zero => no expiry
}

// Client is safe for concurrent use.
type Client struct {
	clk clock.Clock

	mu     sync.Mutex
	m      map[string]entry
	seq    uint64
	closed bool
}

var _ backend.Client = (*Client)(nil)

// New returns an empty client. A nil clock uses the wall clock.
func New(clk clock.Clock) *Client {
	if clk == nil {
		clk = clock.New()
	}
	return &Client{clk: clk, m: make(map[string]entry)}
}

func (c *Client) Capabilities() backend.Capabilities { return backend.Capabilities{CAS: true} }

// Len returns the number of live entries.
func (c *Client) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clk.Now()
	n := 0
	for k, e := range c.m {
		if c.expired(e, now) {
			delete(c.m, k)
			continue
		}
		n++
	}
	return n
}

func (c *Client) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false, backend.ErrClosed
	}
	e, ok := c.live(key)
	if !ok {
		return nil, false, nil
	}
	return clone(e.v), true, nil
}

func (c *Client) GetMulti(_ context.Context, keys []string) (map[string][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, backend.ErrClosed
	}
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if e, ok := c.live(k); ok {
			out[k] = clone(e.v)
		}
	}
	return out, nil
}

func (c *Client) Store(_ context.Context, mode backend.StoreMode, key string, value []byte, exp backend.Expiration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, backend.ErrClosed
	}
	_, exists := c.live(key)
	switch mode {
	case backend.Add:
		if exists {
			return false, nil
		}
	case backend.Replace:
		if !exists {
			return false, nil
		}
	}
	return c.put(key, value, exp), nil
}

func (c *Client) Remove(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, backend.ErrClosed
	}
	if _, ok := c.live(key); !ok {
		return false, nil
	}
	delete(c.m, key)
	return true, nil
}

func (c *Client) FlushAll(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return backend.ErrClosed
	}
	c.m = make(map[string]entry)
	return nil
}

func (c *Client) Touch(_ context.Context, key string, exp backend.Expiration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, backend.ErrClosed
	}
	e, ok := c.live(key)
	if !ok {
		return false, nil
	}
	e.exp = c.deadline(exp)
	c.m[key] = e
	return true, nil
}

func (c *Client) Append(_ context.Context, key string, data []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, backend.ErrClosed
	}
	e, ok := c.live(key)
	if !ok {
		return false, nil
	}
	v := make([]byte, 0, len(e.v)+len(data))
	v = append(append(v, e.v...), data...)
	c.seq++
	c.m[key] = entry{v: v, cas: c.seq, exp: e.exp}
	return true, nil
}

func (c *Client) Increment(_ context.Context, key string, initial, delta uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, backend.ErrClosed
	}
	e, ok := c.live(key)
	if !ok {
		c.put(key, []byte(strconv.FormatUint(initial, 10)), backend.Never())
		return initial, nil
	}
	cur, err := strconv.ParseUint(string(e.v), 10, 64)
	if err != nil {
		return 0, backend.ErrNotNumeric
	}
	cur += delta
	c.seq++
	c.m[key] = entry{v: []byte(strconv.FormatUint(cur, 10)), cas: c.seq, exp: e.exp}
	return cur, nil
}

func (c *Client) GetWithCAS(_ context.Context, key string) ([]byte, backend.CAS, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, 0, false, backend.ErrClosed
	}
	e, ok := c.live(key)
	if !ok {
		return nil, 0, false, nil
	}
	return clone(e.v), backend.CAS(e.cas), true, nil
}

func (c *Client) GetMultiWithCAS(_ context.Context, keys []string) (map[string]backend.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, backend.ErrClosed
	}
	out := make(map[string]backend.Item, len(keys))
	for _, k := range keys {
		if e, ok := c.live(k); ok {
			out[k] = backend.Item{Value: clone(e.v), CAS: backend.CAS(e.cas)}
		}
	}
	return out, nil
}

func (c *Client) CompareAndSwap(_ context.Context, key string, value []byte, cas backend.CAS, exp backend.Expiration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, backend.ErrClosed
	}
	e, ok := c.live(key)
	if !ok || backend.CAS(e.cas) != cas {
		return false, nil
	}
	return c.put(key, value, exp), nil
}

func (c *Client) RemoveCAS(_ context.Context, key string, cas backend.CAS) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, backend.ErrClosed
	}
	e, ok := c.live(key)
	if !ok || backend.CAS(e.cas) != cas {
		return false, nil
	}
	delete(c.m, key)
	return true, nil
}

// Close makes every later call fail with backend.ErrClosed. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.m = nil
	c.mu.Unlock()
	return nil
}

// Equal reports whether key currently holds exactly v. Test helper.
func (c *Client) Equal(key string, v []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	return ok && bytes.Equal(e.v, v)
}

// live must be called with mu held. Expired entries are dropped lazily.
func (c *Client) live(key string) (entry, bool) {
	e, ok := c.m[key]
	if !ok {
		return entry{}, false
	}
	if c.expired(e, c.clk.Now()) {
		delete(c.m, key)
		return entry{}, false
	}
	return e, true
}

func (c *Client) expired(e entry, now time.Time) bool {
	return !e.exp.IsZero() && !now.Before(e.exp)
}

// put must be called with mu held. An already elapsed deadline deletes the key.
func (c *Client) put(key string, value []byte, exp backend.Expiration) bool {
	dl := c.deadline(exp)
	if !dl.IsZero() && !c.clk.Now().Before(dl) {
		delete(c.m, key)
		return true
	}
	c.seq++
	c.m[key] = entry{v: clone(value), cas: c.seq, exp: dl}
	return true
}

func (c *Client) deadline(exp backend.Expiration) time.Time {
	return exp.Deadline(c.clk.Now())
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
