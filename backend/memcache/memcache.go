// Package memcache is a plain backend.Client over gomemcache.
//
// It does not advertise CAS: versioned reads and writes are served by the
// revision counters of nemocache instead. The memcached CAS unique is still used
// internally to make Append atomic.
package memcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bradfitz/gomemcache/memcache"

	"github.com/unkn0wn-root/nemocache/backend"
)

var ErrNoServers = errors.New("memcache backend: no servers")

// maxRelative is the largest expiration memcached treats as relative seconds.
const maxRelative = 30 * 24 * time.Hour

const appendAttempts = 8

type Config struct {
	// Servers are host:port addresses. Ignored when Client is set.
	Servers      []string
	Timeout      time.Duration
	MaxIdleConns int
	// Client overrides the connection built from Servers.
	Client *memcache.Client
	Clock  clock.Clock
}

type Client struct {
	mc  *memcache.Client
	clk clock.Clock
}

var _ backend.Client = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	mc := cfg.Client
	if mc == nil {
		if len(cfg.Servers) == 0 {
			return nil, ErrNoServers
		}
		mc = memcache.New(cfg.Servers...)
		if cfg.Timeout > 0 {
			mc.Timeout = cfg.Timeout
		}
		if cfg.MaxIdleConns > 0 {
			mc.MaxIdleConns = cfg.MaxIdleConns
		}
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Client{mc: mc, clk: clk}, nil
}

func (c *Client) Capabilities() backend.Capabilities { return backend.Capabilities{} }

func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	it, err := c.mc.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return it.Value, true, nil
}

func (c *Client) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	items, err := c.mc.GetMulti(keys)
	if err != nil {
		return nil, err
	}
	for k, it := range items {
		out[k] = it.Value
	}
	return out, nil
}

func (c *Client) Store(ctx context.Context, mode backend.StoreMode, key string, value []byte, exp backend.Expiration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	secs, elapsed := Seconds(exp, c.clk.Now())
	if elapsed {
		return c.storeElapsed(mode, key)
	}
	it := &memcache.Item{Key: key, Value: value, Expiration: secs}
	var err error
	switch mode {
	case backend.Add:
		err = c.mc.Add(it)
	case backend.Replace:
		err = c.mc.Replace(it)
	default:
		err = c.mc.Set(it)
	}
	return notStored(err)
}

// storeElapsed handles a write whose deadline already passed: the key ends up absent.
func (c *Client) storeElapsed(mode backend.StoreMode, key string) (bool, error) {
	err := c.mc.Delete(key)
	switch {
	case errors.Is(err, memcache.ErrCacheMiss):
		return mode != backend.Replace, nil
	case err != nil:
		return false, err
	default:
		return mode != backend.Add, nil
	}
}

func (c *Client) Remove(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := c.mc.Delete(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) FlushAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.mc.DeleteAll()
}

func (c *Client) Touch(ctx context.Context, key string, exp backend.Expiration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	secs, elapsed := Seconds(exp, c.clk.Now())
	if elapsed {
		return c.Remove(ctx, key)
	}
	err := c.mc.Touch(key, secs)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Append is a bounded read/compare-and-swap loop. The rewritten item keeps its
// flags but loses its expiration.
func (c *Client) Append(ctx context.Context, key string, data []byte) (bool, error) {
	for i := 0; i < appendAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		it, err := c.mc.Get(key)
		if errors.Is(err, memcache.ErrCacheMiss) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		it.Value = append(it.Value, data...)
		err = c.mc.CompareAndSwap(it)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, memcache.ErrCASConflict):
			continue
		case errors.Is(err, memcache.ErrNotStored), errors.Is(err, memcache.ErrCacheMiss):
			return false, nil
		default:
			return false, err
		}
	}
	return false, fmt.Errorf("memcache backend: append %q: too much contention", key)
}

// Increment creates the counter with Add on miss. When Add loses a race the
// increment is retried against the counter the winner created.
func (c *Client) Increment(ctx context.Context, key string, initial, delta uint64) (uint64, error) {
	for i := 0; i < appendAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		v, err := c.mc.Increment(key, delta)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, memcache.ErrCacheMiss) {
			if isNonNumeric(err) {
				return 0, backend.ErrNotNumeric
			}
			return 0, err
		}
		err = c.mc.Add(&memcache.Item{Key: key, Value: []byte(strconv.FormatUint(initial, 10))})
		if err == nil {
			return initial, nil
		}
		if !errors.Is(err, memcache.ErrNotStored) {
			return 0, err
		}
	}
	return 0, fmt.Errorf("memcache backend: increment %q: too much contention", key)
}

func (c *Client) GetWithCAS(context.Context, string) ([]byte, backend.CAS, bool, error) {
	return nil, 0, false, backend.ErrCASUnsupported
}

func (c *Client) GetMultiWithCAS(context.Context, []string) (map[string]backend.Item, error) {
	return nil, backend.ErrCASUnsupported
}

func (c *Client) CompareAndSwap(context.Context, string, []byte, backend.CAS, backend.Expiration) (bool, error) {
	return false, backend.ErrCASUnsupported
}

func (c *Client) RemoveCAS(context.Context, string, backend.CAS) (bool, error) {
	return false, backend.ErrCASUnsupported
}

// Close is a no-op; gomemcache releases idle connections on its own.
func (c *Client) Close() error { return nil }

// Seconds converts exp into a memcached expiration field. Spans up to 30 days
// are relative; longer ones become unix timestamps. elapsed reports a deadline
// at or before now.
func Seconds(exp backend.Expiration, now time.Time) (secs int32, elapsed bool) {
	if exp.Kind == backend.ExpireNever {
		return 0, false
	}
	ttl := exp.TTL(now)
	if ttl < 0 {
		return 0, true
	}
	if ttl > maxRelative {
		return int32(now.Add(ttl).Unix()), false
	}
	s := int32((ttl + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s, false
}

func notStored(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, memcache.ErrNotStored) {
		return false, nil
	}
	return false, err
}

func isNonNumeric(err error) bool {
	s := err.Error()
	return strings.Contains(s, "non-numeric") || strings.Contains(s, "invalid numeric")
}
