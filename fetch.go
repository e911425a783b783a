package nemocache

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/nemocache/backend"
	"github.com/unkn0wn-root/nemocache/internal/keys"
)

// Fetch returns the cached value of key or loads it.
//
// Concurrent misses in this process share one load. Across processes the lock
// on key elects a single loader; the others serve a stale copy when one exists
// and otherwise wait for the loader and re-read.
func (c *cache[V]) Fetch(ctx context.Context, key string, load Loader[V]) (V, error) {
	if !c.enabled {
		return load(ctx, key)
	}
	if v, ok := c.tryGet(ctx, key); ok {
		return v, nil
	}

	sk := keys.Single(c.ns, key)
	res, err, _ := c.sf.Do(sk, func() (any, error) {
		if v, ok := c.tryGet(ctx, key); ok {
			return v, nil
		}

		won, err := c.TryAcquireLock(ctx, key)
		if err != nil {
			// lock unavailable; load without herd protection
			return c.loadAndStore(ctx, key, sk, load)
		}
		if !won {
			if v, ok, _ := c.GetStale(ctx, key); ok {
				c.m.inc("fetch", resContended)
				return v, nil
			}
			if err := c.AcquireLock(ctx, key); err != nil {
				return nil, fmt.Errorf("nemocache: fetch %q: wait for loader: %w", key, err)
			}
			if v, ok := c.tryGet(ctx, key); ok {
				c.release(ctx, key)
				return v, nil
			}
		}
		defer c.release(ctx, key)
		return c.loadAndStore(ctx, key, sk, load)
	})
	if err != nil {
		var zero V
		return zero, err
	}
	v, _ := res.(V)
	return v, nil
}

// tryGet is Get with remote failures demoted to misses.
func (c *cache[V]) tryGet(ctx context.Context, key string) (V, bool) {
	v, ok, err := c.Get(ctx, key)
	if err != nil {
		c.log.Debug("fetch read failed; treating as miss", Fields{"key": key, "err": err})
		return v, false
	}
	return v, ok
}

func (c *cache[V]) release(ctx context.Context, key string) {
	_, _ = c.ReleaseLock(context.WithoutCancel(ctx), key)
}

// loadAndStore writes the loaded value synchronously so waiters released by the
// lock observe it. A failed store still returns the loaded value.
func (c *cache[V]) loadAndStore(ctx context.Context, key, sk string, load Loader[V]) (any, error) {
	v, err := load(ctx, key)
	if err != nil {
		c.m.inc("fetch", resFail)
		return nil, err
	}
	c.m.inc("fetch", resMiss)

	raw, err := c.encode(v, nil)
	if err != nil {
		c.log.Warn("fetch encode failed", Fields{"key": sk, "err": err})
		return v, nil
	}
	c.putLocal(ctx, sk, raw)
	_, _ = c.storeRemote(ctx, "fetch_store", backend.Set, sk, raw, false)
	return v, nil
}
