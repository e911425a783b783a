package nemocache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/nemocache/backend"
	"github.com/unkn0wn-root/nemocache/internal/keys"
	"github.com/unkn0wn-root/nemocache/internal/wire"
)

// freshUntil is the logical deadline stamped into new entries (0 = always fresh).
// Sliding entries have no fixed deadline unless StaleAfter is set.
func (c *cache[V]) freshUntil(now int64) int64 {
	if c.staleAfter > 0 {
		return now + int64(c.staleAfter)
	}
	if c.sliding {
		return 0
	}
	dl := c.exp.Deadline(c.clk.Now())
	if dl.IsZero() {
		return 0
	}
	return dl.UnixNano()
}

func (c *cache[V]) envelope(payload []byte, index bool, versions []uint64) ([]byte, error) {
	now := c.clk.Now().UnixNano()
	return wire.Encode(wire.Value{
		Buffer:    payload,
		QueryKey:  index,
		CreatedAt: now,
		ExpiresAt: c.freshUntil(now),
		Versions:  versions,
	})
}

func (c *cache[V]) encode(v V, versions []uint64) ([]byte, error) {
	payload, err := c.codec.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("nemocache: encode value: %w", err)
	}
	return c.envelope(payload, false, versions)
}

func (c *cache[V]) Set(ctx context.Context, key string, value V) (bool, error) {
	if !c.enabled {
		return false, nil
	}
	raw, err := c.encode(value, nil)
	if err != nil {
		return false, err
	}
	return c.write(ctx, "set", keys.Single(c.ns, key), raw)
}

func (c *cache[V]) SetIndex(ctx context.Context, key string, members []string) (bool, error) {
	if !c.enabled {
		return false, nil
	}
	payload, err := wire.EncodeKeys(members)
	if err != nil {
		return false, err
	}
	raw, err := c.envelope(payload, true, nil)
	if err != nil {
		return false, err
	}
	return c.write(ctx, "set_index", keys.Single(c.ns, key), raw)
}

// SetMany reports true only when every item was written (sync) or queued (async).
// An empty map trivially succeeds.
func (c *cache[V]) SetMany(ctx context.Context, items map[string]V) (bool, error) {
	if !c.enabled {
		return false, nil
	}
	if len(items) == 0 {
		return true, nil
	}

	var (
		mu   sync.Mutex
		errs error
		all  atomic.Bool
		g    errgroup.Group
	)
	all.Store(true)
	g.SetLimit(c.parallel)
	for key, v := range items {
		g.Go(func() error {
			ok, err := c.Set(ctx, key, v)
			if err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			if !ok {
				all.Store(false)
			}
			return nil
		})
	}
	_ = g.Wait()
	if errs != nil {
		return false, errs
	}
	return all.Load(), nil
}

// write updates the local tier eagerly and hands the remote store to the pool
// (async) or performs it inline (sync).
func (c *cache[V]) write(ctx context.Context, op, sk string, raw []byte) (bool, error) {
	c.putLocal(ctx, sk, raw)

	if c.pool == nil {
		return c.storeRemote(ctx, op, backend.Set, sk, raw, false)
	}
	queued := c.dispatch(ctx, sk, func(ctx context.Context, async bool) {
		_, _ = c.storeRemote(ctx, op, backend.Set, sk, raw, async)
	})
	return queued, nil
}

func (c *cache[V]) storeRemote(ctx context.Context, op string, mode backend.StoreMode, sk string, raw []byte, async bool) (bool, error) {
	sw := c.m.remote("store")
	ok, err := c.remote.Store(ctx, mode, sk, raw, c.exp)
	sw.Stop()
	if err != nil {
		c.m.inc(op, resFail)
		c.hooks.RemoteWriteFailed(sk, async, err)
		c.log.Warn("remote store failed", Fields{"key": sk, "mode": mode.String(), "async": async, "err": err})
		return false, fmt.Errorf("nemocache: %s %q: %w", mode, sk, err)
	}
	if ok {
		c.m.inc(op, resSuccess)
	} else {
		c.m.inc(op, resConflict)
	}
	return ok, nil
}

// Add writes only when key is absent remotely. It is always synchronous so the
// outcome is known before the local tier is touched.
func (c *cache[V]) Add(ctx context.Context, key string, value V) (bool, error) {
	if !c.enabled {
		return false, nil
	}
	raw, err := c.encode(value, nil)
	if err != nil {
		return false, err
	}
	sk := keys.Single(c.ns, key)
	ok, err := c.storeRemote(ctx, "add", backend.Add, sk, raw, false)
	if err != nil || !ok {
		return false, err
	}
	c.putLocal(ctx, sk, raw)
	return true, nil
}

func (c *cache[V]) Remove(ctx context.Context, key string) (bool, error) {
	if !c.enabled {
		return false, nil
	}
	sk := keys.Single(c.ns, key)
	lerr := c.local.Del(ctx, sk)
	ok, rerr := c.remote.Remove(ctx, sk)
	if lerr != nil || rerr != nil {
		c.m.inc("remove", resFail)
		return false, &RemoveError{Key: key, LocalErr: lerr, RemoteErr: rerr}
	}
	c.m.inc("remove", resSuccess)
	return ok, nil
}

// Clear flushes the whole backend, not only this namespace, then the local tier.
func (c *cache[V]) Clear(ctx context.Context) error {
	if !c.enabled {
		return nil
	}
	var err error
	if ferr := c.remote.FlushAll(ctx); ferr != nil {
		err = multierr.Append(err, fmt.Errorf("nemocache: flush: %w", ferr))
	}
	err = multierr.Append(err, c.local.Clear(ctx))
	if err != nil {
		c.log.Error("clear failed", Fields{"ns": c.ns, "err": err})
	}
	return err
}
