package nemocache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/nemocache/backend"
	"github.com/unkn0wn-root/nemocache/internal/keys"
)

// GetVersioned always reads the remote tier so the returned token is current.
func (c *cache[V]) GetVersioned(ctx context.Context, key string) (V, backend.CAS, bool, error) {
	var zero V
	if !c.cas {
		return zero, 0, false, ErrCASUnsupported
	}
	if !c.enabled {
		return zero, 0, false, nil
	}

	sk := keys.Single(c.ns, key)
	sw := c.m.remote("get_cas")
	raw, cas, ok, err := c.remote.GetWithCAS(ctx, sk)
	sw.Stop()
	if err != nil {
		c.m.inc("get_versioned", resFail)
		return zero, 0, false, fmt.Errorf("nemocache: get versioned %q: %w", sk, err)
	}
	if !ok {
		c.m.inc("get_versioned", resMiss)
		return zero, 0, false, nil
	}

	var v V
	now := c.clk.Now().UnixNano()
	if !c.accept(ctx, "get_versioned", sk, raw, readOpts{}, now, c.into(&v)) {
		return zero, 0, false, nil
	}
	c.m.inc("get_versioned", resRemoteHit)
	return v, cas, true, nil
}

func (c *cache[V]) GetManyVersioned(ctx context.Context, keyList []string) (map[string]V, map[string]backend.CAS, error) {
	if !c.cas {
		return nil, nil, ErrCASUnsupported
	}
	vals := make(map[string]V, len(keyList))
	tokens := make(map[string]backend.CAS, len(keyList))
	if !c.enabled || len(keyList) == 0 {
		return vals, tokens, nil
	}

	sks, orig := keys.Batch(c.ns, keyList)
	sw := c.m.remote("get_multi_cas")
	found, err := c.remote.GetMultiWithCAS(ctx, sks)
	sw.Stop()
	if err != nil {
		c.m.inc("get_many_versioned", resFail)
		return nil, nil, fmt.Errorf("nemocache: get many versioned (%d keys): %w", len(sks), err)
	}
	c.m.add("get_many_versioned", resMiss, len(sks)-len(found))

	now := c.clk.Now().UnixNano()
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(c.parallel)
	for sk, it := range found {
		key, want := orig[sk]
		if !want {
			continue
		}
		g.Go(func() error {
			var v V
			if !c.accept(ctx, "get_many_versioned", sk, it.Value, readOpts{}, now, c.into(&v)) {
				return nil
			}
			c.m.inc("get_many_versioned", resRemoteHit)
			mu.Lock()
			vals[key] = v
			tokens[key] = it.CAS
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return vals, tokens, nil
}

// SetVersioned writes only if the remote token still equals cas. On conflict the
// local entry is evicted so the next read observes the winning write.
func (c *cache[V]) SetVersioned(ctx context.Context, key string, value V, cas backend.CAS) (bool, error) {
	if !c.cas {
		return false, ErrCASUnsupported
	}
	if !c.enabled {
		return false, nil
	}
	raw, err := c.encode(value, nil)
	if err != nil {
		return false, err
	}

	sk := keys.Single(c.ns, key)
	sw := c.m.remote("cas")
	ok, err := c.remote.CompareAndSwap(ctx, sk, raw, cas, c.exp)
	sw.Stop()
	if err != nil {
		c.m.inc("set_versioned", resFail)
		c.hooks.RemoteWriteFailed(sk, false, err)
		return false, fmt.Errorf("nemocache: set versioned %q: %w", sk, err)
	}
	if !ok {
		_ = c.local.Del(ctx, sk)
		c.m.inc("set_versioned", resConflict)
		c.hooks.CASConflict(sk)
		c.log.Debug("versioned write lost", Fields{"key": sk, "cas": uint64(cas)})
		return false, nil
	}
	c.putLocal(ctx, sk, raw)
	c.m.inc("set_versioned", resSuccess)
	return true, nil
}
