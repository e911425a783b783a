package nemocache

import (
	"context"

	"github.com/unkn0wn-root/nemocache/internal/keys"
)

// Revision returns the current revision of key, initializing it on first use.
// Revisions stay operational on a disabled cache.
func (c *cache[V]) Revision(ctx context.Context, key string) (uint64, error) {
	return c.revs.Get(ctx, keys.Single(c.ns, key))
}

func (c *cache[V]) Revisions(ctx context.Context, keyList []string) (map[string]uint64, error) {
	sks, orig := keys.Batch(c.ns, keyList)
	got, err := c.revs.GetMany(ctx, sks)
	if err != nil {
		return nil, err
	}
	out := make(map[string]uint64, len(got))
	for sk, rev := range got {
		out[orig[sk]] = rev
	}
	return out, nil
}

// IncrementRevision bumps key's revision, invalidating every entry written
// against the previous value. delta 0 is treated as 1.
func (c *cache[V]) IncrementRevision(ctx context.Context, key string, delta uint64) (uint64, error) {
	rev, err := c.revs.Increment(ctx, keys.Single(c.ns, key), delta)
	if err != nil {
		c.m.inc("increment_revision", resFail)
		return 0, err
	}
	c.m.inc("increment_revision", resSuccess)
	return rev, nil
}

// Dependencies returns the revisions of deps in argument order, ready to pass to
// SetDependent and GetDependent.
func (c *cache[V]) Dependencies(ctx context.Context, deps ...string) ([]uint64, error) {
	vec := make([]uint64, len(deps))
	if len(deps) == 0 {
		return vec, nil
	}
	sks := make([]string, len(deps))
	for i, d := range deps {
		sks[i] = keys.Single(c.ns, d)
	}
	got, err := c.revs.GetMany(ctx, sks)
	if err != nil {
		return nil, err
	}
	for i, sk := range sks {
		vec[i] = got[sk]
	}
	return vec, nil
}

// SetDependent stores value stamped with revs. The entry is rejected on read once
// the caller's revision vector differs.
func (c *cache[V]) SetDependent(ctx context.Context, key string, value V, revs []uint64) (bool, error) {
	if !c.enabled {
		return false, nil
	}
	raw, err := c.encode(value, revs)
	if err != nil {
		return false, err
	}
	return c.write(ctx, "set_dependent", keys.Single(c.ns, key), raw)
}

func (c *cache[V]) GetDependent(ctx context.Context, key string, revs []uint64) (V, bool, error) {
	if revs == nil {
		revs = []uint64{} // no dependencies still has to match
	}
	return c.get(ctx, "get_dependent", key, readOpts{expected: revs})
}
