package nemocache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/nemocache/backend"
	c "github.com/unkn0wn-root/nemocache/codec"
	"github.com/unkn0wn-root/nemocache/internal/dispatch"
	"github.com/unkn0wn-root/nemocache/internal/keys"
	"github.com/unkn0wn-root/nemocache/internal/wire"
	"github.com/unkn0wn-root/nemocache/lock"
	pr "github.com/unkn0wn-root/nemocache/provider"
	"github.com/unkn0wn-root/nemocache/provider/memory"
	"github.com/unkn0wn-root/nemocache/revision"
)

// read rejection reasons, reported through Hooks
const (
	reasonCorrupt         = "corrupt"
	reasonValueDecode     = "value_decode"
	reasonExpired         = "expired"
	reasonVersionMismatch = "version_mismatch"
	reasonKindMismatch    = "kind_mismatch"
)

type cache[V any] struct {
	ns     string
	remote backend.Client
	cas    bool
	local  pr.Provider
	codec  c.Codec[V]
	revs   revision.Store
	locker *lock.Locker
	pool   *dispatch.Pool // nil => WriteSync
	log    Logger
	hooks  Hooks
	m      metrics
	clk    clock.Clock

	enabled     bool
	exp         backend.Expiration
	sliding     bool
	staleAware  bool
	staleAfter  time.Duration
	parallel    int
	closeRemote bool

	sf        singleflight.Group
	closeOnce sync.Once
	closeErr  error
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("nemocache: backend is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("nemocache: codec is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("nemocache: namespace is required")
	}
	if err := opts.Expiration.Validate(); err != nil {
		return nil, fmt.Errorf("nemocache: %w", err)
	}
	if opts.Sliding && opts.Expiration.Kind != backend.ExpireAfter {
		return nil, fmt.Errorf("nemocache: sliding expiration needs an %s expiration, got %s",
			backend.ExpireAfter, opts.Expiration.Kind)
	}
	if opts.StaleAfter < 0 {
		return nil, fmt.Errorf("nemocache: negative StaleAfter %s", opts.StaleAfter)
	}

	c := &cache[V]{
		ns:          opts.Namespace,
		remote:      opts.Backend,
		cas:         opts.Backend.Capabilities().CAS,
		codec:       opts.Codec,
		enabled:     !opts.Disabled,
		exp:         opts.Expiration,
		sliding:     opts.Sliding,
		staleAware:  opts.StaleAware,
		staleAfter:  opts.StaleAfter,
		closeRemote: opts.CloseBackend,
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.clk = coalesce[clock.Clock](opts.Clock, clock.New())
	c.m = newMetrics(opts.Scope)
	c.parallel = coalesce(opts.Parallelism, defaultParallelism)

	if opts.Local != nil {
		c.local = opts.Local
	} else {
		c.local = memory.New(memory.Config{CleanInterval: defaultLocalSweep, Clock: c.clk})
	}

	if opts.Revisions != nil {
		c.revs = opts.Revisions
	} else {
		c.revs = revision.NewRemote(revision.RemoteConfig{
			Client:      opts.Backend,
			Clock:       c.clk,
			MaxAttempts: opts.MaxRevisionAttempts,
			OnRace: func(sk string, attempt int) {
				c.hooks.RevisionRace(sk, attempt)
				c.log.Debug("revision init race", Fields{"key": sk, "attempt": attempt})
			},
		})
	}

	locker, err := lock.New(lock.Config{
		Client:        opts.Backend,
		Timeout:       opts.LockTimeout,
		Verify:        opts.VerifyLocks,
		RetryInterval: opts.LockRetryInterval,
		Clock:         c.clk,
		OnContended: func(sk string) {
			c.hooks.LockContended(sk)
			c.m.inc("lock", resContended)
		},
		OnMismatch: func(sk string) {
			c.hooks.LockReadbackMismatch(sk)
			c.log.Warn("lock readback mismatch", Fields{"key": sk})
		},
	})
	if err != nil {
		return nil, err
	}
	c.locker = locker

	if opts.WriteMode == WriteAsync {
		c.pool = dispatch.New(
			coalesce(opts.AsyncWorkers, defaultAsyncWorkers),
			coalesce(opts.AsyncQueue, defaultAsyncQueue),
		)
	}

	c.log.Debug("cache ready", Fields{
		"ns": c.ns, "cas": c.cas, "write_mode": opts.WriteMode.String(),
		"expiration": c.exp.Kind.String(), "sliding": c.sliding, "stale_aware": c.staleAware,
	})
	return c, nil
}

func (c *cache[V]) Enabled() bool { return c.enabled }

// Close drains queued writes, then releases the revision store and the local
// tier. The backend is closed only when Options.CloseBackend is set.
func (c *cache[V]) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		if c.pool != nil {
			c.pool.Close()
		}
		if st, ok := c.local.(pr.Stater); ok {
			s := st.Stats()
			c.log.Debug("local tier closing", Fields{"ns": c.ns, "hits": s.Hits, "misses": s.Misses, "entries": s.Entries})
		}
		var err error
		err = multierr.Append(err, c.revs.Close(ctx))
		err = multierr.Append(err, c.local.Close(ctx))
		if c.closeRemote {
			err = multierr.Append(err, c.remote.Close())
		}
		c.closeErr = err
	})
	return c.closeErr
}

type readOpts struct {
	stale    bool     // skip freshness and version checks
	expected []uint64 // nil accepts any version vector
	index    bool     // expect an index entry
}

type decodeFn func(payload []byte) error

func (c *cache[V]) into(v *V) decodeFn {
	return func(b []byte) (err error) {
		*v, err = c.codec.Decode(b)
		return err
	}
}

func (c *cache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	return c.get(ctx, "get", key, readOpts{})
}

func (c *cache[V]) GetStale(ctx context.Context, key string) (V, bool, error) {
	return c.get(ctx, "get_stale", key, readOpts{stale: true})
}

func (c *cache[V]) GetMany(ctx context.Context, keyList []string) (map[string]V, error) {
	return c.getMany(ctx, "get_many", keyList, readOpts{})
}

func (c *cache[V]) GetManyStale(ctx context.Context, keyList []string) (map[string]V, error) {
	return c.getMany(ctx, "get_many_stale", keyList, readOpts{stale: true})
}

func (c *cache[V]) GetIndex(ctx context.Context, key string) ([]string, bool, error) {
	if !c.enabled {
		return nil, false, nil
	}
	var members []string
	decode := func(b []byte) (err error) {
		members, err = wire.DecodeKeys(b)
		return err
	}
	found, err := c.lookup(ctx, "get_index", keys.Single(c.ns, key), readOpts{index: true}, decode)
	if err != nil || !found {
		return nil, false, err
	}
	return members, true, nil
}

func (c *cache[V]) get(ctx context.Context, op, key string, ro readOpts) (V, bool, error) {
	var zero V
	if !c.enabled {
		return zero, false, nil
	}
	var v V
	found, err := c.lookup(ctx, op, keys.Single(c.ns, key), ro, c.into(&v))
	if err != nil || !found {
		return zero, false, err
	}
	return v, true, nil
}

// lookup serves sk from the local tier, falling back to the remote tier.
// A local hit never touches the remote tier.
func (c *cache[V]) lookup(ctx context.Context, op, sk string, ro readOpts, decode decodeFn) (bool, error) {
	now := c.clk.Now().UnixNano()
	if c.fromLocal(ctx, sk, ro, now, decode) {
		c.m.inc(op, resLocalHit)
		return true, nil
	}

	sw := c.m.remote("get")
	raw, ok, err := c.remote.Get(ctx, sk)
	sw.Stop()
	if err != nil {
		c.m.inc(op, resFail)
		return false, fmt.Errorf("nemocache: get %q: %w", sk, err)
	}
	if !ok {
		c.m.inc(op, resMiss)
		return false, nil
	}
	if !c.accept(ctx, op, sk, raw, ro, now, decode) {
		return false, nil
	}
	c.m.inc(op, resRemoteHit)
	return true, nil
}

func (c *cache[V]) getMany(ctx context.Context, op string, keyList []string, ro readOpts) (map[string]V, error) {
	out := make(map[string]V, len(keyList))
	if !c.enabled || len(keyList) == 0 {
		return out, nil
	}
	sks, orig := keys.Batch(c.ns, keyList)
	now := c.clk.Now().UnixNano()

	var mu sync.Mutex
	put := func(sk string, v V) {
		mu.Lock()
		out[orig[sk]] = v
		mu.Unlock()
	}

	// local scan
	hit := make([]bool, len(sks))
	var g errgroup.Group
	g.SetLimit(c.parallel)
	for i, sk := range sks {
		g.Go(func() error {
			var v V
			if c.fromLocal(ctx, sk, ro, now, c.into(&v)) {
				hit[i] = true
				put(sk, v)
			}
			return nil
		})
	}
	_ = g.Wait()

	missing := make([]string, 0, len(sks))
	for i, sk := range sks {
		if !hit[i] {
			missing = append(missing, sk)
		}
	}
	c.m.add(op, resLocalHit, len(sks)-len(missing))
	if len(missing) == 0 {
		return out, nil
	}

	sw := c.m.remote("get_multi")
	found, err := c.remote.GetMulti(ctx, missing)
	sw.Stop()
	if err != nil {
		c.m.inc(op, resFail)
		return nil, fmt.Errorf("nemocache: get many (%d keys): %w", len(missing), err)
	}
	c.m.add(op, resMiss, len(missing)-len(found))

	var dg errgroup.Group
	dg.SetLimit(c.parallel)
	for sk, raw := range found {
		if _, want := orig[sk]; !want {
			continue
		}
		dg.Go(func() error {
			var v V
			if c.accept(ctx, op, sk, raw, ro, now, c.into(&v)) {
				c.m.inc(op, resRemoteHit)
				put(sk, v)
			}
			return nil
		})
	}
	_ = dg.Wait()
	return out, nil
}

// check decodes raw and applies the read policy. A non-empty reason rejects
// the entry.
func (c *cache[V]) check(raw []byte, ro readOpts, now int64) (wire.Value, string) {
	env, err := wire.Decode(raw)
	if err != nil {
		return wire.Value{}, reasonCorrupt
	}
	if env.QueryKey != ro.index {
		return env, reasonKindMismatch
	}
	if ro.stale {
		return env, ""
	}
	if c.staleAware && !env.IsValid(now) {
		return env, reasonExpired
	}
	if !env.IsValidVersion(ro.expected) {
		return env, reasonVersionMismatch
	}
	return env, ""
}

// fromLocal serves sk from the local tier. Rejected entries are dropped so the
// caller falls through to the remote tier, which may hold a newer write.
func (c *cache[V]) fromLocal(ctx context.Context, sk string, ro readOpts, now int64, decode decodeFn) bool {
	raw, ok, err := c.local.Get(ctx, sk)
	if err != nil {
		c.log.Debug("local get failed", Fields{"key": sk, "err": err})
		return false
	}
	if !ok {
		return false
	}
	env, reason := c.check(raw, ro, now)
	if reason == "" {
		if err := decode(env.Buffer); err == nil {
			return true
		}
		reason = reasonValueDecode
	}
	_ = c.local.Del(ctx, sk)
	c.log.Debug("local entry rejected", Fields{"key": sk, "reason": reason})
	return false
}

// accept applies the read policy to remote bytes. Accepted entries populate the
// local tier and, with sliding expiration, refresh the remote lifetime.
func (c *cache[V]) accept(ctx context.Context, op, sk string, raw []byte, ro readOpts, now int64, decode decodeFn) bool {
	env, reason := c.check(raw, ro, now)
	switch reason {
	case "":
	case reasonCorrupt:
		c.m.inc(op, resRejected)
		c.heal(ctx, sk, reason)
		return false
	default:
		c.m.inc(op, resRejected)
		c.hooks.ReadRejected(sk, reason)
		return false
	}
	if err := decode(env.Buffer); err != nil {
		c.m.inc(op, resRejected)
		c.heal(ctx, sk, reasonValueDecode)
		return false
	}

	c.putLocal(ctx, sk, raw)
	if c.sliding {
		c.refresh(ctx, sk, raw)
	}
	return true
}

// heal removes an unreadable entry from both tiers (best effort).
func (c *cache[V]) heal(ctx context.Context, sk, reason string) {
	c.hooks.SelfHeal(sk, reason)
	_ = c.local.Del(ctx, sk)
	if _, err := c.remote.Remove(ctx, sk); err != nil {
		c.log.Warn("self-heal remove failed", Fields{"key": sk, "reason": reason, "err": err})
		return
	}
	c.log.Debug("self-healed entry", Fields{"key": sk, "reason": reason})
}

// putLocal stores the envelope locally with the lifetime of the configured
// expiration. Writes whose deadline already passed are not kept.
func (c *cache[V]) putLocal(ctx context.Context, sk string, raw []byte) {
	ttl := c.exp.TTL(c.clk.Now())
	if ttl < 0 {
		_ = c.local.Del(ctx, sk)
		return
	}
	ok, err := c.local.Set(ctx, sk, raw, int64(len(raw)), ttl)
	if err != nil {
		c.log.Debug("local set failed", Fields{"key": sk, "err": err})
		return
	}
	if !ok {
		c.log.Debug("local set rejected (pressure)", Fields{"key": sk})
	}
}

// refresh extends the remote lifetime of an accepted entry. CAS backends get a
// Touch: rewriting the value would issue a new token and fail a concurrent
// versioned write that nobody actually raced.
func (c *cache[V]) refresh(ctx context.Context, sk string, raw []byte) {
	c.dispatch(ctx, sk, func(ctx context.Context, async bool) {
		var err error
		if c.cas {
			_, err = c.remote.Touch(ctx, sk, c.exp)
		} else {
			_, err = c.remote.Store(ctx, backend.Replace, sk, raw, c.exp)
		}
		if err != nil {
			c.hooks.RemoteWriteFailed(sk, async, err)
			c.log.Warn("sliding refresh failed", Fields{"key": sk, "async": async, "err": err})
		}
	})
}

// dispatch runs task on the write pool in WriteAsync mode and inline otherwise.
// It reports false when the queue was full and the task was dropped.
func (c *cache[V]) dispatch(ctx context.Context, sk string, task func(ctx context.Context, async bool)) bool {
	if c.pool == nil {
		task(ctx, false)
		return true
	}
	if !c.pool.Submit(ctx, sk, func(ctx context.Context) { task(ctx, true) }) {
		c.m.inc("write", resDropped)
		c.hooks.AsyncWriteDropped(sk)
		c.log.Warn("async write dropped (queue full)", Fields{"key": sk})
		return false
	}
	return true
}
