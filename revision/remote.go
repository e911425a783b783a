package revision

import (
	"context"
	"fmt"
	"strconv"

	"github.com/benbjohnson/clock"

	"github.com/unkn0wn-root/nemocache/backend"
	"github.com/unkn0wn-root/nemocache/internal/keys"
)

// Remote shares revisions across processes through the remote tier. Records
// live under REVISION::<storageKey> as decimal strings without expiration.
type Remote struct {
	c           backend.Client
	clk         clock.Clock
	maxAttempts int
	onRace      func(storageKey string, attempt int)
}

var _ Store = (*Remote)(nil)

type RemoteConfig struct {
	Client backend.Client
	Clock  clock.Clock
	// MaxAttempts defaults to DefaultMaxAttempts.
	MaxAttempts int
	// OnRace is called when initialization lost an add race and must re-read.
	OnRace func(storageKey string, attempt int)
}

func NewRemote(cfg RemoteConfig) *Remote {
	r := &Remote{c: cfg.Client, clk: cfg.Clock, maxAttempts: cfg.MaxAttempts, onRace: cfg.OnRace}
	if r.clk == nil {
		r.clk = clock.New()
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = DefaultMaxAttempts
	}
	return r
}

func (r *Remote) seed() uint64 { return uint64(r.clk.Now().UnixNano()) }

func (r *Remote) Get(ctx context.Context, storageKey string) (uint64, error) {
	rk := keys.Revision(storageKey)
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		b, ok, err := r.c.Get(ctx, rk)
		if err != nil {
			return 0, fmt.Errorf("revision: get %q: %w", storageKey, err)
		}
		if ok {
			return parse(storageKey, b)
		}
		seed := r.seed()
		added, err := r.c.Store(ctx, backend.Add, rk, []byte(strconv.FormatUint(seed, 10)), backend.Never())
		if err != nil {
			return 0, fmt.Errorf("revision: init %q: %w", storageKey, err)
		}
		if added {
			return seed, nil
		}
		// another writer initialized it first; re-read
		if r.onRace != nil {
			r.onRace(storageKey, attempt)
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrContention, storageKey)
}

func (r *Remote) GetMany(ctx context.Context, storageKeys []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(storageKeys))
	if len(storageKeys) == 0 {
		return out, nil
	}
	rks := make([]string, len(storageKeys))
	for i, k := range storageKeys {
		rks[i] = keys.Revision(k)
	}
	found, err := r.c.GetMulti(ctx, rks)
	if err != nil {
		return nil, fmt.Errorf("revision: get many: %w", err)
	}
	for i, k := range storageKeys {
		if b, ok := found[rks[i]]; ok {
			v, err := parse(k, b)
			if err != nil {
				return nil, err
			}
			out[k] = v
			continue
		}
		v, err := r.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (r *Remote) Increment(ctx context.Context, storageKey string, delta uint64) (uint64, error) {
	if delta == 0 {
		delta = 1
	}
	v, err := r.c.Increment(ctx, keys.Revision(storageKey), r.seed(), delta)
	if err != nil {
		return 0, fmt.Errorf("revision: increment %q: %w", storageKey, err)
	}
	return v, nil
}

// Close is a no-op; the backend client is owned by the caller.
func (r *Remote) Close(context.Context) error { return nil }

func parse(storageKey string, b []byte) (uint64, error) {
	u, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("revision: parse %q: %w", storageKey, err)
	}
	return u, nil
}
