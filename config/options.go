package config

import (
	"fmt"
	"time"

	"github.com/unkn0wn-root/nemocache"
	"github.com/unkn0wn-root/nemocache/backend"
	c "github.com/unkn0wn-root/nemocache/codec"
	pr "github.com/unkn0wn-root/nemocache/provider"
	"github.com/unkn0wn-root/nemocache/provider/bigcache"
	"github.com/unkn0wn-root/nemocache/provider/memory"
	"github.com/unkn0wn-root/nemocache/provider/ristretto"
	"github.com/unkn0wn-root/nemocache/registry"
	"github.com/unkn0wn-root/nemocache/revision"
)

// Identity is the registry identity of the configured cluster.
func (cfg Config) Identity() registry.Identity {
	return registry.Identity{Name: cfg.Cluster, Credential: cfg.Credential}
}

// RegisterClusters declares every configured cluster in reg. Identities that are
// already registered are kept.
func (cfg Config) RegisterClusters(reg *registry.Registry) error {
	have := make(map[string]bool)
	for _, id := range reg.Identities() {
		have[id] = true
	}
	for name, spec := range cfg.Clusters {
		id := registry.Identity{Name: name}
		if name == cfg.Cluster {
			id.Credential = cfg.Credential
		}
		if have[id.String()] {
			continue
		}
		if err := reg.Register(id, spec); err != nil {
			return err
		}
	}
	return nil
}

// Options builds cache options from cfg. The backend client comes from reg,
// which must already know the configured cluster (see RegisterClusters).
// Logger, Hooks, Scope and Clock are left for the caller.
func Options[V any](cfg Config, reg *registry.Registry, codec c.Codec[V]) (nemocache.Options[V], error) {
	var opts nemocache.Options[V]
	if codec == nil {
		return opts, fmt.Errorf("config: nil codec")
	}

	client, err := reg.Client(cfg.Identity())
	if err != nil {
		return opts, err
	}
	exp, err := cfg.Expiration.policy()
	if err != nil {
		return opts, err
	}
	local, err := cfg.Local.build()
	if err != nil {
		return opts, err
	}

	opts = nemocache.Options[V]{
		Namespace:           cfg.Namespace,
		Backend:             client,
		Codec:               wrapCodec(cfg.Codec, codec),
		Local:               local,
		Disabled:            cfg.Disabled,
		Expiration:          exp,
		Sliding:             cfg.Expiration.Mode == "sliding",
		StaleAware:          cfg.StaleAware,
		StaleAfter:          cfg.StaleAfter,
		AsyncWorkers:        cfg.Write.Workers,
		AsyncQueue:          cfg.Write.Queue,
		LockTimeout:         time.Duration(cfg.Lock.TimeoutSeconds) * time.Second,
		VerifyLocks:         cfg.Lock.Verify,
		LockRetryInterval:   cfg.Lock.RetryInterval,
		Parallelism:         cfg.Parallelism,
		MaxRevisionAttempts: cfg.MaxRevisionAttempts,
	}
	if cfg.Write.Mode == "sync" {
		opts.WriteMode = nemocache.WriteSync
	}
	if cfg.Revisions == "local" {
		opts.Revisions = revision.NewLocal(revision.LocalConfig{})
	}
	return opts, nil
}

func (e ExpirationConfig) policy() (backend.Expiration, error) {
	var exp backend.Expiration
	switch e.Mode {
	case "", "never":
		exp = backend.Never()
	case "absolute":
		at, err := time.Parse(time.RFC3339, e.At)
		if err != nil {
			return exp, fmt.Errorf("config: expiration.at: %w", err)
		}
		exp = backend.At(at)
	case "time_of_day":
		t, err := time.Parse(time.TimeOnly, e.TimeOfDay)
		if err != nil {
			return exp, fmt.Errorf("config: expiration.time_of_day: %w", err)
		}
		exp = backend.TimeOfDay(time.Duration(t.Hour())*time.Hour +
			time.Duration(t.Minute())*time.Minute +
			time.Duration(t.Second())*time.Second)
	case "after", "sliding":
		exp = backend.After(e.After)
	default:
		return exp, fmt.Errorf("config: unknown expiration mode %q", e.Mode)
	}
	if err := exp.Validate(); err != nil {
		return exp, fmt.Errorf("config: %w", err)
	}
	return exp, nil
}

func (l LocalConfig) build() (pr.Provider, error) {
	switch l.Kind {
	case "", "memory":
		clean := l.CleanInterval
		if clean <= 0 {
			clean = time.Minute
		}
		return memory.New(memory.Config{MaxEntries: l.MaxEntries, CleanInterval: clean}), nil
	case "ristretto":
		maxCost := l.MaxCost
		if maxCost <= 0 {
			maxCost = 64 << 20
		}
		return ristretto.New(ristretto.Config{
			NumCounters: maxCost / 100, // ~10x the expected entry count at ~1KiB per entry
			MaxCost:     maxCost,
			BufferItems: 64,
			Metrics:     l.Metrics,
		})
	case "bigcache":
		window := l.LifeWindow
		if window <= 0 {
			window = 10 * time.Minute
		}
		return bigcache.New(bigcache.Config{
			LifeWindow:         window,
			CleanWindow:        l.CleanInterval,
			MaxEntriesInWindow: l.MaxEntries,
			Shards:             l.Shards,
		})
	default:
		return nil, fmt.Errorf("config: unknown local tier %q", l.Kind)
	}
}

// wrapCodec applies the size limit to the caller's codec, then compression, so
// the limit bounds uncompressed values.
func wrapCodec[V any](cc CodecConfig, inner c.Codec[V]) c.Codec[V] {
	out := inner
	if cc.MaxValueBytes > 0 {
		out = c.Limit[V]{Inner: out, MaxEncode: cc.MaxValueBytes, MaxDecode: cc.MaxValueBytes}
	}
	if cc.Compress {
		out = c.LZ4[V]{Inner: out, MinSize: cc.MinSize}
	}
	return out
}
