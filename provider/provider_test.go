package provider_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/unkn0wn-root/nemocache/provider"
	"github.com/unkn0wn-root/nemocache/provider/bigcache"
	"github.com/unkn0wn-root/nemocache/provider/memory"
	"github.com/unkn0wn-root/nemocache/provider/ristretto"
)

// Every local tier must honor the same transparent byte contract.
func TestProvidersContract(t *testing.T) {
	ctx := context.Background()

	rp, err := ristretto.New(ristretto.Config{NumCounters: 1000, MaxCost: 1 << 20, BufferItems: 64, WaitOnSet: true, Metrics: true})
	if err != nil {
		t.Fatalf("ristretto: %v", err)
	}
	bp, err := bigcache.New(bigcache.Config{LifeWindow: time.Minute, Shards: 16})
	if err != nil {
		t.Fatalf("bigcache: %v", err)
	}

	impls := map[string]provider.Provider{
		"memory":    memory.New(memory.Config{}),
		"ristretto": rp,
		"bigcache":  bp,
	}
	for name, p := range impls {
		t.Run(name, func(t *testing.T) {
			defer p.Close(ctx)

			val := []byte{'N', 'E', 'M', 'O', 0, 1, 2}
			if ok, err := p.Set(ctx, "k", val, int64(len(val)), time.Minute); !ok || err != nil {
				t.Fatalf("Set: ok=%v err=%v", ok, err)
			}
			got, ok, err := p.Get(ctx, "k")
			if err != nil || !ok || !bytes.Equal(got, val) {
				t.Fatalf("Get: %x ok=%v err=%v", got, ok, err)
			}
			_, _, _ = p.Get(ctx, "absent")
			if st := p.(provider.Stater).Stats(); st.Hits < 1 || st.Misses < 1 {
				t.Fatalf("Stats: %+v", st)
			}
			if err := p.Del(ctx, "k"); err != nil {
				t.Fatalf("Del: %v", err)
			}
			if err := p.Del(ctx, "missing"); err != nil {
				t.Fatalf("Del on missing key: %v", err)
			}
			if _, ok, _ := p.Get(ctx, "k"); ok {
				t.Fatalf("deleted key still present")
			}

			_, _ = p.Set(ctx, "a", []byte("1"), 1, 0)
			if err := p.Clear(ctx); err != nil {
				t.Fatalf("Clear: %v", err)
			}
			if _, ok, _ := p.Get(ctx, "a"); ok {
				t.Fatalf("Clear left entries behind")
			}
		})
	}
}
