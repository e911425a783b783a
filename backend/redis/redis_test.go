package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/nemocache/backend"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	c, err := New(Config{Client: rdb, CloseClient: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestNewRejectsNilClient(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNilClient) {
		t.Fatalf("expected ErrNilClient, got %v", err)
	}
}

func TestStoreModesAndGet(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	if ok, err := c.Store(ctx, backend.Replace, "k", []byte("a"), backend.Never()); err != nil || ok {
		t.Fatalf("replace on missing: ok=%v err=%v", ok, err)
	}
	if ok, err := c.Store(ctx, backend.Add, "k", []byte("a\x00b"), backend.Never()); err != nil || !ok {
		t.Fatalf("add: ok=%v err=%v", ok, err)
	}
	if ok, _ := c.Store(ctx, backend.Add, "k", []byte("z"), backend.Never()); ok {
		t.Fatalf("second add must fail")
	}
	v, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || string(v) != "a\x00b" {
		t.Fatalf("Get: v=%q ok=%v err=%v", v, ok, err)
	}
	if _, ok, _ := c.Get(ctx, "missing"); ok {
		t.Fatalf("missing key reported as hit")
	}
	got, err := c.GetMulti(ctx, []string{"k", "missing"})
	if err != nil || len(got) != 1 || string(got["k"]) != "a\x00b" {
		t.Fatalf("GetMulti: %v err=%v", got, err)
	}
}

func TestExpirationAndTouch(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)

	_, _ = c.Store(ctx, backend.Set, "k", []byte("v"), backend.After(10*time.Second))
	mr.FastForward(9 * time.Second)
	if ok, _ := c.Touch(ctx, "k", backend.After(10*time.Second)); !ok {
		t.Fatalf("touch on live key must succeed")
	}
	mr.FastForward(9 * time.Second)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatalf("touch did not extend the ttl")
	}
	mr.FastForward(2 * time.Second)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatalf("key should be expired")
	}

	_, _ = c.Store(ctx, backend.Set, "p", []byte("v"), backend.After(time.Second))
	_, _ = c.Store(ctx, backend.Set, "p", []byte("v2"), backend.Never())
	mr.FastForward(time.Minute)
	if _, ok, _ := c.Get(ctx, "p"); !ok {
		t.Fatalf("never expiration must clear an earlier ttl")
	}

	_, _ = c.Store(ctx, backend.Set, "gone", []byte("v"), backend.At(time.Now().Add(-time.Minute)))
	if mr.Exists("gone") {
		t.Fatalf("elapsed deadline must not leave the key behind")
	}
}

func TestCompareAndSwapTokens(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	_, _ = c.Store(ctx, backend.Set, "k", []byte("v1"), backend.Never())
	_, cas, ok, err := c.GetWithCAS(ctx, "k")
	if err != nil || !ok || cas == 0 {
		t.Fatalf("GetWithCAS: cas=%d ok=%v err=%v", cas, ok, err)
	}
	if ok, err := c.CompareAndSwap(ctx, "k", []byte("v2"), cas, backend.Never()); err != nil || !ok {
		t.Fatalf("fresh CAS: ok=%v err=%v", ok, err)
	}
	if ok, _ := c.CompareAndSwap(ctx, "k", []byte("v3"), cas, backend.Never()); ok {
		t.Fatalf("stale CAS must fail")
	}
	if ok, _ := c.RemoveCAS(ctx, "k", cas); ok {
		t.Fatalf("stale RemoveCAS must fail")
	}

	// delete and recreate: old token must not match the new entry
	_, cas2, _, _ := c.GetWithCAS(ctx, "k")
	_, _ = c.Remove(ctx, "k")
	_, _ = c.Store(ctx, backend.Set, "k", []byte("v4"), backend.Never())
	if ok, _ := c.RemoveCAS(ctx, "k", cas2); ok {
		t.Fatalf("token from a deleted entry matched its replacement")
	}
	_, cas3, _, _ := c.GetWithCAS(ctx, "k")
	if ok, _ := c.RemoveCAS(ctx, "k", cas3); !ok {
		t.Fatalf("fresh RemoveCAS must succeed")
	}

	items, err := c.GetMultiWithCAS(ctx, []string{"k"})
	if err != nil || len(items) != 0 {
		t.Fatalf("GetMultiWithCAS after remove: %v err=%v", items, err)
	}
}

func TestIncrementKeepsPrecision(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	const seed = uint64(1_760_000_000_123_456_789) // beyond 2^53
	v, err := c.Increment(ctx, "r", seed, 1)
	if err != nil || v != seed {
		t.Fatalf("first Increment: v=%d err=%v", v, err)
	}
	v, err = c.Increment(ctx, "r", seed, 1)
	if err != nil || v != seed+1 {
		t.Fatalf("second Increment: v=%d want %d err=%v", v, seed+1, err)
	}

	_, _ = c.Store(ctx, backend.Set, "s", []byte("text"), backend.Never())
	if _, err := c.Increment(ctx, "s", 0, 1); !errors.Is(err, backend.ErrNotNumeric) {
		t.Fatalf("expected ErrNotNumeric, got %v", err)
	}
}

func TestAppendAndFlush(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)

	if ok, _ := c.Append(ctx, "k", []byte("x")); ok {
		t.Fatalf("append on missing key must fail")
	}
	_, _ = c.Store(ctx, backend.Set, "k", []byte("ab"), backend.Never())
	if ok, err := c.Append(ctx, "k", []byte("cd")); err != nil || !ok {
		t.Fatalf("Append: ok=%v err=%v", ok, err)
	}
	if v, _, _ := c.Get(ctx, "k"); string(v) != "abcd" {
		t.Fatalf("append result %q", v)
	}
	if err := c.FlushAll(ctx); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("FlushAll left keys: %v", mr.Keys())
	}
}
