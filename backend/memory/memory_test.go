package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/unkn0wn-root/nemocache/backend"
)

func TestStoreModes(t *testing.T) {
	ctx := context.Background()
	c := New(nil)

	if ok, _ := c.Store(ctx, backend.Replace, "k", []byte("a"), backend.Never()); ok {
		t.Fatalf("replace on missing key must fail")
	}
	if ok, _ := c.Store(ctx, backend.Add, "k", []byte("a"), backend.Never()); !ok {
		t.Fatalf("first add must succeed")
	}
	if ok, _ := c.Store(ctx, backend.Add, "k", []byte("b"), backend.Never()); ok {
		t.Fatalf("second add must fail")
	}
	if !c.Equal("k", []byte("a")) {
		t.Fatalf("failed add must not overwrite")
	}
	if ok, _ := c.Store(ctx, backend.Replace, "k", []byte("c"), backend.Never()); !ok {
		t.Fatalf("replace on present key must succeed")
	}
	if ok, _ := c.Store(ctx, backend.Set, "k", []byte("d"), backend.Never()); !ok || !c.Equal("k", []byte("d")) {
		t.Fatalf("set must overwrite")
	}
}

func TestExpiryWithMockClock(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	c := New(mock)

	_, _ = c.Store(ctx, backend.Set, "k", []byte("v"), backend.After(10*time.Second))
	mock.Add(9 * time.Second)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatalf("entry expired early")
	}
	if ok, _ := c.Touch(ctx, "k", backend.After(10*time.Second)); !ok {
		t.Fatalf("touch on live key must succeed")
	}
	mock.Add(9 * time.Second)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatalf("touch did not extend lifetime")
	}
	mock.Add(2 * time.Second)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatalf("entry should have expired")
	}

	// elapsed absolute deadline deletes immediately
	_, _ = c.Store(ctx, backend.Set, "gone", []byte("v"), backend.At(mock.Now().Add(-time.Second)))
	if _, ok, _ := c.Get(ctx, "gone"); ok {
		t.Fatalf("store with elapsed deadline must not be visible")
	}
}

func TestCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	c := New(nil)

	_, _ = c.Store(ctx, backend.Set, "k", []byte("v1"), backend.Never())
	_, cas, ok, err := c.GetWithCAS(ctx, "k")
	if err != nil || !ok || cas == 0 {
		t.Fatalf("GetWithCAS: ok=%v cas=%d err=%v", ok, cas, err)
	}
	if ok, _ := c.CompareAndSwap(ctx, "k", []byte("v2"), cas, backend.Never()); !ok {
		t.Fatalf("CAS with fresh token must succeed")
	}
	if ok, _ := c.CompareAndSwap(ctx, "k", []byte("v3"), cas, backend.Never()); ok {
		t.Fatalf("CAS with stale token must fail")
	}
	if !c.Equal("k", []byte("v2")) {
		t.Fatalf("stale CAS overwrote value")
	}
	if ok, _ := c.RemoveCAS(ctx, "k", cas); ok {
		t.Fatalf("RemoveCAS with stale token must fail")
	}
	_, cas2, _, _ := c.GetWithCAS(ctx, "k")
	if ok, _ := c.RemoveCAS(ctx, "k", cas2); !ok {
		t.Fatalf("RemoveCAS with fresh token must succeed")
	}
}

func TestIncrementConcurrentUnique(t *testing.T) {
	ctx := context.Background()
	c := New(nil)

	const workers, per = 8, 50
	var (
		mu   sync.Mutex
		seen = make(map[uint64]bool)
		wg   sync.WaitGroup
	)
	_, _ = c.Increment(ctx, "r", 100, 1)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				v, err := c.Increment(ctx, "r", 100, 1)
				if err != nil {
					t.Errorf("Increment: %v", err)
					return
				}
				mu.Lock()
				if seen[v] {
					t.Errorf("duplicate revision %d", v)
				}
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != workers*per {
		t.Fatalf("got %d unique values, want %d", len(seen), workers*per)
	}
}

func TestIncrementNonNumeric(t *testing.T) {
	ctx := context.Background()
	c := New(nil)
	_, _ = c.Store(ctx, backend.Set, "k", []byte("abc"), backend.Never())
	if _, err := c.Increment(ctx, "k", 0, 1); !errors.Is(err, backend.ErrNotNumeric) {
		t.Fatalf("expected ErrNotNumeric, got %v", err)
	}
}

func TestAppendAndFlush(t *testing.T) {
	ctx := context.Background()
	c := New(nil)
	if ok, _ := c.Append(ctx, "k", []byte("x")); ok {
		t.Fatalf("append on missing key must fail")
	}
	_, _ = c.Store(ctx, backend.Set, "k", []byte("ab"), backend.Never())
	if ok, _ := c.Append(ctx, "k", []byte("cd")); !ok || !c.Equal("k", []byte("abcd")) {
		t.Fatalf("append failed")
	}
	got, _ := c.GetMulti(ctx, []string{"k", "missing"})
	if len(got) != 1 {
		t.Fatalf("GetMulti must omit absent keys, got %v", got)
	}
	if err := c.FlushAll(ctx); err != nil || c.Len() != 0 {
		t.Fatalf("FlushAll: err=%v len=%d", err, c.Len())
	}
	_ = c.Close()
	if _, _, err := c.Get(ctx, "k"); !errors.Is(err, backend.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
