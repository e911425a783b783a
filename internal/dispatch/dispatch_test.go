package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type ctxKey struct{}

func TestSubmitRunsDetached(t *testing.T) {
	p := New(2, 16)

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "v"))
	cancel()

	var ran, sawCancel atomic.Int32
	var sawValue atomic.Value
	for i := 0; i < 10; i++ {
		if !p.Submit(ctx, "k", func(ctx context.Context) {
			ran.Add(1)
			if ctx.Err() != nil {
				sawCancel.Add(1)
			}
			sawValue.Store(ctx.Value(ctxKey{}))
		}) {
			t.Fatalf("submit %d rejected", i)
		}
	}
	p.Close()

	if ran.Load() != 10 {
		t.Fatalf("ran %d tasks, want 10", ran.Load())
	}
	if sawCancel.Load() != 0 {
		t.Fatalf("detached tasks observed caller cancellation")
	}
	if sawValue.Load() != "v" {
		t.Fatalf("context values must be kept")
	}
}

func TestSubmitDropsWhenFull(t *testing.T) {
	p := New(1, 1)
	block := make(chan struct{})
	started := make(chan struct{})

	if !p.Submit(context.Background(), "k", func(context.Context) { close(started); <-block }) {
		t.Fatalf("first submit rejected")
	}
	<-started
	if !p.Submit(context.Background(), "k", func(context.Context) {}) {
		t.Fatalf("queued submit rejected")
	}
	if p.Submit(context.Background(), "k", func(context.Context) {}) {
		t.Fatalf("submit on full queue must be dropped")
	}
	close(block)
	p.Close()

	if p.Submit(context.Background(), "k", func(context.Context) {}) {
		t.Fatalf("submit after close must be rejected")
	}
	p.Close() // idempotent
}

func TestSameKeyRunsInOrder(t *testing.T) {
	p := New(4, 4096)

	var mu sync.Mutex
	seen := make(map[string][]int)
	for i := 0; i < 200; i++ {
		for k := 0; k < 8; k++ {
			key := fmt.Sprintf("key-%d", k)
			if !p.Submit(context.Background(), key, func(context.Context) {
				mu.Lock()
				seen[key] = append(seen[key], i)
				mu.Unlock()
			}) {
				t.Fatalf("submit %s/%d rejected", key, i)
			}
		}
	}
	p.Close()

	for key, order := range seen {
		if len(order) != 200 {
			t.Fatalf("%s ran %d tasks, want 200", key, len(order))
		}
		for i, v := range order {
			if v != i {
				t.Fatalf("%s: task %d ran at position %d", key, v, i)
			}
		}
	}
}
