// Package asynchook moves Hooks callbacks off the cache's hot path.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SelfHealEvery: 10, // sample logs: ~every 10th self-heal
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := nemocache.New[Order](nemocache.Options[Order]{
//	    Namespace: "order",
//	    Backend:   client,
//	    Codec:     codec.JSON[Order]{},
//	    Hooks:     hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/nemocache"
)

type Hooks struct {
	inner   nemocache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	once    sync.Once
	dropped atomic.Uint64
}

var _ nemocache.Hooks = (*Hooks)(nil)

func New(inner nemocache.Hooks, workers, qlen int) *Hooks {
	if inner == nil {
		inner = nemocache.NopHooks{}
	}
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close delivers queued events and stops the workers. Events raised afterwards
// are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped is the number of events lost to a full queue or a closed Hooks.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) SelfHeal(k, r string)     { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) ReadRejected(k, r string) { h.try(func() { h.inner.ReadRejected(k, r) }) }
func (h *Hooks) RemoteWriteFailed(k string, async bool, err error) {
	h.try(func() { h.inner.RemoteWriteFailed(k, async, err) })
}
func (h *Hooks) AsyncWriteDropped(k string)    { h.try(func() { h.inner.AsyncWriteDropped(k) }) }
func (h *Hooks) CASConflict(k string)          { h.try(func() { h.inner.CASConflict(k) }) }
func (h *Hooks) LockContended(k string)        { h.try(func() { h.inner.LockContended(k) }) }
func (h *Hooks) LockReadbackMismatch(k string) { h.try(func() { h.inner.LockReadbackMismatch(k) }) }
func (h *Hooks) RevisionRace(k string, attempt int) {
	h.try(func() { h.inner.RevisionRace(k, attempt) })
}
