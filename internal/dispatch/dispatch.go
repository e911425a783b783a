// Package dispatch runs detached remote writes on a bounded worker queue.
//
// Tasks are routed to a worker by key, so writes to one key are applied in
// submission order and an older value can never overwrite a newer one.
package dispatch

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Task is a detached write. It receives a context that is never cancelled by
// the caller that submitted it.
type Task func(ctx context.Context)

type Pool struct {
	shards []chan job
	wg     sync.WaitGroup
	mu     sync.RWMutex
	done   bool
	once   sync.Once
}

type job struct {
	ctx context.Context
	run Task
}

// New starts workers goroutines, each draining its own queue. qlen is the
// total capacity, split evenly between workers (at least one slot each).
func New(workers, qlen int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}
	per := qlen / workers
	if per < 1 {
		per = 1
	}

	p := &Pool{shards: make([]chan job, workers)}
	p.wg.Add(workers)
	for i := range p.shards {
		q := make(chan job, per)
		p.shards[i] = q
		go func() {
			defer p.wg.Done()
			for j := range q {
				j.run(j.ctx)
			}
		}()
	}
	return p
}

// Submit queues t on the worker owning key without blocking. It reports false
// when that queue is full or the pool is closed; the task is dropped in both
// cases. Values carried by ctx are kept, its cancellation is not.
func (p *Pool) Submit(ctx context.Context, key string, t Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.done {
		return false
	}
	q := p.shards[xxhash.Sum64String(key)%uint64(len(p.shards))]
	select {
	case q <- job{ctx: context.WithoutCancel(ctx), run: t}:
		return true
	default: // drop
		return false
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.done = true
		for _, q := range p.shards {
			close(q)
		}
		p.mu.Unlock()
		p.wg.Wait()
	})
}
