// Package memory is the default local tier: a concurrent map with per-entry TTL
// and a soft entry cap.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	pr "github.com/unkn0wn-root/nemocache/provider"
)

type item struct {
	v        []byte
	expireAt time.Time // zero => never
}

type Config struct {
	// MaxEntries is a soft cap. Exceeding it triggers an expired-entry sweep and,
	// if still over, rejects the write. 0 = unbounded.
	MaxEntries int
	// CleanInterval runs a background sweep of expired entries. 0 disables it.
	CleanInterval time.Duration
	Clock         clock.Clock
}

type Provider struct {
	m   sync.Map
	n   atomic.Int64
	max int
	clk clock.Clock

	hits, misses atomic.Uint64

	ticker  *clock.Ticker
	closing chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

var (
	_ pr.Provider = (*Provider)(nil)
	_ pr.Stater   = (*Provider)(nil)
)

func New(cfg Config) *Provider {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	p := &Provider{max: cfg.MaxEntries, clk: clk, closing: make(chan struct{})}
	if cfg.CleanInterval > 0 {
		p.ticker = clk.Ticker(cfg.CleanInterval)
		p.wg.Add(1)
		go p.janitor()
	}
	return p
}

func (p *Provider) janitor() {
	defer p.wg.Done()
	for {
		select {
		case <-p.closing:
			return
		case <-p.ticker.C:
			p.sweep()
		}
	}
}

func (p *Provider) sweep() {
	now := p.clk.Now()
	p.m.Range(func(key, value any) bool {
		if it := value.(item); expired(it, now) {
			p.delete(key.(string))
		}
		return true
	})
}

// Len returns the number of stored entries, including not yet swept expired ones.
func (p *Provider) Len() int { return int(p.n.Load()) }

func (p *Provider) Stats() pr.Stats {
	return pr.Stats{Hits: p.hits.Load(), Misses: p.misses.Load(), Entries: p.n.Load()}
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.m.Load(key)
	if !ok {
		p.misses.Add(1)
		return nil, false, nil
	}
	it := v.(item)
	if expired(it, p.clk.Now()) {
		p.delete(key)
		p.misses.Add(1)
		return nil, false, nil
	}
	p.hits.Add(1)
	return it.v, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var expireAt time.Time
	if ttl > 0 {
		expireAt = p.clk.Now().Add(ttl)
	}
	if _, loaded := p.m.Load(key); !loaded && p.max > 0 && p.Len() >= p.max {
		p.sweep()
		if p.Len() >= p.max {
			return false, nil
		}
	}
	if _, loaded := p.m.Swap(key, item{v: value, expireAt: expireAt}); !loaded {
		p.n.Add(1)
	}
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.delete(key)
	return nil
}

func (p *Provider) Clear(context.Context) error {
	p.m.Range(func(key, _ any) bool {
		p.delete(key.(string))
		return true
	})
	return nil
}

// Close stops the background sweep. Safe to call multiple times.
func (p *Provider) Close(context.Context) error {
	p.once.Do(func() {
		close(p.closing)
		if p.ticker != nil {
			p.ticker.Stop()
		}
		p.wg.Wait()
	})
	return nil
}

func (p *Provider) delete(key string) {
	if _, loaded := p.m.LoadAndDelete(key); loaded {
		p.n.Add(-1)
	}
}

func expired(it item, now time.Time) bool {
	return !it.expireAt.IsZero() && !now.Before(it.expireAt)
}
