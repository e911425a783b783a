// Package ristretto is a bounded local tier over dgraph-io/ristretto.
//
// Ristretto admits writes asynchronously and may drop them under contention, so
// a Set that reports ok can still be followed by a local miss. The cache falls
// through to the remote tier in that case.
package ristretto

import (
	"context"
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	pr "github.com/unkn0wn-root/nemocache/provider"
)

type Provider struct {
	c *rc.Cache
	// sync waits for admission after each Set; used by tests.
	sync bool
}

var (
	_ pr.Provider = (*Provider)(nil)
	_ pr.Stater   = (*Provider)(nil)
)

type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
	// Cost in Ristretto is provided by the caller (nemocache passes the encoded length).
	// WaitOnSet blocks each Set until the write buffer is applied.
	WaitOnSet bool
}

func New(cfg Config) (*Provider, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{c: c, sync: cfg.WaitOnSet}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		// self-heal: drop unexpected entry shape
		p.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	ok := p.c.SetWithTTL(key, value, cost, ttl)
	if ok && p.sync {
		p.c.Wait()
	}
	return ok, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Del(key)
	return nil
}

func (p *Provider) Clear(context.Context) error {
	p.c.Clear()
	return nil
}

func (p *Provider) Close(_ context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Stats reports zero counters unless Config.Metrics is set.
func (p *Provider) Stats() pr.Stats {
	m := p.c.Metrics
	return pr.Stats{
		Hits:    m.Hits(),
		Misses:  m.Misses(),
		Entries: int64(m.KeysAdded()) - int64(m.KeysEvicted()),
	}
}
