package revision

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type localEntry struct {
	Rev       uint64
	UpdatedAt time.Time
}

// Local keeps revisions in-process. Suitable for a single replica; revisions
// are not shared and do not survive restarts.
// Optional cleanup loop to prune long-inactive entries.
type Local struct {
	mu     sync.RWMutex
	revs   map[string]localEntry
	clk    clock.Clock
	ticker *clock.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	retention time.Duration
}

var _ Store = (*Local)(nil)

type LocalConfig struct {
	CleanupInterval time.Duration
	Retention       time.Duration
	Clock           clock.Clock
}

func NewLocal(cfg LocalConfig) *Local {
	s := &Local{
		revs:      make(map[string]localEntry),
		clk:       cfg.Clock,
		retention: cfg.Retention,
	}
	if s.clk == nil {
		s.clk = clock.New()
	}
	if cfg.CleanupInterval > 0 && cfg.Retention > 0 {
		s.ticker = s.clk.Ticker(cfg.CleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.Cleanup(s.retention)
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

func (s *Local) Get(_ context.Context, k string) (uint64, error) {
	s.mu.RLock()
	e, ok := s.revs[k]
	s.mu.RUnlock()
	if ok {
		return e.Rev, nil
	}
	return s.init(k), nil
}

// GetMany acquires the read lock once for the present keys; missing ones are
// initialized individually.
func (s *Local) GetMany(_ context.Context, ks []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(ks))
	var missing []string
	s.mu.RLock()
	for _, k := range ks {
		if e, ok := s.revs[k]; ok {
			out[k] = e.Rev
		} else {
			missing = append(missing, k)
		}
	}
	s.mu.RUnlock()
	for _, k := range missing {
		out[k] = s.init(k)
	}
	return out, nil
}

func (s *Local) Increment(_ context.Context, k string, delta uint64) (uint64, error) {
	if delta == 0 {
		delta = 1
	}
	now := s.clk.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.revs[k]
	if !ok {
		e.Rev = uint64(now.UnixNano())
	} else {
		e.Rev += delta
	}
	e.UpdatedAt = now
	s.revs[k] = e
	return e.Rev, nil
}

func (s *Local) init(k string) uint64 {
	now := s.clk.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.revs[k]; ok {
		return e.Rev
	}
	e := localEntry{Rev: uint64(now.UnixNano()), UpdatedAt: now}
	s.revs[k] = e
	return e.Rev
}

// Cleanup prunes entries not touched within retention.
func (s *Local) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := s.clk.Now().Add(-retention)

	s.mu.Lock()
	for k, e := range s.revs {
		if !e.UpdatedAt.IsZero() && e.UpdatedAt.Before(cutoff) {
			delete(s.revs, k)
		}
	}
	s.mu.Unlock()
}

func (s *Local) Close(_ context.Context) error {
	s.once.Do(func() {
		if s.stopCh != nil {
			if s.ticker != nil {
				s.ticker.Stop() // stop ticker before waiting
			}
			close(s.stopCh)
			s.wg.Wait()
		}
	})
	return nil
}
