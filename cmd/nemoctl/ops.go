package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/nemocache"
)

var (
	errNotFound = errors.New("not found")
	errLockHeld = errors.New("lock is held by another owner")
)

type ops struct {
	cache nemocache.Cache[string]
	out   io.Writer
	log   logrus.FieldLogger
}

func (o *ops) get(ctx context.Context, key string, stale bool) error {
	read := o.cache.Get
	if stale {
		read = o.cache.GetStale
	}
	v, ok, err := read(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%q: %w", key, errNotFound)
	}
	fmt.Fprintln(o.out, v)
	return nil
}

func (o *ops) set(ctx context.Context, key, value string) error {
	ok, err := o.cache.Set(ctx, key, value)
	if err != nil {
		return err
	}
	o.log.WithFields(logrus.Fields{"key": key, "stored": ok}).Info("set")
	return nil
}

func (o *ops) add(ctx context.Context, key, value string) error {
	ok, err := o.cache.Add(ctx, key, value)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%q already exists", key)
	}
	o.log.WithField("key", key).Info("added")
	return nil
}

func (o *ops) remove(ctx context.Context, key string) error {
	ok, err := o.cache.Remove(ctx, key)
	if err != nil {
		return err
	}
	o.log.WithFields(logrus.Fields{"key": key, "existed": ok}).Info("removed")
	return nil
}

func (o *ops) index(ctx context.Context, key string) error {
	members, ok, err := o.cache.GetIndex(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%q: %w", key, errNotFound)
	}
	fmt.Fprintln(o.out, strings.Join(members, "\n"))
	return nil
}

func (o *ops) setIndex(ctx context.Context, key string, members []string) error {
	_, err := o.cache.SetIndex(ctx, key, members)
	return err
}

// lock holds the lock for hold, or until ctx ends, then releases it.
func (o *ops) lock(ctx context.Context, key string, wait bool, hold time.Duration) error {
	if wait {
		if err := o.cache.AcquireLock(ctx, key); err != nil {
			return err
		}
	} else {
		ok, err := o.cache.TryAcquireLock(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%q: %w", key, errLockHeld)
		}
	}
	o.log.WithFields(logrus.Fields{"key": key, "hold": hold}).Info("lock acquired")

	if hold > 0 {
		t := time.NewTimer(hold)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}

	released, err := o.cache.ReleaseLock(context.WithoutCancel(ctx), key)
	if err != nil {
		return err
	}
	if !released {
		o.log.WithField("key", key).Warn("lock expired before release")
	}
	return nil
}

func (o *ops) revisions(ctx context.Context, keys []string) error {
	revs, err := o.cache.Revisions(ctx, keys)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(revs))
	for k := range revs {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(o.out, "%s\t%d\n", k, revs[k])
	}
	return nil
}

func (o *ops) bump(ctx context.Context, key string, delta uint64) error {
	rev, err := o.cache.IncrementRevision(ctx, key, delta)
	if err != nil {
		return err
	}
	fmt.Fprintln(o.out, rev)
	return nil
}

func (o *ops) flush(ctx context.Context, confirmed bool) error {
	if !confirmed {
		return errors.New("flush clears the entire backend; pass --yes to confirm")
	}
	if err := o.cache.Clear(ctx); err != nil {
		return err
	}
	o.log.Warn("backend flushed")
	return nil
}
