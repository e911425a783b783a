package backend

import (
	"fmt"
	"time"
)

// ExpirationKind selects how an Expiration is interpreted.
type ExpirationKind uint8

const (
	// ExpireNever keeps the entry until evicted or removed.
	ExpireNever ExpirationKind = iota
	// ExpireAt expires at an absolute wall-clock time.
	ExpireAt
	// ExpireTimeOfDay expires at the next occurrence of a daily cutoff.
	ExpireTimeOfDay
	// ExpireAfter expires a fixed span after the write (sliding when refreshed on read).
	ExpireAfter
)

func (k ExpirationKind) String() string {
	switch k {
	case ExpireNever:
		return "never"
	case ExpireAt:
		return "absolute"
	case ExpireTimeOfDay:
		return "time_of_day"
	case ExpireAfter:
		return "sliding"
	default:
		return "unknown"
	}
}

// Expiration is a per-write expiration policy. The zero value never expires.
type Expiration struct {
	Kind ExpirationKind
	// At is the absolute deadline for ExpireAt.
	At time.Time
	// Span is the lifetime for ExpireAfter, or the offset since local midnight
	// for ExpireTimeOfDay.
	Span time.Duration
}

// Never returns the no-expiration policy.
func Never() Expiration { return Expiration{} }

// At expires at t.
func At(t time.Time) Expiration { return Expiration{Kind: ExpireAt, At: t} }

// After expires d after each write.
func After(d time.Duration) Expiration { return Expiration{Kind: ExpireAfter, Span: d} }

// TimeOfDay expires at the next hh:mm:ss boundary given as an offset since midnight.
func TimeOfDay(offset time.Duration) Expiration {
	return Expiration{Kind: ExpireTimeOfDay, Span: offset}
}

// Validate rejects policies that can never be honored.
func (e Expiration) Validate() error {
	switch e.Kind {
	case ExpireNever:
		return nil
	case ExpireAt:
		if e.At.IsZero() {
			return fmt.Errorf("backend: absolute expiration without a deadline")
		}
	case ExpireTimeOfDay:
		if e.Span < 0 || e.Span >= 24*time.Hour {
			return fmt.Errorf("backend: time of day %s out of range", e.Span)
		}
	case ExpireAfter:
		if e.Span <= 0 {
			return fmt.Errorf("backend: sliding expiration needs a positive span, got %s", e.Span)
		}
	default:
		return fmt.Errorf("backend: unknown expiration kind %d", e.Kind)
	}
	return nil
}

// Deadline returns the absolute expiry relative to now; zero time means never.
func (e Expiration) Deadline(now time.Time) time.Time {
	switch e.Kind {
	case ExpireAt:
		return e.At
	case ExpireTimeOfDay:
		y, m, d := now.Date()
		cut := time.Date(y, m, d, 0, 0, 0, 0, now.Location()).Add(e.Span)
		if !cut.After(now) {
			cut = cut.AddDate(0, 0, 1)
		}
		return cut
	case ExpireAfter:
		return now.Add(e.Span)
	default:
		return time.Time{}
	}
}

// TTL returns the remaining lifetime relative to now. Zero means never expires;
// an already elapsed deadline yields a negative duration.
func (e Expiration) TTL(now time.Time) time.Duration {
	if e.Kind == ExpireAfter {
		return e.Span
	}
	dl := e.Deadline(now)
	if dl.IsZero() {
		return 0
	}
	ttl := dl.Sub(now)
	if ttl == 0 {
		ttl = -1
	}
	return ttl
}
