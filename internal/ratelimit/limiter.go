// Package ratelimit provides the process-wide gate that spaces every
// outbound network call by a minimum interval, regardless of which worker
// issues it.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Clock abstracts time so the limiter can be tested without sleeping.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// Limiter grants at most one acquisition per interval across all callers.
type Limiter struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	clock    Clock
	interval time.Duration
	last     time.Time // most recent grant time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock injects a clock (for tests).
func WithClock(c Clock) Option {
	return func(l *Limiter) {
		l.clock = c
	}
}

// New creates a limiter enforcing interval between grants. A zero interval
// disables limiting.
func New(interval time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		clock:    RealClock,
		interval: interval,
	}
	if interval > 0 {
		l.limiter = rate.NewLimiter(rate.Every(interval), 1)
	} else {
		l.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Interval returns the configured minimum spacing.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Acquire blocks until the caller may issue a request. The grant slot is
// reserved before the lock is released, so two callers can never be handed
// slots closer than the interval; the sleep itself happens outside the lock.
//
// rate.Limiter computes delays in float seconds and can come out a
// nanosecond short, so the slot is also rounded up to last grant + interval.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	now := l.clock.Now()
	r := l.limiter.ReserveN(now, 1)
	if !r.OK() {
		l.mu.Unlock()
		return fmt.Errorf("rate limiter: reservation refused")
	}
	delay := r.DelayFrom(now)
	if l.interval > 0 {
		next := now.Add(delay)
		if !l.last.IsZero() {
			if floor := l.last.Add(l.interval); next.Before(floor) {
				next = floor
			}
		}
		if next.Before(now) {
			next = now
		}
		l.last = next
		delay = next.Sub(now)
	}
	l.mu.Unlock()

	if delay <= 0 {
		return nil
	}
	if err := l.clock.Sleep(ctx, delay); err != nil {
		r.CancelAt(l.clock.Now())
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}
