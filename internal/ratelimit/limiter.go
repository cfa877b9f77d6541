// Package ratelimit protects the spreadsheet provider's call quota. The
// limiter self-tunes: it tightens the steady-state delay while recent
// call volume is high and loosens it again once traffic subsides, and it
// supplies the geometric backoff schedule used after quota rejections.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	defaultFloor     = 500 * time.Millisecond
	defaultCeiling   = 10 * time.Second
	defaultThreshold = 50
	defaultWindow    = 60 * time.Second

	growFactor  = 1.5
	decayFactor = 0.9

	maxBackoff = 30 * time.Second
)

// Limiter throttles outbound provider calls. Safe for concurrent use.
type Limiter struct {
	mu        sync.Mutex
	floor     time.Duration
	ceiling   time.Duration
	threshold int
	window    time.Duration
	current   time.Duration
	calls     []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithBounds sets the steady-state delay floor and ceiling.
func WithBounds(floor, ceiling time.Duration) Option {
	return func(l *Limiter) {
		if floor > 0 {
			l.floor = floor
		}
		if ceiling >= l.floor {
			l.ceiling = ceiling
		}
	}
}

// WithThreshold sets how many calls in the sliding window trigger
// escalation.
func WithThreshold(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.threshold = n
		}
	}
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSleeper overrides the blocking sleep. Test hook.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

// New creates a limiter with the default schedule.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		floor:     defaultFloor,
		ceiling:   defaultCeiling,
		threshold: defaultThreshold,
		window:    defaultWindow,
		now:       time.Now,
		sleep:     sleepContext,
	}
	l.current = l.floor
	for _, opt := range opts {
		opt(l)
	}
	if l.current < l.floor {
		l.current = l.floor
	}
	return l
}

// Wait blocks for the current adaptive delay, then records the call.
// Returns early with the context error when the caller is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := l.now()
	l.prune(now)

	if len(l.calls) > l.threshold {
		l.current = minDuration(time.Duration(float64(l.current)*growFactor), l.ceiling)
	} else {
		l.current = maxDuration(time.Duration(float64(l.current)*decayFactor), l.floor)
	}
	delay := l.current
	l.mu.Unlock()

	if err := l.sleep(ctx, delay); err != nil {
		return err
	}

	l.mu.Lock()
	l.calls = append(l.calls, l.now())
	l.mu.Unlock()
	return nil
}

// Delay reports the current steady-state delay without waiting. Useful
// for progress estimates on fan-out reads.
func (l *Limiter) Delay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// BackoffDelay returns the sleep used after the given rejected attempt,
// growing geometrically and capped at 30 seconds.
func (l *Limiter) BackoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := 2 * time.Second
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return minDuration(d, maxBackoff)
}

// prune drops call records older than the sliding window. Callers hold mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	kept := l.calls[:0]
	for _, t := range l.calls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.calls = kept
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
