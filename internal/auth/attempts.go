package auth

import (
	"strings"
	"sync"
	"time"
)

// AttemptTracker counts failed logins per account in a sliding window.
// It is the fast path; the Users worksheet carries the durable copy so a
// lock survives restarts. Both are consulted on login.
type AttemptTracker struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	failures  map[string][]time.Time
	actions   map[string][]time.Time
	now       func() time.Time
}

// TrackerOption configures an AttemptTracker.
type TrackerOption func(*AttemptTracker)

// WithTrackerClock injects a clock for tests.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *AttemptTracker) { t.now = now }
}

// NewAttemptTracker creates a tracker locking accounts after threshold
// failures inside window.
func NewAttemptTracker(threshold int, window time.Duration, opts ...TrackerOption) *AttemptTracker {
	t := &AttemptTracker{
		threshold: threshold,
		window:    window,
		failures:  make(map[string][]time.Time),
		actions:   make(map[string][]time.Time),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordFailure notes one failed attempt and returns the live count
// inside the window.
func (t *AttemptTracker) RecordFailure(email string) int {
	key := normalizeEmail(email)
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.prune(t.failures[key])
	kept = append(kept, t.now())
	t.failures[key] = kept
	return len(kept)
}

// IsLocked reports whether the account reached the failure threshold
// within the window, and how long the lock has left to run. The window
// is measured from the most recent failure.
func (t *AttemptTracker) IsLocked(email string) (bool, time.Duration) {
	key := normalizeEmail(email)
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.prune(t.failures[key])
	t.failures[key] = kept
	if len(kept) < t.threshold {
		return false, 0
	}
	remaining := t.window - t.now().Sub(kept[len(kept)-1])
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining
}

// Reset clears the failure history, typically after a successful login
// or a password reset.
func (t *AttemptTracker) Reset(email string) {
	key := normalizeEmail(email)
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, key)
}

// AllowAction is a generic sliding-window gate keyed by arbitrary
// string, used to cap OTP emails per account. It records the action when
// allowed.
func (t *AttemptTracker) AllowAction(key string, limit int, window time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	cutoff := now.Add(-window)
	kept := t.actions[key][:0]
	for _, ts := range t.actions[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= limit {
		t.actions[key] = kept
		return false
	}
	t.actions[key] = append(kept, now)
	return true
}

func (t *AttemptTracker) prune(stamps []time.Time) []time.Time {
	cutoff := t.now().Add(-t.window)
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
