package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"fieldreport.org/internal/sheet"
)

// testClock advances manually so window pruning is deterministic.
type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(clock *testClock, slept *[]time.Duration, opts ...Option) *Limiter {
	base := []Option{
		WithClock(clock.now),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			if slept != nil {
				*slept = append(*slept, d)
			}
			return ctx.Err()
		}),
	}
	return New(append(base, opts...)...)
}

func TestWaitEscalatesUnderBurstAndDecaysAfter(t *testing.T) {
	clock := &testClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	var slept []time.Duration
	l := newTestLimiter(clock, &slept, WithThreshold(5))
	ctx := context.Background()

	// Burst past the threshold within the 60s window. Delays must be
	// monotonically non-decreasing once the threshold is crossed.
	var prev time.Duration
	for i := 0; i < 12; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		clock.advance(time.Second)
	}
	escalated := slept[6:]
	prev = escalated[0]
	for _, d := range escalated[1:] {
		if d < prev {
			t.Fatalf("delay decreased during burst: %v after %v", d, prev)
		}
		prev = d
	}
	if l.Delay() <= 500*time.Millisecond {
		t.Fatalf("expected escalated delay, got %v", l.Delay())
	}

	// Let the window drain; delay must decay back toward the floor.
	clock.advance(2 * time.Minute)
	for i := 0; i < 40; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		clock.advance(20 * time.Second)
	}
	if got := l.Delay(); got != 500*time.Millisecond {
		t.Fatalf("expected decay to floor, got %v", got)
	}
}

func TestWaitRespectsCeiling(t *testing.T) {
	clock := &testClock{t: time.Unix(0, 0)}
	l := newTestLimiter(clock, nil, WithThreshold(1), WithBounds(time.Second, 4*time.Second))
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if got := l.Delay(); got > 4*time.Second {
		t.Fatalf("delay exceeded ceiling: %v", got)
	}
}

func TestBackoffDelaySchedule(t *testing.T) {
	l := New()
	cases := map[int]time.Duration{
		0: 2 * time.Second,
		1: 4 * time.Second,
		2: 8 * time.Second,
		3: 16 * time.Second,
		4: 30 * time.Second,
		9: 30 * time.Second,
	}
	for attempt, want := range cases {
		if got := l.BackoffDelay(attempt); got != want {
			t.Fatalf("BackoffDelay(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestWaitHonorsCancellation(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRetryRetriesQuotaThenSucceeds(t *testing.T) {
	clock := &testClock{t: time.Unix(0, 0)}
	var slept []time.Duration
	l := newTestLimiter(clock, &slept)

	calls := 0
	err := Retry(context.Background(), l, Policy{Attempts: 3}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return sheet.ErrQuota
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	// Backoff sleeps for attempts 1 and 2.
	if len(slept) != 2 || slept[0] != 4*time.Second || slept[1] != 8*time.Second {
		t.Fatalf("unexpected backoff sleeps: %v", slept)
	}
}

func TestRetryDoesNotRetryFatalErrors(t *testing.T) {
	clock := &testClock{t: time.Unix(0, 0)}
	l := newTestLimiter(clock, nil)

	fatal := errors.New("bad credentials")
	calls := 0
	err := Retry(context.Background(), l, DefaultPolicy, func(ctx context.Context) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("fatal error must not be retried, got %d calls", calls)
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	clock := &testClock{t: time.Unix(0, 0)}
	l := newTestLimiter(clock, nil)

	calls := 0
	err := Retry(context.Background(), l, Policy{Attempts: 3}, func(ctx context.Context) error {
		calls++
		return sheet.ErrQuota
	})
	if !errors.Is(err, sheet.ErrQuota) {
		t.Fatalf("expected quota error after exhaustion, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}
