package ratelimit

import (
	"context"

	"fieldreport.org/internal/obs"
	"fieldreport.org/internal/sheet"
)

// Policy bounds a retried operation.
type Policy struct {
	// Attempts is the total attempt budget, first try included.
	Attempts int
}

// DefaultPolicy matches the provider's observed tolerance: three attempts
// with geometric backoff between them.
var DefaultPolicy = Policy{Attempts: 3}

// Retry runs op, retrying quota rejections and transient network failures
// through the limiter's backoff schedule. Any other error propagates
// immediately. On budget exhaustion the last retryable error is returned.
func Retry(ctx context.Context, l *Limiter, p Policy, op func(context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = DefaultPolicy.Attempts
	}

	var last error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			obs.ObserveSheetRetry()
			if err := l.sleep(ctx, l.BackoffDelay(i)); err != nil {
				return err
			}
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !sheet.Retryable(err) {
			return err
		}
		last = err
	}
	return last
}
