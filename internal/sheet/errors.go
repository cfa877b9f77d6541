package sheet

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrNotFound marks an absent document, worksheet, row or cell. It is
	// a normal negative result, not a failure.
	ErrNotFound = errors.New("sheet: not found")

	// ErrQuota marks an upstream too-many-requests rejection. Callers
	// retry it through the limiter's backoff schedule.
	ErrQuota = errors.New("sheet: quota exceeded")
)

// transientError wraps timeouts and connection failures so they can be
// retried like quota rejections.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return fmt.Sprintf("sheet: transient: %v", e.err) }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err as a retryable network failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Kind is the error taxonomy every caller branches on.
type Kind int

const (
	KindNone Kind = iota
	KindQuota
	KindNotFound
	KindTransient
	KindFatal
)

// Classify maps an error to its taxonomy kind. Unknown errors are fatal:
// they are never retried.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrQuota):
		return KindQuota
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	}
	var te *transientError
	if errors.As(err, &te) {
		return KindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindFatal
}

// Retryable reports whether err belongs to a class worth retrying.
func Retryable(err error) bool {
	k := Classify(err)
	return k == KindQuota || k == KindTransient
}
