package sheet

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: KindNone},
		{name: "quota", err: ErrQuota, want: KindQuota},
		{name: "wrapped quota", err: fmt.Errorf("open: %w", ErrQuota), want: KindQuota},
		{name: "not found", err: ErrNotFound, want: KindNotFound},
		{name: "transient", err: Transient(errors.New("connection reset")), want: KindTransient},
		{name: "deadline", err: context.DeadlineExceeded, want: KindTransient},
		{name: "unknown", err: errors.New("boom"), want: KindFatal},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(ErrQuota) {
		t.Fatal("quota rejection must be retryable")
	}
	if !Retryable(Transient(errors.New("timeout"))) {
		t.Fatal("transient failure must be retryable")
	}
	if Retryable(ErrNotFound) {
		t.Fatal("not-found is a negative result, not a retry case")
	}
	if Retryable(errors.New("validation")) {
		t.Fatal("unknown errors are never retried")
	}
}
