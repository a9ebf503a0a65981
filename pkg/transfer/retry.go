package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTimeout is the per call bound used by Resilient
const DefaultTimeout = 10 * time.Second

// Op is a single transport call
type Op[T any] func(ctx context.Context) (T, error)

// Recover restores the session after cause broke it
type Recover func(ctx context.Context, cause error) error

// Retry runs op and, when classify reports its error as transient, runs
// rec and retries op exactly once. The error of the second attempt is
// returned unchanged. A failing rec ends the call with its error.
func Retry[T any](ctx context.Context, op Op[T], classify func(error) bool, rec Recover) (T, error) {
	v, err := op(ctx)
	if err == nil || !classify(err) || ctx.Err() != nil {
		return v, err
	}
	if rerr := rec(ctx, err); rerr != nil {
		var zero T
		return zero, rerr
	}
	return op(ctx)
}

// WithTimeout bounds each run of op by d. On timeout rec runs and op is
// retried once under the same bound; a second timeout yields ErrTimeout.
// A d <= 0 disables the bound.
func WithTimeout[T any](op Op[T], d time.Duration, rec Recover) Op[T] {
	return func(ctx context.Context) (T, error) {
		v, err := bounded(ctx, d, op)
		if !errors.Is(err, ErrTimeout) {
			return v, err
		}
		if rerr := rec(ctx, err); rerr != nil {
			var zero T
			return zero, rerr
		}
		return bounded(ctx, d, op)
	}
}

type result[T any] struct {
	v   T
	err error
}

// bounded runs op with a deadline and stops waiting once it passes, even when
// op does not honour its context. The abandoned run is left to fail on the
// torn down session.
func bounded[T any](ctx context.Context, d time.Duration, op Op[T]) (T, error) {
	if d <= 0 {
		return op(ctx)
	}

	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := op(tctx)
		done <- result[T]{v, err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s: %v", ErrTimeout, d, r.err)
		}
		return r.v, r.err
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, fmt.Errorf("%w after %s", ErrTimeout, d)
	}
}
