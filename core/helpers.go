package orchestration

import (
	"context"
	"fmt"
	"time"
)

type workerOutcome[T any] struct {
	value T
	err   error
}

// runWorker runs work on its own goroutine and returns as soon as either
// the work finishes or ctx is done. A result arriving after ctx is done is
// discarded.
func runWorker[T any](ctx context.Context, name string, timeout time.Duration, work func(context.Context) (T, error)) (T, error) {
	workCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		workCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan workerOutcome[T], 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- workerOutcome[T]{err: fmt.Errorf("%s worker panicked: %v", name, recovered)}
			}
		}()

		value, err := work(workCtx)
		done <- workerOutcome[T]{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case outcome := <-done:
		if outcome.err != nil {
			return outcome.value, fmt.Errorf("%s worker failed: %w", name, outcome.err)
		}
		return outcome.value, nil
	}
}
