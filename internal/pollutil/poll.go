// Package pollutil implements the poll(deadline, interval, predicate)
// utility every long-running wait in the orchestrator is built on: the
// Approval Controller's comment poll, the Merge Pipeline's CI-start and
// CI-completion polls, and the Orchestrator's inter-candidate pacing.
package pollutil

import (
	"context"
	"time"
)

// TimeoutKind distinguishes why a poll gave up.
type TimeoutKind int

const (
	// TimeoutDeadline means the deadline elapsed without the predicate
	// reporting a terminal result.
	TimeoutDeadline TimeoutKind = iota
	// TimeoutCancelled means the context was cancelled mid-poll.
	TimeoutCancelled
)

// Outcome is the poll's result: either a value the predicate produced, or
// a reason it never did.
type Outcome[T any] struct {
	Value   T
	Ok      bool
	Timeout TimeoutKind
}

// Predicate is evaluated on every tick. It returns (value, true) when the
// wait is over and the value is the final answer, or (zero, false) to keep
// polling. An error aborts the poll immediately.
type Predicate[T any] func(ctx context.Context) (value T, done bool, err error)

// Poll evaluates predicate immediately, then every interval, until it
// reports done, the context is cancelled, or deadline elapses. Every sleep
// is interruptible by context cancellation so a caller's cleanup scope is
// never skipped.
func Poll[T any](ctx context.Context, deadline time.Time, interval time.Duration, predicate Predicate[T]) (Outcome[T], error) {
	for {
		value, done, err := predicate(ctx)
		if err != nil {
			var zero T
			return Outcome[T]{Value: zero}, err
		}
		if done {
			return Outcome[T]{Value: value, Ok: true}, nil
		}

		if !time.Now().Before(deadline) {
			var zero T
			return Outcome[T]{Value: zero, Timeout: TimeoutDeadline}, nil
		}

		wait := interval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			var zero T
			return Outcome[T]{Value: zero, Timeout: TimeoutCancelled}, ctx.Err()
		case <-timer.C:
		}
	}
}

// Sleep pauses for d, returning early with ctx.Err() if ctx is cancelled
// first. Used for fixed-duration pacing (the post-merge settle delay) that
// is not itself a predicate poll.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
