package platform

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/go-github/v68/github"
)

// withRetry runs op, and on a transient (network-level, not HTTP-status)
// failure retries it exactly once after a short exponential backoff, per
// the Platform Adapter's "retry once" contract. HTTP-status failures are
// not retried here; callers classify those into Result values directly.
func withRetry[T any](ctx context.Context, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err == nil {
			return v, nil
		}
		if !isTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(2))
}

// isTransient reports whether err looks like a network-level failure worth
// retrying, as opposed to an HTTP error status the caller should translate
// into a Result and return immediately.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok && t.Timeout() {
		return true
	}
	return err == context.DeadlineExceeded
}

// httpStatus extracts the HTTP status code from a go-github error response,
// returning 0 when err carries none (a pure network failure).
func httpStatus(resp *github.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
