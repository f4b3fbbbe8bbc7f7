package queue

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrStopped   = errors.New("queue stopped")
	ErrStopping  = errors.New("queue stopping")
	ErrQueueFull = errors.New("queue full")
)

// NoRetry marks an error as non-retryable.
//
// Jobs wrap permanent failures (bad channel, unsupported payload) with
// NoRetry so the workers won't burn attempts on them.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// RetryAfter attaches a suggested delay before the next attempt, e.g. when
// Telegram answers with flood-wait or a session is momentarily locked. The
// workers respect the hint (bounded by RetryMaxDelay) and still apply jitter.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

// RetryAfterError is implemented by errors that carry an explicit retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return fmt.Sprintf("retry-after(%s): %v", e.after, e.err) }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }
