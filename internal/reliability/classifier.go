package reliability

import (
	"context"
	"errors"
	"time"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// StatusCoder is implemented by upstream errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatusCode() int
}

// StatusCode extracts the upstream HTTP status from err, if any.
func StatusCode(err error) (int, bool) {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatusCode(), true
	}
	return 0, false
}

// IsRetryable reports whether err is worth another attempt. Cancellation and
// client-side statuses are final; errors without a status are treated as
// transport failures and retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if code, ok := StatusCode(err); ok {
		return IsRetryableHTTPStatus(code)
	}
	return true
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// Do runs fn until it succeeds, returns a non-retryable error, or maxRetries
// additional attempts have been spent. It waits ExponentialBackoff between
// attempts and stops early when ctx is done.
func Do(ctx context.Context, maxRetries int, base, cap time.Duration, fn func(attempt int) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err = fn(attempt); err == nil || !IsRetryable(err) || attempt == maxRetries {
			return err
		}
		timer := time.NewTimer(ExponentialBackoff(attempt, base, cap))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
