package reliability

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is worth another attempt. Status errors are
// retried only for retryable codes; context cancellation never is. Any other
// error is treated as a transport failure and retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return IsRetryableHTTPStatus(se.Code)
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

// Policy bounds how often a call is retried.
type Policy struct {
	Attempts int
	Base     time.Duration
	Cap      time.Duration
}

// Do runs fn until it succeeds, returns a non-retryable error, or the policy
// runs out of attempts. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		t := time.NewTimer(ExponentialBackoff(attempt, p.Base, p.Cap))
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
	return err
}
