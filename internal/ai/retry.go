package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrTimeout marks an attempt that ran past its per-attempt deadline.
	ErrTimeout = errors.New("model request timed out")
	// ErrRetriesExhausted is returned once every attempt failed transiently.
	ErrRetriesExhausted = errors.New("model retries exhausted")
)

// StatusError is a non-2xx answer from the model endpoint.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model status %d: %s", e.Code, e.Message)
}

// IsTransient reports whether err is worth another attempt: 5xx answers and timeouts.
func IsTransient(err error) bool {
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500
	}
	return false
}

// RetryPolicy runs one attempt operation with exponential backoff between transient failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Retriable   func(error) bool
}

// DefaultRetryPolicy makes 3 attempts with 1s, 2s delays between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    8 * time.Second,
		Retriable:   IsTransient,
	}
}

// Backoff returns the delay after the given zero-based attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

// Do calls op until it succeeds, fails with a non-retriable error, or attempts run out.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retriable := p.Retriable
	if retriable == nil {
		retriable = IsTransient
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if !retriable(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}

		delay := p.Backoff(attempt)
		logrus.WithError(lastErr).WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"delay":   delay.String(),
		}).Warn("model call failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, lastErr)
}
