package fn

import (
	"context"
	"time"
)

// RetryConfig describes an exponential backoff.
type RetryConfig struct {
	// MaxRetries is the number of attempts made after the first one.
	MaxRetries int

	// InitialBackoff is the pause after the first failure.
	InitialBackoff time.Duration

	// BackoffMultiplier scales the pause after every further failure.
	BackoffMultiplier float64

	// MaxBackoff bounds the pause.
	MaxBackoff time.Duration

	// ShouldRetry reports whether an error is transient. Without it every
	// error is retried.
	ShouldRetry func(error) bool
}

// DefaultRetryConfig returns the backoff used for peer message delivery.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        5,
		InitialBackoff:    50 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        2 * time.Second,
	}
}

// retryable reports whether another attempt follows a failed attempt with
// the given index.
func (c RetryConfig) retryable(attempt int, err error) bool {
	if attempt >= c.MaxRetries {
		return false
	}

	return c.ShouldRetry == nil || c.ShouldRetry(err)
}

// backoff returns the pause after the failed attempt with the given index.
func (c RetryConfig) backoff(attempt int) time.Duration {
	pause := float64(c.InitialBackoff)
	for i := 0; i < attempt; i++ {
		pause *= c.BackoffMultiplier
		if pause >= float64(c.MaxBackoff) {
			break
		}
	}

	if pause > float64(c.MaxBackoff) {
		return c.MaxBackoff
	}

	return time.Duration(pause)
}

// RetryFuncN calls f until it succeeds, the error is not retryable or the
// attempts are used up. The last error is returned in the latter cases. A
// canceled context ends the wait between attempts with the context error.
func RetryFuncN[T any](ctx context.Context, config RetryConfig,
	f func() (T, error)) (T, error) {

	for attempt := 0; ; attempt++ {
		result, err := f()
		if err == nil || !config.retryable(attempt, err) {
			return result, err
		}

		timer := time.NewTimer(config.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()

		case <-timer.C:
		}
	}
}
