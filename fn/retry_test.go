package fn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestRetryFuncNEventualSuccess verifies that a function failing fewer times
// than the retry budget eventually returns its value.
func TestRetryFuncNEventualSuccess(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		maxRetries := rapid.IntRange(1, 5).Draw(t, "maxRetries")
		failures := rapid.IntRange(0, maxRetries).Draw(t, "failures")

		config := RetryConfig{
			MaxRetries:        maxRetries,
			InitialBackoff:    time.Microsecond,
			BackoffMultiplier: 1.5,
			MaxBackoff:        time.Millisecond,
		}

		var calls atomic.Int32
		result, err := RetryFuncN(
			context.Background(), config, func() (int, error) {
				n := calls.Add(1)
				if int(n) <= failures {
					return 0, errors.New("transient")
				}

				return 42, nil
			},
		)
		require.NoError(t, err)
		require.Equal(t, 42, result)
		require.Equal(t, int32(failures+1), calls.Load())
	})
}

// TestRetryFuncNExhausted verifies that the last error is returned once the
// retry budget is spent.
func TestRetryFuncNExhausted(t *testing.T) {
	t.Parallel()

	errPermanent := errors.New("permanent")
	config := RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Microsecond,
		BackoffMultiplier: 2,
		MaxBackoff:        time.Millisecond,
	}

	var calls atomic.Int32
	_, err := RetryFuncN(
		context.Background(), config, func() (struct{}, error) {
			calls.Add(1)
			return struct{}{}, errPermanent
		},
	)
	require.ErrorIs(t, err, errPermanent)
	require.Equal(t, int32(4), calls.Load())
}

// TestRetryFuncNPredicate verifies that errors rejected by ShouldRetry abort
// immediately.
func TestRetryFuncNPredicate(t *testing.T) {
	t.Parallel()

	errFatal := errors.New("fatal")
	config := DefaultRetryConfig()
	config.ShouldRetry = func(err error) bool {
		return !errors.Is(err, errFatal)
	}

	var calls atomic.Int32
	_, err := RetryFuncN(
		context.Background(), config, func() (int, error) {
			calls.Add(1)
			return 0, errFatal
		},
	)
	require.ErrorIs(t, err, errFatal)
	require.Equal(t, int32(1), calls.Load())
}

// TestRetryFuncNContextCancel verifies that a cancelled context stops the
// retry loop.
func TestRetryFuncNContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	config := RetryConfig{
		MaxRetries:        10,
		InitialBackoff:    time.Hour,
		BackoffMultiplier: 2,
		MaxBackoff:        time.Hour,
	}

	_, err := RetryFuncN(ctx, config, func() (int, error) {
		return 0, errors.New("nope")
	})
	require.ErrorIs(t, err, context.Canceled)
}

// TestRetryBackoff verifies that the pause grows by the multiplier and stays
// below the cap.
func TestRetryBackoff(t *testing.T) {
	t.Parallel()

	config := RetryConfig{
		InitialBackoff:    100 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        time.Second,
	}

	require.Equal(t, 100*time.Millisecond, config.backoff(0))
	require.Equal(t, 200*time.Millisecond, config.backoff(1))
	require.Equal(t, 800*time.Millisecond, config.backoff(3))
	require.Equal(t, time.Second, config.backoff(4))
	require.Equal(t, time.Second, config.backoff(40))
}
