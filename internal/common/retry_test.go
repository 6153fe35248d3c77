package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, RetryOptions{MaxAttempts: 3, InitialDelay: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), func() error {
		attempts++
		return errors.New("still broken")
	}, RetryOptions{MaxAttempts: 2, InitialDelay: time.Millisecond})
	assert.ErrorIs(t, err, ErrMaxRetries)
	assert.Equal(t, 2, attempts)
}

func TestWithRetry_NonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	wrapped := &RetryableError{Err: errors.New("bad input"), Retryable: false}
	err := WithRetry(context.Background(), func() error {
		attempts++
		return wrapped
	}, RetryOptions{MaxAttempts: 5, InitialDelay: time.Millisecond})
	assert.ErrorIs(t, err, wrapped.Err)
	assert.Equal(t, 1, attempts)
}

func TestWithRetry_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithRetry(ctx, func() error {
		return errors.New("transient")
	}, RetryOptions{MaxAttempts: 3, InitialDelay: time.Minute})
	assert.ErrorIs(t, err, context.Canceled)
}
