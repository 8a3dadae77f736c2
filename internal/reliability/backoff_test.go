package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_DelayGrowsExponentiallyAndCaps(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: 1 * time.Second}

	assert.Equal(t, 100*time.Millisecond, b.Delay(1))
	assert.Equal(t, 200*time.Millisecond, b.Delay(2))
	assert.Equal(t, 400*time.Millisecond, b.Delay(3))
	assert.Equal(t, 1*time.Second, b.Delay(10), "delay must be capped at Max")
}

func TestBackoff_DelayTreatsSubOneAttemptAsFirst(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second}
	assert.Equal(t, b.Delay(1), b.Delay(0))
	assert.Equal(t, b.Delay(1), b.Delay(-5))
}

func TestBackoff_WaitReturnsAfterDelayElapses(t *testing.T) {
	b := Backoff{Base: 10 * time.Millisecond, Max: time.Second}

	start := time.Now()
	err := b.Wait(context.Background(), 1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestBackoff_WaitReturnsContextErrorWhenCancelled(t *testing.T) {
	b := Backoff{Base: time.Minute, Max: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Wait(ctx, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetry_SucceedsWithoutRetryingOnFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, nil, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_StopsWhenShouldRetryReturnsFalse(t *testing.T) {
	sentinel := errors.New("permanent failure")
	calls := 0

	err := Retry(context.Background(), 5, func(err error) bool {
		return false
	}, func() error {
		calls++
		return sentinel
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls, "must not retry once shouldRetry says no")
}

func TestRetry_ExhaustsMaxAttempts(t *testing.T) {
	sentinel := errors.New("transient")
	calls := 0

	err := Retry(context.Background(), 3, func(error) bool { return true }, func() error {
		calls++
		return sentinel
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	sentinel := errors.New("transient")
	calls := 0

	err := Retry(context.Background(), 3, func(error) bool { return true }, func() error {
		calls++
		if calls < 2 {
			return sentinel
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDefaultBackoffProfiles(t *testing.T) {
	assert.Greater(t, DefaultRetryBackoff.Max, DefaultRetryBackoff.Base)
	assert.Greater(t, DefaultStreamBackoff.Max, DefaultStreamBackoff.Base)
}
