package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_AllowsBurstUpToCapacity(t *testing.T) {
	tb := NewTokenBucket(3, 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		start := time.Now()
		require.NoError(t, tb.Wait(ctx))
		assert.Less(t, time.Since(start), 50*time.Millisecond, "capacity tokens must not block")
	}
}

func TestTokenBucket_BlocksAfterExhaustionAndRefills(t *testing.T) {
	tb := NewTokenBucket(1, 20) // 1 token capacity, fast refill (50ms/token)
	ctx := context.Background()

	require.NoError(t, tb.Wait(ctx)) // consumes the only token

	start := time.Now()
	require.NoError(t, tb.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond, "must wait for refill once exhausted")
}

func TestTokenBucket_WaitRespectsContextCancellation(t *testing.T) {
	tb := NewTokenBucket(1, 0.01) // effectively never refills within the test
	ctx := context.Background()
	require.NoError(t, tb.Wait(ctx))

	cancelCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tb.Wait(cancelCtx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimiter_LanesAreIndependent(t *testing.T) {
	rl := NewRateLimiter()
	ctx := context.Background()

	require.NoError(t, rl.Wait(ctx, PriorityExecution))
	require.NoError(t, rl.Wait(ctx, PriorityDiscovery))
}
