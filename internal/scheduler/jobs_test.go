package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradecore/internal/clients/tradernet"
)

func TestExpirySweeper_RunDelegatesToSweepFunc(t *testing.T) {
	var sawCtx context.Context
	job := NewExpirySweeper(func(ctx context.Context) (int, error) {
		sawCtx = ctx
		return 3, nil
	})
	assert.Equal(t, "opportunity_expiry_sweep", job.Name())
	require.NoError(t, job.Run())
	assert.NotNil(t, sawCtx)
}

func TestExpirySweeper_PropagatesError(t *testing.T) {
	wantErr := errors.New("sweep failed")
	job := NewExpirySweeper(func(ctx context.Context) (int, error) { return 0, wantErr })
	assert.ErrorIs(t, job.Run(), wantErr)
}

func TestStuckAnalysisResetter_RunDelegates(t *testing.T) {
	called := false
	job := NewStuckAnalysisResetter(func(ctx context.Context) (int, error) {
		called = true
		return 1, nil
	})
	assert.Equal(t, "stuck_analysis_reset", job.Name())
	require.NoError(t, job.Run())
	assert.True(t, called)
}

func TestListenKeyKeepalive_SkipsWhenNoKey(t *testing.T) {
	rest := &tradernet.Client{}
	job := NewListenKeyKeepalive(rest, func() string { return "" })
	assert.Equal(t, "listen_key_keepalive", job.Name())
	assert.NoError(t, job.Run(), "no listen key yet should be a no-op, not an error")
}

func TestPortfolioValuator_RunDelegates(t *testing.T) {
	called := false
	job := NewPortfolioValuator(func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.Equal(t, "portfolio_valuation", job.Name())
	require.NoError(t, job.Run())
	assert.True(t, called)
}

func TestPortfolioValuator_PropagatesError(t *testing.T) {
	wantErr := errors.New("valuation failed")
	job := NewPortfolioValuator(func(ctx context.Context) error { return wantErr })
	assert.ErrorIs(t, job.Run(), wantErr)
}
