package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradecore/internal/domain"
)

func ptr(f float64) *float64 { return &f }

func TestAdvanceTSL_NoActivationConfigured(t *testing.T) {
	trade := &domain.Trade{Side: domain.SideBuy}
	outcome := AdvanceTSL(trade, 31000)
	assert.False(t, outcome.Activated)
	assert.False(t, outcome.Advanced)
	assert.False(t, outcome.Hit)
	assert.Nil(t, trade.CurrentStopTSL)
}

func TestAdvanceTSL_LongWorkedCase(t *testing.T) {
	trade := &domain.Trade{
		Side:            domain.SideBuy,
		TSLActivation:   ptr(30300),
		TSLCallbackRate: 0.01,
	}

	// Price below activation: nothing happens.
	outcome := AdvanceTSL(trade, 30200)
	assert.False(t, outcome.Activated)
	assert.Nil(t, trade.CurrentStopTSL)

	// Price reaches activation: stop is anchored.
	outcome = AdvanceTSL(trade, 30310)
	require.True(t, outcome.Activated)
	require.True(t, outcome.Advanced)
	require.NotNil(t, trade.CurrentStopTSL)
	assert.InDelta(t, 30006.9, *trade.CurrentStopTSL, 1e-6)

	// Price advances further: stop re-anchors upward.
	outcome = AdvanceTSL(trade, 30500)
	require.True(t, outcome.Advanced)
	assert.InDelta(t, 30195, *trade.CurrentStopTSL, 1e-6)

	// Price retraces but the candidate stop would be a step back: stop holds.
	outcome = AdvanceTSL(trade, 30450)
	assert.False(t, outcome.Advanced)
	assert.InDelta(t, 30195, *trade.CurrentStopTSL, 1e-6)
	assert.False(t, outcome.Hit)

	// Price falls through the held stop: stop triggers.
	outcome = AdvanceTSL(trade, 30100)
	assert.True(t, outcome.Hit)
	assert.False(t, outcome.Advanced)
}

func TestAdvanceTSL_ShortMirrorsLong(t *testing.T) {
	trade := &domain.Trade{
		Side:            domain.SideSell,
		TSLActivation:   ptr(29700),
		TSLCallbackRate: 0.01,
	}

	// Price above activation: nothing happens for a short.
	outcome := AdvanceTSL(trade, 29800)
	assert.False(t, outcome.Activated)
	assert.Nil(t, trade.CurrentStopTSL)

	// Price drops to activation: stop anchors above price.
	outcome = AdvanceTSL(trade, 29690)
	require.True(t, outcome.Activated)
	require.NotNil(t, trade.CurrentStopTSL)
	assert.InDelta(t, 29690*1.01, *trade.CurrentStopTSL, 1e-6)

	// Price drops further: stop re-anchors downward (tighter).
	outcome = AdvanceTSL(trade, 29500)
	require.True(t, outcome.Advanced)
	assert.InDelta(t, 29500*1.01, *trade.CurrentStopTSL, 1e-6)

	// Price rises through the held stop: stop triggers.
	prevStop := *trade.CurrentStopTSL
	outcome = AdvanceTSL(trade, prevStop+1)
	assert.True(t, outcome.Hit)
}
