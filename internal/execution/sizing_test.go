package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradecore/internal/clients/tradernet"
	"github.com/aristath/tradecore/internal/errs"
)

func baseSizingInput() SizingInput {
	return SizingInput{
		AccountEquity:            10000,
		EntryPrice:               100,
		StopPrice:                98,
		DefaultPerTradeRiskPct:   0.01,
		DailyRiskBudgetRemaining: 1000,
		ConcurrentOpenCount:      0,
		MaxConcurrentOperations:  5,
		Pair:                     tradernet.PairInfo{LotSize: 0.001, MinNotional: 10},
	}
}

func TestComputeQuantity_HappyPath(t *testing.T) {
	in := baseSizingInput()
	res, err := ComputeQuantity(in)
	require.NoError(t, err)

	// risk_budget_quote = 10000 * 0.01 = 100; distance = 2; quantity = 50
	assert.InDelta(t, 100, res.RiskBudgetQuote, 1e-9)
	assert.InDelta(t, 50, res.Quantity, 1e-6)
	assert.InDelta(t, 0.01, res.PerTradeRiskPct, 1e-9)
}

func TestComputeQuantity_OverrideRiskPct(t *testing.T) {
	in := baseSizingInput()
	override := 0.02
	in.PerTradeRiskPctOverride = &override

	res, err := ComputeQuantity(in)
	require.NoError(t, err)
	assert.InDelta(t, 0.02, res.PerTradeRiskPct, 1e-9)
	assert.InDelta(t, 200, res.RiskBudgetQuote, 1e-9)
}

func TestComputeQuantity_RejectsNonPositivePrices(t *testing.T) {
	in := baseSizingInput()
	in.EntryPrice = 0
	_, err := ComputeQuantity(in)
	require.Error(t, err)
	assert.Equal(t, errs.InvalidInput, errs.KindOf(err))
}

func TestComputeQuantity_RejectsEqualEntryAndStop(t *testing.T) {
	in := baseSizingInput()
	in.StopPrice = in.EntryPrice
	_, err := ComputeQuantity(in)
	require.Error(t, err)
	assert.Equal(t, errs.InvalidInput, errs.KindOf(err))
}

func TestComputeQuantity_DailyRiskCeilingRejects(t *testing.T) {
	in := baseSizingInput()
	in.DailyRiskBudgetRemaining = 50 // less than the 100 this trade would spend
	_, err := ComputeQuantity(in)
	require.Error(t, err)
	assert.Equal(t, errs.PreconditionFailed, errs.KindOf(err))
}

func TestComputeQuantity_ConcurrentCapRejects(t *testing.T) {
	in := baseSizingInput()
	in.ConcurrentOpenCount = 5
	in.MaxConcurrentOperations = 5
	_, err := ComputeQuantity(in)
	require.Error(t, err)
	assert.Equal(t, errs.PreconditionFailed, errs.KindOf(err))
}

func TestComputeQuantity_LotRoundingCanZeroOutQuantity(t *testing.T) {
	in := baseSizingInput()
	in.AccountEquity = 1
	in.DefaultPerTradeRiskPct = 0.001 // risk_budget_quote = 0.001, quantity = 0.0005, rounds down to 0 at LotSize=0.001
	_, err := ComputeQuantity(in)
	require.Error(t, err)
	assert.Equal(t, errs.PreconditionFailed, errs.KindOf(err))
}

func TestComputeQuantity_MinNotionalRejects(t *testing.T) {
	in := baseSizingInput()
	in.Pair.MinNotional = 100000 // quantity(50) * price(100) = 5000, below this
	_, err := ComputeQuantity(in)
	require.Error(t, err)
	assert.Equal(t, errs.PreconditionFailed, errs.KindOf(err))
}

func TestComputeQuantity_NoLotSizeSkipsRounding(t *testing.T) {
	in := baseSizingInput()
	in.Pair.LotSize = 0
	res, err := ComputeQuantity(in)
	require.NoError(t, err)
	assert.InDelta(t, 50, res.Quantity, 1e-9)
}

func TestRoundToLot(t *testing.T) {
	assert.InDelta(t, 1.23, roundToLot(1.239, 0.01), 1e-9)
	assert.InDelta(t, 5, roundToLot(5.7, 0), 1e-9, "zero lot size means no rounding")
	assert.InDelta(t, 0, roundToLot(0.0004, 0.001), 1e-9)
}

func TestRoundToTick(t *testing.T) {
	assert.InDelta(t, 100.5, roundToTick(100.54, 0.1), 1e-9)
	assert.InDelta(t, 7.77, roundToTick(7.77, 0), 1e-9, "zero tick size means no rounding")
}
