package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateMaxDrawdown_HappyPath(t *testing.T) {
	// peak 100 -> trough 80 is a 20% drawdown; later recovery to 90 then a
	// smaller dip to 85 never exceeds it.
	dd := CalculateMaxDrawdown([]float64{100, 90, 80, 90, 85})
	require.NotNil(t, dd)
	assert.InDelta(t, 0.20, *dd, 1e-9)
}

func TestCalculateMaxDrawdown_MonotonicUpwardSeriesHasNoDrawdown(t *testing.T) {
	dd := CalculateMaxDrawdown([]float64{10, 20, 30, 40})
	require.NotNil(t, dd)
	assert.InDelta(t, 0, *dd, 1e-9)
}

func TestCalculateMaxDrawdown_TooShortSeriesReturnsNil(t *testing.T) {
	assert.Nil(t, CalculateMaxDrawdown(nil))
	assert.Nil(t, CalculateMaxDrawdown([]float64{100}))
}

func TestCalculateVolatility_RequiresAtLeastTwoPrices(t *testing.T) {
	assert.Nil(t, CalculateVolatility([]float64{100}))
	v := CalculateVolatility([]float64{100, 105, 95, 110, 90})
	require.NotNil(t, v)
	assert.Greater(t, *v, 0.0)
}
