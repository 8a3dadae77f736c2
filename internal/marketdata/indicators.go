// indicators.go implements the internal-indicator opportunity source §3's
// data model names but the distilled spec never wires up: a scanner over
// subscribed klines that emits candidate Opportunities when RSI crosses an
// oversold/overbought threshold, using the same go-talib RSI routine and
// gonum/stat volatility helpers pkg/formulas already carries.
package marketdata

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/tradecore/internal/domain"
	"github.com/aristath/tradecore/pkg/formulas"
)

// IndicatorThresholds configures the pattern matcher's signal gates.
type IndicatorThresholds struct {
	RSIPeriod    int
	RSIOversold  float64 // default 30
	RSIOverbought float64 // default 70
	MinKlines    int     // minimum history required before matching, default RSIPeriod+10
}

// DefaultIndicatorThresholds matches the common RSI(14) 30/70 convention.
func DefaultIndicatorThresholds() IndicatorThresholds {
	return IndicatorThresholds{RSIPeriod: 14, RSIOversold: 30, RSIOverbought: 70, MinKlines: 24}
}

// PatternMatcher scans closing-price history per symbol and emits
// internal-indicator Opportunity candidates on threshold crossings.
type PatternMatcher struct {
	thresholds IndicatorThresholds
	log        zerolog.Logger
}

// NewPatternMatcher builds a matcher with the given thresholds.
func NewPatternMatcher(thresholds IndicatorThresholds, log zerolog.Logger) *PatternMatcher {
	return &PatternMatcher{thresholds: thresholds, log: log.With().Str("module", "pattern_matcher").Logger()}
}

// Scan evaluates a symbol's closing-price series (oldest first) and returns
// a candidate Opportunity if RSI crosses into oversold/overbought territory
// on the latest close, or nil if no signal fires.
func (m *PatternMatcher) Scan(symbol string, closes []float64, timeframe string) *domain.Opportunity {
	if len(closes) < m.thresholds.MinKlines {
		return nil
	}

	rsi := formulas.CalculateRSI(closes, m.thresholds.RSIPeriod)
	if rsi == nil {
		return nil
	}

	lastPrice := closes[len(closes)-1]
	vol := formulas.CalculateVolatility(closes)
	confidence := m.confidenceFromVolatility(vol)

	var direction domain.TradeSide
	switch {
	case *rsi <= m.thresholds.RSIOversold:
		direction = domain.SideBuy
	case *rsi >= m.thresholds.RSIOverbought:
		direction = domain.SideSell
	default:
		return nil
	}

	m.log.Debug().Str("symbol", symbol).Float64("rsi", *rsi).Str("direction", string(direction)).Msg("indicator signal fired")

	return &domain.Opportunity{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		DetectedAt: time.Now(),
		Source:     domain.SourceInternalIndicator,
		Status:     domain.StatusNew,
		// Paper by default; the opportunities service reassigns mode when it
		// matches the candidate against an active strategy config on Submit.
		Mode: domain.ModePaper,
		InitialSignal: domain.InitialSignal{
			DirectionHint:    direction,
			TargetEntry:      lastPrice,
			Timeframe:        timeframe,
			SourceConfidence: confidence,
		},
		ExpiresAt: time.Now().Add(2 * time.Hour),
	}
}

// confidenceFromVolatility maps recent volatility to a conservative
// source-confidence: the indicator is a heuristic trigger, not an AI
// verdict, so it is never handed a high starting confidence — C4's
// analysis is what actually raises or rejects it.
func (m *PatternMatcher) confidenceFromVolatility(vol *float64) float64 {
	const base = 0.5
	if vol == nil {
		return base
	}
	// Higher volatility widens the chance the signal is noise; discount it.
	discount := *vol
	if discount > 0.4 {
		discount = 0.4
	}
	confidence := base - discount/2
	if confidence < 0.1 {
		confidence = 0.1
	}
	return confidence
}
