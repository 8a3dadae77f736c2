package execution

import "github.com/aristath/tradecore/internal/domain"

// TSLOutcome reports what AdvanceTSL did to a trade's trailing stop.
type TSLOutcome struct {
	Activated bool
	Advanced  bool
	NewStop   *float64
	Hit       bool
}

// AdvanceTSL implements §4.6's trailing-stop-loss algorithm: the stop only
// ever moves in the position's favor, never back. For a long (BUY) position
// the stop is set once price first reaches TSLActivation, then re-anchored
// to currentPrice*(1-callback) whenever that candidate exceeds the existing
// stop; it is left untouched otherwise. A short (SELL) position mirrors
// this with the inequalities flipped. The worked case (entry 30000,
// activation 30300, callback 1%): price 30310 sets the stop at 30006.9;
// price 30500 advances it to 30195; price 30450 leaves it at 30195 because
// 30450*0.99=30145.5 would be a step back; price 30100 trips the stop.
func AdvanceTSL(t *domain.Trade, currentPrice float64) TSLOutcome {
	if t.TSLActivation == nil || t.TSLCallbackRate <= 0 {
		return TSLOutcome{}
	}

	var outcome TSLOutcome
	switch t.Side {
	case domain.SideBuy:
		if t.CurrentStopTSL == nil {
			if currentPrice < *t.TSLActivation {
				return outcome
			}
			outcome.Activated = true
		}
		candidate := currentPrice * (1 - t.TSLCallbackRate)
		if t.CurrentStopTSL == nil || candidate > *t.CurrentStopTSL {
			t.CurrentStopTSL = &candidate
			outcome.Advanced = true
			outcome.NewStop = &candidate
		}
		if t.CurrentStopTSL != nil && currentPrice <= *t.CurrentStopTSL {
			outcome.Hit = true
		}
	case domain.SideSell:
		if t.CurrentStopTSL == nil {
			if currentPrice > *t.TSLActivation {
				return outcome
			}
			outcome.Activated = true
		}
		candidate := currentPrice * (1 + t.TSLCallbackRate)
		if t.CurrentStopTSL == nil || candidate < *t.CurrentStopTSL {
			t.CurrentStopTSL = &candidate
			outcome.Advanced = true
			outcome.NewStop = &candidate
		}
		if t.CurrentStopTSL != nil && currentPrice >= *t.CurrentStopTSL {
			outcome.Hit = true
		}
	}
	return outcome
}
