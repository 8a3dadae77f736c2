package execution

import (
	"fmt"
	"math"

	"github.com/aristath/tradecore/internal/clients/tradernet"
	"github.com/aristath/tradecore/internal/errs"
)

// SizingInput carries every value §4.6's position-sizing algorithm
// consults. Callers assemble it from the latest PortfolioSnapshot, the
// user's RiskProfileSettings/RealTradingSettings (or a profile override),
// and the exchange's PairInfo for the symbol.
type SizingInput struct {
	AccountEquity            float64
	EntryPrice               float64
	StopPrice                float64
	PerTradeRiskPctOverride  *float64
	DefaultPerTradeRiskPct   float64 // e.g. 0.01 for 1%
	DailyRiskBudgetRemaining float64 // quote-currency budget left before the daily ceiling trips
	ConcurrentOpenCount      int
	MaxConcurrentOperations  int
	Pair                     tradernet.PairInfo
}

// SizingResult is the outcome of a successful sizing pass.
type SizingResult struct {
	Quantity        float64
	RiskBudgetQuote float64
	PerTradeRiskPct float64
}

// ComputeQuantity runs §4.6's seven-step position-sizing algorithm:
//  1. account_equity from the latest snapshot (caller-supplied)
//  2. per_trade_risk_pct from override, else profile/user default
//  3. risk_budget_quote = equity * per_trade_risk_pct
//  4. quantity = risk_budget_quote / |entry - stop|
//  5. daily risk ceiling check
//  6. concurrent-operations cap check
//  7. lot/tick rounding and min-notional rejection
func ComputeQuantity(in SizingInput) (*SizingResult, error) {
	if in.EntryPrice <= 0 || in.StopPrice <= 0 {
		return nil, errs.New(errs.InvalidInput, "entry and stop prices must be positive")
	}
	distance := math.Abs(in.EntryPrice - in.StopPrice)
	if distance <= 0 {
		return nil, errs.New(errs.InvalidInput, "entry and stop price must differ")
	}

	perTradeRiskPct := in.DefaultPerTradeRiskPct
	if in.PerTradeRiskPctOverride != nil {
		perTradeRiskPct = *in.PerTradeRiskPctOverride
	}
	if perTradeRiskPct <= 0 {
		return nil, errs.New(errs.InvalidInput, "per_trade_risk_pct must be positive")
	}

	riskBudgetQuote := in.AccountEquity * perTradeRiskPct
	quantity := riskBudgetQuote / distance

	if riskBudgetQuote > in.DailyRiskBudgetRemaining {
		return nil, errs.New(errs.PreconditionFailed, fmt.Sprintf(
			"risk_budget_quote %.2f exceeds remaining daily risk budget %.2f", riskBudgetQuote, in.DailyRiskBudgetRemaining))
	}

	if in.MaxConcurrentOperations > 0 && in.ConcurrentOpenCount >= in.MaxConcurrentOperations {
		return nil, errs.New(errs.PreconditionFailed, fmt.Sprintf(
			"concurrent open operations %d already at cap %d", in.ConcurrentOpenCount, in.MaxConcurrentOperations))
	}

	quantity = roundToLot(quantity, in.Pair.LotSize)
	if quantity <= 0 {
		return nil, errs.New(errs.PreconditionFailed, "sized quantity rounds to zero at the pair's lot size")
	}

	notional := quantity * in.EntryPrice
	if in.Pair.MinNotional > 0 && notional < in.Pair.MinNotional {
		return nil, errs.New(errs.PreconditionFailed, fmt.Sprintf(
			"sized notional %.2f is below pair minimum %.2f", notional, in.Pair.MinNotional))
	}

	return &SizingResult{Quantity: quantity, RiskBudgetQuote: riskBudgetQuote, PerTradeRiskPct: perTradeRiskPct}, nil
}

// roundToLot floors a quantity to the nearest multiple of lotSize. A
// zero/unset lot size means the pair imposes no lot-step constraint.
func roundToLot(quantity, lotSize float64) float64 {
	if lotSize <= 0 {
		return quantity
	}
	steps := math.Floor(quantity / lotSize)
	return steps * lotSize
}

// roundToTick floors a price to the nearest multiple of tickSize.
func roundToTick(price, tickSize float64) float64 {
	if tickSize <= 0 {
		return price
	}
	steps := math.Floor(price / tickSize)
	return steps * tickSize
}
