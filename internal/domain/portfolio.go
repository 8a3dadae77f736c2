package domain

import (
	"fmt"
	"time"
)

// Holding is a spot position within a PortfolioSnapshot.
type Holding struct {
	Asset           string  `json:"asset"`
	Quantity        float64 `json:"quantity"`
	AverageBuyPrice float64 `json:"average_buy_price"`
}

// CashBalance is a cash position within a PortfolioSnapshot.
type CashBalance struct {
	Asset  string  `json:"asset"`
	Amount float64 `json:"amount"`
}

// PortfolioSnapshot is a valuation at an instant, §3. Append-only.
type PortfolioSnapshot struct {
	ID                  string         `json:"id"`
	Mode                Mode           `json:"mode"`
	PrimaryQuoteCurrency string        `json:"primary_quote_currency"`
	TotalPortfolioValue float64        `json:"total_portfolio_value"`
	TotalCashBalance    float64        `json:"total_cash_balance"`
	TotalSpotAssetsValue float64       `json:"total_spot_assets_value"`
	CashBalances        []CashBalance  `json:"cash_balances"`
	Holdings            []Holding      `json:"holdings"`
	CumulativePnL       float64        `json:"cumulative_pnl"`
	Source              SnapshotSource `json:"source"`
	TakenAt             time.Time      `json:"taken_at"`
}

// Validate enforces §3: total = cash + spot assets, within rounding tolerance.
func (s *PortfolioSnapshot) Validate() error {
	const tolerance = 1e-6
	sum := s.TotalCashBalance + s.TotalSpotAssetsValue
	diff := sum - s.TotalPortfolioValue
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance*max1(s.TotalPortfolioValue) {
		return fmt.Errorf("snapshot %s: total_portfolio_value %.8f != cash %.8f + spot %.8f",
			s.ID, s.TotalPortfolioValue, s.TotalCashBalance, s.TotalSpotAssetsValue)
	}
	if !s.Mode.IsValid() {
		return ErrInvalidEnum("mode", string(s.Mode))
	}
	switch s.Source {
	case SnapshotScheduled, SnapshotAfterTradeClose, SnapshotUserRequest, SnapshotInitial, SnapshotCapitalFlow:
	default:
		return ErrInvalidEnum("source", string(s.Source))
	}
	return nil
}

func max1(v float64) float64 {
	if v < 1 {
		return 1
	}
	return v
}
