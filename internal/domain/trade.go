package domain

import (
	"fmt"
	"time"
)

// Commission is a fee charged by the exchange on a fill.
type Commission struct {
	Amount      float64   `json:"amount"`
	Asset       string    `json:"asset"`
	ConvertedAt time.Time `json:"converted_at,omitempty"` // §9: conversion-timestamp used, if converted
}

// TradeOrder is one instruction to the exchange (or its paper simulation), §3.
type TradeOrder struct {
	ID                string       `json:"id"`
	ExchangeOrderID   string       `json:"exchange_order_id,omitempty"`
	ClientOrderID     string       `json:"client_order_id"`
	Type              OrderType    `json:"type"`
	Side              TradeSide    `json:"side"`
	RequestedPrice    *float64     `json:"requested_price,omitempty"`
	RequestedStop     *float64     `json:"requested_stop,omitempty"`
	RequestedQuantity float64      `json:"requested_quantity"`
	ExecutedPrice     float64      `json:"executed_price"`
	ExecutedQuantity  float64      `json:"executed_quantity"`
	Commissions       []Commission `json:"commissions,omitempty"`
	Status            OrderStatus  `json:"status"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Validate enforces the TradeOrder invariants of §3.
func (o *TradeOrder) Validate() error {
	if o.RequestedQuantity <= 0 {
		return fmt.Errorf("order %s: requested_quantity must be positive", o.ID)
	}
	if o.ExecutedQuantity > o.RequestedQuantity {
		return fmt.Errorf("order %s: executed_quantity %.8f exceeds requested %.8f", o.ID, o.ExecutedQuantity, o.RequestedQuantity)
	}
	if o.Status == OrderRejected && o.ExecutedQuantity > 0 {
		return fmt.Errorf("order %s: rejected order cannot have executed quantity", o.ID)
	}
	return nil
}

// RiskAdjustment is an append-only record of a change to a Trade's risk snapshot.
type RiskAdjustment struct {
	At               time.Time `json:"at"`
	RiskQuoteAmount  float64   `json:"risk_quote_amount"`
	RewardRiskRatio  float64   `json:"reward_risk_ratio"`
	Reason           string    `json:"reason"`
}

// Trade is an executed or in-flight position, §3.
type Trade struct {
	ID               string           `json:"id"`
	Mode             Mode             `json:"mode"`
	Symbol           string           `json:"symbol"`
	Side             TradeSide        `json:"side"`
	OpportunityID    string           `json:"opportunity_id,omitempty"`
	StrategyConfigID string           `json:"strategy_config_id,omitempty"`
	PositionStatus   PositionStatus   `json:"position_status"`
	EntryOrder       TradeOrder       `json:"entry_order"`
	ExitOrders       []TradeOrder     `json:"exit_orders,omitempty"`
	InitialRiskQuote float64          `json:"initial_risk_quote_amount"`
	CurrentRiskQuote float64          `json:"current_risk_quote_amount"`
	RewardRiskRatio  float64          `json:"reward_risk_ratio"`
	RiskAdjustments  []RiskAdjustment `json:"risk_adjustments,omitempty"`
	RealizedPnLQuote *float64         `json:"realized_pnl_quote,omitempty"`
	RealizedPnLPct   *float64         `json:"realized_pnl_pct,omitempty"`
	ClosingReason    ClosingReason    `json:"closing_reason,omitempty"`
	CurrentStopTSL   *float64         `json:"current_stop_price_tsl,omitempty"`
	TSLActivation    *float64         `json:"tsl_activation_price,omitempty"`
	TSLCallbackRate  float64          `json:"tsl_callback_rate,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	Version          int64            `json:"version"`
}

// ExitExecutedQuantity sums the executed quantity of all exit orders.
func (t *Trade) ExitExecutedQuantity() float64 {
	var sum float64
	for _, e := range t.ExitOrders {
		sum += e.ExecutedQuantity
	}
	return sum
}

// Validate enforces the Trade invariants of §3.
func (t *Trade) Validate() error {
	if !t.Mode.IsValid() {
		return ErrInvalidEnum("mode", string(t.Mode))
	}
	if !t.Side.IsValid() {
		return ErrInvalidEnum("side", string(t.Side))
	}
	if t.ExitExecutedQuantity() > t.EntryOrder.ExecutedQuantity {
		return fmt.Errorf("trade %s: sum(exit.executed_quantity)=%.8f exceeds entry.executed_quantity=%.8f",
			t.ID, t.ExitExecutedQuantity(), t.EntryOrder.ExecutedQuantity)
	}
	if t.PositionStatus == PositionClosed {
		if t.RealizedPnLQuote == nil || t.RealizedPnLPct == nil {
			return fmt.Errorf("trade %s: pnl fields must be populated when closed", t.ID)
		}
	}
	return nil
}

// IsFullyClosed reports whether the sum of exit fills accounts for the whole
// entry, or a manual_close exit order filled for the residual — §3.
func (t *Trade) IsFullyClosed() bool {
	const epsilon = 1e-9
	if t.EntryOrder.ExecutedQuantity <= 0 {
		return false
	}
	if t.ExitExecutedQuantity()+epsilon >= t.EntryOrder.ExecutedQuantity {
		return true
	}
	for _, e := range t.ExitOrders {
		if e.Type == OrderTypeManualClose && e.Status == OrderFilled {
			return true
		}
	}
	return false
}
