package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/tradecore/internal/domain"
	"github.com/aristath/tradecore/internal/errs"
)

const tradeColumns = `id, mode, symbol, side, opportunity_id, strategy_config_id, position_status,
	entry_order_json, exit_orders_json, initial_risk_quote_amount, current_risk_quote_amount,
	reward_risk_ratio, risk_adjustments_json, realized_pnl_quote, realized_pnl_pct, closing_reason,
	current_stop_price_tsl, tsl_activation_price, tsl_callback_rate, created_at, updated_at, version`

// GetTrade retrieves a trade by id.
func (a *Adapter) GetTrade(ctx context.Context, id string) (*domain.Trade, error) {
	row := a.db.QueryRowContext(ctx, "SELECT "+tradeColumns+" FROM trades WHERE id = ?", id)
	t, _, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("trade %s not found", id))
	}
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "scan trade", err)
	}
	return t, nil
}

// PutTrade inserts or updates a trade, enforcing the Version field on update.
func (a *Adapter) PutTrade(ctx context.Context, t *domain.Trade) error {
	if err := t.Validate(); err != nil {
		return errs.Wrap(errs.InvalidInput, "trade failed validation", err)
	}

	entryJSON, err := json.Marshal(t.EntryOrder)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal entry_order", err)
	}
	exitJSON, err := json.Marshal(t.ExitOrders)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal exit_orders", err)
	}
	riskAdjJSON, err := json.Marshal(t.RiskAdjustments)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal risk_adjustments", err)
	}

	now := time.Now()
	expectedVersion := t.Version
	t.Version++

	opportunityID := nullableString(t.OpportunityID)
	strategyConfigID := nullableString(t.StrategyConfigID)
	closingReason := nullableString(string(t.ClosingReason))

	if expectedVersion == 0 {
		_, err := a.db.ExecContext(ctx, `
			INSERT INTO trades (id, mode, symbol, side, opportunity_id, strategy_config_id, position_status,
				entry_order_json, exit_orders_json, initial_risk_quote_amount, current_risk_quote_amount,
				reward_risk_ratio, risk_adjustments_json, realized_pnl_quote, realized_pnl_pct, closing_reason,
				current_stop_price_tsl, tsl_activation_price, tsl_callback_rate, created_at, updated_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, string(t.Mode), t.Symbol, string(t.Side), opportunityID, strategyConfigID, string(t.PositionStatus),
			string(entryJSON), string(exitJSON), t.InitialRiskQuote, t.CurrentRiskQuote,
			t.RewardRiskRatio, string(riskAdjJSON), t.RealizedPnLQuote, t.RealizedPnLPct, closingReason,
			t.CurrentStopTSL, t.TSLActivation, nullableFloat(t.TSLCallbackRate), now.Unix(), now.Unix(), t.Version)
		if err != nil {
			if isUniqueConstraintErr(err) {
				return errs.Wrap(errs.VersionConflict, "a trade already exists for this opportunity and mode", err)
			}
			return errs.Wrap(errs.Internal, "insert trade", err)
		}
		return nil
	}

	res, err := a.db.ExecContext(ctx, `
		UPDATE trades SET position_status=?, entry_order_json=?, exit_orders_json=?,
			initial_risk_quote_amount=?, current_risk_quote_amount=?, reward_risk_ratio=?,
			risk_adjustments_json=?, realized_pnl_quote=?, realized_pnl_pct=?, closing_reason=?,
			current_stop_price_tsl=?, tsl_activation_price=?, tsl_callback_rate=?, updated_at=?, version=?
		WHERE id = ? AND version = ?`,
		string(t.PositionStatus), string(entryJSON), string(exitJSON),
		t.InitialRiskQuote, t.CurrentRiskQuote, t.RewardRiskRatio,
		string(riskAdjJSON), t.RealizedPnLQuote, t.RealizedPnLPct, closingReason,
		t.CurrentStopTSL, t.TSLActivation, nullableFloat(t.TSLCallbackRate), now.Unix(), t.Version,
		t.ID, expectedVersion)
	if err != nil {
		return errs.Wrap(errs.Internal, "update trade", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.New(errs.VersionConflict, fmt.Sprintf("trade %s: version %d is stale", t.ID, expectedVersion))
	}
	return nil
}

// ListOpenTrades lists trades whose position is not yet closed or errored.
func (a *Adapter) ListOpenTrades(ctx context.Context, mode domain.Mode) ([]*domain.Trade, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE mode = ? AND position_status NOT IN ('closed','error')
		ORDER BY created_at ASC`, string(mode))
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "query open trades", err)
	}
	defer rows.Close()

	var out []*domain.Trade
	for rows.Next() {
		t, _, err := scanTrade(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "scan trade row", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListRecentClosedTrades lists the most recently closed trades in a mode,
// newest first, for the auto-pause consecutive-loss check.
func (a *Adapter) ListRecentClosedTrades(ctx context.Context, mode domain.Mode, limit int) ([]*domain.Trade, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE mode = ? AND position_status = 'closed'
		ORDER BY updated_at DESC LIMIT ?`, string(mode), limit)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "query recent closed trades", err)
	}
	defer rows.Close()

	var out []*domain.Trade
	for rows.Next() {
		t, _, err := scanTrade(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "scan trade row", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TradeExistsForOpportunity reports whether a non-errored trade already
// exists for the given opportunity and mode (the at-most-once check, §5).
func (a *Adapter) TradeExistsForOpportunity(ctx context.Context, opportunityID string, mode domain.Mode) (bool, error) {
	var exists int
	err := a.db.QueryRowContext(ctx, `
		SELECT 1 FROM trades WHERE opportunity_id = ? AND mode = ? AND position_status != 'error' LIMIT 1`,
		opportunityID, string(mode)).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errs.Wrap(errs.Internal, "check trade existence", err)
	}
	return true, nil
}

func scanTrade(row scannable) (*domain.Trade, string, error) {
	var t domain.Trade
	var mode, side, positionStatus string
	var opportunityID, strategyConfigID, closingReason sql.NullString
	var entryJSON, exitJSON, riskAdjJSON string
	var realizedPnLQuote, realizedPnLPct sql.NullFloat64
	var currentStopTSL, tslActivation, tslCallback sql.NullFloat64
	var createdAt, updatedAt int64

	err := row.Scan(&t.ID, &mode, &t.Symbol, &side, &opportunityID, &strategyConfigID, &positionStatus,
		&entryJSON, &exitJSON, &t.InitialRiskQuote, &t.CurrentRiskQuote,
		&t.RewardRiskRatio, &riskAdjJSON, &realizedPnLQuote, &realizedPnLPct, &closingReason,
		&currentStopTSL, &tslActivation, &tslCallback, &createdAt, &updatedAt, &t.Version)
	if err != nil {
		return nil, "", err
	}

	t.Mode = domain.Mode(mode)
	t.Side = domain.TradeSide(side)
	t.PositionStatus = domain.PositionStatus(positionStatus)
	if opportunityID.Valid {
		t.OpportunityID = opportunityID.String
	}
	if strategyConfigID.Valid {
		t.StrategyConfigID = strategyConfigID.String
	}
	if closingReason.Valid {
		t.ClosingReason = domain.ClosingReason(closingReason.String)
	}
	if err := json.Unmarshal([]byte(entryJSON), &t.EntryOrder); err != nil {
		return nil, "", fmt.Errorf("unmarshal entry_order: %w", err)
	}
	if err := json.Unmarshal([]byte(exitJSON), &t.ExitOrders); err != nil {
		return nil, "", fmt.Errorf("unmarshal exit_orders: %w", err)
	}
	if err := json.Unmarshal([]byte(riskAdjJSON), &t.RiskAdjustments); err != nil {
		return nil, "", fmt.Errorf("unmarshal risk_adjustments: %w", err)
	}
	if realizedPnLQuote.Valid {
		t.RealizedPnLQuote = &realizedPnLQuote.Float64
	}
	if realizedPnLPct.Valid {
		t.RealizedPnLPct = &realizedPnLPct.Float64
	}
	if currentStopTSL.Valid {
		t.CurrentStopTSL = &currentStopTSL.Float64
	}
	if tslActivation.Valid {
		t.TSLActivation = &tslActivation.Float64
	}
	if tslCallback.Valid {
		t.TSLCallbackRate = tslCallback.Float64
	}
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &t, positionStatus, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableFloat(f float64) sql.NullFloat64 {
	if f == 0 {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
