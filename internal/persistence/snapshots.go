package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/tradecore/internal/domain"
	"github.com/aristath/tradecore/internal/errs"
)

const snapshotColumns = `id, mode, primary_quote_currency, total_portfolio_value, total_cash_balance,
	total_spot_assets_value, cash_balances_json, holdings_json, cumulative_pnl, source, taken_at`

// AppendSnapshot inserts a portfolio snapshot. Snapshots are append-only:
// there is no update path.
func (a *Adapter) AppendSnapshot(ctx context.Context, s *domain.PortfolioSnapshot) error {
	if err := s.Validate(); err != nil {
		return errs.Wrap(errs.InvalidInput, "snapshot failed validation", err)
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.TakenAt.IsZero() {
		s.TakenAt = time.Now()
	}

	cashJSON, err := json.Marshal(s.CashBalances)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal cash_balances", err)
	}
	holdingsJSON, err := json.Marshal(s.Holdings)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal holdings", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO portfolio_snapshots (id, mode, primary_quote_currency, total_portfolio_value,
			total_cash_balance, total_spot_assets_value, cash_balances_json, holdings_json,
			cumulative_pnl, source, taken_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, string(s.Mode), s.PrimaryQuoteCurrency, s.TotalPortfolioValue,
		s.TotalCashBalance, s.TotalSpotAssetsValue, string(cashJSON), string(holdingsJSON),
		s.CumulativePnL, string(s.Source), s.TakenAt.Unix())
	if err != nil {
		return errs.Wrap(errs.Internal, "insert snapshot", err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot for mode.
func (a *Adapter) LatestSnapshot(ctx context.Context, mode domain.Mode) (*domain.PortfolioSnapshot, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM portfolio_snapshots WHERE mode = ? ORDER BY taken_at DESC LIMIT 1`,
		string(mode))
	s, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("no snapshots recorded for mode %s", mode))
	}
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "scan snapshot", err)
	}
	return s, nil
}

// ListSnapshots lists snapshots for mode taken at or after since, oldest first.
// A limit <= 0 means no limit.
func (a *Adapter) ListSnapshots(ctx context.Context, mode domain.Mode, since int64, limit int) ([]*domain.PortfolioSnapshot, error) {
	if limit <= 0 {
		limit = -1 // SQLite reads a negative LIMIT as no limit
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT `+snapshotColumns+` FROM portfolio_snapshots
		WHERE mode = ? AND taken_at >= ?
		ORDER BY taken_at ASC LIMIT ?`, string(mode), since, limit)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "query snapshots", err)
	}
	defer rows.Close()

	var out []*domain.PortfolioSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "scan snapshot row", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSnapshot(row scannable) (*domain.PortfolioSnapshot, error) {
	var s domain.PortfolioSnapshot
	var mode, source string
	var cashJSON, holdingsJSON string
	var takenAt int64

	err := row.Scan(&s.ID, &mode, &s.PrimaryQuoteCurrency, &s.TotalPortfolioValue,
		&s.TotalCashBalance, &s.TotalSpotAssetsValue, &cashJSON, &holdingsJSON,
		&s.CumulativePnL, &source, &takenAt)
	if err != nil {
		return nil, err
	}

	s.Mode = domain.Mode(mode)
	s.Source = domain.SnapshotSource(source)
	if err := json.Unmarshal([]byte(cashJSON), &s.CashBalances); err != nil {
		return nil, fmt.Errorf("unmarshal cash_balances: %w", err)
	}
	if err := json.Unmarshal([]byte(holdingsJSON), &s.Holdings); err != nil {
		return nil, fmt.Errorf("unmarshal holdings: %w", err)
	}
	s.TakenAt = time.Unix(takenAt, 0).UTC()
	return &s, nil
}
