package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/tradecore/internal/domain"
	"github.com/aristath/tradecore/internal/errs"
)

const opportunityColumns = `id, symbol, source, status, initial_signal_json, verdict_json,
	data_verification_status, mode, strategy_config_id, linked_trade_ids_json, error_reason,
	analysis_started_at, expires_at, created_at, updated_at, version`

// GetOpportunity retrieves an opportunity by id.
func (a *Adapter) GetOpportunity(ctx context.Context, id string) (*domain.Opportunity, error) {
	row := a.db.QueryRowContext(ctx, "SELECT "+opportunityColumns+" FROM opportunities WHERE id = ?", id)
	o, err := scanOpportunity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("opportunity %s not found", id))
	}
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "scan opportunity", err)
	}
	return o, nil
}

// PutOpportunity inserts or updates an opportunity, enforcing the Version
// optimistic-concurrency field on update (§3). Every status transition in
// the core goes through this single compare-and-swap path, which is what
// makes replayed transitions a no-op (§8).
func (a *Adapter) PutOpportunity(ctx context.Context, o *domain.Opportunity) error {
	if err := o.Validate(); err != nil {
		return errs.Wrap(errs.InvalidInput, "opportunity failed validation", err)
	}

	signalJSON, err := json.Marshal(o.InitialSignal)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal initial_signal", err)
	}
	var verdictJSON sql.NullString
	if o.Verdict != nil {
		b, err := json.Marshal(o.Verdict)
		if err != nil {
			return errs.Wrap(errs.Internal, "marshal verdict", err)
		}
		verdictJSON = sql.NullString{String: string(b), Valid: true}
	}
	linkedJSON, err := json.Marshal(o.LinkedTradeIDs)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal linked_trade_ids", err)
	}

	now := time.Now()
	expectedVersion := o.Version
	o.Version++

	var expires sql.NullInt64
	if !o.ExpiresAt.IsZero() {
		expires = sql.NullInt64{Int64: o.ExpiresAt.Unix(), Valid: true}
	}
	var analysisStarted sql.NullInt64
	if o.AnalysisStartedAt != nil {
		analysisStarted = sql.NullInt64{Int64: o.AnalysisStartedAt.Unix(), Valid: true}
	}
	strategyConfigID := nullableString(o.StrategyConfigID)
	errorReason := nullableString(o.ErrorReason)
	dataVerif := "skipped"
	if o.Verdict != nil {
		dataVerif = string(o.Verdict.DataVerificationStatus)
	}

	if expectedVersion == 0 {
		_, err := a.db.ExecContext(ctx, `
			INSERT INTO opportunities (id, symbol, source, status, initial_signal_json, verdict_json,
				data_verification_status, mode, strategy_config_id, linked_trade_ids_json, error_reason,
				analysis_started_at, expires_at, created_at, updated_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.ID, o.Symbol, string(o.Source), string(o.Status), string(signalJSON), verdictJSON,
			dataVerif, string(o.Mode), strategyConfigID, string(linkedJSON), errorReason,
			analysisStarted, expires, now.Unix(), now.Unix(), o.Version)
		if err != nil {
			return errs.Wrap(errs.Internal, "insert opportunity", err)
		}
		return nil
	}

	res, err := a.db.ExecContext(ctx, `
		UPDATE opportunities SET symbol=?, source=?, status=?, initial_signal_json=?, verdict_json=?,
			data_verification_status=?, mode=?, strategy_config_id=?, linked_trade_ids_json=?,
			error_reason=?, analysis_started_at=?, expires_at=?, updated_at=?, version=?
		WHERE id = ? AND version = ?`,
		o.Symbol, string(o.Source), string(o.Status), string(signalJSON), verdictJSON,
		dataVerif, string(o.Mode), strategyConfigID, string(linkedJSON), errorReason,
		analysisStarted, expires, now.Unix(), o.Version, o.ID, expectedVersion)
	if err != nil {
		return errs.Wrap(errs.Internal, "update opportunity", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.New(errs.VersionConflict, fmt.Sprintf("opportunity %s: version %d is stale", o.ID, expectedVersion))
	}
	return nil
}

// ListOpportunitiesByStatus lists opportunities in a given status, oldest first.
func (a *Adapter) ListOpportunitiesByStatus(ctx context.Context, status domain.OpportunityStatus, limit int) ([]*domain.Opportunity, error) {
	rows, err := a.db.QueryContext(ctx, "SELECT "+opportunityColumns+" FROM opportunities WHERE status = ? ORDER BY created_at ASC LIMIT ?", string(status), limit)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "query opportunities by status", err)
	}
	defer rows.Close()
	return scanOpportunityRows(rows)
}

// ListExpiredOpportunities lists non-terminal opportunities whose expires_at
// has passed asOf, for the C5 expiry sweep.
func (a *Adapter) ListExpiredOpportunities(ctx context.Context, asOf int64) ([]*domain.Opportunity, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT `+opportunityColumns+` FROM opportunities
		WHERE expires_at IS NOT NULL AND expires_at <= ?
		AND status NOT IN ('rejected_by_ai','converted_to_trade_paper','converted_to_trade_real','rejected_by_user','expired','error_in_processing')`,
		asOf)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "query expired opportunities", err)
	}
	defer rows.Close()
	return scanOpportunityRows(rows)
}

// ListStuckAnalyses lists opportunities fenced in under_ai_analysis whose
// analysis_started_at is older than cutoff, for the restart-recovery sweep
// Design Note "Async tool loop without re-entrancy" describes.
func (a *Adapter) ListStuckAnalyses(ctx context.Context, cutoff int64) ([]*domain.Opportunity, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT `+opportunityColumns+` FROM opportunities
		WHERE status = 'under_ai_analysis' AND analysis_started_at IS NOT NULL AND analysis_started_at <= ?`,
		cutoff)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "query stuck analyses", err)
	}
	defer rows.Close()
	return scanOpportunityRows(rows)
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanOpportunity(row scannable) (*domain.Opportunity, error) {
	var o domain.Opportunity
	var source, status, dataVerif, mode string
	var signalJSON string
	var verdictJSON, strategyConfigID, errorReason sql.NullString
	var analysisStarted, expiresAt sql.NullInt64
	var linkedJSON string
	var createdAt, updatedAt int64

	err := row.Scan(&o.ID, &o.Symbol, &source, &status, &signalJSON, &verdictJSON,
		&dataVerif, &mode, &strategyConfigID, &linkedJSON, &errorReason,
		&analysisStarted, &expiresAt, &createdAt, &updatedAt, &o.Version)
	if err != nil {
		return nil, err
	}

	o.Source = domain.OpportunitySource(source)
	o.Status = domain.OpportunityStatus(status)
	o.Mode = domain.Mode(mode)
	if strategyConfigID.Valid {
		o.StrategyConfigID = strategyConfigID.String
	}
	if errorReason.Valid {
		o.ErrorReason = errorReason.String
	}
	if err := json.Unmarshal([]byte(signalJSON), &o.InitialSignal); err != nil {
		return nil, fmt.Errorf("unmarshal initial_signal: %w", err)
	}
	if err := json.Unmarshal([]byte(linkedJSON), &o.LinkedTradeIDs); err != nil {
		return nil, fmt.Errorf("unmarshal linked_trade_ids: %w", err)
	}
	if verdictJSON.Valid {
		var v domain.Verdict
		if err := json.Unmarshal([]byte(verdictJSON.String), &v); err != nil {
			return nil, fmt.Errorf("unmarshal verdict: %w", err)
		}
		v.DataVerificationStatus = domain.DataVerificationStatus(dataVerif)
		o.Verdict = &v
	}
	if analysisStarted.Valid {
		t := time.Unix(analysisStarted.Int64, 0).UTC()
		o.AnalysisStartedAt = &t
	}
	if expiresAt.Valid {
		o.ExpiresAt = time.Unix(expiresAt.Int64, 0).UTC()
	}
	o.DetectedAt = time.Unix(createdAt, 0).UTC()
	_ = updatedAt
	return &o, nil
}

func scanOpportunityRows(rows *sql.Rows) ([]*domain.Opportunity, error) {
	var out []*domain.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan opportunity row: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
