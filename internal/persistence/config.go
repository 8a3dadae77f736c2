package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aristath/tradecore/internal/domain"
	"github.com/aristath/tradecore/internal/errs"
)

// GetUserConfiguration retrieves the single settings row for a user.
func (a *Adapter) GetUserConfiguration(ctx context.Context, userID string) (*domain.UserConfiguration, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT user_id, watchlists_json, notification_preferences_json, ai_strategy_config_ids_json,
			confidence_thresholds_json, risk_profile_settings_json, real_trading_settings_json,
			real_mode_total_slots, version
		FROM user_configurations WHERE user_id = ?`, userID)

	var cfg domain.UserConfiguration
	var watchlistsJSON, notifJSON, strategyIDsJSON, thresholdsJSON, riskJSON, realTradingJSON string
	err := row.Scan(&cfg.UserID, &watchlistsJSON, &notifJSON, &strategyIDsJSON,
		&thresholdsJSON, &riskJSON, &realTradingJSON, &cfg.RealModeTotalSlots, &cfg.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("no configuration for user %s", userID))
	}
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "scan user_configuration", err)
	}

	if err := json.Unmarshal([]byte(watchlistsJSON), &cfg.Watchlists); err != nil {
		return nil, errs.Wrap(errs.Internal, "unmarshal watchlists", err)
	}
	if err := json.Unmarshal([]byte(notifJSON), &cfg.NotificationPreferences); err != nil {
		return nil, errs.Wrap(errs.Internal, "unmarshal notification_preferences", err)
	}
	if err := json.Unmarshal([]byte(strategyIDsJSON), &cfg.AIStrategyConfigIDs); err != nil {
		return nil, errs.Wrap(errs.Internal, "unmarshal ai_strategy_config_ids", err)
	}
	if err := json.Unmarshal([]byte(thresholdsJSON), &cfg.AIAnalysisConfidenceThresholds); err != nil {
		return nil, errs.Wrap(errs.Internal, "unmarshal confidence_thresholds", err)
	}
	if err := json.Unmarshal([]byte(riskJSON), &cfg.RiskProfileSettings); err != nil {
		return nil, errs.Wrap(errs.Internal, "unmarshal risk_profile_settings", err)
	}
	if err := json.Unmarshal([]byte(realTradingJSON), &cfg.RealTradingSettings); err != nil {
		return nil, errs.Wrap(errs.Internal, "unmarshal real_trading_settings", err)
	}
	return &cfg, nil
}

// CompareAndSwapConfig writes cfg only if the stored version still matches
// expectedVersion, implementing the optimistic-concurrency contract of §6:
// replace-on-send lists overwrite wholesale, nested objects here are
// likewise replaced wholesale since the deep-merge happens in the caller
// before this call (the port only enforces the version fence).
func (a *Adapter) CompareAndSwapConfig(ctx context.Context, cfg *domain.UserConfiguration, expectedVersion int64) error {
	watchlistsJSON, err := json.Marshal(cfg.Watchlists)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal watchlists", err)
	}
	notifJSON, err := json.Marshal(cfg.NotificationPreferences)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal notification_preferences", err)
	}
	strategyIDsJSON, err := json.Marshal(cfg.AIStrategyConfigIDs)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal ai_strategy_config_ids", err)
	}
	thresholdsJSON, err := json.Marshal(cfg.AIAnalysisConfidenceThresholds)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal confidence_thresholds", err)
	}
	riskJSON, err := json.Marshal(cfg.RiskProfileSettings)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal risk_profile_settings", err)
	}
	realTradingJSON, err := json.Marshal(cfg.RealTradingSettings)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal real_trading_settings", err)
	}

	newVersion := expectedVersion + 1

	if expectedVersion == 0 {
		_, err := a.db.ExecContext(ctx, `
			INSERT INTO user_configurations (user_id, watchlists_json, notification_preferences_json,
				ai_strategy_config_ids_json, confidence_thresholds_json, risk_profile_settings_json,
				real_trading_settings_json, real_mode_total_slots, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cfg.UserID, string(watchlistsJSON), string(notifJSON), string(strategyIDsJSON),
			string(thresholdsJSON), string(riskJSON), string(realTradingJSON), cfg.RealModeTotalSlots, newVersion)
		if err != nil {
			return errs.Wrap(errs.Internal, "insert user_configuration", err)
		}
		cfg.Version = newVersion
		return nil
	}

	res, err := a.db.ExecContext(ctx, `
		UPDATE user_configurations SET watchlists_json=?, notification_preferences_json=?,
			ai_strategy_config_ids_json=?, confidence_thresholds_json=?, risk_profile_settings_json=?,
			real_trading_settings_json=?, real_mode_total_slots=?, version=?
		WHERE user_id = ? AND version = ?`,
		string(watchlistsJSON), string(notifJSON), string(strategyIDsJSON),
		string(thresholdsJSON), string(riskJSON), string(realTradingJSON), cfg.RealModeTotalSlots, newVersion,
		cfg.UserID, expectedVersion)
	if err != nil {
		return errs.Wrap(errs.Internal, "update user_configuration", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.New(errs.VersionConflict, fmt.Sprintf("configuration for user %s: version %d is stale", cfg.UserID, expectedVersion))
	}
	cfg.Version = newVersion
	return nil
}

// GetStrategyConfig retrieves a named strategy configuration by id.
func (a *Adapter) GetStrategyConfig(ctx context.Context, id string) (*domain.TradingStrategyConfig, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT id, user_id, config_name, base_strategy_type, active_paper, active_real, prompt_template,
			indicator_weights_json, confidence_thresholds_json, max_context_tokens,
			per_trade_risk_pct_override, cached_performance_json
		FROM trading_strategy_configs WHERE id = ?`, id)
	c, err := scanStrategyConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("strategy config %s not found", id))
	}
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "scan strategy config", err)
	}
	return c, nil
}

// ListActiveStrategyConfigs lists configs active for the given mode.
func (a *Adapter) ListActiveStrategyConfigs(ctx context.Context, mode domain.Mode) ([]*domain.TradingStrategyConfig, error) {
	column := "active_paper"
	if mode == domain.ModeReal {
		column = "active_real"
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, user_id, config_name, base_strategy_type, active_paper, active_real, prompt_template,
			indicator_weights_json, confidence_thresholds_json, max_context_tokens,
			per_trade_risk_pct_override, cached_performance_json
		FROM trading_strategy_configs WHERE `+column+` = 1`)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "query active strategy configs", err)
	}
	defer rows.Close()

	var out []*domain.TradingStrategyConfig
	for rows.Next() {
		c, err := scanStrategyConfig(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "scan strategy config row", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PutStrategyConfig inserts or replaces a strategy configuration.
func (a *Adapter) PutStrategyConfig(ctx context.Context, c *domain.TradingStrategyConfig) error {
	weightsJSON, err := json.Marshal(c.IndicatorWeights)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal indicator_weights", err)
	}
	thresholdsJSON, err := json.Marshal(c.ConfidenceThresholds)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal confidence_thresholds", err)
	}
	var cachedJSON sql.NullString
	if c.CachedPerformance != nil {
		b, err := json.Marshal(c.CachedPerformance)
		if err != nil {
			return errs.Wrap(errs.Internal, "marshal cached_performance", err)
		}
		cachedJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO trading_strategy_configs (id, user_id, config_name, base_strategy_type, active_paper,
			active_real, prompt_template, indicator_weights_json, confidence_thresholds_json,
			max_context_tokens, per_trade_risk_pct_override, cached_performance_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET config_name=excluded.config_name, base_strategy_type=excluded.base_strategy_type,
			active_paper=excluded.active_paper, active_real=excluded.active_real,
			prompt_template=excluded.prompt_template, indicator_weights_json=excluded.indicator_weights_json,
			confidence_thresholds_json=excluded.confidence_thresholds_json, max_context_tokens=excluded.max_context_tokens,
			per_trade_risk_pct_override=excluded.per_trade_risk_pct_override,
			cached_performance_json=excluded.cached_performance_json`,
		c.ID, c.UserID, c.ConfigName, c.BaseStrategyType, c.ActivePaper, c.ActiveReal,
		c.PromptTemplate, string(weightsJSON), string(thresholdsJSON), c.MaxContextTokens,
		c.PerTradeRiskPctOverride, cachedJSON)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return errs.Wrap(errs.InvalidInput, "a strategy config with this name already exists for this user", err)
		}
		return errs.Wrap(errs.Internal, "upsert strategy config", err)
	}
	return nil
}

func scanStrategyConfig(row scannable) (*domain.TradingStrategyConfig, error) {
	var c domain.TradingStrategyConfig
	var weightsJSON, thresholdsJSON string
	var cachedJSON sql.NullString

	err := row.Scan(&c.ID, &c.UserID, &c.ConfigName, &c.BaseStrategyType, &c.ActivePaper, &c.ActiveReal,
		&c.PromptTemplate, &weightsJSON, &thresholdsJSON, &c.MaxContextTokens,
		&c.PerTradeRiskPctOverride, &cachedJSON)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(weightsJSON), &c.IndicatorWeights); err != nil {
		return nil, fmt.Errorf("unmarshal indicator_weights: %w", err)
	}
	if err := json.Unmarshal([]byte(thresholdsJSON), &c.ConfidenceThresholds); err != nil {
		return nil, fmt.Errorf("unmarshal confidence_thresholds: %w", err)
	}
	if cachedJSON.Valid {
		if err := json.Unmarshal([]byte(cachedJSON.String), &c.CachedPerformance); err != nil {
			return nil, fmt.Errorf("unmarshal cached_performance: %w", err)
		}
	}
	return &c, nil
}
