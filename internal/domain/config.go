package domain

// ConfidenceThresholds holds the paper/real confidence gates, §4.5.
type ConfidenceThresholds struct {
	Paper float64 `json:"paper"`
	Real  float64 `json:"real"`
}

// RiskProfileSettings is a deep-merged nested object on UserConfiguration, §9.
type RiskProfileSettings struct {
	PerTradeRiskPct          float64 `json:"per_trade_risk_pct"`
	DailyCapitalRiskPercentage float64 `json:"daily_capital_risk_percentage"`
}

// RealTradingSettings is a deep-merged nested object on UserConfiguration, §3.
type RealTradingSettings struct {
	MaxConcurrentOperations int     `json:"max_concurrent_operations"`
	DailyLossLimitAbsolute  float64 `json:"daily_loss_limit_absolute"`
	MaxConsecutiveLosses    int     `json:"max_consecutive_losses"`
	MaxDrawdownPct          float64 `json:"max_drawdown_pct"`
}

// NotificationPreferences is a replace-on-send list container, §9.
type NotificationPreferences struct {
	Channels []string `json:"channels"`
}

// UserConfiguration is the single-row-per-user settings record, §3.
type UserConfiguration struct {
	UserID                        string                          `json:"user_id"`
	Watchlists                    map[string][]string             `json:"watchlists"` // replace-on-send
	NotificationPreferences       NotificationPreferences          `json:"notification_preferences"`
	AIStrategyConfigIDs           []string                         `json:"ai_strategy_config_ids"` // replace-on-send
	AIAnalysisConfidenceThresholds ConfidenceThresholds            `json:"ai_analysis_confidence_thresholds"`
	RiskProfileSettings           RiskProfileSettings              `json:"risk_profile_settings"` // deep-merge
	RealTradingSettings           RealTradingSettings              `json:"real_trading_settings"` // deep-merge
	RealModeTotalSlots            int                              `json:"real_mode_total_slots"`
	Version                       int64                            `json:"version"`
}

// DefaultConfidenceThresholds match §4.5: paper 0.80, real 0.95.
func DefaultConfidenceThresholds() ConfidenceThresholds {
	return ConfidenceThresholds{Paper: 0.80, Real: 0.95}
}

// APICredential is the envelope C2 persists for a vault-managed secret, §3.
type APICredential struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	ServiceID        string           `json:"service_id"`
	Label            string           `json:"label"`
	EncryptedKey     []byte           `json:"-"`
	EncryptedSecret  []byte           `json:"-"`
	EncryptedExtras  []byte           `json:"-"`
	Status           CredentialStatus `json:"status"`
	PermissionTags   []string         `json:"permission_tags,omitempty"`
	LastVerifiedAt   *int64           `json:"last_verified_at,omitempty"`
	UsageCount       int64            `json:"usage_count"`
}

// TradingStrategyConfig is a named, taggable parameter set, §3.
type TradingStrategyConfig struct {
	ID                   string             `json:"id"`
	UserID               string             `json:"user_id"`
	ConfigName           string             `json:"config_name"`
	BaseStrategyType     string             `json:"base_strategy_type"`
	ActivePaper          bool               `json:"active_paper"`
	ActiveReal           bool               `json:"active_real"`
	PromptTemplate       string             `json:"prompt_template"`
	IndicatorWeights     map[string]float64 `json:"indicator_weights"`
	ConfidenceThresholds ConfidenceThresholds `json:"confidence_thresholds"`
	MaxContextTokens     int                `json:"max_context_tokens"`
	PerTradeRiskPctOverride *float64        `json:"per_trade_risk_pct_override,omitempty"`
	CachedPerformance    map[string]float64 `json:"cached_performance,omitempty"`
}
