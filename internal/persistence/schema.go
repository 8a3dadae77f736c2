package persistence

// schema is applied on startup. SQLite's ALTER TABLE limitations mean real
// migrations would need a step table; this core is young enough that a
// single idempotent CREATE TABLE IF NOT EXISTS set suffices, the same
// posture the teacher's db.Migrate() left as a TODO for a later
// golang-migrate adoption.
const schema = `
CREATE TABLE IF NOT EXISTS opportunities (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	source TEXT NOT NULL CHECK (source IN ('external-signal','internal-indicator','ai-proactive','manual','user-alert')),
	status TEXT NOT NULL CHECK (status IN (
		'new','pending_ai_analysis','under_ai_analysis','analysis_complete','rejected_by_ai',
		'pending_user_confirmation_real','converted_to_trade_paper','converted_to_trade_real',
		'rejected_by_user','expired','error_in_processing')),
	initial_signal_json TEXT NOT NULL,
	verdict_json TEXT,
	data_verification_status TEXT NOT NULL DEFAULT 'skipped',
	mode TEXT NOT NULL DEFAULT 'paper' CHECK (mode IN ('paper','real')),
	strategy_config_id TEXT,
	linked_trade_ids_json TEXT NOT NULL DEFAULT '[]',
	error_reason TEXT,
	analysis_started_at INTEGER,
	expires_at INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	version INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_opportunities_status ON opportunities(status);
CREATE INDEX IF NOT EXISTS idx_opportunities_expires ON opportunities(expires_at) WHERE expires_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	mode TEXT NOT NULL CHECK (mode IN ('paper','real')),
	symbol TEXT NOT NULL,
	side TEXT NOT NULL CHECK (side IN ('BUY','SELL')),
	opportunity_id TEXT,
	strategy_config_id TEXT,
	position_status TEXT NOT NULL CHECK (position_status IN (
		'pending_entry','opening','open','partially_closed','closing','closed','error')),
	entry_order_json TEXT NOT NULL,
	exit_orders_json TEXT NOT NULL DEFAULT '[]',
	initial_risk_quote_amount REAL NOT NULL DEFAULT 0,
	current_risk_quote_amount REAL NOT NULL DEFAULT 0,
	reward_risk_ratio REAL NOT NULL DEFAULT 0,
	risk_adjustments_json TEXT NOT NULL DEFAULT '[]',
	realized_pnl_quote REAL,
	realized_pnl_pct REAL,
	closing_reason TEXT,
	current_stop_price_tsl REAL,
	tsl_activation_price REAL,
	tsl_callback_rate REAL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	version INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_trades_position_status ON trades(position_status);
CREATE INDEX IF NOT EXISTS idx_trades_mode ON trades(mode);
-- At-most-once real-order execution invariant, §5: one non-errored trade per
-- (opportunity, mode). Partial index so retried/errored attempts don't block.
CREATE UNIQUE INDEX IF NOT EXISTS uq_trades_opportunity_mode
	ON trades(opportunity_id, mode)
	WHERE opportunity_id IS NOT NULL AND position_status != 'error';

CREATE TABLE IF NOT EXISTS portfolio_snapshots (
	id TEXT PRIMARY KEY,
	mode TEXT NOT NULL CHECK (mode IN ('paper','real')),
	primary_quote_currency TEXT NOT NULL,
	total_portfolio_value REAL NOT NULL,
	total_cash_balance REAL NOT NULL,
	total_spot_assets_value REAL NOT NULL,
	cash_balances_json TEXT NOT NULL DEFAULT '[]',
	holdings_json TEXT NOT NULL DEFAULT '[]',
	cumulative_pnl REAL NOT NULL DEFAULT 0,
	source TEXT NOT NULL,
	taken_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_mode_taken ON portfolio_snapshots(mode, taken_at DESC);

CREATE TABLE IF NOT EXISTS user_configurations (
	user_id TEXT PRIMARY KEY,
	watchlists_json TEXT NOT NULL DEFAULT '{}',
	notification_preferences_json TEXT NOT NULL DEFAULT '{}',
	ai_strategy_config_ids_json TEXT NOT NULL DEFAULT '[]',
	confidence_thresholds_json TEXT NOT NULL,
	risk_profile_settings_json TEXT NOT NULL,
	real_trading_settings_json TEXT NOT NULL,
	real_mode_total_slots INTEGER NOT NULL DEFAULT 5,
	version INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS trading_strategy_configs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	config_name TEXT NOT NULL,
	base_strategy_type TEXT NOT NULL,
	active_paper INTEGER NOT NULL DEFAULT 0,
	active_real INTEGER NOT NULL DEFAULT 0,
	prompt_template TEXT NOT NULL DEFAULT '',
	indicator_weights_json TEXT NOT NULL DEFAULT '{}',
	confidence_thresholds_json TEXT NOT NULL,
	max_context_tokens INTEGER NOT NULL DEFAULT 0,
	per_trade_risk_pct_override REAL,
	cached_performance_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_strategy_configs_active ON trading_strategy_configs(active_paper, active_real);
-- One config name per user, §3.
CREATE UNIQUE INDEX IF NOT EXISTS uq_strategy_configs_user_name
	ON trading_strategy_configs(user_id, config_name);

CREATE TABLE IF NOT EXISTS api_credentials (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	service_id TEXT NOT NULL,
	label TEXT NOT NULL DEFAULT '',
	encrypted_key BLOB NOT NULL,
	encrypted_secret BLOB NOT NULL,
	encrypted_extras BLOB,
	status TEXT NOT NULL CHECK (status IN (
		'active','inactive','revoked','verification_pending','verification_failed','expired')),
	permission_tags_json TEXT NOT NULL DEFAULT '[]',
	last_verified_at INTEGER,
	usage_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_credentials_service ON api_credentials(service_id);
-- One labeled credential per (user, service), §3.
CREATE UNIQUE INDEX IF NOT EXISTS uq_credentials_user_service_label
	ON api_credentials(user_id, service_id, label);
`
