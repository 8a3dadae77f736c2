package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration, §6 "Configuration inputs".
type Config struct {
	// Database
	DatabasePath string

	// Credential vault
	MasterKeyHex        string // 32-byte key, hex-encoded, preferred
	MasterKeyPassphrase string // fallback: derived via HKDF-like stretch, see vault package

	// Primary quote currency, e.g. USDT
	PrimaryQuoteCurrency string

	// Real-mode trading caps
	RealModeTotalSlots int

	// Confidence thresholds (defaults; per-profile overrides live in TradingStrategyConfig)
	PaperConfidenceThreshold float64
	RealConfidenceThreshold  float64

	// Exchange
	ExchangeBaseURL   string // allows a testnet swap
	ExchangeWSBaseURL string
	ExchangeAPIKey    string
	ExchangeAPISecret string

	// AI provider
	LLMEndpointURL string
	LLMModelID     string
	LLMAPIKey      string

	// Asset-intelligence provider (verification tool only)
	AssetIntelBaseURL string
	AssetIntelAPIKey  string

	// Timeouts, §5
	LLMStepTimeout       time.Duration
	MarketDataPullTimeout time.Duration
	OrderSubmissionTimeout time.Duration
	ToolCallTimeout      time.Duration
	StreamIdleTimeout    time.Duration

	// Logging
	LogLevel string
	DevMode  bool
}

// Load reads configuration from environment variables, loading a local .env
// file first if one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabasePath:         getEnv("DATABASE_PATH", "./data/tradecore.db"),
		MasterKeyHex:         getEnv("VAULT_MASTER_KEY_HEX", ""),
		MasterKeyPassphrase:  getEnv("VAULT_MASTER_PASSPHRASE", ""),
		PrimaryQuoteCurrency: getEnv("PRIMARY_QUOTE_CURRENCY", "USDT"),
		RealModeTotalSlots:   getEnvAsInt("REAL_MODE_TOTAL_SLOTS", 5),

		PaperConfidenceThreshold: getEnvAsFloat("PAPER_CONFIDENCE_THRESHOLD", 0.80),
		RealConfidenceThreshold:  getEnvAsFloat("REAL_CONFIDENCE_THRESHOLD", 0.95),

		ExchangeBaseURL:   getEnv("EXCHANGE_BASE_URL", "https://api.exchange.test"),
		ExchangeWSBaseURL: getEnv("EXCHANGE_WS_BASE_URL", "wss://stream.exchange.test"),
		ExchangeAPIKey:    getEnv("EXCHANGE_API_KEY", ""),
		ExchangeAPISecret: getEnv("EXCHANGE_API_SECRET", ""),

		LLMEndpointURL: getEnv("LLM_ENDPOINT_URL", ""),
		LLMModelID:     getEnv("LLM_MODEL_ID", "gpt-4o"),
		LLMAPIKey:      getEnv("LLM_API_KEY", ""),

		AssetIntelBaseURL: getEnv("ASSET_INTEL_BASE_URL", ""),
		AssetIntelAPIKey:  getEnv("ASSET_INTEL_API_KEY", ""),

		LLMStepTimeout:         getEnvAsDuration("LLM_STEP_TIMEOUT", 30*time.Second),
		MarketDataPullTimeout:  getEnvAsDuration("MARKET_DATA_PULL_TIMEOUT", 3*time.Second),
		OrderSubmissionTimeout: getEnvAsDuration("ORDER_SUBMISSION_TIMEOUT", 10*time.Second),
		ToolCallTimeout:        getEnvAsDuration("TOOL_CALL_TIMEOUT", 10*time.Second),
		StreamIdleTimeout:      getEnvAsDuration("STREAM_IDLE_TIMEOUT", 60*time.Second),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.RealModeTotalSlots < 0 {
		return fmt.Errorf("REAL_MODE_TOTAL_SLOTS must be non-negative")
	}
	if c.PaperConfidenceThreshold < 0 || c.PaperConfidenceThreshold > 1 {
		return fmt.Errorf("PAPER_CONFIDENCE_THRESHOLD must be in [0,1]")
	}
	if c.RealConfidenceThreshold < 0 || c.RealConfidenceThreshold > 1 {
		return fmt.Errorf("REAL_CONFIDENCE_THRESHOLD must be in [0,1]")
	}
	// Exchange and vault credentials are optional at load time: paper mode
	// and research workflows run without them, matching the teacher's
	// "Tradernet credentials optional for research mode" note.
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
