package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ExchangeConfig     ExchangeConfig     `json:"exchange"`
	DatabaseConfig     DatabaseConfig     `json:"database"`
	RedisConfig        RedisConfig        `json:"redis"`
	TradingConfig      TradingConfig      `json:"trading"`
	LeaderboardConfig  LeaderboardConfig  `json:"leaderboard"`
	PriceRefreshConfig PriceRefreshConfig `json:"price_refresh"`
	LoggingConfig      LoggingConfig      `json:"logging"`
}

// ExchangeConfig holds exchange REST and stream endpoints
type ExchangeConfig struct {
	BaseURL        string `json:"base_url"`
	StreamURL      string `json:"stream_url"`
	QuoteAsset     string `json:"quote_asset"`     // symbol filter, e.g. "USDT"
	KlineLimit     int    `json:"kline_limit"`     // klines fetched per indicator computation
	RequestTimeout int    `json:"request_timeout"` // seconds
}

// TradingConfig holds orchestrator and executor settings
type TradingConfig struct {
	FeeRate              float64 `json:"fee_rate"`               // applied both sides, 0.001 = 10 bps
	BuyFrequencyMinutes  int     `json:"buy_frequency_minutes"`  // clamped [1, 1440]
	SellFrequencyMinutes int     `json:"sell_frequency_minutes"` // clamped [1, 1440]
	PromptSymbolLimit    int     `json:"prompt_symbol_limit"`    // candidate truncation before prompt construction
}

// LeaderboardConfig holds mover-leaderboard sync settings
type LeaderboardConfig struct {
	SyncIntervalSeconds    int `json:"sync_interval_seconds"`
	RetentionMinutes       int `json:"retention_minutes"`
	CleanupIntervalMinutes int `json:"cleanup_interval_minutes"`
	TopN                   int `json:"top_n"`
}

// PriceRefreshConfig holds daily open-price refresher settings
type PriceRefreshConfig struct {
	IntervalMinutes int `json:"interval_minutes"`
	MaxPerMinute    int `json:"max_per_minute"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslmode"`
}

// RedisConfig holds Redis configuration for read-side caching
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Exchange config
	cfg.ExchangeConfig.BaseURL = getEnvOrDefault("EXCHANGE_BASE_URL", cfg.ExchangeConfig.BaseURL)
	if cfg.ExchangeConfig.BaseURL == "" {
		cfg.ExchangeConfig.BaseURL = "https://fapi.binance.com"
	}
	cfg.ExchangeConfig.StreamURL = getEnvOrDefault("EXCHANGE_STREAM_URL", cfg.ExchangeConfig.StreamURL)
	if cfg.ExchangeConfig.StreamURL == "" {
		cfg.ExchangeConfig.StreamURL = "wss://fstream.binance.com"
	}
	cfg.ExchangeConfig.QuoteAsset = getEnvOrDefault("FUTURES_QUOTE_ASSET", "USDT")
	cfg.ExchangeConfig.KlineLimit = getEnvIntOrDefault("FUTURES_KLINE_LIMIT", 120)
	cfg.ExchangeConfig.RequestTimeout = getEnvIntOrDefault("EXCHANGE_REQUEST_TIMEOUT", 10)

	// Trading config
	cfg.TradingConfig.FeeRate = getEnvFloatOrDefault("FEE_RATE", 0.001)
	cfg.TradingConfig.BuyFrequencyMinutes = getEnvIntOrDefault("BUY_FREQUENCY_MINUTES", 60)
	cfg.TradingConfig.SellFrequencyMinutes = getEnvIntOrDefault("SELL_FREQUENCY_MINUTES", 15)
	cfg.TradingConfig.PromptSymbolLimit = getEnvIntOrDefault("PROMPT_MARKET_SYMBOL_LIMIT", 5)

	// Leaderboard config
	cfg.LeaderboardConfig.SyncIntervalSeconds = getEnvIntOrDefault("LEADERBOARD_SYNC_INTERVAL_SECONDS", 2)
	cfg.LeaderboardConfig.RetentionMinutes = getEnvIntOrDefault("LEADERBOARD_RETENTION_MINUTES", 5)
	cfg.LeaderboardConfig.CleanupIntervalMinutes = getEnvIntOrDefault("LEADERBOARD_CLEANUP_INTERVAL_MINUTES", 2)
	cfg.LeaderboardConfig.TopN = getEnvIntOrDefault("LEADERBOARD_TOP_N", 10)

	// Price refresh config
	cfg.PriceRefreshConfig.IntervalMinutes = getEnvIntOrDefault("PRICE_REFRESH_INTERVAL_MINUTES", 60)
	cfg.PriceRefreshConfig.MaxPerMinute = getEnvIntOrDefault("PRICE_REFRESH_MAX_PER_MINUTE", 1000)

	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", "localhost")
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", 5432)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", "control_plane")
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", "control_plane")
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", "disable")

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "false") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", "localhost:6379")
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", 0)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", 10)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"
}

// BuyInterval returns the buy loop cadence clamped to [1m, 24h].
func (c *TradingConfig) BuyInterval() time.Duration {
	return clampMinutes(c.BuyFrequencyMinutes)
}

// SellInterval returns the sell loop cadence clamped to [1m, 24h].
func (c *TradingConfig) SellInterval() time.Duration {
	return clampMinutes(c.SellFrequencyMinutes)
}

func clampMinutes(m int) time.Duration {
	if m < 1 {
		m = 1
	}
	if m > 1440 {
		m = 1440
	}
	return time.Duration(m) * time.Minute
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
