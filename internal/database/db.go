package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"perps-control-plane/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logging.WithComponent("database").Info("Connected to PostgreSQL", "database", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		logging.WithComponent("database").Info("Database connection closed")
	}
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	log := logging.WithComponent("database")
	log.Info("Running database migrations...")

	migrations := []string{
		// LLM provider registrations
		`CREATE TABLE IF NOT EXISTS providers (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			api_url TEXT NOT NULL,
			api_key TEXT NOT NULL DEFAULT '',
			provider_type VARCHAR(20) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Trading models (tenant units)
		`CREATE TABLE IF NOT EXISTS models (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			provider_id VARCHAR(64),
			model_name VARCHAR(100),
			initial_capital DECIMAL(20, 8) NOT NULL,
			leverage DECIMAL(10, 2) NOT NULL DEFAULT 1,
			max_positions INT NOT NULL DEFAULT 1,
			auto_buy_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			auto_sell_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			trade_type VARCHAR(10) NOT NULL DEFAULT 'ai',
			symbol_source VARCHAR(20) NOT NULL DEFAULT 'leaderboard',
			buy_batch_size INT NOT NULL DEFAULT 5,
			sell_batch_size INT NOT NULL DEFAULT 5,
			buy_interval_seconds INT NOT NULL DEFAULT 3600,
			sell_interval_seconds INT NOT NULL DEFAULT 900,
			group_size INT NOT NULL DEFAULT 1,
			account_alias VARCHAR(100) NOT NULL DEFAULT '',
			is_virtual BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_models_created_at ON models(created_at)`,

		// Per-model prompt fragments injected into LLM messages
		`CREATE TABLE IF NOT EXISTS model_prompts (
			model_id VARCHAR(64) PRIMARY KEY,
			buy_prompt TEXT NOT NULL DEFAULT '',
			sell_prompt TEXT NOT NULL DEFAULT ''
		)`,

		// Rule strategies
		`CREATE TABLE IF NOT EXISTS strategies (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			type VARCHAR(10) NOT NULL,
			strategy_context TEXT NOT NULL DEFAULT '',
			strategy_code VARCHAR(100) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS model_strategies (
			model_id VARCHAR(64) NOT NULL,
			strategy_id VARCHAR(64) NOT NULL,
			type VARCHAR(10) NOT NULL,
			priority INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (model_id, strategy_id, type)
		)`,

		// Global symbol universe and per-model mirror
		`CREATE TABLE IF NOT EXISTS futures (
			symbol VARCHAR(20) PRIMARY KEY,
			contract_symbol VARCHAR(20) NOT NULL,
			name VARCHAR(100) NOT NULL DEFAULT '',
			exchange VARCHAR(50) NOT NULL DEFAULT '',
			sort_order INT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS model_futures (
			model_id VARCHAR(64) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			contract_symbol VARCHAR(20) NOT NULL,
			name VARCHAR(100) NOT NULL DEFAULT '',
			exchange VARCHAR(50) NOT NULL DEFAULT '',
			sort_order INT NOT NULL DEFAULT 0,
			PRIMARY KEY (model_id, symbol)
		)`,

		// Open positions; one row per (model, symbol, side)
		`CREATE TABLE IF NOT EXISTS positions (
			id VARCHAR(64) PRIMARY KEY,
			model_id VARCHAR(64) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			position_side VARCHAR(5) NOT NULL,
			position_amt DECIMAL(20, 8) NOT NULL,
			avg_price DECIMAL(20, 8) NOT NULL,
			leverage DECIMAL(10, 2) NOT NULL DEFAULT 1,
			initial_margin DECIMAL(20, 8) NOT NULL DEFAULT 0,
			unrealized_profit DECIMAL(20, 8) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (model_id, symbol, position_side)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_model ON positions(model_id)`,

		// Append-only trade ledger
		`CREATE TABLE IF NOT EXISTS trades (
			id VARCHAR(64) PRIMARY KEY,
			model_id VARCHAR(64) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			signal VARCHAR(20) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			leverage DECIMAL(10, 2) NOT NULL DEFAULT 1,
			side VARCHAR(5) NOT NULL,
			pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
			fee DECIMAL(20, 8) NOT NULL DEFAULT 0,
			ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_model_ts ON trades(model_id, ts)`,

		// Current account value and append-only history
		`CREATE TABLE IF NOT EXISTS account_values (
			model_id VARCHAR(64) PRIMARY KEY,
			balance DECIMAL(20, 8) NOT NULL,
			available_balance DECIMAL(20, 8) NOT NULL,
			cross_wallet_balance DECIMAL(20, 8) NOT NULL,
			cross_un_pnl DECIMAL(20, 8) NOT NULL,
			account_alias VARCHAR(100) NOT NULL DEFAULT '',
			ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS account_value_history (
			id BIGSERIAL PRIMARY KEY,
			model_id VARCHAR(64) NOT NULL,
			balance DECIMAL(20, 8) NOT NULL,
			available_balance DECIMAL(20, 8) NOT NULL,
			cross_wallet_balance DECIMAL(20, 8) NOT NULL,
			cross_un_pnl DECIMAL(20, 8) NOT NULL,
			account_alias VARCHAR(100) NOT NULL DEFAULT '',
			ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_account_value_history_model_ts ON account_value_history(model_id, ts)`,

		// Per-decision audit records
		`CREATE TABLE IF NOT EXISTS conversations (
			id VARCHAR(64) PRIMARY KEY,
			model_id VARCHAR(64) NOT NULL,
			user_prompt TEXT NOT NULL DEFAULT '',
			ai_response TEXT NOT NULL DEFAULT '',
			cot_trace TEXT NOT NULL DEFAULT '',
			tokens INT NOT NULL DEFAULT 0,
			type VARCHAR(10) NOT NULL,
			ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_model_ts ON conversations(model_id, ts)`,

		`CREATE TABLE IF NOT EXISTS strategy_decisions (
			id VARCHAR(64) PRIMARY KEY,
			model_id VARCHAR(64) NOT NULL,
			strategy_name VARCHAR(100) NOT NULL,
			strategy_type VARCHAR(10) NOT NULL,
			signal VARCHAR(20) NOT NULL,
			symbol VARCHAR(20) NOT NULL DEFAULT '',
			quantity DECIMAL(20, 8) NOT NULL DEFAULT 0,
			leverage DECIMAL(10, 2) NOT NULL DEFAULT 0,
			price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			stop_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			justification TEXT NOT NULL DEFAULT '',
			ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_strategy_decisions_model_ts ON strategy_decisions(model_id, ts)`,

		// Wide 24h rolling ticker state; one logically-current row per symbol.
		// open_price is non-nullable: (open_price=0, update_price_date IS NULL)
		// together encode "unset".
		`CREATE TABLE IF NOT EXISTS tickers (
			symbol VARCHAR(20) PRIMARY KEY,
			event_time TIMESTAMPTZ NOT NULL,
			last_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			open_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			update_price_date TIMESTAMPTZ,
			high_24h DECIMAL(20, 8) NOT NULL DEFAULT 0,
			low_24h DECIMAL(20, 8) NOT NULL DEFAULT 0,
			base_volume DECIMAL(30, 8) NOT NULL DEFAULT 0,
			quote_volume DECIMAL(30, 8) NOT NULL DEFAULT 0,
			stats_open_time BIGINT NOT NULL DEFAULT 0,
			stats_close_time BIGINT NOT NULL DEFAULT 0,
			first_trade_id BIGINT NOT NULL DEFAULT 0,
			last_trade_id BIGINT NOT NULL DEFAULT 0,
			trade_count BIGINT NOT NULL DEFAULT 0,
			price_change DECIMAL(20, 8) NOT NULL DEFAULT 0,
			price_change_percent DECIMAL(12, 6) NOT NULL DEFAULT 0,
			side VARCHAR(10) NOT NULL DEFAULT '',
			change_percent_text VARCHAR(20) NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tickers_side_pct ON tickers(side, price_change_percent)`,

		// Append-only leaderboard batches keyed by create_datetime_long
		`CREATE TABLE IF NOT EXISTS leaderboard (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			event_time TIMESTAMPTZ NOT NULL,
			last_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			open_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			high_24h DECIMAL(20, 8) NOT NULL DEFAULT 0,
			low_24h DECIMAL(20, 8) NOT NULL DEFAULT 0,
			base_volume DECIMAL(30, 8) NOT NULL DEFAULT 0,
			quote_volume DECIMAL(30, 8) NOT NULL DEFAULT 0,
			stats_open_time BIGINT NOT NULL DEFAULT 0,
			stats_close_time BIGINT NOT NULL DEFAULT 0,
			first_trade_id BIGINT NOT NULL DEFAULT 0,
			last_trade_id BIGINT NOT NULL DEFAULT 0,
			trade_count BIGINT NOT NULL DEFAULT 0,
			price_change DECIMAL(20, 8) NOT NULL DEFAULT 0,
			price_change_percent DECIMAL(12, 6) NOT NULL DEFAULT 0,
			side VARCHAR(10) NOT NULL,
			change_percent_text VARCHAR(20) NOT NULL DEFAULT '',
			rank INT NOT NULL,
			create_datetime TIMESTAMPTZ NOT NULL,
			create_datetime_long BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_leaderboard_batch ON leaderboard(create_datetime_long)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Info("Database migrations completed successfully")
	return nil
}
