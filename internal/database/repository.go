package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// Repository provides data access for models, providers, prompts,
// strategies and the symbol universe.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// GetDB returns the underlying DB instance
func (r *Repository) GetDB() *DB {
	return r.db
}

// ============================================================================
// MODELS
// ============================================================================

const modelColumns = `id, name, provider_id, model_name, initial_capital, leverage, max_positions,
	auto_buy_enabled, auto_sell_enabled, trade_type, symbol_source,
	buy_batch_size, sell_batch_size, buy_interval_seconds, sell_interval_seconds,
	group_size, account_alias, is_virtual, created_at`

// ListModels returns all models in registration order.
func (r *Repository) ListModels(ctx context.Context) ([]*Model, error) {
	return withRetryValue(ctx, func() ([]*Model, error) {
		query := `SELECT ` + modelColumns + ` FROM models ORDER BY created_at ASC`
		rows, err := r.db.Pool.Query(ctx, query)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var models []*Model
		for rows.Next() {
			m, err := scanModel(rows)
			if err != nil {
				return nil, err
			}
			models = append(models, m)
		}
		return models, rows.Err()
	})
}

// GetModel retrieves one model by id.
func (r *Repository) GetModel(ctx context.Context, id string) (*Model, error) {
	return withRetryValue(ctx, func() (*Model, error) {
		query := `SELECT ` + modelColumns + ` FROM models WHERE id = $1`
		row := r.db.Pool.QueryRow(ctx, query, id)
		return scanModel(row)
	})
}

func scanModel(row pgx.Row) (*Model, error) {
	m := &Model{}
	err := row.Scan(
		&m.ID, &m.Name, &m.ProviderID, &m.ModelName, &m.InitialCapital, &m.Leverage,
		&m.MaxPositions, &m.AutoBuyEnabled, &m.AutoSellEnabled, &m.TradeType,
		&m.SymbolSource, &m.BuyBatchSize, &m.SellBatchSize, &m.BuyIntervalSeconds,
		&m.SellIntervalSeconds, &m.GroupSize, &m.AccountAlias, &m.IsVirtual, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// CreateModel inserts a new model.
func (r *Repository) CreateModel(ctx context.Context, m *Model) error {
	return withRetry(ctx, func() error {
		query := `
			INSERT INTO models (id, name, provider_id, model_name, initial_capital, leverage, max_positions,
				auto_buy_enabled, auto_sell_enabled, trade_type, symbol_source,
				buy_batch_size, sell_batch_size, buy_interval_seconds, sell_interval_seconds,
				group_size, account_alias, is_virtual)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
			RETURNING created_at
		`
		return r.db.Pool.QueryRow(ctx, query,
			m.ID, m.Name, m.ProviderID, m.ModelName, m.InitialCapital, m.Leverage,
			m.MaxPositions, m.AutoBuyEnabled, m.AutoSellEnabled, m.TradeType,
			m.SymbolSource, m.BuyBatchSize, m.SellBatchSize, m.BuyIntervalSeconds,
			m.SellIntervalSeconds, m.GroupSize, m.AccountAlias, m.IsVirtual,
		).Scan(&m.CreatedAt)
	})
}

// ============================================================================
// PROVIDERS
// ============================================================================

// GetProvider retrieves a provider by id.
func (r *Repository) GetProvider(ctx context.Context, id string) (*Provider, error) {
	return withRetryValue(ctx, func() (*Provider, error) {
		query := `SELECT id, name, api_url, api_key, provider_type, created_at FROM providers WHERE id = $1`
		p := &Provider{}
		err := r.db.Pool.QueryRow(ctx, query, id).Scan(
			&p.ID, &p.Name, &p.APIURL, &p.APIKey, &p.ProviderType, &p.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// CreateProvider inserts a provider registration.
func (r *Repository) CreateProvider(ctx context.Context, p *Provider) error {
	return withRetry(ctx, func() error {
		query := `
			INSERT INTO providers (id, name, api_url, api_key, provider_type)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at
		`
		return r.db.Pool.QueryRow(ctx, query, p.ID, p.Name, p.APIURL, p.APIKey, p.ProviderType).
			Scan(&p.CreatedAt)
	})
}

// ============================================================================
// MODEL PROMPTS
// ============================================================================

// GetModelPrompt retrieves the per-model prompt fragments. A missing row
// yields empty prompts, not an error.
func (r *Repository) GetModelPrompt(ctx context.Context, modelID string) (*ModelPrompt, error) {
	return withRetryValue(ctx, func() (*ModelPrompt, error) {
		query := `SELECT model_id, buy_prompt, sell_prompt FROM model_prompts WHERE model_id = $1`
		p := &ModelPrompt{}
		err := r.db.Pool.QueryRow(ctx, query, modelID).Scan(&p.ModelID, &p.BuyPrompt, &p.SellPrompt)
		if errors.Is(err, pgx.ErrNoRows) {
			return &ModelPrompt{ModelID: modelID}, nil
		}
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// SaveModelPrompt upserts the per-model prompt fragments.
func (r *Repository) SaveModelPrompt(ctx context.Context, p *ModelPrompt) error {
	return withRetry(ctx, func() error {
		query := `
			INSERT INTO model_prompts (model_id, buy_prompt, sell_prompt)
			VALUES ($1, $2, $3)
			ON CONFLICT (model_id) DO UPDATE SET buy_prompt = $2, sell_prompt = $3
		`
		_, err := r.db.Pool.Exec(ctx, query, p.ModelID, p.BuyPrompt, p.SellPrompt)
		return err
	})
}

// ============================================================================
// STRATEGIES
// ============================================================================

// ModelStrategyRow joins a model's strategy binding with its definition.
type ModelStrategyRow struct {
	Strategy
	Priority int
}

// ListModelStrategies returns a model's strategies of the requested type
// ordered by priority DESC, created_at ASC.
func (r *Repository) ListModelStrategies(ctx context.Context, modelID, strategyType string) ([]*ModelStrategyRow, error) {
	return withRetryValue(ctx, func() ([]*ModelStrategyRow, error) {
		query := `
			SELECT s.id, s.name, s.type, s.strategy_context, s.strategy_code, s.created_at, ms.priority
			FROM model_strategies ms
			JOIN strategies s ON s.id = ms.strategy_id
			WHERE ms.model_id = $1 AND ms.type = $2
			ORDER BY ms.priority DESC, ms.created_at ASC
		`
		rows, err := r.db.Pool.Query(ctx, query, modelID, strategyType)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []*ModelStrategyRow
		for rows.Next() {
			row := &ModelStrategyRow{}
			if err := rows.Scan(&row.ID, &row.Name, &row.Type, &row.StrategyContext,
				&row.StrategyCode, &row.CreatedAt, &row.Priority); err != nil {
				return nil, err
			}
			out = append(out, row)
		}
		return out, rows.Err()
	})
}

// CreateStrategy inserts a strategy definition.
func (r *Repository) CreateStrategy(ctx context.Context, s *Strategy) error {
	return withRetry(ctx, func() error {
		query := `
			INSERT INTO strategies (id, name, type, strategy_context, strategy_code)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at
		`
		return r.db.Pool.QueryRow(ctx, query, s.ID, s.Name, s.Type, s.StrategyContext, s.StrategyCode).
			Scan(&s.CreatedAt)
	})
}

// BindModelStrategy attaches a strategy to a model with a priority.
func (r *Repository) BindModelStrategy(ctx context.Context, ms *ModelStrategy) error {
	return withRetry(ctx, func() error {
		query := `
			INSERT INTO model_strategies (model_id, strategy_id, type, priority)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (model_id, strategy_id, type) DO UPDATE SET priority = $4
		`
		_, err := r.db.Pool.Exec(ctx, query, ms.ModelID, ms.StrategyID, ms.Type, ms.Priority)
		return err
	})
}

// ============================================================================
// SYMBOL UNIVERSE
// ============================================================================

// ListModelFutures returns a model's configured futures universe in sort order.
func (r *Repository) ListModelFutures(ctx context.Context, modelID string) ([]*ModelFuture, error) {
	return withRetryValue(ctx, func() ([]*ModelFuture, error) {
		query := `
			SELECT model_id, symbol, contract_symbol, name, exchange, sort_order
			FROM model_futures
			WHERE model_id = $1
			ORDER BY sort_order ASC, symbol ASC
		`
		rows, err := r.db.Pool.Query(ctx, query, modelID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var futures []*ModelFuture
		for rows.Next() {
			f := &ModelFuture{}
			if err := rows.Scan(&f.ModelID, &f.Symbol, &f.ContractSymbol, &f.Name, &f.Exchange, &f.SortOrder); err != nil {
				return nil, err
			}
			futures = append(futures, f)
		}
		return futures, rows.Err()
	})
}

// SaveModelFuture upserts a row of the per-model symbol universe.
func (r *Repository) SaveModelFuture(ctx context.Context, f *ModelFuture) error {
	return withRetry(ctx, func() error {
		query := `
			INSERT INTO model_futures (model_id, symbol, contract_symbol, name, exchange, sort_order)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (model_id, symbol) DO UPDATE SET
				contract_symbol = $3, name = $4, exchange = $5, sort_order = $6
		`
		_, err := r.db.Pool.Exec(ctx, query, f.ModelID, f.Symbol, f.ContractSymbol, f.Name, f.Exchange, f.SortOrder)
		return err
	})
}
