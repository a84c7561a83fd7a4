package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// PortfolioRepository provides access to positions, trades, account values
// and decision audit rows.
type PortfolioRepository struct {
	db *DB
}

// NewPortfolioRepository creates a portfolio repository.
func NewPortfolioRepository(db *DB) *PortfolioRepository {
	return &PortfolioRepository{db: db}
}

const positionColumns = `id, model_id, symbol, position_side, position_amt, avg_price,
	leverage, initial_margin, unrealized_profit, created_at, updated_at`

// GetPosition returns the position for (model, symbol, side), or nil.
func (r *PortfolioRepository) GetPosition(ctx context.Context, modelID, symbol, side string) (*Position, error) {
	if err := ValidatePositionSide(side); err != nil {
		return nil, err
	}
	return withRetryValue(ctx, func() (*Position, error) {
		query := `SELECT ` + positionColumns + ` FROM positions
			WHERE model_id = $1 AND symbol = $2 AND position_side = $3`
		p, err := scanPosition(r.db.Pool.QueryRow(ctx, query, modelID, symbol, side))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return p, err
	})
}

// ListOpenPositions returns all nonzero positions of a model.
func (r *PortfolioRepository) ListOpenPositions(ctx context.Context, modelID string) ([]*Position, error) {
	return withRetryValue(ctx, func() ([]*Position, error) {
		query := `SELECT ` + positionColumns + ` FROM positions
			WHERE model_id = $1 AND position_amt <> 0
			ORDER BY created_at ASC`
		rows, err := r.db.Pool.Query(ctx, query, modelID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var positions []*Position
		for rows.Next() {
			p, err := scanPosition(rows)
			if err != nil {
				return nil, err
			}
			positions = append(positions, p)
		}
		return positions, rows.Err()
	})
}

// UpsertPosition inserts or merges a position on the
// (model_id, symbol, position_side) uniqueness constraint.
func (r *PortfolioRepository) UpsertPosition(ctx context.Context, p *Position) error {
	if err := ValidatePositionSide(p.PositionSide); err != nil {
		return err
	}
	return withRetry(ctx, func() error {
		query := `
			INSERT INTO positions (id, model_id, symbol, position_side, position_amt, avg_price,
				leverage, initial_margin, unrealized_profit)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (model_id, symbol, position_side) DO UPDATE SET
				position_amt = $5, avg_price = $6, leverage = $7,
				initial_margin = $8, unrealized_profit = $9, updated_at = NOW()
		`
		_, err := r.db.Pool.Exec(ctx, query,
			p.ID, p.ModelID, p.Symbol, p.PositionSide, p.PositionAmt, p.AvgPrice,
			p.Leverage, p.InitialMargin, p.UnrealizedProfit,
		)
		return err
	})
}

// DeletePosition removes the position row; zero-sized rows never persist.
func (r *PortfolioRepository) DeletePosition(ctx context.Context, modelID, symbol, side string) error {
	if err := ValidatePositionSide(side); err != nil {
		return err
	}
	return withRetry(ctx, func() error {
		_, err := r.db.Pool.Exec(ctx,
			`DELETE FROM positions WHERE model_id = $1 AND symbol = $2 AND position_side = $3`,
			modelID, symbol, side)
		return err
	})
}

// PruneModelFutureIfUnheld drops the model's universe mirror row for a
// symbol once no model holds a position in it anymore.
func (r *PortfolioRepository) PruneModelFutureIfUnheld(ctx context.Context, modelID, symbol string) error {
	return withRetry(ctx, func() error {
		query := `
			DELETE FROM model_futures
			WHERE model_id = $1 AND symbol = $2
			AND NOT EXISTS (
				SELECT 1 FROM positions WHERE symbol = $2 AND position_amt <> 0
			)
		`
		_, err := r.db.Pool.Exec(ctx, query, modelID, symbol)
		return err
	})
}

func scanPosition(row pgx.Row) (*Position, error) {
	p := &Position{}
	err := row.Scan(
		&p.ID, &p.ModelID, &p.Symbol, &p.PositionSide, &p.PositionAmt, &p.AvgPrice,
		&p.Leverage, &p.InitialMargin, &p.UnrealizedProfit, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ============================================================================
// TRADES
// ============================================================================

// InsertTrade appends one immutable trade row.
func (r *PortfolioRepository) InsertTrade(ctx context.Context, t *Trade) error {
	return withRetry(ctx, func() error {
		query := `
			INSERT INTO trades (id, model_id, symbol, signal, quantity, price, leverage, side, pnl, fee, ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`
		_, err := r.db.Pool.Exec(ctx, query,
			t.ID, t.ModelID, t.Symbol, t.Signal, t.Quantity, t.Price,
			t.Leverage, t.Side, t.Pnl, t.Fee, t.Timestamp,
		)
		return err
	})
}

// SumTradePnl returns the model's realized P&L: SUM(pnl) over its trades.
func (r *PortfolioRepository) SumTradePnl(ctx context.Context, modelID string) (float64, error) {
	return withRetryValue(ctx, func() (float64, error) {
		var sum float64
		err := r.db.Pool.QueryRow(ctx,
			`SELECT COALESCE(SUM(pnl), 0) FROM trades WHERE model_id = $1`, modelID).Scan(&sum)
		return sum, err
	})
}

// ListTrades returns a model's trades in append order.
func (r *PortfolioRepository) ListTrades(ctx context.Context, modelID string, limit int) ([]*Trade, error) {
	return withRetryValue(ctx, func() ([]*Trade, error) {
		query := `
			SELECT id, model_id, symbol, signal, quantity, price, leverage, side, pnl, fee, ts
			FROM trades WHERE model_id = $1 ORDER BY ts DESC LIMIT $2
		`
		rows, err := r.db.Pool.Query(ctx, query, modelID, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var trades []*Trade
		for rows.Next() {
			t := &Trade{}
			if err := rows.Scan(&t.ID, &t.ModelID, &t.Symbol, &t.Signal, &t.Quantity,
				&t.Price, &t.Leverage, &t.Side, &t.Pnl, &t.Fee, &t.Timestamp); err != nil {
				return nil, err
			}
			trades = append(trades, t)
		}
		return trades, rows.Err()
	})
}

// ============================================================================
// ACCOUNT VALUES
// ============================================================================

// SaveAccountValue updates the current snapshot and appends history.
func (r *PortfolioRepository) SaveAccountValue(ctx context.Context, v *AccountValue) error {
	return withRetry(ctx, func() error {
		tx, err := r.db.Pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		upsert := `
			INSERT INTO account_values (model_id, balance, available_balance, cross_wallet_balance, cross_un_pnl, account_alias, ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (model_id) DO UPDATE SET
				balance = $2, available_balance = $3, cross_wallet_balance = $4,
				cross_un_pnl = $5, account_alias = $6, ts = $7
		`
		if _, err := tx.Exec(ctx, upsert,
			v.ModelID, v.Balance, v.AvailableBalance, v.CrossWalletBalance,
			v.CrossUnPnl, v.AccountAlias, v.Timestamp); err != nil {
			return err
		}

		history := `
			INSERT INTO account_value_history (model_id, balance, available_balance, cross_wallet_balance, cross_un_pnl, account_alias, ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		if _, err := tx.Exec(ctx, history,
			v.ModelID, v.Balance, v.AvailableBalance, v.CrossWalletBalance,
			v.CrossUnPnl, v.AccountAlias, v.Timestamp); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

// ============================================================================
// DECISION AUDIT
// ============================================================================

// InsertConversation appends one LLM round-trip record.
func (r *PortfolioRepository) InsertConversation(ctx context.Context, c *Conversation) error {
	return withRetry(ctx, func() error {
		query := `
			INSERT INTO conversations (id, model_id, user_prompt, ai_response, cot_trace, tokens, type, ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		_, err := r.db.Pool.Exec(ctx, query,
			c.ID, c.ModelID, c.UserPrompt, c.AIResponse, c.CotTrace, c.Tokens, c.Type, c.Timestamp,
		)
		return err
	})
}

// InsertStrategyDecisions appends rule-engine audit rows in one batch.
func (r *PortfolioRepository) InsertStrategyDecisions(ctx context.Context, decisions []*StrategyDecision) error {
	if len(decisions) == 0 {
		return nil
	}
	return withRetry(ctx, func() error {
		batch := &pgx.Batch{}
		query := `
			INSERT INTO strategy_decisions (id, model_id, strategy_name, strategy_type, signal,
				symbol, quantity, leverage, price, stop_price, justification, ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`
		for _, d := range decisions {
			batch.Queue(query,
				d.ID, d.ModelID, d.StrategyName, d.StrategyType, d.Signal, d.Symbol,
				d.Quantity, d.Leverage, d.Price, d.StopPrice, d.Justification, d.Timestamp,
			)
		}
		return r.db.Pool.SendBatch(ctx, batch).Close()
	})
}
