package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// TickerRepository provides access to the wide 24h ticker store.
type TickerRepository struct {
	db *DB
}

// NewTickerRepository creates a ticker repository.
func NewTickerRepository(db *DB) *TickerRepository {
	return &TickerRepository{db: db}
}

const tickerColumns = `symbol, event_time, last_price, open_price, update_price_date,
	high_24h, low_24h, base_volume, quote_volume, stats_open_time, stats_close_time,
	first_trade_id, last_trade_id, trade_count, price_change, price_change_percent,
	side, change_percent_text`

// OpenPriceRef is the stored reference open price for one symbol.
type OpenPriceRef struct {
	OpenPrice       float64
	UpdatePriceDate *time.Time
}

// UpsertTickers replaces the current rows of the given symbols inside one
// transaction: delete-then-insert keeps the analytical upsert semantics.
func (r *TickerRepository) UpsertTickers(ctx context.Context, tickers []*Ticker) error {
	if len(tickers) == 0 {
		return nil
	}
	return withRetry(ctx, func() error {
		tx, err := r.db.Pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		symbols := make([]string, len(tickers))
		for i, t := range tickers {
			symbols[i] = t.Symbol
		}
		if _, err := tx.Exec(ctx, `DELETE FROM tickers WHERE symbol = ANY($1)`, symbols); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		insert := `
			INSERT INTO tickers (` + tickerColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		`
		for _, t := range tickers {
			batch.Queue(insert,
				t.Symbol, t.EventTime, t.LastPrice, t.OpenPrice, t.UpdatePriceDate,
				t.High24h, t.Low24h, t.BaseVolume, t.QuoteVolume, t.StatsOpenTime,
				t.StatsCloseTime, t.FirstTradeID, t.LastTradeID, t.TradeCount,
				t.PriceChange, t.PriceChangePercent, t.Side, t.ChangePercentText,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

// GetTicker returns the current row for a symbol, or nil when absent.
func (r *TickerRepository) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	return withRetryValue(ctx, func() (*Ticker, error) {
		query := `SELECT ` + tickerColumns + ` FROM tickers WHERE symbol = $1`
		t, err := scanTicker(r.db.Pool.QueryRow(ctx, query, symbol))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return t, err
	})
}

// GetReferencePrices returns the stored (open_price, update_price_date)
// pairs for the given symbols. Symbols without a row are absent from the map.
func (r *TickerRepository) GetReferencePrices(ctx context.Context, symbols []string) (map[string]OpenPriceRef, error) {
	if len(symbols) == 0 {
		return map[string]OpenPriceRef{}, nil
	}
	return withRetryValue(ctx, func() (map[string]OpenPriceRef, error) {
		query := `SELECT symbol, open_price, update_price_date FROM tickers WHERE symbol = ANY($1)`
		rows, err := r.db.Pool.Query(ctx, query, symbols)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		refs := make(map[string]OpenPriceRef, len(symbols))
		for rows.Next() {
			var symbol string
			var ref OpenPriceRef
			if err := rows.Scan(&symbol, &ref.OpenPrice, &ref.UpdatePriceDate); err != nil {
				return nil, err
			}
			refs[symbol] = ref
		}
		return refs, rows.Err()
	})
}

// ListStaleSymbols returns distinct non-empty symbols whose reference open
// price has not been anchored today.
func (r *TickerRepository) ListStaleSymbols(ctx context.Context, today time.Time) ([]string, error) {
	return withRetryValue(ctx, func() ([]string, error) {
		query := `
			SELECT DISTINCT symbol FROM tickers
			WHERE symbol <> '' AND (update_price_date IS NULL OR update_price_date < $1)
			ORDER BY symbol
		`
		rows, err := r.db.Pool.Query(ctx, query, today)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var symbols []string
		for rows.Next() {
			var s string
			if err := rows.Scan(&s); err != nil {
				return nil, err
			}
			symbols = append(symbols, s)
		}
		return symbols, rows.Err()
	})
}

// UpdateTicker rewrites a single symbol's row; used by the price-refresh
// worker after re-deriving the session change fields.
func (r *TickerRepository) UpdateTicker(ctx context.Context, t *Ticker) error {
	return withRetry(ctx, func() error {
		query := `
			UPDATE tickers SET
				event_time = $2, last_price = $3, open_price = $4, update_price_date = $5,
				price_change = $6, price_change_percent = $7, side = $8, change_percent_text = $9
			WHERE symbol = $1
		`
		_, err := r.db.Pool.Exec(ctx, query,
			t.Symbol, t.EventTime, t.LastPrice, t.OpenPrice, t.UpdatePriceDate,
			t.PriceChange, t.PriceChangePercent, t.Side, t.ChangePercentText,
		)
		return err
	})
}

// TopMovers returns the ranked movers of one side: gainers ordered by
// percent DESC, losers ASC. Rows with empty side are never selected.
func (r *TickerRepository) TopMovers(ctx context.Context, side string, limit int) ([]*Ticker, error) {
	return withRetryValue(ctx, func() ([]*Ticker, error) {
		var query string
		switch side {
		case SideGainer:
			query = `
				SELECT ` + tickerColumns + ` FROM tickers
				WHERE price_change_percent > 0 AND side = 'gainer'
				ORDER BY price_change_percent DESC
				LIMIT $1
			`
		case SideLoser:
			query = `
				SELECT ` + tickerColumns + ` FROM tickers
				WHERE price_change_percent < 0 AND side = 'loser'
				ORDER BY price_change_percent ASC
				LIMIT $1
			`
		default:
			return nil, errors.New("side must be gainer or loser")
		}

		rows, err := r.db.Pool.Query(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var tickers []*Ticker
		for rows.Next() {
			t, err := scanTicker(rows)
			if err != nil {
				return nil, err
			}
			tickers = append(tickers, t)
		}
		return tickers, rows.Err()
	})
}

func scanTicker(row pgx.Row) (*Ticker, error) {
	t := &Ticker{}
	err := row.Scan(
		&t.Symbol, &t.EventTime, &t.LastPrice, &t.OpenPrice, &t.UpdatePriceDate,
		&t.High24h, &t.Low24h, &t.BaseVolume, &t.QuoteVolume, &t.StatsOpenTime,
		&t.StatsCloseTime, &t.FirstTradeID, &t.LastTradeID, &t.TradeCount,
		&t.PriceChange, &t.PriceChangePercent, &t.Side, &t.ChangePercentText,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}
