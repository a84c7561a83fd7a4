package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// LeaderboardRepository provides access to the append-only movers batches.
type LeaderboardRepository struct {
	db *DB
}

// NewLeaderboardRepository creates a leaderboard repository.
func NewLeaderboardRepository(db *DB) *LeaderboardRepository {
	return &LeaderboardRepository{db: db}
}

const leaderboardColumns = `symbol, event_time, last_price, open_price, high_24h, low_24h,
	base_volume, quote_volume, stats_open_time, stats_close_time, first_trade_id,
	last_trade_id, trade_count, price_change, price_change_percent,
	side, change_percent_text, rank, create_datetime, create_datetime_long`

// InsertBatch appends all rows of one movers batch in a single transaction.
func (r *LeaderboardRepository) InsertBatch(ctx context.Context, entries []*LeaderboardEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return withRetry(ctx, func() error {
		tx, err := r.db.Pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		batch := &pgx.Batch{}
		insert := `
			INSERT INTO leaderboard (` + leaderboardColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		`
		for _, e := range entries {
			batch.Queue(insert,
				e.Symbol, e.EventTime, e.LastPrice, e.OpenPrice, e.High24h, e.Low24h,
				e.BaseVolume, e.QuoteVolume, e.StatsOpenTime, e.StatsCloseTime,
				e.FirstTradeID, e.LastTradeID, e.TradeCount, e.PriceChange,
				e.PriceChangePercent, e.Side, e.ChangePercentText, e.Rank,
				e.CreateDatetime, e.CreateDatetimeLong,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

// MaxBatchID returns the largest create_datetime_long, or 0 when empty.
func (r *LeaderboardRepository) MaxBatchID(ctx context.Context) (int64, error) {
	return withRetryValue(ctx, func() (int64, error) {
		var id *int64
		err := r.db.Pool.QueryRow(ctx, `SELECT max(create_datetime_long) FROM leaderboard`).Scan(&id)
		if err != nil {
			return 0, err
		}
		if id == nil {
			return 0, nil
		}
		return *id, nil
	})
}

// LatestBatch returns all rows of the batch with the maximum
// create_datetime_long. Readers always see a whole batch or none.
func (r *LeaderboardRepository) LatestBatch(ctx context.Context) ([]*LeaderboardEntry, error) {
	return withRetryValue(ctx, func() ([]*LeaderboardEntry, error) {
		query := `
			SELECT id, ` + leaderboardColumns + `
			FROM leaderboard
			WHERE create_datetime_long = (SELECT max(create_datetime_long) FROM leaderboard)
			ORDER BY side, rank
		`
		rows, err := r.db.Pool.Query(ctx, query)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var entries []*LeaderboardEntry
		for rows.Next() {
			e := &LeaderboardEntry{}
			if err := rows.Scan(
				&e.ID, &e.Symbol, &e.EventTime, &e.LastPrice, &e.OpenPrice, &e.High24h,
				&e.Low24h, &e.BaseVolume, &e.QuoteVolume, &e.StatsOpenTime,
				&e.StatsCloseTime, &e.FirstTradeID, &e.LastTradeID, &e.TradeCount,
				&e.PriceChange, &e.PriceChangePercent, &e.Side, &e.ChangePercentText,
				&e.Rank, &e.CreateDatetime, &e.CreateDatetimeLong,
			); err != nil {
				return nil, err
			}
			entries = append(entries, e)
		}
		return entries, rows.Err()
	})
}

// DeleteBefore removes rows from batches older than the cutoff batch id and
// reports how many rows went away.
func (r *LeaderboardRepository) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	return withRetryValue(ctx, func() (int64, error) {
		tag, err := r.db.Pool.Exec(ctx, `DELETE FROM leaderboard WHERE create_datetime_long < $1`, cutoff)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	})
}

// ErrEmptyLeaderboard is returned by callers that require a batch.
var ErrEmptyLeaderboard = errors.New("leaderboard has no batches")
