// Package leaderboard maintains append-only top-mover batches derived
// from the wide ticker store.
package leaderboard

import (
	"context"
	"sync"
	"time"

	"perps-control-plane/config"
	"perps-control-plane/internal/cache"
	"perps-control-plane/internal/database"
	"perps-control-plane/internal/events"
	"perps-control-plane/internal/logging"
)

// moverSource provides the ranked movers per side.
type moverSource interface {
	TopMovers(ctx context.Context, side string, limit int) ([]*database.Ticker, error)
}

// batchStore persists and reads leaderboard batches.
type batchStore interface {
	InsertBatch(ctx context.Context, entries []*database.LeaderboardEntry) error
	MaxBatchID(ctx context.Context) (int64, error)
	LatestBatch(ctx context.Context) ([]*database.LeaderboardEntry, error)
}

// Syncer periodically snapshots the top gainers and losers into a new
// leaderboard batch. Batches are append-only and keyed by a strictly
// increasing millisecond batch id.
type Syncer struct {
	tickers     moverSource
	leaderboard batchStore
	cacheSvc    *cache.CacheService
	bus         *events.EventBus
	interval    time.Duration
	topN        int
	logger      *logging.Logger

	mu          sync.Mutex
	isRunning   bool
	stopChan    chan struct{}
	doneChan    chan struct{}
	lastBatchID int64
}

// NewSyncer creates a leaderboard syncer. cacheSvc may be nil.
func NewSyncer(cfg *config.Config, tickers *database.TickerRepository, leaderboard *database.LeaderboardRepository, cacheSvc *cache.CacheService, bus *events.EventBus, logger *logging.Logger) *Syncer {
	interval := time.Duration(cfg.LeaderboardConfig.SyncIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 2 * time.Second
	}
	topN := cfg.LeaderboardConfig.TopN
	if topN <= 0 {
		topN = 10
	}

	return &Syncer{
		tickers:     tickers,
		leaderboard: leaderboard,
		cacheSvc:    cacheSvc,
		bus:         bus,
		interval:    interval,
		topN:        topN,
		logger:      logger.WithComponent("leaderboard_sync"),
	}
}

// Start launches the sync loop. The previous maximum batch id is
// loaded first so restarts keep the id sequence monotonic.
func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}

	maxID, err := s.leaderboard.MaxBatchID(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.lastBatchID = maxID

	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
	s.logger.Info("Leaderboard sync started", "interval", s.interval.String(), "top_n", s.topN)
	return nil
}

// Stop signals the loop and waits for the in-flight sync.
func (s *Syncer) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	done := s.doneChan
	s.mu.Unlock()

	<-done
	s.logger.Info("Leaderboard sync stopped")
}

func (s *Syncer) run(ctx context.Context) {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			if err := s.SyncOnce(ctx); err != nil {
				s.logger.Error("Leaderboard sync failed", "error", err.Error())
				if s.bus != nil {
					s.bus.PublishError("leaderboard_sync", "sync failed", err)
				}
			}
		}
	}
}

// SyncOnce snapshots the current movers into one new batch. When both
// mover sets are empty the batch is skipped entirely and no id is
// consumed.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	gainers, err := s.tickers.TopMovers(ctx, database.SideGainer, s.topN)
	if err != nil {
		return err
	}
	losers, err := s.tickers.TopMovers(ctx, database.SideLoser, s.topN)
	if err != nil {
		return err
	}

	if len(gainers) == 0 && len(losers) == 0 {
		return nil
	}

	batchID := nextBatchID(s.lastBatchID, time.Now())
	entries := BuildBatch(gainers, losers, batchID)

	if err := s.leaderboard.InsertBatch(ctx, entries); err != nil {
		return err
	}
	s.lastBatchID = batchID

	if s.cacheSvc != nil && s.cacheSvc.IsHealthy() {
		_ = s.cacheSvc.SetJSON(ctx, cache.KeyLeaderboardLatest, entries, cache.LeaderboardTTL)
	}
	if s.bus != nil {
		s.bus.PublishLeaderboardStored(batchID, len(gainers), len(losers))
	}

	return nil
}

// nextBatchID returns the wall-clock millisecond timestamp, bumped by
// one when the clock has not advanced past the previous batch id.
func nextBatchID(lastID int64, now time.Time) int64 {
	id := now.UnixMilli()
	if id <= lastID {
		id = lastID + 1
	}
	return id
}

// BuildBatch assembles the leaderboard rows for one batch. Ranks are
// dense 1..k per side, following the repository's mover ordering.
func BuildBatch(gainers, losers []*database.Ticker, batchID int64) []*database.LeaderboardEntry {
	createdAt := time.UnixMilli(batchID)
	entries := make([]*database.LeaderboardEntry, 0, len(gainers)+len(losers))

	appendSide := func(side string, tickers []*database.Ticker) {
		for i, t := range tickers {
			entries = append(entries, &database.LeaderboardEntry{
				Symbol:             t.Symbol,
				EventTime:          t.EventTime,
				LastPrice:          t.LastPrice,
				OpenPrice:          t.OpenPrice,
				High24h:            t.High24h,
				Low24h:             t.Low24h,
				BaseVolume:         t.BaseVolume,
				QuoteVolume:        t.QuoteVolume,
				StatsOpenTime:      t.StatsOpenTime,
				StatsCloseTime:     t.StatsCloseTime,
				FirstTradeID:       t.FirstTradeID,
				LastTradeID:        t.LastTradeID,
				TradeCount:         t.TradeCount,
				PriceChange:        t.PriceChange,
				PriceChangePercent: t.PriceChangePercent,
				Side:               side,
				ChangePercentText:  t.ChangePercentText,
				Rank:               i + 1,
				CreateDatetime:     createdAt,
				CreateDatetimeLong: batchID,
			})
		}
	}

	appendSide(database.SideGainer, gainers)
	appendSide(database.SideLoser, losers)
	return entries
}

// Latest returns the most recent batch, preferring the Redis cache and
// falling back to the store. ErrEmptyLeaderboard is returned when no
// batch has ever been written.
func (s *Syncer) Latest(ctx context.Context) ([]*database.LeaderboardEntry, error) {
	if s.cacheSvc != nil && s.cacheSvc.IsHealthy() {
		var cached []*database.LeaderboardEntry
		if err := s.cacheSvc.GetJSON(ctx, cache.KeyLeaderboardLatest, &cached); err == nil && len(cached) > 0 {
			return cached, nil
		}
	}

	entries, err := s.leaderboard.LatestBatch(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, database.ErrEmptyLeaderboard
	}
	return entries, nil
}
