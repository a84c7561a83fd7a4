package leaderboard

import (
	"context"
	"testing"
	"time"

	"perps-control-plane/internal/database"
)

type fakeMoverSource struct {
	gainers []*database.Ticker
	losers  []*database.Ticker
}

func (f *fakeMoverSource) TopMovers(ctx context.Context, side string, limit int) ([]*database.Ticker, error) {
	if side == database.SideGainer {
		return f.gainers, nil
	}
	return f.losers, nil
}

type fakeBatchStore struct {
	inserted [][]*database.LeaderboardEntry
}

func (f *fakeBatchStore) InsertBatch(ctx context.Context, entries []*database.LeaderboardEntry) error {
	f.inserted = append(f.inserted, entries)
	return nil
}

func (f *fakeBatchStore) MaxBatchID(ctx context.Context) (int64, error) { return 0, nil }

func (f *fakeBatchStore) LatestBatch(ctx context.Context) ([]*database.LeaderboardEntry, error) {
	if len(f.inserted) == 0 {
		return nil, nil
	}
	return f.inserted[len(f.inserted)-1], nil
}

func TestNextBatchIDMonotonic(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)

	tests := []struct {
		name   string
		lastID int64
		want   int64
	}{
		{"clock ahead of last id", 1_699_999_999_999, 1_700_000_000_000},
		{"clock equals last id", 1_700_000_000_000, 1_700_000_000_001},
		{"clock behind last id", 1_700_000_000_500, 1_700_000_000_501},
		{"first batch", 0, 1_700_000_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextBatchID(tt.lastID, now)
			if got != tt.want {
				t.Errorf("nextBatchID(%d) = %d, want %d", tt.lastID, got, tt.want)
			}
			if got <= tt.lastID {
				t.Errorf("batch id %d not strictly greater than previous %d", got, tt.lastID)
			}
		})
	}
}

func TestBuildBatchRanksAndSharedBatchID(t *testing.T) {
	gainers := []*database.Ticker{
		{Symbol: "BTCUSDT", PriceChangePercent: 11.11, Side: database.SideGainer},
		{Symbol: "SOLUSDT", PriceChangePercent: 5.5, Side: database.SideGainer},
	}
	losers := []*database.Ticker{
		{Symbol: "ETHUSDT", PriceChangePercent: -9.09, Side: database.SideLoser},
		{Symbol: "XRPUSDT", PriceChangePercent: -9.09, Side: database.SideLoser},
		{Symbol: "ADAUSDT", PriceChangePercent: -3.2, Side: database.SideLoser},
	}

	const batchID = int64(1_700_000_000_123)
	entries := BuildBatch(gainers, losers, batchID)

	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}

	rankBySide := map[string][]int{}
	for _, e := range entries {
		if e.CreateDatetimeLong != batchID {
			t.Errorf("entry %s has batch id %d, want %d", e.Symbol, e.CreateDatetimeLong, batchID)
		}
		if !e.CreateDatetime.Equal(time.UnixMilli(batchID)) {
			t.Errorf("entry %s create_datetime mismatch", e.Symbol)
		}
		if e.Side == "" {
			t.Errorf("entry %s has empty side", e.Symbol)
		}
		rankBySide[e.Side] = append(rankBySide[e.Side], e.Rank)
	}

	// Ranks per side are a dense 1..k permutation.
	for side, ranks := range rankBySide {
		for i, r := range ranks {
			if r != i+1 {
				t.Errorf("side %s rank[%d] = %d, want %d", side, i, r, i+1)
			}
		}
	}

	// Equal percent losers keep their input order.
	if entries[2].Symbol != "ETHUSDT" || entries[2].Rank != 1 {
		t.Errorf("tied loser rank 1 = %s (%d), want ETHUSDT (1)", entries[2].Symbol, entries[2].Rank)
	}
	if entries[3].Symbol != "XRPUSDT" || entries[3].Rank != 2 {
		t.Errorf("tied loser rank 2 = %s (%d), want XRPUSDT (2)", entries[3].Symbol, entries[3].Rank)
	}
}

func TestSyncOnceSkipsWhenNoMovers(t *testing.T) {
	store := &fakeBatchStore{}
	s := &Syncer{
		tickers:     &fakeMoverSource{},
		leaderboard: store,
		topN:        10,
		lastBatchID: 42,
	}

	if err := s.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if len(store.inserted) != 0 {
		t.Errorf("inserted %d batches, want none when both sides are empty", len(store.inserted))
	}
	if s.lastBatchID != 42 {
		t.Errorf("lastBatchID = %d, want unchanged 42; an empty cycle must not consume an id", s.lastBatchID)
	}
}

func TestSyncOnceWritesBatchAndAdvancesID(t *testing.T) {
	store := &fakeBatchStore{}
	s := &Syncer{
		tickers: &fakeMoverSource{
			gainers: []*database.Ticker{{Symbol: "BTCUSDT", Side: database.SideGainer}},
		},
		leaderboard: store,
		topN:        10,
	}

	if err := s.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if len(store.inserted) != 1 || len(store.inserted[0]) != 1 {
		t.Fatalf("inserted = %+v, want one batch with one row", store.inserted)
	}
	if s.lastBatchID == 0 {
		t.Error("lastBatchID not advanced after a written batch")
	}
	if store.inserted[0][0].CreateDatetimeLong != s.lastBatchID {
		t.Errorf("batch id %d does not match recorded %d",
			store.inserted[0][0].CreateDatetimeLong, s.lastBatchID)
	}
}

func TestBuildBatchCarriesTickerColumns(t *testing.T) {
	gainers := []*database.Ticker{{
		Symbol:         "BTCUSDT",
		Side:           database.SideGainer,
		StatsOpenTime:  1_700_000_000_000,
		StatsCloseTime: 1_700_000_086_400,
		FirstTradeID:   100,
		LastTradeID:    250,
		TradeCount:     151,
	}}

	entries := BuildBatch(gainers, nil, 1_700_000_100_000)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.StatsOpenTime != 1_700_000_000_000 || e.StatsCloseTime != 1_700_000_086_400 {
		t.Errorf("stats window not carried: open=%d close=%d", e.StatsOpenTime, e.StatsCloseTime)
	}
	if e.FirstTradeID != 100 || e.LastTradeID != 250 || e.TradeCount != 151 {
		t.Errorf("trade ids not carried: first=%d last=%d count=%d",
			e.FirstTradeID, e.LastTradeID, e.TradeCount)
	}
}

func TestBuildBatchEmptySides(t *testing.T) {
	if entries := BuildBatch(nil, nil, 1); len(entries) != 0 {
		t.Errorf("expected no entries for empty sides, got %d", len(entries))
	}

	gainers := []*database.Ticker{{Symbol: "BTCUSDT", Side: database.SideGainer}}
	entries := BuildBatch(gainers, nil, 2)
	if len(entries) != 1 || entries[0].Side != database.SideGainer || entries[0].Rank != 1 {
		t.Errorf("one-sided batch malformed: %+v", entries)
	}
}
