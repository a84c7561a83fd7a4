package ingest

import (
	"math"
	"testing"
	"time"

	"perps-control-plane/internal/database"
	"perps-control-plane/internal/exchange"
)

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestFilterQuoteAsset(t *testing.T) {
	events := []exchange.TickerEvent{
		{Symbol: "BTCUSDT"},
		{Symbol: "ETHBTC"},
		{Symbol: "XRPUSDT"},
		{Symbol: ""},
		{Symbol: "BNBBUSD"},
	}

	got := FilterQuoteAsset(events, "USDT")
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Symbol != "BTCUSDT" || got[1].Symbol != "XRPUSDT" {
		t.Errorf("unexpected symbols: %s, %s", got[0].Symbol, got[1].Symbol)
	}
}

func TestDedupeBatchKeepsLatestStatsCloseTime(t *testing.T) {
	events := []exchange.TickerEvent{
		{Symbol: "BTCUSDT", LastPrice: 100, StatsCloseTime: 10},
		{Symbol: "ETHUSDT", LastPrice: 50, StatsCloseTime: 5},
		{Symbol: "BTCUSDT", LastPrice: 101, StatsCloseTime: 20},
		{Symbol: "BTCUSDT", LastPrice: 99, StatsCloseTime: 15},
	}

	got := DedupeBatch(events)
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Symbol != "BTCUSDT" || !floatEquals(got[0].LastPrice, 101) {
		t.Errorf("expected BTCUSDT row with stats_close_time 20, got %+v", got[0])
	}
	if got[1].Symbol != "ETHUSDT" {
		t.Errorf("expected ETHUSDT second, got %s", got[1].Symbol)
	}
}

func TestBuildTickerRowsUnsetReference(t *testing.T) {
	events := []exchange.TickerEvent{
		{Symbol: "BTCUSDT", LastPrice: 100, OpenPrice: 95, EventTime: time.Now().UnixMilli()},
	}

	// No stored reference: inbound open price must be discarded and the
	// derived fields left neutral.
	rows := BuildTickerRows(events, map[string]database.OpenPriceRef{})
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row.OpenPrice != 0 || row.UpdatePriceDate != nil {
		t.Errorf("expected unset reference pair, got open=%v date=%v", row.OpenPrice, row.UpdatePriceDate)
	}
	if row.Side != "" || row.PriceChangePercent != 0 || row.ChangePercentText != "" {
		t.Errorf("expected neutral derived fields, got %+v", row)
	}
}

func TestBuildTickerRowsDerivesFromStoredReference(t *testing.T) {
	anchored := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	refs := map[string]database.OpenPriceRef{
		"BTCUSDT": {OpenPrice: 90, UpdatePriceDate: &anchored},
		"XRPUSDT": {OpenPrice: 1.1, UpdatePriceDate: &anchored},
	}
	events := []exchange.TickerEvent{
		{Symbol: "BTCUSDT", LastPrice: 100, OpenPrice: 42},
		{Symbol: "XRPUSDT", LastPrice: 1},
	}

	rows := BuildTickerRows(events, refs)

	btc := rows[0]
	wantPct := (100.0 - 90.0) / 90.0 * 100
	if !floatEquals(btc.PriceChangePercent, wantPct) {
		t.Errorf("BTC pct = %v, want %v", btc.PriceChangePercent, wantPct)
	}
	if !floatEquals(btc.OpenPrice, 90) {
		t.Errorf("stored open price must be preserved, got %v", btc.OpenPrice)
	}
	if btc.Side != database.SideGainer {
		t.Errorf("BTC side = %q, want gainer", btc.Side)
	}
	if btc.ChangePercentText != "11.11%" {
		t.Errorf("BTC change text = %q, want 11.11%%", btc.ChangePercentText)
	}
	if btc.UpdatePriceDate == nil || !btc.UpdatePriceDate.Equal(anchored) {
		t.Errorf("update_price_date not preserved: %v", btc.UpdatePriceDate)
	}

	xrp := rows[1]
	if xrp.Side != database.SideLoser {
		t.Errorf("XRP side = %q, want loser", xrp.Side)
	}
	if !floatEquals(xrp.PriceChange, 1-1.1) {
		t.Errorf("XRP price change = %v, want %v", xrp.PriceChange, 1-1.1)
	}
	if xrp.ChangePercentText != "-9.09%" {
		t.Errorf("XRP change text = %q, want -9.09%%", xrp.ChangePercentText)
	}
}

func TestDeriveSessionChangeZeroLastPrice(t *testing.T) {
	anchored := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	row := &database.Ticker{Symbol: "BTCUSDT"}

	DeriveSessionChange(row, database.OpenPriceRef{OpenPrice: 90, UpdatePriceDate: &anchored}, 0)

	if row.Side != "" || row.PriceChangePercent != 0 {
		t.Errorf("expected neutral derived fields on zero last price, got %+v", row)
	}
	if row.UpdatePriceDate == nil {
		t.Errorf("update_price_date must survive a zero last price")
	}
}

func TestDeriveSessionChangeFlatPriceIsGainer(t *testing.T) {
	row := &database.Ticker{Symbol: "BTCUSDT"}
	DeriveSessionChange(row, database.OpenPriceRef{OpenPrice: 100}, 100)

	if row.Side != database.SideGainer {
		t.Errorf("zero percent change classifies as gainer, got %q", row.Side)
	}
	if row.ChangePercentText != "0.00%" {
		t.Errorf("change text = %q, want 0.00%%", row.ChangePercentText)
	}
}
