package trading

import (
	"context"
	"testing"

	"perps-control-plane/internal/database"
	"perps-control-plane/internal/decision"
	"perps-control-plane/internal/ledger"
)

type fakeLeaderboardSource struct {
	entries []*database.LeaderboardEntry
	err     error
}

func (f *fakeLeaderboardSource) Latest(ctx context.Context) ([]*database.LeaderboardEntry, error) {
	return f.entries, f.err
}

func TestMarketLookupSymbol(t *testing.T) {
	contracts := map[string]string{"BTC": "BTCUSDT", "ETH": "ETHUSDT"}

	// Future-source candidates are base symbols; the store and the
	// exchange only know the contract symbol.
	if got := marketLookupSymbol(contracts, "BTC"); got != "BTCUSDT" {
		t.Errorf("lookup = %q, want BTCUSDT", got)
	}
	// Leaderboard candidates already are contract symbols.
	if got := marketLookupSymbol(nil, "SOLUSDT"); got != "SOLUSDT" {
		t.Errorf("lookup = %q, want SOLUSDT", got)
	}
	if got := marketLookupSymbol(contracts, "SOLUSDT"); got != "SOLUSDT" {
		t.Errorf("lookup = %q, want passthrough SOLUSDT", got)
	}
}

func TestResolveBuyCandidatesLeaderboard(t *testing.T) {
	source := &fakeLeaderboardSource{entries: []*database.LeaderboardEntry{
		{Symbol: "BTCUSDT", Side: database.SideGainer, Rank: 1},
		{Symbol: "ETHUSDT", Side: database.SideGainer, Rank: 2},
		{Symbol: "XRPUSDT", Side: database.SideLoser, Rank: 1},
	}}
	e := &Engine{leaderboard: source}

	model := &database.Model{ID: "m1", SymbolSource: database.SymbolSourceLeaderboard}
	symbols, contracts, err := e.resolveBuyCandidates(context.Background(), model)
	if err != nil {
		t.Fatalf("resolveBuyCandidates: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "BTCUSDT" || symbols[1] != "ETHUSDT" {
		t.Errorf("candidates = %v, want gainers in rank order", symbols)
	}
	if contracts != nil {
		t.Errorf("contracts = %v, want nil for leaderboard source", contracts)
	}
}

func TestResolveBuyCandidatesEmptyLeaderboard(t *testing.T) {
	e := &Engine{leaderboard: &fakeLeaderboardSource{err: database.ErrEmptyLeaderboard}}
	model := &database.Model{ID: "m1", SymbolSource: database.SymbolSourceLeaderboard}
	symbols, _, err := e.resolveBuyCandidates(context.Background(), model)
	if err != nil {
		t.Fatalf("empty leaderboard must not be an error, got %v", err)
	}
	if len(symbols) != 0 {
		t.Errorf("candidates = %v, want none", symbols)
	}
}

func TestUnionSymbols(t *testing.T) {
	candidates := []string{"BTCUSDT", "ETHUSDT", "BTCUSDT"}
	positions := []*database.Position{
		{Symbol: "ETHUSDT"},
		{Symbol: "SOLUSDT"},
	}
	got := unionSymbols(candidates, positions)
	want := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("symbol[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAccountInfoTotalReturn(t *testing.T) {
	model := &database.Model{InitialCapital: 10000}
	p := &ledger.Portfolio{TotalValue: 11000}
	info := accountInfo(model, p)
	if !floatEquals(info.TotalReturn, 10) {
		t.Errorf("total return = %v, want 10", info.TotalReturn)
	}

	// Zero capital must not divide.
	info = accountInfo(&database.Model{}, p)
	if !floatEquals(info.TotalReturn, 0) {
		t.Errorf("total return = %v, want 0 for zero capital", info.TotalReturn)
	}
}

func TestMarketPrices(t *testing.T) {
	market := decision.MarketState{
		"BTCUSDT": {Price: 50000},
		"ETHUSDT": {Price: 3000},
	}
	prices := marketPrices(market)
	if !floatEquals(prices["BTCUSDT"], 50000) || !floatEquals(prices["ETHUSDT"], 3000) {
		t.Errorf("unexpected prices: %v", prices)
	}
}
