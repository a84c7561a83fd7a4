package ledger

import (
	"math"
	"testing"

	"perps-control-plane/internal/database"
)

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func testModel() *database.Model {
	return &database.Model{ID: "m1", InitialCapital: 10000, Leverage: 10}
}

func TestBuildPortfolioEmpty(t *testing.T) {
	p := BuildPortfolio(testModel(), nil, 0, nil)

	if !floatEquals(p.Cash, 10000) {
		t.Errorf("cash = %v, want 10000", p.Cash)
	}
	if !floatEquals(p.TotalValue, 10000) {
		t.Errorf("total value = %v, want 10000", p.TotalValue)
	}
	if p.MarginUsed != 0 || p.UnrealizedPnl != 0 || p.PositionsValue != 0 {
		t.Errorf("expected zero derived fields, got %+v", p)
	}
}

func TestBuildPortfolioIdentities(t *testing.T) {
	positions := []*database.Position{
		{Symbol: "BTCUSDT", PositionSide: database.PositionSideLong, PositionAmt: 0.01, AvgPrice: 50000, Leverage: 10},
		{Symbol: "ETHUSDT", PositionSide: database.PositionSideShort, PositionAmt: -1, AvgPrice: 3000, Leverage: 5, InitialMargin: 600},
	}
	prices := map[string]float64{"BTCUSDT": 51000, "ETHUSDT": 2900}
	realized := 120.0

	p := BuildPortfolio(testModel(), positions, realized, prices)

	// Margin: 0.01*50000/10 = 50 for BTC, stored 600 for ETH.
	if !floatEquals(p.MarginUsed, 650) {
		t.Errorf("margin used = %v, want 650", p.MarginUsed)
	}
	// Unrealized: (51000-50000)*0.01 = 10 long, (3000-2900)*1 = 100 short.
	if !floatEquals(p.UnrealizedPnl, 110) {
		t.Errorf("unrealized = %v, want 110", p.UnrealizedPnl)
	}
	if !floatEquals(p.PositionsValue, 0.01*50000+1*3000) {
		t.Errorf("positions value = %v", p.PositionsValue)
	}
	if !floatEquals(p.Cash, 10000+120-650) {
		t.Errorf("cash = %v, want %v", p.Cash, 10000+120-650)
	}
	if !floatEquals(p.TotalValue, 10000+120+110) {
		t.Errorf("total value = %v, want %v", p.TotalValue, 10000+120+110)
	}

	// cash + margin_used - realized_pnl = initial_capital
	if !floatEquals(p.Cash+p.MarginUsed-p.RealizedPnl, p.InitialCapital) {
		t.Errorf("accounting identity violated: %v", p.Cash+p.MarginUsed-p.RealizedPnl)
	}
}

func TestPositionUnrealizedPrefersStoredMark(t *testing.T) {
	pos := &database.Position{
		Symbol: "BTCUSDT", PositionSide: database.PositionSideLong,
		PositionAmt: 0.5, AvgPrice: 40000, UnrealizedProfit: 77,
	}
	got := positionUnrealized(pos, map[string]float64{"BTCUSDT": 60000})
	if !floatEquals(got, 77) {
		t.Errorf("unrealized = %v, want stored mark 77", got)
	}
}

func TestPositionUnrealizedUnknownPrice(t *testing.T) {
	pos := &database.Position{
		Symbol: "BTCUSDT", PositionSide: database.PositionSideLong,
		PositionAmt: 0.5, AvgPrice: 40000,
	}
	if got := positionUnrealized(pos, nil); !floatEquals(got, 0) {
		t.Errorf("unrealized = %v, want 0 for unknown price", got)
	}
}

func TestPositionUnrealizedShortSign(t *testing.T) {
	pos := &database.Position{
		Symbol: "ETHUSDT", PositionSide: database.PositionSideShort,
		PositionAmt: -2, AvgPrice: 3000,
	}
	// Price moved against the short.
	got := positionUnrealized(pos, map[string]float64{"ETHUSDT": 3100})
	if !floatEquals(got, -200) {
		t.Errorf("unrealized = %v, want -200", got)
	}
}
