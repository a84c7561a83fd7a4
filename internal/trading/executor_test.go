package trading

import (
	"context"
	"errors"
	"math"
	"testing"

	"perps-control-plane/internal/database"
	"perps-control-plane/internal/decision"
	"perps-control-plane/internal/ledger"
	"perps-control-plane/internal/logging"
)

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func testLogger() *logging.Logger {
	return logging.New(&logging.Config{Level: "error", Output: "stderr"})
}

func TestPlanEntryAccepted(t *testing.T) {
	d := decision.Decision{Signal: decision.SignalBuyToEnter, Quantity: 0.01}
	plan, err := planEntry(d.Signal, d, 10, 50000, 10000, 0.001)
	if err != nil {
		t.Fatalf("planEntry: %v", err)
	}
	if plan.side != database.PositionSideLong {
		t.Errorf("side = %q, want LONG", plan.side)
	}
	if !floatEquals(plan.quantity, 0.01) {
		t.Errorf("quantity = %v, want 0.01", plan.quantity)
	}
	if !floatEquals(plan.margin, 50) {
		t.Errorf("margin = %v, want 50", plan.margin)
	}
	if !floatEquals(plan.fee, 0.5) {
		t.Errorf("fee = %v, want 0.5", plan.fee)
	}
}

func TestPlanEntryInsufficientFunds(t *testing.T) {
	// Requested 0.01 fits within leveraged notional but margin+fee
	// (50.5) exceeds the 50.3 of cash, so the order must be rejected
	// rather than silently shrunk.
	d := decision.Decision{Signal: decision.SignalBuyToEnter, Quantity: 0.01}
	_, err := planEntry(d.Signal, d, 10, 50000, 50.3, 0.001)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if err.Error() != "可用资金不足（含手续费）" {
		t.Errorf("error text = %q", err.Error())
	}
}

func TestPlanEntrySizesFromRiskBudgetWhenQuantityAbsent(t *testing.T) {
	d := decision.Decision{Signal: decision.SignalBuyToEnter, RiskBudgetPct: 2}
	plan, err := planEntry(d.Signal, d, 10, 50000, 10000, 0.001)
	if err != nil {
		t.Fatalf("planEntry: %v", err)
	}
	// 10000 * 0.02 / (50000 * 1.001), floored at six decimals.
	if !floatEquals(plan.quantity, 0.003996) {
		t.Errorf("quantity = %v, want 0.003996", plan.quantity)
	}
}

func TestPlanEntryRiskBudgetClamped(t *testing.T) {
	// 50% requested, clamped to the 5% ceiling.
	d := decision.Decision{Signal: decision.SignalBuyToEnter, RiskBudgetPct: 50}
	plan, err := planEntry(d.Signal, d, 1, 100, 1000, 0.001)
	if err != nil {
		t.Fatalf("planEntry: %v", err)
	}
	want := math.Floor(1000*0.05/(100*1.001)*1e6) / 1e6
	if !floatEquals(plan.quantity, want) {
		t.Errorf("quantity = %v, want %v", plan.quantity, want)
	}
}

func TestPlanEntryShortSide(t *testing.T) {
	d := decision.Decision{Signal: decision.SignalSellToEnter, Quantity: 1}
	plan, err := planEntry(d.Signal, d, 5, 3000, 10000, 0.001)
	if err != nil {
		t.Fatalf("planEntry: %v", err)
	}
	if plan.side != database.PositionSideShort {
		t.Errorf("side = %q, want SHORT", plan.side)
	}
	if !floatEquals(plan.margin, 600) {
		t.Errorf("margin = %v, want 600", plan.margin)
	}
}

func TestPlanEntryLeverageFallback(t *testing.T) {
	d := decision.Decision{Signal: decision.SignalBuyToEnter, Quantity: 0.01, Leverage: 4}
	plan, err := planEntry(d.Signal, d, 0, 50000, 10000, 0.001)
	if err != nil {
		t.Fatalf("planEntry: %v", err)
	}
	if !floatEquals(plan.leverage, 4) {
		t.Errorf("leverage = %v, want decision fallback 4", plan.leverage)
	}

	d.Leverage = 0
	plan, err = planEntry(d.Signal, d, 0, 50000, 10000, 0.001)
	if err != nil {
		t.Fatalf("planEntry: %v", err)
	}
	if !floatEquals(plan.leverage, 1) {
		t.Errorf("leverage = %v, want floor 1", plan.leverage)
	}
}

func TestPlanEntryNoPrice(t *testing.T) {
	d := decision.Decision{Signal: decision.SignalBuyToEnter, Quantity: 0.01}
	if _, err := planEntry(d.Signal, d, 10, 0, 10000, 0.001); err == nil {
		t.Fatal("expected error for zero price")
	}
}

func TestPlanExitLongProfit(t *testing.T) {
	pos := &database.Position{
		Symbol: "BTCUSDT", PositionSide: database.PositionSideLong,
		PositionAmt: 0.01, AvgPrice: 50000,
	}
	plan, err := planExit(pos, 55000, 0.001)
	if err != nil {
		t.Fatalf("planExit: %v", err)
	}
	if !floatEquals(plan.grossPnl, 50) {
		t.Errorf("gross = %v, want 50", plan.grossPnl)
	}
	if !floatEquals(plan.fee, 0.55) {
		t.Errorf("fee = %v, want 0.55", plan.fee)
	}
	if !floatEquals(plan.netPnl, 49.45) {
		t.Errorf("net = %v, want 49.45", plan.netPnl)
	}
}

func TestPlanExitShortProfit(t *testing.T) {
	pos := &database.Position{
		Symbol: "ETHUSDT", PositionSide: database.PositionSideShort,
		PositionAmt: -2, AvgPrice: 3000,
	}
	plan, err := planExit(pos, 2900, 0.001)
	if err != nil {
		t.Fatalf("planExit: %v", err)
	}
	if !floatEquals(plan.grossPnl, 200) {
		t.Errorf("gross = %v, want 200", plan.grossPnl)
	}
	if !floatEquals(plan.netPnl, 194.2) {
		t.Errorf("net = %v, want 194.2", plan.netPnl)
	}
}

func TestMergePositionVWAP(t *testing.T) {
	existing := &database.Position{
		ID: "p1", ModelID: "m1", Symbol: "BTCUSDT",
		PositionSide: database.PositionSideLong,
		PositionAmt:  1, AvgPrice: 100, InitialMargin: 10,
	}
	plan := entryPlan{side: database.PositionSideLong, quantity: 1, leverage: 10, margin: 11}
	merged := mergePosition(existing, "m1", "BTCUSDT", plan, 110)
	if merged.ID != "p1" {
		t.Errorf("merge must keep the existing row, got id %q", merged.ID)
	}
	if !floatEquals(merged.AvgPrice, 105) {
		t.Errorf("avg price = %v, want 105", merged.AvgPrice)
	}
	if !floatEquals(merged.PositionAmt, 2) {
		t.Errorf("amt = %v, want 2", merged.PositionAmt)
	}
	if !floatEquals(merged.InitialMargin, 21) {
		t.Errorf("margin = %v, want 21", merged.InitialMargin)
	}
}

func TestMergePositionShortKeepsNegativeAmt(t *testing.T) {
	plan := entryPlan{side: database.PositionSideShort, quantity: 0.5, leverage: 5, margin: 300}
	pos := mergePosition(nil, "m1", "ETHUSDT", plan, 3000)
	if !floatEquals(pos.PositionAmt, -0.5) {
		t.Errorf("amt = %v, want -0.5", pos.PositionAmt)
	}
	if pos.PositionSide != database.PositionSideShort {
		t.Errorf("side = %q, want SHORT", pos.PositionSide)
	}
}

func TestExecuteEntryRejectsAtMaxPositions(t *testing.T) {
	x := NewExecutor(nil, nil, 0.001, testLogger())
	model := &database.Model{ID: "m1", MaxPositions: 2, Leverage: 10}
	portfolio := &ledger.Portfolio{
		Cash: 10000,
		Positions: []*database.Position{
			{Symbol: "BTCUSDT", PositionSide: database.PositionSideLong, PositionAmt: 1, AvgPrice: 100},
			{Symbol: "ETHUSDT", PositionSide: database.PositionSideLong, PositionAmt: 1, AvgPrice: 100},
		},
	}
	d := decision.Decision{Signal: decision.SignalBuyToEnter, Quantity: 1}
	market := decision.MarketState{"SOLUSDT": {Price: 200}}

	exec, err := x.Execute(context.Background(), model, "SOLUSDT", d, market, portfolio)
	if !errors.Is(err, ErrMaxPositions) {
		t.Fatalf("err = %v, want ErrMaxPositions", err)
	}
	if exec.Error == "" {
		t.Error("execution error text should be set")
	}
}

func TestExecuteHoldIsNoop(t *testing.T) {
	x := NewExecutor(nil, nil, 0.001, testLogger())
	d := decision.Decision{Signal: decision.SignalHold}
	exec, err := x.Execute(context.Background(), &database.Model{}, "BTCUSDT", d, nil, &ledger.Portfolio{})
	if err != nil {
		t.Fatalf("hold returned error: %v", err)
	}
	if exec.Message == "" {
		t.Error("hold should report a message")
	}
}

func TestExecuteExitWithoutPosition(t *testing.T) {
	x := NewExecutor(nil, nil, 0.001, testLogger())
	d := decision.Decision{Signal: decision.SignalClosePosition}
	_, err := x.Execute(context.Background(), &database.Model{ID: "m1"}, "BTCUSDT", d,
		decision.MarketState{"BTCUSDT": {Price: 100}}, &ledger.Portfolio{})
	if !errors.Is(err, ErrNoPosition) {
		t.Fatalf("err = %v, want ErrNoPosition", err)
	}
}

func TestFindPositionsHedgedSymbol(t *testing.T) {
	portfolio := &ledger.Portfolio{
		Positions: []*database.Position{
			{Symbol: "BTCUSDT", PositionSide: database.PositionSideLong, PositionAmt: 0.5, AvgPrice: 50000},
			{Symbol: "BTCUSDT", PositionSide: database.PositionSideShort, PositionAmt: -0.2, AvgPrice: 52000},
			{Symbol: "ETHUSDT", PositionSide: database.PositionSideLong, PositionAmt: 1, AvgPrice: 3000},
		},
	}

	got := findPositions(portfolio, "BTCUSDT")
	if len(got) != 2 {
		t.Fatalf("positions = %d, want both sides of the hedge", len(got))
	}
	sides := map[string]bool{got[0].PositionSide: true, got[1].PositionSide: true}
	if !sides[database.PositionSideLong] || !sides[database.PositionSideShort] {
		t.Errorf("sides = %v, want LONG and SHORT", sides)
	}

	if got := findPositions(portfolio, "SOLUSDT"); len(got) != 0 {
		t.Errorf("positions = %d, want none for unheld symbol", len(got))
	}
	if !holdsSymbol(portfolio, "ETHUSDT") {
		t.Error("holdsSymbol should see the ETH position")
	}
}

func TestRoundDownQty(t *testing.T) {
	if got := roundDownQty(0.0039999999); !floatEquals(got, 0.003999) {
		t.Errorf("got %v, want 0.003999", got)
	}
	if got := roundDownQty(0.01); !floatEquals(got, 0.01) {
		t.Errorf("got %v, want 0.01", got)
	}
}
