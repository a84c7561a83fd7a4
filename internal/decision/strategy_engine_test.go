package decision

import (
	"testing"

	"perps-control-plane/internal/database"
	"perps-control-plane/internal/indicators"
)

func buyStrategy(name, code string, priority int) *database.ModelStrategyRow {
	return &database.ModelStrategyRow{
		Strategy: database.Strategy{Name: name, Type: "buy", StrategyCode: code},
		Priority: priority,
	}
}

func TestEvaluateStrategiesPriorityOrderAndDedupe(t *testing.T) {
	first := func(in RuleInput) []SymbolDecision {
		return []SymbolDecision{
			{Symbol: "BTCUSDT", Decision: Decision{Signal: SignalBuyToEnter, Justification: "high priority"}},
		}
	}
	second := func(in RuleInput) []SymbolDecision {
		return []SymbolDecision{
			{Symbol: "BTCUSDT", Decision: Decision{Signal: SignalHold, Justification: "low priority"}},
			{Symbol: "ETHUSDT", Decision: Decision{Signal: SignalBuyToEnter, Justification: "eth entry"}},
		}
	}
	RegisterRule("test_first", first)
	RegisterRule("test_second", second)

	// ListModelStrategies returns rows already ordered by priority.
	strategies := []*database.ModelStrategyRow{
		buyStrategy("alpha", "test_first", 10),
		buyStrategy("beta", "test_second", 1),
	}

	outputs := evaluateStrategies(strategies, RuleInput{}, nil)
	if len(outputs) != 3 {
		t.Fatalf("expected 3 concatenated outputs, got %d", len(outputs))
	}

	decisions := dedupeBySymbol(outputs)
	if len(decisions) != 2 {
		t.Fatalf("expected 2 deduped decisions, got %d", len(decisions))
	}
	// Higher-priority strategy's BTC decision wins.
	if decisions["BTCUSDT"].Justification != "high priority" {
		t.Errorf("BTC decision = %+v, want the higher-priority one", decisions["BTCUSDT"])
	}
	if decisions["ETHUSDT"].Signal != SignalBuyToEnter {
		t.Errorf("ETH decision = %+v", decisions["ETHUSDT"])
	}
}

func TestEvaluateStrategiesSkipsUnknownCodeAndInvalidSignal(t *testing.T) {
	RegisterRule("test_invalid_signal", func(in RuleInput) []SymbolDecision {
		return []SymbolDecision{{Symbol: "BTCUSDT", Decision: Decision{Signal: "moon"}}}
	})

	strategies := []*database.ModelStrategyRow{
		buyStrategy("ghost", "no_such_rule", 5),
		buyStrategy("bad", "test_invalid_signal", 1),
	}

	outputs := evaluateStrategies(strategies, RuleInput{}, nil)
	if len(outputs) != 0 {
		t.Errorf("expected no outputs, got %d", len(outputs))
	}
}

func TestRuleStopLossGuard(t *testing.T) {
	positions := []*database.Position{
		{Symbol: "BTCUSDT", PositionSide: database.PositionSideLong, PositionAmt: 1, AvgPrice: 100},
		{Symbol: "ETHUSDT", PositionSide: database.PositionSideLong, PositionAmt: 1, AvgPrice: 100},
	}
	market := MarketState{
		"BTCUSDT": {Price: 94}, // -6%, past the guard
		"ETHUSDT": {Price: 97}, // -3%, held
	}

	out := ruleStopLossGuard(RuleInput{Positions: positions, Market: market})
	if len(out) != 1 {
		t.Fatalf("expected 1 stop, got %d", len(out))
	}
	if out[0].Symbol != "BTCUSDT" || out[0].Decision.Signal != SignalStopLoss {
		t.Errorf("unexpected output: %+v", out[0])
	}
}

func TestRuleTakeProfitGuardShortSide(t *testing.T) {
	positions := []*database.Position{
		{Symbol: "ETHUSDT", PositionSide: database.PositionSideShort, PositionAmt: -1, AvgPrice: 100},
	}
	// Short gains as price falls: 100 -> 88 is +12%.
	out := ruleTakeProfitGuard(RuleInput{Positions: positions, Market: MarketState{"ETHUSDT": {Price: 88}}})
	if len(out) != 1 || out[0].Decision.Signal != SignalTakeProfit {
		t.Fatalf("expected take profit for short in profit, got %+v", out)
	}
}

func TestRuleMomentumEntry(t *testing.T) {
	market := MarketState{
		"BTCUSDT": {
			Price:     50000,
			Change24h: 4.2,
			Indicators: map[string]indicators.Snapshot{
				"1h": {MACDHist: 1.5, RSI14: 55},
			},
		},
		"ETHUSDT": {
			Price:     3000,
			Change24h: 4.2,
			Indicators: map[string]indicators.Snapshot{
				"1h": {MACDHist: 1.5, RSI14: 80}, // overbought
			},
		},
	}

	out := ruleMomentumEntry(RuleInput{Candidates: []string{"BTCUSDT", "ETHUSDT"}, Market: market})
	if len(out) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(out))
	}
	d := out[0].Decision
	if out[0].Symbol != "BTCUSDT" || d.Signal != SignalBuyToEnter || d.RiskBudgetPct != 2 {
		t.Errorf("unexpected decision: %s %+v", out[0].Symbol, d)
	}
}
