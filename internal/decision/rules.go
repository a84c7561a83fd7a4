package decision

import (
	"sort"
	"sync"

	"perps-control-plane/internal/database"
)

// RuleInput is the read-only view handed to a strategy rule. Buy rules
// receive Candidates; sell rules receive Positions.
type RuleInput struct {
	Candidates []string
	Positions  []*database.Position
	Portfolio  PortfolioView
	Account    AccountInfo
	Market     MarketState
}

// PortfolioView is the subset of portfolio state rules may read.
type PortfolioView struct {
	Cash          float64
	MarginUsed    float64
	RealizedPnl   float64
	UnrealizedPnl float64
	PositionCount int
}

// SymbolDecision pairs a decision with its target symbol, preserving
// the emitting rule's output order.
type SymbolDecision struct {
	Symbol   string
	Decision Decision
}

// RuleFunc is one compiled strategy rule. Rules are deterministic and
// side-effect-free; audit persistence happens in the engine.
type RuleFunc func(RuleInput) []SymbolDecision

var (
	ruleMu   sync.RWMutex
	registry = map[string]RuleFunc{}
)

// RegisterRule binds a strategy_code to its rule implementation.
// Registering the same code twice replaces the earlier rule.
func RegisterRule(code string, fn RuleFunc) {
	ruleMu.Lock()
	defer ruleMu.Unlock()
	registry[code] = fn
}

// LookupRule resolves a strategy_code to its rule.
func LookupRule(code string) (RuleFunc, bool) {
	ruleMu.RLock()
	defer ruleMu.RUnlock()
	fn, ok := registry[code]
	return fn, ok
}

// RegisteredRules returns the sorted strategy codes currently bound.
func RegisteredRules() []string {
	ruleMu.RLock()
	defer ruleMu.RUnlock()

	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func init() {
	RegisterRule("momentum_entry_v1", ruleMomentumEntry)
	RegisterRule("rsi_oversold_entry_v1", ruleRSIOversoldEntry)
	RegisterRule("stop_loss_guard_v1", ruleStopLossGuard)
	RegisterRule("take_profit_guard_v1", ruleTakeProfitGuard)
}

// ruleMomentumEntry buys candidates whose 1h MACD histogram is positive
// while RSI still has headroom. Risk budget scales with confidence in
// the 24h move.
func ruleMomentumEntry(in RuleInput) []SymbolDecision {
	var out []SymbolDecision
	for _, symbol := range in.Candidates {
		state, ok := in.Market[symbol]
		if !ok || state.Price <= 0 {
			continue
		}
		snap, ok := state.Indicators["1h"]
		if !ok {
			continue
		}
		if snap.MACDHist <= 0 || snap.RSI14 >= 70 || state.Change24h <= 0 {
			continue
		}

		out = append(out, SymbolDecision{
			Symbol: symbol,
			Decision: Decision{
				Signal:        SignalBuyToEnter,
				RiskBudgetPct: 2,
				Leverage:      0, // executor resolves from the model
				Confidence:    0.6,
				Justification: "1h MACD histogram positive with RSI headroom",
			},
		})
	}
	return out
}

// ruleRSIOversoldEntry buys candidates whose 15m RSI has dropped under
// 30, a mean-reversion entry.
func ruleRSIOversoldEntry(in RuleInput) []SymbolDecision {
	var out []SymbolDecision
	for _, symbol := range in.Candidates {
		state, ok := in.Market[symbol]
		if !ok || state.Price <= 0 {
			continue
		}
		snap, ok := state.Indicators["15m"]
		if !ok || snap.RSI14 >= 30 || snap.RSI14 <= 0 {
			continue
		}

		out = append(out, SymbolDecision{
			Symbol: symbol,
			Decision: Decision{
				Signal:        SignalBuyToEnter,
				RiskBudgetPct: 1,
				Confidence:    0.5,
				Justification: "15m RSI oversold",
			},
		})
	}
	return out
}

// ruleStopLossGuard closes any position down more than 5% of notional.
func ruleStopLossGuard(in RuleInput) []SymbolDecision {
	var out []SymbolDecision
	for _, pos := range in.Positions {
		state, ok := in.Market[pos.Symbol]
		if !ok || state.Price <= 0 {
			continue
		}
		_, pnlPct := positionPnl(pos, state.Price)
		if pnlPct > -5 {
			continue
		}

		out = append(out, SymbolDecision{
			Symbol: pos.Symbol,
			Decision: Decision{
				Signal:        SignalStopLoss,
				Justification: "position down more than 5% of notional",
			},
		})
	}
	return out
}

// ruleTakeProfitGuard takes profit on any position up more than 10%.
func ruleTakeProfitGuard(in RuleInput) []SymbolDecision {
	var out []SymbolDecision
	for _, pos := range in.Positions {
		state, ok := in.Market[pos.Symbol]
		if !ok || state.Price <= 0 {
			continue
		}
		_, pnlPct := positionPnl(pos, state.Price)
		if pnlPct < 10 {
			continue
		}

		out = append(out, SymbolDecision{
			Symbol: pos.Symbol,
			Decision: Decision{
				Signal:        SignalTakeProfit,
				Justification: "position up more than 10% of notional",
			},
		})
	}
	return out
}
