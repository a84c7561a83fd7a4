// Package decision abstracts how a model turns market state into trade
// decisions, either through an LLM provider over HTTP or through an
// in-process rule engine.
package decision

import (
	"context"
	"time"

	"perps-control-plane/internal/indicators"
	"perps-control-plane/internal/ledger"
)

// Trade signals form a closed set. Anything else is rejected upstream.
const (
	SignalBuyToEnter    = "buy_to_enter"
	SignalSellToEnter   = "sell_to_enter"
	SignalClosePosition = "close_position"
	SignalStopLoss      = "stop_loss"
	SignalTakeProfit    = "take_profit"
	SignalHold          = "hold"
)

// ValidSignal reports whether s belongs to the closed signal set.
func ValidSignal(s string) bool {
	switch s {
	case SignalBuyToEnter, SignalSellToEnter, SignalClosePosition, SignalStopLoss, SignalTakeProfit, SignalHold:
		return true
	}
	return false
}

// Decision is one per-symbol instruction from a decision engine.
type Decision struct {
	Signal        string  `json:"signal"`
	Quantity      float64 `json:"quantity,omitempty"`
	Leverage      float64 `json:"leverage,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`
	RiskBudgetPct float64 `json:"risk_budget_pct,omitempty"`
	ProfitTarget  float64 `json:"profit_target,omitempty"`
	StopLoss      float64 `json:"stop_loss,omitempty"`
	Price         float64 `json:"price,omitempty"`
	StopPrice     float64 `json:"stop_price,omitempty"`
	Justification string  `json:"justification,omitempty"`
}

// Result is the outcome of one decision request.
type Result struct {
	Decisions   map[string]Decision `json:"decisions"`
	Prompt      string              `json:"prompt"`
	RawResponse string              `json:"raw_response"`
	CotTrace    string              `json:"cot_trace,omitempty"`
	Tokens      int                 `json:"tokens"`
	Skipped     bool                `json:"skipped"`
}

// SymbolState is the per-symbol market view handed to engines.
type SymbolState struct {
	Price          float64                        `json:"price"`
	ContractSymbol string                         `json:"contract_symbol"`
	DailyVolume    float64                        `json:"daily_volume"`
	Change24h      float64                        `json:"change_24h"`
	Indicators     map[string]indicators.Snapshot `json:"indicators"` // keyed by timeframe
}

// MarketState maps symbol to its current market view.
type MarketState map[string]SymbolState

// AccountInfo summarizes the account for prompt construction.
type AccountInfo struct {
	InitialCapital float64   `json:"initial_capital"`
	TotalReturn    float64   `json:"total_return"` // percent
	CurrentTime    time.Time `json:"current_time"`
}

// Engine is the decision abstraction the trading engine drives.
type Engine interface {
	MakeBuyDecision(ctx context.Context, candidates []string, portfolio *ledger.Portfolio, account AccountInfo, market MarketState, symbolSource, modelID string) (*Result, error)
	MakeSellDecision(ctx context.Context, portfolio *ledger.Portfolio, market MarketState, account AccountInfo, modelID string) (*Result, error)
}
