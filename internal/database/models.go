package database

import (
	"fmt"
	"time"
)

// Provider types accepted by the LLM decision engine
const (
	ProviderOpenAI      = "openai"
	ProviderAzureOpenAI = "azure_openai"
	ProviderDeepSeek    = "deepseek"
	ProviderAnthropic   = "anthropic"
	ProviderGemini      = "gemini"
)

// Trade types
const (
	TradeTypeAI       = "ai"
	TradeTypeStrategy = "strategy"
)

// Symbol sources
const (
	SymbolSourceLeaderboard = "leaderboard"
	SymbolSourceFuture      = "future"
)

// Position sides
const (
	PositionSideLong  = "LONG"
	PositionSideShort = "SHORT"
)

// Leaderboard / ticker sides
const (
	SideGainer = "gainer"
	SideLoser  = "loser"
)

// ValidatePositionSide rejects anything outside the closed LONG/SHORT set.
// Unknown sides are an invariant violation and must never be coerced.
func ValidatePositionSide(side string) error {
	if side != PositionSideLong && side != PositionSideShort {
		return fmt.Errorf("invalid position side: %q", side)
	}
	return nil
}

// Provider is an LLM provider registration
type Provider struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	APIURL       string    `json:"api_url"`
	APIKey       string    `json:"api_key"`
	ProviderType string    `json:"provider_type"`
	CreatedAt    time.Time `json:"created_at"`
}

// Model is the tenant unit: one trading account driven by one decision engine
type Model struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	ProviderID          *string   `json:"provider_id,omitempty"`
	ModelName           *string   `json:"model_name,omitempty"`
	InitialCapital      float64   `json:"initial_capital"`
	Leverage            float64   `json:"leverage"`
	MaxPositions        int       `json:"max_positions"`
	AutoBuyEnabled      bool      `json:"auto_buy_enabled"`
	AutoSellEnabled     bool      `json:"auto_sell_enabled"`
	TradeType           string    `json:"trade_type"`    // "ai" or "strategy"
	SymbolSource        string    `json:"symbol_source"` // "leaderboard" or "future"
	BuyBatchSize        int       `json:"buy_batch_size"`
	SellBatchSize       int       `json:"sell_batch_size"`
	BuyIntervalSeconds  int       `json:"buy_interval_seconds"`
	SellIntervalSeconds int       `json:"sell_interval_seconds"`
	GroupSize           int       `json:"group_size"`
	AccountAlias        string    `json:"account_alias"`
	IsVirtual           bool      `json:"is_virtual"`
	CreatedAt           time.Time `json:"created_at"`
}

// ModelPrompt carries the per-model free-text prompt fragments
type ModelPrompt struct {
	ModelID    string `json:"model_id"`
	BuyPrompt  string `json:"buy_prompt"`
	SellPrompt string `json:"sell_prompt"`
}

// Strategy is an in-process rule definition
type Strategy struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Type            string    `json:"type"` // "buy" or "sell"
	StrategyContext string    `json:"strategy_context"`
	StrategyCode    string    `json:"strategy_code"` // key into the rule registry
	CreatedAt       time.Time `json:"created_at"`
}

// ModelStrategy binds a strategy to a model with an evaluation priority
type ModelStrategy struct {
	ModelID    string    `json:"model_id"`
	StrategyID string    `json:"strategy_id"`
	Type       string    `json:"type"`
	Priority   int       `json:"priority"`
	CreatedAt  time.Time `json:"created_at"`
}

// Future is a row of the global symbol universe
type Future struct {
	Symbol         string `json:"symbol"`          // base, e.g. BTC
	ContractSymbol string `json:"contract_symbol"` // full, e.g. BTCUSDT
	Name           string `json:"name"`
	Exchange       string `json:"exchange"`
	SortOrder      int    `json:"sort_order"`
}

// ModelFuture mirrors a Future row into a model's universe
type ModelFuture struct {
	ModelID        string `json:"model_id"`
	Symbol         string `json:"symbol"`
	ContractSymbol string `json:"contract_symbol"`
	Name           string `json:"name"`
	Exchange       string `json:"exchange"`
	SortOrder      int    `json:"sort_order"`
}

// Position is an open position; there is at most one row per
// (model, symbol, position_side).
type Position struct {
	ID               string    `json:"id"`
	ModelID          string    `json:"model_id"`
	Symbol           string    `json:"symbol"`
	PositionSide     string    `json:"position_side"`
	PositionAmt      float64   `json:"position_amt"` // signed magnitude; absolute value sizes the position
	AvgPrice         float64   `json:"avg_price"`
	Leverage         float64   `json:"leverage"`
	InitialMargin    float64   `json:"initial_margin"`
	UnrealizedProfit float64   `json:"unrealized_profit"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Trade is an immutable ledger row; realized P&L is SUM(pnl) per model.
type Trade struct {
	ID        string    `json:"id"`
	ModelID   string    `json:"model_id"`
	Symbol    string    `json:"symbol"`
	Signal    string    `json:"signal"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Leverage  float64   `json:"leverage"`
	Side      string    `json:"side"`
	Pnl       float64   `json:"pnl"`
	Fee       float64   `json:"fee"`
	Timestamp time.Time `json:"timestamp"`
}

// AccountValue is a point-in-time account snapshot
type AccountValue struct {
	ModelID            string    `json:"model_id"`
	Balance            float64   `json:"balance"`
	AvailableBalance   float64   `json:"available_balance"`
	CrossWalletBalance float64   `json:"cross_wallet_balance"`
	CrossUnPnl         float64   `json:"cross_un_pnl"`
	AccountAlias       string    `json:"account_alias"`
	Timestamp          time.Time `json:"timestamp"`
}

// Conversation records one LLM decision round-trip for audit
type Conversation struct {
	ID         string    `json:"id"`
	ModelID    string    `json:"model_id"`
	UserPrompt string    `json:"user_prompt"`
	AIResponse string    `json:"ai_response"`
	CotTrace   string    `json:"cot_trace"`
	Tokens     int       `json:"tokens"`
	Type       string    `json:"type"` // "buy" or "sell"
	Timestamp  time.Time `json:"timestamp"`
}

// StrategyDecision records one rule-engine output for audit
type StrategyDecision struct {
	ID            string    `json:"id"`
	ModelID       string    `json:"model_id"`
	StrategyName  string    `json:"strategy_name"`
	StrategyType  string    `json:"strategy_type"`
	Signal        string    `json:"signal"`
	Symbol        string    `json:"symbol"`
	Quantity      float64   `json:"quantity"`
	Leverage      float64   `json:"leverage"`
	Price         float64   `json:"price"`
	StopPrice     float64   `json:"stop_price"`
	Justification string    `json:"justification"`
	Timestamp     time.Time `json:"timestamp"`
}

// Ticker is the wide per-symbol 24h rolling row.
// "Unset" open price is the pair (OpenPrice==0, UpdatePriceDate==nil): the
// numeric column is non-nullable, so consumers must check both.
type Ticker struct {
	Symbol             string     `json:"symbol"`
	EventTime          time.Time  `json:"event_time"`
	LastPrice          float64    `json:"last_price"`
	OpenPrice          float64    `json:"open_price"`
	UpdatePriceDate    *time.Time `json:"update_price_date,omitempty"`
	High24h            float64    `json:"high_24h"`
	Low24h             float64    `json:"low_24h"`
	BaseVolume         float64    `json:"base_volume"`
	QuoteVolume        float64    `json:"quote_volume"`
	StatsOpenTime      int64      `json:"stats_open_time"`
	StatsCloseTime     int64      `json:"stats_close_time"`
	FirstTradeID       int64      `json:"first_trade_id"`
	LastTradeID        int64      `json:"last_trade_id"`
	TradeCount         int64      `json:"trade_count"`
	PriceChange        float64    `json:"price_change"`
	PriceChangePercent float64    `json:"price_change_percent"`
	Side               string     `json:"side"` // "gainer", "loser", or ""
	ChangePercentText  string     `json:"change_percent_text"`
}

// OpenPriceSet reports whether the reference open price has been anchored.
func (t *Ticker) OpenPriceSet() bool {
	return t.OpenPrice > 0 || t.UpdatePriceDate != nil
}

// LeaderboardEntry is one row of an atomically-versioned movers batch.
// All rows of a batch share CreateDatetimeLong.
type LeaderboardEntry struct {
	ID                 int64     `json:"id"`
	Symbol             string    `json:"symbol"`
	EventTime          time.Time `json:"event_time"`
	LastPrice          float64   `json:"last_price"`
	OpenPrice          float64   `json:"open_price"`
	High24h            float64   `json:"high_24h"`
	Low24h             float64   `json:"low_24h"`
	BaseVolume         float64   `json:"base_volume"`
	QuoteVolume        float64   `json:"quote_volume"`
	StatsOpenTime      int64     `json:"stats_open_time"`
	StatsCloseTime     int64     `json:"stats_close_time"`
	FirstTradeID       int64     `json:"first_trade_id"`
	LastTradeID        int64     `json:"last_trade_id"`
	TradeCount         int64     `json:"trade_count"`
	PriceChange        float64   `json:"price_change"`
	PriceChangePercent float64   `json:"price_change_percent"`
	Side               string    `json:"side"`
	ChangePercentText  string    `json:"change_percent_text"`
	Rank               int       `json:"rank"`
	CreateDatetime     time.Time `json:"create_datetime"`
	CreateDatetimeLong int64     `json:"create_datetime_long"`
}
