package trading

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"perps-control-plane/config"
	"perps-control-plane/internal/cache"
	"perps-control-plane/internal/database"
	"perps-control-plane/internal/decision"
	"perps-control-plane/internal/events"
	"perps-control-plane/internal/exchange"
	"perps-control-plane/internal/indicators"
	"perps-control-plane/internal/ledger"
	"perps-control-plane/internal/logging"
)

// marketTimeframes are the kline intervals summarized per candidate.
var marketTimeframes = []string{"15m", "1h", "4h", "1d"}

// CycleResult is the outcome of one buy or sell cycle for one model.
type CycleResult struct {
	Success    bool         `json:"success"`
	Executions []*Execution `json:"executions"`
}

// LeaderboardSource serves the most recent movers batch. The syncer
// implements it with a cache-aside read over the store.
type LeaderboardSource interface {
	Latest(ctx context.Context) ([]*database.LeaderboardEntry, error)
}

// Engine runs decision cycles: it assembles market and account state,
// asks the model's decision engine, and applies the results.
type Engine struct {
	cfg         *config.Config
	repo        *database.Repository
	portfolios  *database.PortfolioRepository
	tickers     *database.TickerRepository
	leaderboard LeaderboardSource
	exchange    *exchange.Client
	cacheSvc    *cache.CacheService
	executor    *Executor
	llm         decision.Engine
	rules       decision.Engine
	bus         *events.EventBus
	logger      *logging.Logger
}

// NewEngine wires a trading engine over the shared repositories.
// cacheSvc may be nil.
func NewEngine(
	cfg *config.Config,
	repo *database.Repository,
	portfolios *database.PortfolioRepository,
	tickers *database.TickerRepository,
	leaderboard LeaderboardSource,
	exchangeClient *exchange.Client,
	cacheSvc *cache.CacheService,
	executor *Executor,
	llmEngine decision.Engine,
	ruleEngine decision.Engine,
	bus *events.EventBus,
	logger *logging.Logger,
) *Engine {
	return &Engine{
		cfg:         cfg,
		repo:        repo,
		portfolios:  portfolios,
		tickers:     tickers,
		leaderboard: leaderboard,
		exchange:    exchangeClient,
		cacheSvc:    cacheSvc,
		executor:    executor,
		llm:         llmEngine,
		rules:       ruleEngine,
		bus:         bus,
		logger:      logger.WithComponent("trading_engine"),
	}
}

// RunBuyCycle evaluates entry candidates for one model and applies the
// resulting decisions. Per-symbol execution failures are recorded in
// the result but do not abort the cycle.
func (e *Engine) RunBuyCycle(ctx context.Context, model *database.Model) (*CycleResult, error) {
	candidates, contracts, err := e.resolveBuyCandidates(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("resolving candidates: %w", err)
	}
	if len(candidates) == 0 {
		e.logger.Info("No buy candidates", "model_id", model.ID, "symbol_source", model.SymbolSource)
		return &CycleResult{Success: true}, nil
	}

	positions, err := e.portfolios.ListOpenPositions(ctx, model.ID)
	if err != nil {
		return nil, fmt.Errorf("loading positions: %w", err)
	}

	symbols := unionSymbols(candidates, positions)
	market := e.buildMarketState(ctx, symbols, contracts)

	portfolio, err := e.computePortfolio(ctx, model, positions, market)
	if err != nil {
		return nil, err
	}

	engine, err := e.engineFor(model)
	if err != nil {
		return nil, err
	}

	result, err := engine.MakeBuyDecision(ctx, candidates, portfolio, accountInfo(model, portfolio), market, model.SymbolSource, model.ID)
	if err != nil {
		return nil, fmt.Errorf("buy decision: %w", err)
	}
	if result.Skipped {
		return &CycleResult{Success: true}, nil
	}

	executions := e.applyDecisions(ctx, model, result.Decisions, market, portfolio)
	e.finishCycle(ctx, model, "buy", result, executions, market)
	return &CycleResult{Success: true, Executions: executions}, nil
}

// RunSellCycle evaluates every open position for one model and applies
// the resulting exit decisions.
func (e *Engine) RunSellCycle(ctx context.Context, model *database.Model) (*CycleResult, error) {
	positions, err := e.portfolios.ListOpenPositions(ctx, model.ID)
	if err != nil {
		return nil, fmt.Errorf("loading positions: %w", err)
	}
	if len(positions) == 0 {
		return &CycleResult{Success: true}, nil
	}

	contracts, err := e.contractLookup(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("resolving contracts: %w", err)
	}
	market := e.buildMarketState(ctx, unionSymbols(nil, positions), contracts)

	portfolio, err := e.computePortfolio(ctx, model, positions, market)
	if err != nil {
		return nil, err
	}

	engine, err := e.engineFor(model)
	if err != nil {
		return nil, err
	}

	result, err := engine.MakeSellDecision(ctx, portfolio, market, accountInfo(model, portfolio), model.ID)
	if err != nil {
		return nil, fmt.Errorf("sell decision: %w", err)
	}
	if result.Skipped {
		return &CycleResult{Success: true}, nil
	}

	executions := e.applyDecisions(ctx, model, result.Decisions, market, portfolio)
	e.finishCycle(ctx, model, "sell", result, executions, market)
	return &CycleResult{Success: true, Executions: executions}, nil
}

// applyDecisions executes decisions in symbol order, refreshing the
// portfolio after each applied order so later sizing sees the cash
// and slots consumed by earlier ones.
func (e *Engine) applyDecisions(ctx context.Context, model *database.Model, decisions map[string]decision.Decision, market decision.MarketState, portfolio *ledger.Portfolio) []*Execution {
	symbols := make([]string, 0, len(decisions))
	for symbol := range decisions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	executions := make([]*Execution, 0, len(symbols))
	for _, symbol := range symbols {
		exec, err := e.executor.Execute(ctx, model, symbol, decisions[symbol], market, portfolio)
		executions = append(executions, exec)
		if err != nil {
			e.logger.Warn("Execution failed",
				"model_id", model.ID, "symbol", symbol,
				"signal", decisions[symbol].Signal, "error", err.Error())
			continue
		}

		if decisions[symbol].Signal != decision.SignalHold {
			refreshed, rerr := e.refreshPortfolio(ctx, model, market)
			if rerr != nil {
				e.logger.Warn("Portfolio refresh failed", "model_id", model.ID, "error", rerr.Error())
				continue
			}
			*portfolio = *refreshed
		}
	}
	return executions
}

// finishCycle persists the conversation for LLM models and snapshots
// the account value. Failures here are logged, never fatal: the
// orders themselves are already applied.
func (e *Engine) finishCycle(ctx context.Context, model *database.Model, cycleType string, result *decision.Result, executions []*Execution, market decision.MarketState) {
	if model.TradeType == database.TradeTypeAI && result.RawResponse != "" {
		conv := &database.Conversation{
			ID:         uuid.New().String(),
			ModelID:    model.ID,
			UserPrompt: result.Prompt,
			AIResponse: result.RawResponse,
			CotTrace:   result.CotTrace,
			Tokens:     result.Tokens,
			Type:       cycleType,
			Timestamp:  time.Now(),
		}
		if err := e.portfolios.InsertConversation(ctx, conv); err != nil {
			e.logger.Warn("Failed to persist conversation", "model_id", model.ID, "error", err.Error())
		}
	}

	portfolio, err := e.refreshPortfolio(ctx, model, market)
	if err != nil {
		e.logger.Warn("Snapshot skipped, portfolio unavailable", "model_id", model.ID, "error", err.Error())
	} else {
		l := ledger.NewLedger(e.portfolios)
		if err := l.Snapshot(ctx, model, portfolio); err != nil {
			e.logger.Warn("Failed to snapshot account value", "model_id", model.ID, "error", err.Error())
		}
	}

	if e.bus != nil {
		e.bus.PublishDecisionCompleted(model.ID, cycleType, len(executions), result.Tokens)
	}
}

// resolveBuyCandidates returns the entry universe for a model. The
// leaderboard source uses the gainer side of the latest batch in rank
// order; the future source uses the model's configured contracts.
func (e *Engine) resolveBuyCandidates(ctx context.Context, model *database.Model) ([]string, map[string]string, error) {
	if model.SymbolSource == database.SymbolSourceFuture {
		futures, err := e.repo.ListModelFutures(ctx, model.ID)
		if err != nil {
			return nil, nil, err
		}
		symbols := make([]string, 0, len(futures))
		contracts := make(map[string]string, len(futures))
		for _, f := range futures {
			symbols = append(symbols, f.Symbol)
			contracts[f.Symbol] = f.ContractSymbol
		}
		return symbols, contracts, nil
	}

	entries, err := e.leaderboard.Latest(ctx)
	if err != nil {
		if err == database.ErrEmptyLeaderboard {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	var symbols []string
	for _, entry := range entries {
		if entry.Side == database.SideGainer {
			symbols = append(symbols, entry.Symbol)
		}
	}
	return symbols, nil, nil
}

// contractLookup maps a future-source model's base symbols to their
// full contract symbols. Nil for leaderboard-source models, whose
// candidates already are contract symbols.
func (e *Engine) contractLookup(ctx context.Context, model *database.Model) (map[string]string, error) {
	if model.SymbolSource != database.SymbolSourceFuture {
		return nil, nil
	}
	futures, err := e.repo.ListModelFutures(ctx, model.ID)
	if err != nil {
		return nil, err
	}
	contracts := make(map[string]string, len(futures))
	for _, f := range futures {
		contracts[f.Symbol] = f.ContractSymbol
	}
	return contracts, nil
}

// buildMarketState assembles the per-symbol view: last price and 24h
// stats from the ticker store, indicator snapshots from fresh klines.
// The ticker store and the exchange are keyed by contract symbol, so
// base symbols are resolved through the contracts map first. Symbols
// without a stored ticker are omitted.
func (e *Engine) buildMarketState(ctx context.Context, symbols []string, contracts map[string]string) decision.MarketState {
	market := make(decision.MarketState, len(symbols))
	limit := e.cfg.ExchangeConfig.KlineLimit
	if limit <= 0 {
		limit = 120
	}

	for _, symbol := range symbols {
		lookup := marketLookupSymbol(contracts, symbol)

		t, err := e.tickers.GetTicker(ctx, lookup)
		if err != nil {
			e.logger.Warn("Ticker lookup failed", "symbol", lookup, "error", err.Error())
			continue
		}
		if t == nil || t.LastPrice <= 0 {
			e.logger.Warn("No market data for symbol, skipping", "symbol", lookup)
			continue
		}

		state := decision.SymbolState{
			Price:          t.LastPrice,
			ContractSymbol: contracts[symbol],
			DailyVolume:    t.QuoteVolume,
			Change24h:      t.PriceChangePercent,
			Indicators:     make(map[string]indicators.Snapshot, len(marketTimeframes)),
		}
		if e.cacheSvc != nil && e.cacheSvc.IsHealthy() {
			if price, ok := e.cacheSvc.GetSymbolPrice(ctx, lookup); ok && price > 0 {
				state.Price = price
			}
		}
		for _, tf := range marketTimeframes {
			klines, err := e.exchange.Klines(ctx, lookup, tf, limit)
			if err != nil {
				e.logger.Warn("Kline fetch failed", "symbol", lookup, "interval", tf, "error", err.Error())
				continue
			}
			state.Indicators[tf] = indicators.Compute(klines)
		}
		market[symbol] = state
	}
	return market
}

// marketLookupSymbol resolves the store/exchange key for a candidate:
// the mapped contract symbol when one exists, the candidate itself
// otherwise (leaderboard candidates already are contract symbols).
func marketLookupSymbol(contracts map[string]string, symbol string) string {
	if c := contracts[symbol]; c != "" {
		return c
	}
	return symbol
}

func (e *Engine) computePortfolio(ctx context.Context, model *database.Model, positions []*database.Position, market decision.MarketState) (*ledger.Portfolio, error) {
	realized, err := e.portfolios.SumTradePnl(ctx, model.ID)
	if err != nil {
		return nil, fmt.Errorf("summing realized pnl: %w", err)
	}
	return ledger.BuildPortfolio(model, positions, realized, marketPrices(market)), nil
}

func (e *Engine) refreshPortfolio(ctx context.Context, model *database.Model, market decision.MarketState) (*ledger.Portfolio, error) {
	positions, err := e.portfolios.ListOpenPositions(ctx, model.ID)
	if err != nil {
		return nil, err
	}
	return e.computePortfolio(ctx, model, positions, market)
}

func (e *Engine) engineFor(model *database.Model) (decision.Engine, error) {
	switch model.TradeType {
	case database.TradeTypeAI:
		return e.llm, nil
	case database.TradeTypeStrategy:
		return e.rules, nil
	default:
		return nil, fmt.Errorf("unknown trade type: %q", model.TradeType)
	}
}

func accountInfo(model *database.Model, p *ledger.Portfolio) decision.AccountInfo {
	info := decision.AccountInfo{
		InitialCapital: model.InitialCapital,
		CurrentTime:    time.Now().UTC(),
	}
	if model.InitialCapital > 0 {
		info.TotalReturn = (p.TotalValue/model.InitialCapital - 1) * 100
	}
	return info
}

func marketPrices(market decision.MarketState) map[string]float64 {
	prices := make(map[string]float64, len(market))
	for symbol, state := range market {
		prices[symbol] = state.Price
	}
	return prices
}

func unionSymbols(candidates []string, positions []*database.Position) []string {
	seen := make(map[string]bool, len(candidates)+len(positions))
	out := make([]string, 0, len(candidates)+len(positions))
	for _, s := range candidates {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, p := range positions {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			out = append(out, p.Symbol)
		}
	}
	return out
}
