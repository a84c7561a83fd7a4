package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"perps-control-plane/internal/database"
	"perps-control-plane/internal/ledger"
	"perps-control-plane/internal/logging"
)

// LLMEngine drives decisions through a model's configured LLM provider.
type LLMEngine struct {
	client      *LLMClient
	repo        *database.Repository
	portfolio   *database.PortfolioRepository
	promptLimit int
	logger      *logging.Logger
}

// NewLLMEngine creates the LLM decision engine. promptLimit truncates
// the candidate list before prompt construction.
func NewLLMEngine(client *LLMClient, repo *database.Repository, portfolio *database.PortfolioRepository, promptLimit int, logger *logging.Logger) *LLMEngine {
	if promptLimit <= 0 {
		promptLimit = 5
	}
	return &LLMEngine{
		client:      client,
		repo:        repo,
		portfolio:   portfolio,
		promptLimit: promptLimit,
		logger:      logger.WithComponent("llm_engine"),
	}
}

// MakeBuyDecision asks the model's provider to pick entries among the
// candidate symbols.
func (e *LLMEngine) MakeBuyDecision(ctx context.Context, candidates []string, portfolio *ledger.Portfolio, account AccountInfo, market MarketState, symbolSource, modelID string) (*Result, error) {
	model, provider, err := e.resolveProvider(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		e.logger.Warn("Model has no provider configured, skipping buy decision", "model_id", modelID)
		return &Result{Decisions: map[string]Decision{}, Skipped: true}, nil
	}

	if len(candidates) > e.promptLimit {
		candidates = candidates[:e.promptLimit]
	}
	if len(candidates) == 0 {
		return &Result{Decisions: map[string]Decision{}, Skipped: true}, nil
	}

	prompts, err := e.repo.GetModelPrompt(ctx, modelID)
	if err != nil {
		return nil, err
	}

	prompt := buildBuyPrompt(candidates, portfolio, account, market, symbolSource, prompts.BuyPrompt, model.MaxPositions)
	return e.complete(ctx, model, provider, prompt, "buy")
}

// MakeSellDecision asks the model's provider to manage its open
// positions.
func (e *LLMEngine) MakeSellDecision(ctx context.Context, portfolio *ledger.Portfolio, market MarketState, account AccountInfo, modelID string) (*Result, error) {
	model, provider, err := e.resolveProvider(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		e.logger.Warn("Model has no provider configured, skipping sell decision", "model_id", modelID)
		return &Result{Decisions: map[string]Decision{}, Skipped: true}, nil
	}

	if len(portfolio.Positions) == 0 {
		return &Result{Decisions: map[string]Decision{}, Skipped: true}, nil
	}

	prompts, err := e.repo.GetModelPrompt(ctx, modelID)
	if err != nil {
		return nil, err
	}

	prompt := buildSellPrompt(portfolio, account, market, prompts.SellPrompt)
	return e.complete(ctx, model, provider, prompt, "sell")
}

func (e *LLMEngine) resolveProvider(ctx context.Context, modelID string) (*database.Model, *database.Provider, error) {
	model, err := e.repo.GetModel(ctx, modelID)
	if err != nil {
		return nil, nil, err
	}
	if model.ProviderID == nil || model.ModelName == nil {
		return model, nil, nil
	}

	provider, err := e.repo.GetProvider(ctx, *model.ProviderID)
	if err != nil {
		return nil, nil, err
	}
	return model, provider, nil
}

// complete runs the HTTP round trip and parses the response. A failed
// call is recorded as an API-error conversation row before the error
// propagates to the caller.
func (e *LLMEngine) complete(ctx context.Context, model *database.Model, provider *database.Provider, prompt, cycleType string) (*Result, error) {
	raw, tokens, err := e.client.Complete(ctx, provider, *model.ModelName, prompt)
	if err != nil {
		convErr := e.portfolio.InsertConversation(ctx, &database.Conversation{
			ID:         uuid.New().String(),
			ModelID:    model.ID,
			UserPrompt: prompt,
			AIResponse: fmt.Sprintf("API ERROR: %v", err),
			Type:       cycleType,
			Timestamp:  time.Now(),
		})
		if convErr != nil {
			e.logger.Error("Failed to record API-error conversation", "model_id", model.ID, "error", convErr.Error())
		}
		return nil, err
	}

	decisions, cot := ParseResponse(raw, e.logger)
	return &Result{
		Decisions:   decisions,
		Prompt:      prompt,
		RawResponse: raw,
		CotTrace:    cot,
		Tokens:      tokens,
	}, nil
}

func buildBuyPrompt(candidates []string, portfolio *ledger.Portfolio, account AccountInfo, market MarketState, symbolSource, buyPrompt string, maxPositions int) string {
	var b strings.Builder

	b.WriteString("You manage a USDS-margined perpetual futures account. ")
	if symbolSource == database.SymbolSourceLeaderboard {
		b.WriteString("Pick entry opportunities from the live movers list below.\n\n")
	} else {
		b.WriteString("Pick entry opportunities from the configured futures universe below.\n\n")
	}

	b.WriteString("Candidates:\n")
	for _, symbol := range candidates {
		state := market[symbol]
		fmt.Fprintf(&b, "- %s: price=%.6f, 24h_quote_volume=%.2f, 24h_change=%.2f%%\n",
			symbol, state.Price, state.DailyVolume, state.Change24h)
		if len(state.Indicators) > 0 {
			if data, err := json.Marshal(state.Indicators); err == nil {
				fmt.Fprintf(&b, "  indicators: %s\n", data)
			}
		}
	}

	fmt.Fprintf(&b, "\nAccount: cash=%.2f, occupied_slots=%d, max_slots=%d, initial_capital=%.2f, total_return=%.2f%%, time=%s\n",
		portfolio.Cash, len(portfolio.Positions), maxPositions, account.InitialCapital, account.TotalReturn,
		account.CurrentTime.Format(time.RFC3339))

	if buyPrompt != "" {
		b.WriteString("\n")
		b.WriteString(buyPrompt)
		b.WriteString("\n")
	}

	b.WriteString(`
Respond with JSON only, no prose:
{
  "decisions": {
    "<symbol>": {
      "signal": "buy_to_enter" | "sell_to_enter" | "hold",
      "quantity": <number>,
      "leverage": <number>,
      "confidence": <0-1>,
      "risk_budget_pct": <1-5>,
      "profit_target": <number>,
      "stop_loss": <number>,
      "justification": "<short reason>"
    }
  },
  "cot_trace": ["<step>", ...]
}
`)
	return b.String()
}

func buildSellPrompt(portfolio *ledger.Portfolio, account AccountInfo, market MarketState, sellPrompt string) string {
	var b strings.Builder

	b.WriteString("You manage the open positions of a USDS-margined perpetual futures account. Decide per position whether to close, stop out, take profit, or hold.\n\n")

	b.WriteString("Open positions:\n")
	for _, pos := range portfolio.Positions {
		state := market[pos.Symbol]
		pnl, pnlPct := positionPnl(pos, state.Price)
		fmt.Fprintf(&b, "- %s %s: amount=%.6f, avg_price=%.6f, current_price=%.6f, leverage=%.0fx, pnl=%.4f (%.2f%%)\n",
			pos.Symbol, pos.PositionSide, math.Abs(pos.PositionAmt), pos.AvgPrice, state.Price, pos.Leverage, pnl, pnlPct)
		if len(state.Indicators) > 0 {
			if data, err := json.Marshal(state.Indicators); err == nil {
				fmt.Fprintf(&b, "  indicators: %s\n", data)
			}
		}
	}

	fmt.Fprintf(&b, "\nAccount: cash=%.2f, initial_capital=%.2f, total_return=%.2f%%, time=%s\n",
		portfolio.Cash, account.InitialCapital, account.TotalReturn,
		account.CurrentTime.Format(time.RFC3339))

	if sellPrompt != "" {
		b.WriteString("\n")
		b.WriteString(sellPrompt)
		b.WriteString("\n")
	}

	b.WriteString(`
Respond with JSON only, no prose:
{
  "decisions": {
    "<symbol>": {
      "signal": "close_position" | "stop_loss" | "take_profit" | "hold",
      "quantity": <number>,
      "price": <number>,
      "stop_price": <number>,
      "confidence": <0-1>,
      "justification": "<short reason>"
    }
  },
  "cot_trace": ["<step>", ...]
}
`)
	return b.String()
}

// positionPnl formats current P&L for prompt display, preferring the
// stored unrealized mark and otherwise deriving it from the average
// versus current price with the side's sign.
func positionPnl(pos *database.Position, currentPrice float64) (pnl, pnlPct float64) {
	amt := math.Abs(pos.PositionAmt)

	if pos.UnrealizedProfit != 0 {
		pnl = pos.UnrealizedProfit
	} else if currentPrice > 0 {
		if pos.PositionSide == database.PositionSideShort {
			pnl = (pos.AvgPrice - currentPrice) * amt
		} else {
			pnl = (currentPrice - pos.AvgPrice) * amt
		}
	}

	notional := amt * pos.AvgPrice
	if notional > 0 {
		pnlPct = pnl / notional * 100
	}
	return pnl, pnlPct
}
