package decision

import (
	"context"
	"time"

	"github.com/google/uuid"

	"perps-control-plane/internal/database"
	"perps-control-plane/internal/ledger"
	"perps-control-plane/internal/logging"
)

// StrategyEngine drives decisions through in-process rules bound to a
// model. Rules run in (priority DESC, created_at ASC) order; when two
// rules target the same symbol, the first decision wins.
type StrategyEngine struct {
	repo      *database.Repository
	portfolio *database.PortfolioRepository
	logger    *logging.Logger
}

// NewStrategyEngine creates the rule-based decision engine.
func NewStrategyEngine(repo *database.Repository, portfolio *database.PortfolioRepository, logger *logging.Logger) *StrategyEngine {
	return &StrategyEngine{
		repo:      repo,
		portfolio: portfolio,
		logger:    logger.WithComponent("strategy_engine"),
	}
}

// MakeBuyDecision evaluates the model's buy strategies over the
// candidate symbols.
func (e *StrategyEngine) MakeBuyDecision(ctx context.Context, candidates []string, portfolio *ledger.Portfolio, account AccountInfo, market MarketState, symbolSource, modelID string) (*Result, error) {
	input := RuleInput{
		Candidates: candidates,
		Portfolio:  portfolioView(portfolio),
		Account:    account,
		Market:     market,
	}
	return e.evaluate(ctx, modelID, "buy", input)
}

// MakeSellDecision evaluates the model's sell strategies over its open
// positions.
func (e *StrategyEngine) MakeSellDecision(ctx context.Context, portfolio *ledger.Portfolio, market MarketState, account AccountInfo, modelID string) (*Result, error) {
	input := RuleInput{
		Positions: portfolio.Positions,
		Portfolio: portfolioView(portfolio),
		Account:   account,
		Market:    market,
	}
	return e.evaluate(ctx, modelID, "sell", input)
}

func (e *StrategyEngine) evaluate(ctx context.Context, modelID, strategyType string, input RuleInput) (*Result, error) {
	strategies, err := e.repo.ListModelStrategies(ctx, modelID, strategyType)
	if err != nil {
		return nil, err
	}
	if len(strategies) == 0 {
		return &Result{Decisions: map[string]Decision{}, Skipped: true}, nil
	}

	ordered := evaluateStrategies(strategies, input, e.logger)
	decisions := dedupeBySymbol(ordered)

	if err := e.persistAudit(ctx, modelID, strategyType, ordered); err != nil {
		e.logger.Error("Failed to persist strategy decisions", "model_id", modelID, "error", err.Error())
	}

	return &Result{Decisions: decisions}, nil
}

// evaluateStrategies runs each strategy's rule and concatenates the
// outputs in strategy order. Unknown strategy codes are skipped with a
// warning so one misconfigured binding cannot sink the cycle.
func evaluateStrategies(strategies []*database.ModelStrategyRow, input RuleInput, logger *logging.Logger) []ruleOutput {
	var outputs []ruleOutput
	for _, s := range strategies {
		fn, ok := LookupRule(s.StrategyCode)
		if !ok {
			if logger != nil {
				logger.Warn("Unknown strategy code, skipping", "strategy", s.Name, "code", s.StrategyCode)
			}
			continue
		}

		for _, d := range fn(input) {
			if !ValidSignal(d.Decision.Signal) {
				continue
			}
			outputs = append(outputs, ruleOutput{
				StrategyName: s.Name,
				StrategyType: s.Type,
				Symbol:       d.Symbol,
				Decision:     d.Decision,
			})
		}
	}
	return outputs
}

type ruleOutput struct {
	StrategyName string
	StrategyType string
	Symbol       string
	Decision     Decision
}

// dedupeBySymbol keeps the first decision per symbol, preserving the
// priority ordering of the concatenated rule outputs.
func dedupeBySymbol(outputs []ruleOutput) map[string]Decision {
	decisions := make(map[string]Decision, len(outputs))
	for _, out := range outputs {
		if _, exists := decisions[out.Symbol]; exists {
			continue
		}
		decisions[out.Symbol] = out.Decision
	}
	return decisions
}

// persistAudit batch-inserts every emitted decision, including the
// ones later dropped by symbol dedupe: the audit trail records what
// each strategy said.
func (e *StrategyEngine) persistAudit(ctx context.Context, modelID, strategyType string, outputs []ruleOutput) error {
	if len(outputs) == 0 {
		return nil
	}

	now := time.Now()
	rows := make([]*database.StrategyDecision, 0, len(outputs))
	for _, out := range outputs {
		rows = append(rows, &database.StrategyDecision{
			ID:            uuid.New().String(),
			ModelID:       modelID,
			StrategyName:  out.StrategyName,
			StrategyType:  strategyType,
			Signal:        out.Decision.Signal,
			Symbol:        out.Symbol,
			Quantity:      out.Decision.Quantity,
			Leverage:      out.Decision.Leverage,
			Price:         out.Decision.Price,
			StopPrice:     out.Decision.StopPrice,
			Justification: out.Decision.Justification,
			Timestamp:     now,
		})
	}
	return e.portfolio.InsertStrategyDecisions(ctx, rows)
}

func portfolioView(p *ledger.Portfolio) PortfolioView {
	return PortfolioView{
		Cash:          p.Cash,
		MarginUsed:    p.MarginUsed,
		RealizedPnl:   p.RealizedPnl,
		UnrealizedPnl: p.UnrealizedPnl,
		PositionCount: len(p.Positions),
	}
}
