// Package trading orchestrates per-model decision cycles and applies
// the resulting orders against the paper ledger.
package trading

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"perps-control-plane/internal/database"
	"perps-control-plane/internal/decision"
	"perps-control-plane/internal/events"
	"perps-control-plane/internal/ledger"
	"perps-control-plane/internal/logging"
)

// ErrInsufficientFunds is surfaced verbatim in the execution result
// when margin plus fee would exceed available cash.
var ErrInsufficientFunds = errors.New("可用资金不足（含手续费）")

// ErrMaxPositions rejects entries into new symbols at the slot limit.
var ErrMaxPositions = errors.New("maximum position slots in use")

// ErrNoPosition rejects exits without a matching open position.
var ErrNoPosition = errors.New("no open position for symbol")

// Execution is the per-symbol outcome of applying one decision.
type Execution struct {
	Symbol   string  `json:"symbol"`
	Signal   string  `json:"signal"`
	Quantity float64 `json:"quantity,omitempty"`
	Price    float64 `json:"price,omitempty"`
	Pnl      float64 `json:"pnl,omitempty"`
	Fee      float64 `json:"fee,omitempty"`
	Message  string  `json:"message,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Executor applies decisions to positions and the trade log.
type Executor struct {
	repo    *database.PortfolioRepository
	bus     *events.EventBus
	feeRate float64
	logger  *logging.Logger
}

// NewExecutor creates an order executor with the process-wide fee rate.
func NewExecutor(repo *database.PortfolioRepository, bus *events.EventBus, feeRate float64, logger *logging.Logger) *Executor {
	if feeRate <= 0 {
		feeRate = 0.001
	}
	return &Executor{
		repo:    repo,
		bus:     bus,
		feeRate: feeRate,
		logger:  logger.WithComponent("executor"),
	}
}

// Execute applies one decision for one symbol. The returned Execution
// always describes the outcome; the error mirrors Execution.Error for
// callers that branch on failure.
func (x *Executor) Execute(ctx context.Context, model *database.Model, symbol string, d decision.Decision, market decision.MarketState, portfolio *ledger.Portfolio) (*Execution, error) {
	switch d.Signal {
	case decision.SignalHold:
		return &Execution{Symbol: symbol, Signal: d.Signal, Message: "hold, no action taken"}, nil
	case decision.SignalBuyToEnter, decision.SignalSellToEnter:
		return x.executeEntry(ctx, model, symbol, d, market, portfolio)
	case decision.SignalClosePosition, decision.SignalStopLoss, decision.SignalTakeProfit:
		return x.executeExit(ctx, model, symbol, d, market, portfolio)
	default:
		err := fmt.Errorf("unknown signal: %q", d.Signal)
		return &Execution{Symbol: symbol, Signal: d.Signal, Error: err.Error()}, err
	}
}

// entryPlan is the sized and costed order for an entry signal.
type entryPlan struct {
	side     string
	quantity float64
	leverage float64
	margin   float64
	fee      float64
}

// planEntry sizes an entry against available cash. An explicit
// decision quantity is honored whenever leveraged affordability allows
// it, so an over-budget request fails the margin check loudly instead
// of being silently shrunk. Absent or unaffordable quantities fall
// back to the risk-budget sizing.
func planEntry(signal string, d decision.Decision, modelLeverage, price, cash, feeRate float64) (entryPlan, error) {
	side := database.PositionSideLong
	if signal == decision.SignalSellToEnter {
		side = database.PositionSideShort
	}

	if price <= 0 {
		return entryPlan{}, fmt.Errorf("no valid price for entry")
	}

	leverage := modelLeverage
	if leverage <= 0 {
		leverage = d.Leverage
	}
	if leverage < 1 {
		leverage = 1
	}

	qty := d.Quantity
	affordableLeveraged := cash * leverage / (price * (1 + feeRate))
	if qty <= 0 || qty > affordableLeveraged {
		maxAffordable := cash / (price * (1 + feeRate))
		riskQty := cash * clamp(d.RiskBudgetPct/100, 0.01, 0.05) / (price * (1 + feeRate))
		if riskQty > 0 {
			qty = math.Min(maxAffordable, riskQty)
		} else {
			qty = maxAffordable
		}
	}
	qty = roundDownQty(qty)
	if qty <= 0 {
		return entryPlan{}, fmt.Errorf("computed quantity is zero")
	}

	margin := qty * price / leverage
	fee := qty * price * feeRate
	if margin+fee > cash {
		return entryPlan{}, ErrInsufficientFunds
	}

	return entryPlan{side: side, quantity: qty, leverage: leverage, margin: margin, fee: fee}, nil
}

func (x *Executor) executeEntry(ctx context.Context, model *database.Model, symbol string, d decision.Decision, market decision.MarketState, portfolio *ledger.Portfolio) (*Execution, error) {
	if !holdsSymbol(portfolio, symbol) && len(portfolio.Positions) >= model.MaxPositions {
		return failed(symbol, d.Signal, ErrMaxPositions)
	}

	price := market[symbol].Price
	plan, err := planEntry(d.Signal, d, model.Leverage, price, portfolio.Cash, x.feeRate)
	if err != nil {
		return failed(symbol, d.Signal, err)
	}

	existing, err := x.repo.GetPosition(ctx, model.ID, symbol, plan.side)
	if err != nil {
		return failed(symbol, d.Signal, err)
	}

	position := mergePosition(existing, model.ID, symbol, plan, price)
	if err := x.repo.UpsertPosition(ctx, position); err != nil {
		return failed(symbol, d.Signal, err)
	}

	trade := &database.Trade{
		ID:        uuid.New().String(),
		ModelID:   model.ID,
		Symbol:    symbol,
		Signal:    d.Signal,
		Quantity:  plan.quantity,
		Price:     price,
		Leverage:  plan.leverage,
		Side:      plan.side,
		Fee:       plan.fee,
		Timestamp: time.Now(),
	}
	if err := x.repo.InsertTrade(ctx, trade); err != nil {
		return failed(symbol, d.Signal, err)
	}

	if x.bus != nil {
		x.bus.PublishPositionOpened(model.ID, symbol, plan.side, price, plan.quantity, plan.leverage)
	}

	return &Execution{
		Symbol:   symbol,
		Signal:   d.Signal,
		Quantity: plan.quantity,
		Price:    price,
		Fee:      plan.fee,
		Message: fmt.Sprintf("opened %s %s qty=%.6f @ %.4f, margin=%.4f, fee=%.4f",
			plan.side, symbol, plan.quantity, price, plan.margin, plan.fee),
	}, nil
}

// exitPlan is the costed close-out of an open position.
type exitPlan struct {
	quantity float64
	grossPnl float64
	fee      float64
	netPnl   float64
}

// planExit computes the realized P&L of closing a position at the
// current price. Direction comes from the position side.
func planExit(pos *database.Position, currentPrice, feeRate float64) (exitPlan, error) {
	if currentPrice <= 0 {
		return exitPlan{}, fmt.Errorf("no valid price for exit")
	}

	qty := math.Abs(pos.PositionAmt)
	var gross float64
	if pos.PositionSide == database.PositionSideShort {
		gross = (pos.AvgPrice - currentPrice) * qty
	} else {
		gross = (currentPrice - pos.AvgPrice) * qty
	}

	fee := qty * currentPrice * feeRate
	return exitPlan{quantity: qty, grossPnl: gross, fee: fee, netPnl: gross - fee}, nil
}

// executeExit closes the position for (symbol, side). A hedged symbol
// has one row per side; all of them are closed, each with its own
// trade row, so no side is picked arbitrarily.
func (x *Executor) executeExit(ctx context.Context, model *database.Model, symbol string, d decision.Decision, market decision.MarketState, portfolio *ledger.Portfolio) (*Execution, error) {
	positions := findPositions(portfolio, symbol)
	if len(positions) == 0 {
		return failed(symbol, d.Signal, ErrNoPosition)
	}

	price := market[symbol].Price
	exec := &Execution{Symbol: symbol, Signal: d.Signal, Price: price}

	for _, pos := range positions {
		plan, err := planExit(pos, price, x.feeRate)
		if err != nil {
			return failed(symbol, d.Signal, err)
		}

		if err := x.repo.DeletePosition(ctx, model.ID, symbol, pos.PositionSide); err != nil {
			return failed(symbol, d.Signal, err)
		}

		trade := &database.Trade{
			ID:        uuid.New().String(),
			ModelID:   model.ID,
			Symbol:    symbol,
			Signal:    d.Signal,
			Quantity:  plan.quantity,
			Price:     price,
			Leverage:  pos.Leverage,
			Side:      pos.PositionSide,
			Pnl:       plan.netPnl,
			Fee:       plan.fee,
			Timestamp: time.Now(),
		}
		if err := x.repo.InsertTrade(ctx, trade); err != nil {
			return failed(symbol, d.Signal, err)
		}

		if x.bus != nil {
			x.bus.PublishPositionClosed(model.ID, symbol, pos.PositionSide, price, plan.quantity, plan.netPnl)
		}

		exec.Quantity += plan.quantity
		exec.Pnl += plan.netPnl
		exec.Fee += plan.fee
	}

	if err := x.repo.PruneModelFutureIfUnheld(ctx, model.ID, symbol); err != nil {
		x.logger.Warn("Failed to prune model future", "model_id", model.ID, "symbol", symbol, "error", err.Error())
	}

	exec.Message = fmt.Sprintf("closed %s qty=%.6f @ %.4f, pnl=%.4f, fee=%.4f",
		symbol, exec.Quantity, price, exec.Pnl, exec.Fee)
	return exec, nil
}

// mergePosition folds an entry into an existing position by
// volume-weighted average price, or creates a fresh one.
func mergePosition(existing *database.Position, modelID, symbol string, plan entryPlan, price float64) *database.Position {
	now := time.Now()

	if existing == nil {
		amt := plan.quantity
		if plan.side == database.PositionSideShort {
			amt = -plan.quantity
		}
		return &database.Position{
			ID:            uuid.New().String(),
			ModelID:       modelID,
			Symbol:        symbol,
			PositionSide:  plan.side,
			PositionAmt:   amt,
			AvgPrice:      price,
			Leverage:      plan.leverage,
			InitialMargin: plan.margin,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	oldQty := math.Abs(existing.PositionAmt)
	totalQty := oldQty + plan.quantity
	existing.AvgPrice = (oldQty*existing.AvgPrice + plan.quantity*price) / totalQty
	if plan.side == database.PositionSideShort {
		existing.PositionAmt = -totalQty
	} else {
		existing.PositionAmt = totalQty
	}
	existing.Leverage = plan.leverage
	existing.InitialMargin += plan.margin
	existing.UpdatedAt = now
	return existing
}

func holdsSymbol(portfolio *ledger.Portfolio, symbol string) bool {
	return len(findPositions(portfolio, symbol)) > 0
}

// findPositions returns every open position row for the symbol; a
// hedged symbol yields one row per side.
func findPositions(portfolio *ledger.Portfolio, symbol string) []*database.Position {
	var out []*database.Position
	for _, pos := range portfolio.Positions {
		if pos.Symbol == symbol {
			out = append(out, pos)
		}
	}
	return out
}

func failed(symbol, signal string, err error) (*Execution, error) {
	return &Execution{Symbol: symbol, Signal: signal, Error: err.Error()}, err
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// roundDownQty floors a quantity at six decimals. Rounding is always
// down, never up.
func roundDownQty(qty float64) float64 {
	return math.Floor(qty*1e6) / 1e6
}
