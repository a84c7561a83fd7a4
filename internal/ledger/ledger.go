// Package ledger derives per-model portfolio state from the immutable
// trade log and the open position set.
package ledger

import (
	"context"
	"math"
	"time"

	"perps-control-plane/internal/database"
)

// Portfolio is the point-in-time accounting view of one model.
type Portfolio struct {
	ModelID        string               `json:"model_id"`
	InitialCapital float64              `json:"initial_capital"`
	Cash           float64              `json:"cash"`
	RealizedPnl    float64              `json:"realized_pnl"`
	UnrealizedPnl  float64              `json:"unrealized_pnl"`
	MarginUsed     float64              `json:"margin_used"`
	PositionsValue float64              `json:"positions_value"`
	TotalValue     float64              `json:"total_value"`
	Positions      []*database.Position `json:"positions"`
}

// Ledger computes portfolios and writes account snapshots.
type Ledger struct {
	repo *database.PortfolioRepository
}

// NewLedger creates a ledger over the portfolio repository.
func NewLedger(repo *database.PortfolioRepository) *Ledger {
	return &Ledger{repo: repo}
}

// ComputePortfolio loads the model's open positions and realized P&L
// and derives the full accounting view with the given current prices.
func (l *Ledger) ComputePortfolio(ctx context.Context, model *database.Model, currentPrices map[string]float64) (*Portfolio, error) {
	positions, err := l.repo.ListOpenPositions(ctx, model.ID)
	if err != nil {
		return nil, err
	}

	realized, err := l.repo.SumTradePnl(ctx, model.ID)
	if err != nil {
		return nil, err
	}

	return BuildPortfolio(model, positions, realized, currentPrices), nil
}

// BuildPortfolio derives the accounting identities from already-loaded
// inputs. Cash is never stored: it is always
// initial_capital + realized_pnl - margin_used.
func BuildPortfolio(model *database.Model, positions []*database.Position, realizedPnl float64, currentPrices map[string]float64) *Portfolio {
	p := &Portfolio{
		ModelID:        model.ID,
		InitialCapital: model.InitialCapital,
		RealizedPnl:    realizedPnl,
		Positions:      positions,
	}

	for _, pos := range positions {
		amt := math.Abs(pos.PositionAmt)

		margin := pos.InitialMargin
		if margin == 0 && pos.Leverage > 0 {
			margin = amt * pos.AvgPrice / pos.Leverage
		}
		p.MarginUsed += margin
		p.PositionsValue += amt * pos.AvgPrice
		p.UnrealizedPnl += positionUnrealized(pos, currentPrices)
	}

	p.Cash = model.InitialCapital + realizedPnl - p.MarginUsed
	p.TotalValue = model.InitialCapital + realizedPnl + p.UnrealizedPnl
	return p
}

// positionUnrealized prefers the stored mark when nonzero and falls
// back to deriving from the current price, respecting position side.
func positionUnrealized(pos *database.Position, currentPrices map[string]float64) float64 {
	if pos.UnrealizedProfit != 0 {
		return pos.UnrealizedProfit
	}

	current, ok := currentPrices[pos.Symbol]
	if !ok || current <= 0 {
		return 0
	}

	amt := math.Abs(pos.PositionAmt)
	if pos.PositionSide == database.PositionSideShort {
		return (pos.AvgPrice - current) * amt
	}
	return (current - pos.AvgPrice) * amt
}

// Snapshot persists the current account value and appends a history row.
func (l *Ledger) Snapshot(ctx context.Context, model *database.Model, p *Portfolio) error {
	return l.repo.SaveAccountValue(ctx, &database.AccountValue{
		ModelID:            model.ID,
		Balance:            p.TotalValue,
		AvailableBalance:   p.Cash,
		CrossWalletBalance: p.TotalValue - p.UnrealizedPnl,
		CrossUnPnl:         p.UnrealizedPnl,
		AccountAlias:       model.AccountAlias,
		Timestamp:          time.Now(),
	})
}
