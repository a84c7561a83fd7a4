package trading

import (
	"context"
	"sync"
	"time"

	"perps-control-plane/config"
	"perps-control-plane/internal/database"
	"perps-control-plane/internal/events"
	"perps-control-plane/internal/logging"
)

// Orchestrator drives the buy and sell loops across all registered
// models. The two loops tick independently; models are processed
// sequentially in registration order within each tick.
type Orchestrator struct {
	cfg    *config.Config
	repo   *database.Repository
	engine *Engine
	bus    *events.EventBus
	logger *logging.Logger

	mu        sync.Mutex
	isRunning bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewOrchestrator creates the trading orchestrator.
func NewOrchestrator(cfg *config.Config, repo *database.Repository, engine *Engine, bus *events.EventBus, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		repo:     repo,
		engine:   engine,
		bus:      bus,
		logger:   logger.WithComponent("orchestrator"),
		stopChan: make(chan struct{}),
	}
}

// Start launches the buy and sell loops.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.isRunning {
		o.mu.Unlock()
		return
	}
	o.isRunning = true
	o.mu.Unlock()

	buyInterval := o.cfg.TradingConfig.BuyInterval()
	sellInterval := o.cfg.TradingConfig.SellInterval()
	o.logger.Info("Starting trading orchestrator",
		"buy_interval", buyInterval.String(),
		"sell_interval", sellInterval.String())

	o.wg.Add(2)
	go o.loop(ctx, "buy", buyInterval)
	go o.loop(ctx, "sell", sellInterval)
}

// Stop signals both loops and waits for them to drain.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.isRunning {
		o.mu.Unlock()
		return
	}
	o.isRunning = false
	close(o.stopChan)
	o.mu.Unlock()

	o.wg.Wait()
	o.logger.Info("Trading orchestrator stopped")
}

// IsRunning reports whether the loops are active.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.isRunning
}

// loop ticks at the configured cadence and runs one cycle across all
// models. A panic or listing failure sleeps 60s and the loop resumes.
func (o *Orchestrator) loop(ctx context.Context, cycleType string, interval time.Duration) {
	defer o.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopChan:
			return
		case <-ticker.C:
			o.runCycleSafely(ctx, cycleType)
		}
	}
}

func (o *Orchestrator) runCycleSafely(ctx context.Context, cycleType string) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Cycle panicked, backing off", "cycle", cycleType, "panic", r)
			if o.bus != nil {
				o.bus.PublishError("orchestrator", "cycle panic", nil)
			}
			select {
			case <-ctx.Done():
			case <-o.stopChan:
			case <-time.After(time.Minute):
			}
		}
	}()

	models, err := o.repo.ListModels(ctx)
	if err != nil {
		o.logger.Error("Failed to list models, backing off", "cycle", cycleType, "error", err.Error())
		select {
		case <-ctx.Done():
		case <-o.stopChan:
		case <-time.After(time.Minute):
		}
		return
	}

	for _, model := range models {
		select {
		case <-ctx.Done():
			return
		case <-o.stopChan:
			return
		default:
		}
		o.runModelCycle(ctx, model, cycleType)
	}
}

// runModelCycle runs one cycle for one model. Errors are logged and
// swallowed so one model cannot stall the rest of the fleet.
func (o *Orchestrator) runModelCycle(ctx context.Context, model *database.Model, cycleType string) {
	if cycleType == "buy" && !model.AutoBuyEnabled {
		return
	}
	if cycleType == "sell" && !model.AutoSellEnabled {
		return
	}

	start := time.Now()
	var (
		result *CycleResult
		err    error
	)
	if cycleType == "buy" {
		result, err = o.engine.RunBuyCycle(ctx, model)
	} else {
		result, err = o.engine.RunSellCycle(ctx, model)
	}
	if err != nil {
		o.logger.Error("Model cycle failed",
			"model_id", model.ID, "model", model.Name,
			"cycle", cycleType, "error", err.Error())
		return
	}

	o.logger.Info("Model cycle completed",
		"model_id", model.ID, "model", model.Name,
		"cycle", cycleType,
		"executions", len(result.Executions),
		"duration", time.Since(start).String())
}
