package ingest

import (
	"context"
	"sync"
	"time"

	"perps-control-plane/config"
	"perps-control-plane/internal/database"
	"perps-control-plane/internal/events"
	"perps-control-plane/internal/exchange"
	"perps-control-plane/internal/logging"
)

// PriceRefresher anchors the once-per-day reference open price. It is
// the sole writer of the open_price and update_price_date columns.
type PriceRefresher struct {
	client    *exchange.Client
	tickers   *database.TickerRepository
	bus       *events.EventBus
	interval  time.Duration
	batchSize int
	logger    *logging.Logger

	mu        sync.Mutex
	isRunning bool
	stopChan  chan struct{}
	doneChan  chan struct{}
}

// NewPriceRefresher creates the daily open-price worker.
func NewPriceRefresher(cfg *config.Config, client *exchange.Client, tickers *database.TickerRepository, bus *events.EventBus, logger *logging.Logger) *PriceRefresher {
	interval := time.Duration(cfg.PriceRefreshConfig.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	batchSize := cfg.PriceRefreshConfig.MaxPerMinute
	if batchSize <= 0 {
		batchSize = 1000
	}

	return &PriceRefresher{
		client:    client,
		tickers:   tickers,
		bus:       bus,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger.WithComponent("price_refresh"),
	}
}

// Start launches the periodic refresh loop. A refresh pass runs
// immediately on start.
func (pr *PriceRefresher) Start(ctx context.Context) {
	pr.mu.Lock()
	if pr.isRunning {
		pr.mu.Unlock()
		return
	}
	pr.isRunning = true
	pr.stopChan = make(chan struct{})
	pr.doneChan = make(chan struct{})
	pr.mu.Unlock()

	go pr.run(ctx)
	pr.logger.Info("Price refresher started", "interval", pr.interval.String(), "batch_size", pr.batchSize)
}

// Stop signals the loop and waits for the in-flight pass.
func (pr *PriceRefresher) Stop() {
	pr.mu.Lock()
	if !pr.isRunning {
		pr.mu.Unlock()
		return
	}
	pr.isRunning = false
	close(pr.stopChan)
	done := pr.doneChan
	pr.mu.Unlock()

	<-done
	pr.logger.Info("Price refresher stopped")
}

func (pr *PriceRefresher) run(ctx context.Context) {
	defer close(pr.doneChan)

	ticker := time.NewTicker(pr.interval)
	defer ticker.Stop()

	pr.refreshOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-pr.stopChan:
			return
		case <-ticker.C:
			pr.refreshOnce(ctx)
		}
	}
}

// refreshOnce refreshes every stale symbol, pacing kline fetches in
// batches so the exchange's request-weight limit is never exceeded.
func (pr *PriceRefresher) refreshOnce(ctx context.Context) {
	today := midnight(time.Now())

	symbols, err := pr.tickers.ListStaleSymbols(ctx, today)
	if err != nil {
		pr.logger.Error("Failed to list stale symbols", "error", err.Error())
		return
	}
	if len(symbols) == 0 {
		return
	}

	pr.logger.Info("Refreshing open prices", "symbols", len(symbols))

	refreshed := 0
	for start := 0; start < len(symbols); start += pr.batchSize {
		end := start + pr.batchSize
		if end > len(symbols) {
			end = len(symbols)
		}

		refreshed += pr.refreshBatch(ctx, symbols[start:end], today)

		if end < len(symbols) {
			select {
			case <-ctx.Done():
				return
			case <-pr.stopChan:
				return
			case <-time.After(time.Minute):
			}
		}
	}

	pr.logger.Info("Open price refresh complete", "refreshed", refreshed, "total", len(symbols))
	if pr.bus != nil && refreshed > 0 {
		pr.bus.Publish(events.Event{
			Type: events.EventOpenPriceRefreshed,
			Data: map[string]interface{}{"refreshed": refreshed},
		})
	}
}

func (pr *PriceRefresher) refreshBatch(ctx context.Context, symbols []string, today time.Time) int {
	var wg sync.WaitGroup
	var mu sync.Mutex
	refreshed := 0

	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			if err := pr.refreshSymbol(ctx, symbol, today); err != nil {
				pr.logger.Warn("Failed to refresh open price", "symbol", symbol, "error", err.Error())
				return
			}
			mu.Lock()
			refreshed++
			mu.Unlock()
		}(symbol)
	}

	wg.Wait()
	return refreshed
}

// refreshSymbol fetches the last two daily klines and anchors the
// earlier close (yesterday's) as the symbol's reference open price.
func (pr *PriceRefresher) refreshSymbol(ctx context.Context, symbol string, today time.Time) error {
	klines, err := pr.client.Klines(ctx, symbol, "1d", 2)
	if err != nil {
		return err
	}
	if len(klines) == 0 {
		return nil
	}

	// klines[0] is the earlier candle, yesterday's close. A newly
	// listed symbol with a single candle uses that candle's close.
	openPrice := klines[0].Close

	row, err := pr.tickers.GetTicker(ctx, symbol)
	if err != nil {
		return err
	}
	if row == nil {
		return nil
	}

	updateDate := today
	ref := database.OpenPriceRef{OpenPrice: openPrice, UpdatePriceDate: &updateDate}
	DeriveSessionChange(row, ref, row.LastPrice)
	// A zero close must still mark the symbol refreshed for the day.
	row.OpenPrice = openPrice
	row.UpdatePriceDate = &updateDate

	return pr.tickers.UpdateTicker(ctx, row)
}

// midnight truncates a timestamp to local start-of-day.
func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
