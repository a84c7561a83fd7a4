// Package ingest feeds the wide ticker store from the all-market
// websocket stream and anchors daily reference open prices.
package ingest

import (
	"context"
	"sync"

	"perps-control-plane/config"
	"perps-control-plane/internal/cache"
	"perps-control-plane/internal/database"
	"perps-control-plane/internal/events"
	"perps-control-plane/internal/exchange"
	"perps-control-plane/internal/logging"
)

// Ingester consumes ticker event batches and upserts normalized rows
// into the wide store. It is a single cooperative consumer: one batch
// is fully persisted before the next is taken.
type Ingester struct {
	stream     *exchange.TickerStream
	tickers    *database.TickerRepository
	cacheSvc   *cache.CacheService
	bus        *events.EventBus
	quoteAsset string
	logger     *logging.Logger

	mu        sync.Mutex
	isRunning bool
	stopChan  chan struct{}
	doneChan  chan struct{}
}

// NewIngester creates a ticker ingester. cacheSvc may be nil when
// Redis is disabled.
func NewIngester(cfg *config.Config, stream *exchange.TickerStream, tickers *database.TickerRepository, cacheSvc *cache.CacheService, bus *events.EventBus, logger *logging.Logger) *Ingester {
	return &Ingester{
		stream:     stream,
		tickers:    tickers,
		cacheSvc:   cacheSvc,
		bus:        bus,
		quoteAsset: cfg.ExchangeConfig.QuoteAsset,
		logger:     logger.WithComponent("ingester"),
	}
}

// Start launches the consume loop in the background.
func (in *Ingester) Start(ctx context.Context) {
	in.mu.Lock()
	if in.isRunning {
		in.mu.Unlock()
		return
	}
	in.isRunning = true
	in.stopChan = make(chan struct{})
	in.doneChan = make(chan struct{})
	in.mu.Unlock()

	go in.run(ctx)
	in.logger.Info("Ticker ingester started", "quote_asset", in.quoteAsset)
}

// Stop signals the consume loop and waits for the in-flight batch.
func (in *Ingester) Stop() {
	in.mu.Lock()
	if !in.isRunning {
		in.mu.Unlock()
		return
	}
	in.isRunning = false
	close(in.stopChan)
	done := in.doneChan
	in.mu.Unlock()

	<-done
	in.logger.Info("Ticker ingester stopped")
}

func (in *Ingester) run(ctx context.Context) {
	defer close(in.doneChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-in.stopChan:
			return
		case batch := <-in.stream.Batches():
			if err := in.processBatch(ctx, batch); err != nil {
				in.logger.Error("Failed to process ticker batch", "error", err.Error(), "batch_size", len(batch))
				if in.bus != nil {
					in.bus.PublishError("ingester", "ticker batch failed", err)
				}
			}
		}
	}
}

// processBatch normalizes one micro-batch and persists it atomically.
func (in *Ingester) processBatch(ctx context.Context, batch []exchange.TickerEvent) error {
	filtered := FilterQuoteAsset(batch, in.quoteAsset)
	deduped := DedupeBatch(filtered)
	if len(deduped) == 0 {
		return nil
	}

	symbols := make([]string, len(deduped))
	for i, ev := range deduped {
		symbols[i] = ev.Symbol
	}

	refs, err := in.tickers.GetReferencePrices(ctx, symbols)
	if err != nil {
		return err
	}

	rows := BuildTickerRows(deduped, refs)
	if err := in.tickers.UpsertTickers(ctx, rows); err != nil {
		return err
	}

	if in.cacheSvc != nil && in.cacheSvc.IsHealthy() {
		for _, row := range rows {
			_ = in.cacheSvc.SetSymbolPrice(ctx, row.Symbol, row.LastPrice)
		}
	}

	if in.bus != nil {
		in.bus.PublishTickerBatch(len(rows))
	}
	return nil
}
