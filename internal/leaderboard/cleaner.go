package leaderboard

import (
	"context"
	"sync"
	"time"

	"perps-control-plane/config"
	"perps-control-plane/internal/database"
	"perps-control-plane/internal/events"
	"perps-control-plane/internal/logging"
)

// Cleaner prunes leaderboard batches older than the retention window.
type Cleaner struct {
	leaderboard *database.LeaderboardRepository
	bus         *events.EventBus
	interval    time.Duration
	retention   time.Duration
	logger      *logging.Logger

	mu        sync.Mutex
	isRunning bool
	stopChan  chan struct{}
	doneChan  chan struct{}
}

// NewCleaner creates the leaderboard retention worker.
func NewCleaner(cfg *config.Config, leaderboard *database.LeaderboardRepository, bus *events.EventBus, logger *logging.Logger) *Cleaner {
	interval := time.Duration(cfg.LeaderboardConfig.CleanupIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	retention := time.Duration(cfg.LeaderboardConfig.RetentionMinutes) * time.Minute
	if retention <= 0 {
		retention = 5 * time.Minute
	}

	return &Cleaner{
		leaderboard: leaderboard,
		bus:         bus,
		interval:    interval,
		retention:   retention,
		logger:      logger.WithComponent("leaderboard_cleaner"),
	}
}

// Start launches the cleanup loop.
func (c *Cleaner) Start(ctx context.Context) {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return
	}
	c.isRunning = true
	c.stopChan = make(chan struct{})
	c.doneChan = make(chan struct{})
	c.mu.Unlock()

	go c.run(ctx)
	c.logger.Info("Leaderboard cleaner started", "interval", c.interval.String(), "retention", c.retention.String())
}

// Stop signals the loop and waits for the in-flight pass.
func (c *Cleaner) Stop() {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return
	}
	c.isRunning = false
	close(c.stopChan)
	done := c.doneChan
	c.mu.Unlock()

	<-done
	c.logger.Info("Leaderboard cleaner stopped")
}

func (c *Cleaner) run(ctx context.Context) {
	defer close(c.doneChan)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.cleanOnce(ctx)
		}
	}
}

func (c *Cleaner) cleanOnce(ctx context.Context) {
	cutoff := time.Now().Add(-c.retention).UnixMilli()

	deleted, err := c.leaderboard.DeleteBefore(ctx, cutoff)
	if err != nil {
		c.logger.Error("Leaderboard cleanup failed", "error", err.Error())
		return
	}
	if deleted == 0 {
		return
	}

	c.logger.Info("Pruned expired leaderboard rows", "deleted", deleted)
	if c.bus != nil {
		c.bus.Publish(events.Event{
			Type: events.EventLeaderboardPruned,
			Data: map[string]interface{}{"deleted": deleted},
		})
	}
}
