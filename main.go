package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"perps-control-plane/config"
	"perps-control-plane/internal/cache"
	"perps-control-plane/internal/database"
	"perps-control-plane/internal/decision"
	"perps-control-plane/internal/events"
	"perps-control-plane/internal/exchange"
	"perps-control-plane/internal/ingest"
	"perps-control-plane/internal/leaderboard"
	"perps-control-plane/internal/logging"
	"perps-control-plane/internal/trading"
)

func main() {
	// Environment file is optional; real deployments inject env vars.
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err.Error())
	}
	defer db.Close()

	migrateCtx, migrateCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := db.RunMigrations(migrateCtx); err != nil {
		migrateCancel()
		logger.Fatal("Failed to run migrations", "error", err.Error())
	}
	migrateCancel()
	logger.Info("Database ready")

	repo := database.NewRepository(db)
	tickers := database.NewTickerRepository(db)
	leaderboardRepo := database.NewLeaderboardRepository(db)
	portfolios := database.NewPortfolioRepository(db)

	var cacheSvc *cache.CacheService
	if cfg.RedisConfig.Enabled {
		cacheSvc, err = cache.NewCacheService(cfg.RedisConfig, logger)
		if err != nil {
			logger.Warn("Cache unavailable, continuing without it", "error", err.Error())
			cacheSvc = nil
		} else {
			defer cacheSvc.Close()
		}
	}

	eventBus := events.NewEventBus()
	logger.Info("Event bus initialized")

	exchangeClient := exchange.NewClient(
		cfg.ExchangeConfig.BaseURL,
		time.Duration(cfg.ExchangeConfig.RequestTimeout)*time.Second,
	)

	// Market data pipeline: stream -> ingester -> ticker store.
	stream := exchange.NewTickerStream(cfg.ExchangeConfig.StreamURL, logger)
	ingester := ingest.NewIngester(cfg, stream, tickers, cacheSvc, eventBus, logger)
	refresher := ingest.NewPriceRefresher(cfg, exchangeClient, tickers, eventBus, logger)

	syncer := leaderboard.NewSyncer(cfg, tickers, leaderboardRepo, cacheSvc, eventBus, logger)
	cleaner := leaderboard.NewCleaner(cfg, leaderboardRepo, eventBus, logger)

	// Decision engines: LLM-backed models and in-process rule models
	// share one executor and trading engine.
	llmEngine := decision.NewLLMEngine(
		decision.NewLLMClient(logger),
		repo, portfolios,
		cfg.TradingConfig.PromptSymbolLimit,
		logger,
	)
	ruleEngine := decision.NewStrategyEngine(repo, portfolios, logger)
	executor := trading.NewExecutor(portfolios, eventBus, cfg.TradingConfig.FeeRate, logger)
	engine := trading.NewEngine(cfg, repo, portfolios, tickers, syncer,
		exchangeClient, cacheSvc, executor, llmEngine, ruleEngine, eventBus, logger)
	orchestrator := trading.NewOrchestrator(cfg, repo, engine, eventBus, logger)

	stream.Start()
	ingester.Start(ctx)
	refresher.Start(ctx)
	if err := syncer.Start(ctx); err != nil {
		logger.Fatal("Failed to start leaderboard syncer", "error", err.Error())
	}
	cleaner.Start(ctx)
	orchestrator.Start(ctx)

	logger.Info("Control plane started",
		"quote_asset", cfg.ExchangeConfig.QuoteAsset,
		"buy_interval", cfg.TradingConfig.BuyInterval().String(),
		"sell_interval", cfg.TradingConfig.SellInterval().String())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutting down", "signal", sig.String())

	// Stop in reverse order: trading first so no cycle runs against a
	// draining pipeline, then the market data feeds.
	orchestrator.Stop()
	cleaner.Stop()
	syncer.Stop()
	refresher.Stop()
	ingester.Stop()
	stream.Stop()
	cancel()

	logger.Info("Shutdown complete")
}
