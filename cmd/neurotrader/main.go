package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rewired-gh/neurotrader/internal/agent"
	"github.com/rewired-gh/neurotrader/internal/api"
	"github.com/rewired-gh/neurotrader/internal/binance"
	"github.com/rewired-gh/neurotrader/internal/config"
	"github.com/rewired-gh/neurotrader/internal/ledger"
	"github.com/rewired-gh/neurotrader/internal/logger"
	"github.com/rewired-gh/neurotrader/internal/metrics"
	"github.com/rewired-gh/neurotrader/internal/storage"
	"github.com/rewired-gh/neurotrader/internal/strategy"
	"github.com/rewired-gh/neurotrader/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := openStore(cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	source := binance.NewClient(
		cfg.Market.APIURL,
		cfg.Market.Timeout,
		cfg.Market.MaxRetries,
		cfg.Market.RetryDelayBase,
		cfg.Model.Seed,
	)
	recorder := metrics.New()

	agentConfig := agent.Config{
		Symbol:            cfg.Market.Symbol,
		Interval:          cfg.Market.Interval,
		PollInterval:      cfg.Market.PollInterval,
		EvaluationDelay:   cfg.Market.EvaluationDelay,
		FetchLimit:        cfg.Market.FetchLimit,
		InitialFetchLimit: cfg.Market.InitialFetchLimit,
		WindowSize:        cfg.Market.WindowSize,
		Lookback:          cfg.Strategy.Lookback,
		BaseBet:           cfg.Trading.BaseBet,
		MaxMemory:         cfg.Experience.MaxMemory,
		ModelKey:          cfg.Model.Key,
		ModelSeed:         cfg.Model.Seed,
		LearningRate:      cfg.Model.LearningRate,
		Strategy: strategy.Config{
			ClassBalanceMin:  cfg.Strategy.ClassBalanceMin,
			CorrectionFactor: cfg.Strategy.CorrectionFactor,
			ThresholdBase:    cfg.Strategy.ThresholdBase,
			ThresholdStep:    cfg.Strategy.ThresholdStep,
			ThresholdMin:     cfg.Strategy.ThresholdMin,
			ThresholdMax:     cfg.Strategy.ThresholdMax,
		},
		Ledger: ledger.Config{
			InitialBalance:  cfg.Trading.InitialBalance,
			BaseBet:         cfg.Trading.BaseBet,
			HistoryLimit:    cfg.Trading.HistoryLimit,
			PredictionLimit: cfg.Trading.PredictionLimit,
		},
	}
	trader := agent.New(agentConfig, source, store, recorder)

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		trader.SetNotifier(telegramClient)
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx, trader)
	}

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(cfg.API.ListenAddr, trader, recorder.Handler())
		server.Start()
	}

	logger.Info("Starting trading agent (symbol: %s, interval: %s, poll: %v, evaluation delay: %v, storage: %s)",
		cfg.Market.Symbol,
		cfg.Market.Interval,
		cfg.Market.PollInterval,
		cfg.Market.EvaluationDelay,
		cfg.Storage.Backend,
	)

	if err := trader.Run(ctx); err != nil {
		logger.Error("Agent stopped with error: %v", err)
	}

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Warn("Failed to stop HTTP API: %v", err)
		}
	}
	logger.Info("Service stopped")
}

func openStore(cfg config.StorageConfig) (storage.Store, error) {
	if cfg.Backend == "redis" {
		return storage.NewRedis(cfg.MaxJournal, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
	}
	return storage.NewSQLite(cfg.MaxJournal, cfg.DBPath)
}
