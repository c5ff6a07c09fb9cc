package config

import (
	"os"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Remove(tmpfile.Name()) })

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoadAndValidate(t *testing.T) {
	content := `
market:
  symbol: ETHUSDT
  interval: 5m
  poll_interval: 1m
  evaluation_delay: 10s

trading:
  initial_balance: 2500
  base_bet: 25

strategy:
  lookback: 50

experience:
  max_memory: 3000

telegram:
  bot_token: "test_token"
  chat_id: "12345"
  enabled: true

storage:
  backend: sqlite
  db_path: "./data/test.db"

logging:
  level: "debug"
  format: "text"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Market.Symbol != "ETHUSDT" {
		t.Errorf("Unexpected symbol: %s", cfg.Market.Symbol)
	}
	if cfg.Market.PollInterval != time.Minute {
		t.Errorf("Unexpected poll interval: %v", cfg.Market.PollInterval)
	}
	if cfg.Market.EvaluationDelay != 10*time.Second {
		t.Errorf("Unexpected evaluation delay: %v", cfg.Market.EvaluationDelay)
	}
	if cfg.Trading.BaseBet != 25 {
		t.Errorf("Unexpected base bet: %f", cfg.Trading.BaseBet)
	}
	if cfg.Experience.MaxMemory != 3000 {
		t.Errorf("Unexpected max memory: %d", cfg.Experience.MaxMemory)
	}

	// Defaults fill what the file leaves out.
	if cfg.Market.WindowSize != 200 {
		t.Errorf("Unexpected window size default: %d", cfg.Market.WindowSize)
	}
	if cfg.Strategy.ThresholdMin != 0.3 || cfg.Strategy.ThresholdMax != 0.7 {
		t.Errorf("Unexpected threshold defaults: %f..%f", cfg.Strategy.ThresholdMin, cfg.Strategy.ThresholdMax)
	}
	if cfg.Model.Key == "" {
		t.Error("model.key default missing")
	}
	if cfg.Model.LearningRate != 0.01 {
		t.Errorf("Unexpected learning rate default: %f", cfg.Model.LearningRate)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("NEURO_TRADER_MARKET_SYMBOL", "SOLUSDT")
	t.Setenv("NEURO_TRADER_TRADING_BASE_BET", "42")

	cfg, err := Load(writeConfig(t, "market:\n  symbol: BTCUSDT\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Market.Symbol != "SOLUSDT" {
		t.Errorf("symbol = %s, want env override SOLUSDT", cfg.Market.Symbol)
	}
	if cfg.Trading.BaseBet != 42 {
		t.Errorf("base bet = %f, want env override 42", cfg.Trading.BaseBet)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func validConfig() *Config {
	return &Config{
		Market: MarketConfig{
			Symbol:            "BTCUSDT",
			Interval:          "1m",
			APIURL:            "https://example.com/klines",
			PollInterval:      30 * time.Second,
			EvaluationDelay:   5 * time.Second,
			FetchLimit:        10,
			InitialFetchLimit: 100,
			WindowSize:        200,
		},
		Trading: TradingConfig{
			InitialBalance:  1000,
			BaseBet:         10,
			HistoryLimit:    500,
			PredictionLimit: 1000,
		},
		Strategy: StrategyConfig{
			Lookback:         50,
			ClassBalanceMin:  10,
			CorrectionFactor: 0.05,
			ThresholdBase:    0.5,
			ThresholdStep:    0.1,
			ThresholdMin:     0.3,
			ThresholdMax:     0.7,
		},
		Experience: ExperienceConfig{MaxMemory: 5000},
		Model:      ModelConfig{Seed: 1, Key: "weights"},
		Storage:    StorageConfig{Backend: "sqlite", MaxJournal: 100},
		Logging:    LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing telegram token when enabled",
			mutate:  func(c *Config) { c.Telegram = TelegramConfig{Enabled: true, ChatID: "1"} },
			wantErr: true,
		},
		{
			name:    "window smaller than lookback",
			mutate:  func(c *Config) { c.Market.WindowSize = 20 },
			wantErr: true,
		},
		{
			name:    "non-positive base bet",
			mutate:  func(c *Config) { c.Trading.BaseBet = 0 },
			wantErr: true,
		},
		{
			name:    "inverted thresholds",
			mutate:  func(c *Config) { c.Strategy.ThresholdMin, c.Strategy.ThresholdMax = 0.8, 0.2 },
			wantErr: true,
		},
		{
			name:    "unknown storage backend",
			mutate:  func(c *Config) { c.Storage.Backend = "localstorage" },
			wantErr: true,
		},
		{
			name:    "redis without address",
			mutate:  func(c *Config) { c.Storage.Backend = "redis"; c.Storage.RedisAddr = "" },
			wantErr: true,
		},
		{
			name:    "negative learning rate",
			mutate:  func(c *Config) { c.Model.LearningRate = -0.1 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "trace" },
			wantErr: true,
		},
		{
			name:    "api enabled without address",
			mutate:  func(c *Config) { c.API = APIConfig{Enabled: true} },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
