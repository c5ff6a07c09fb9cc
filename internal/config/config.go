package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Market     MarketConfig     `mapstructure:"market"`
	Trading    TradingConfig    `mapstructure:"trading"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Experience ExperienceConfig `mapstructure:"experience"`
	Model      ModelConfig      `mapstructure:"model"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	API        APIConfig        `mapstructure:"api"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// MarketConfig holds the candle data source configuration
type MarketConfig struct {
	Symbol            string        `mapstructure:"symbol"`
	Interval          string        `mapstructure:"interval"`
	APIURL            string        `mapstructure:"api_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	EvaluationDelay   time.Duration `mapstructure:"evaluation_delay"`
	FetchLimit        int           `mapstructure:"fetch_limit"`
	InitialFetchLimit int           `mapstructure:"initial_fetch_limit"`
	WindowSize        int           `mapstructure:"window_size"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelayBase    time.Duration `mapstructure:"retry_delay_base"`
}

// TradingConfig holds simulated account configuration
type TradingConfig struct {
	InitialBalance  float64 `mapstructure:"initial_balance"`
	BaseBet         float64 `mapstructure:"base_bet"`
	HistoryLimit    int     `mapstructure:"history_limit"`
	PredictionLimit int     `mapstructure:"prediction_limit"`
}

// StrategyConfig holds decision pipeline tuning
type StrategyConfig struct {
	Lookback         int     `mapstructure:"lookback"`
	ClassBalanceMin  int     `mapstructure:"class_balance_min"`
	CorrectionFactor float64 `mapstructure:"correction_factor"`
	ThresholdBase    float64 `mapstructure:"threshold_base"`
	ThresholdStep    float64 `mapstructure:"threshold_step"`
	ThresholdMin     float64 `mapstructure:"threshold_min"`
	ThresholdMax     float64 `mapstructure:"threshold_max"`
}

// ExperienceConfig holds experience memory configuration
type ExperienceConfig struct {
	MaxMemory int `mapstructure:"max_memory"`
}

// ModelConfig holds sequence classifier configuration
type ModelConfig struct {
	Seed         int64   `mapstructure:"seed"`
	Key          string  `mapstructure:"key"`
	LearningRate float64 `mapstructure:"learning_rate"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	DBPath        string `mapstructure:"db_path"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
	MaxJournal    int    `mapstructure:"max_journal"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// APIConfig holds the read-only HTTP status server configuration
type APIConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	// NEURO_TRADER_MARKET_SYMBOL overrides market.symbol
	v.SetEnvPrefix("NEURO_TRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("market.symbol", "BTCUSDT")
	v.SetDefault("market.interval", "1m")
	v.SetDefault("market.api_url", "https://api.binance.com/api/v3/klines")
	v.SetDefault("market.timeout", "10s")
	v.SetDefault("market.poll_interval", "30s")
	v.SetDefault("market.evaluation_delay", "5s")
	v.SetDefault("market.fetch_limit", 10)
	v.SetDefault("market.initial_fetch_limit", 100)
	v.SetDefault("market.window_size", 200)
	v.SetDefault("market.max_retries", 3)
	v.SetDefault("market.retry_delay_base", "1s")

	v.SetDefault("trading.initial_balance", 1000.0)
	v.SetDefault("trading.base_bet", 10.0)
	v.SetDefault("trading.history_limit", 500)
	v.SetDefault("trading.prediction_limit", 1000)

	v.SetDefault("strategy.lookback", 50)
	v.SetDefault("strategy.class_balance_min", 10)
	v.SetDefault("strategy.correction_factor", 0.05)
	v.SetDefault("strategy.threshold_base", 0.5)
	v.SetDefault("strategy.threshold_step", 0.1)
	v.SetDefault("strategy.threshold_min", 0.3)
	v.SetDefault("strategy.threshold_max", 0.7)

	v.SetDefault("experience.max_memory", 5000)

	v.SetDefault("model.seed", 42)
	v.SetDefault("model.key", "neuro_trader_model_weights_v5")
	v.SetDefault("model.learning_rate", 0.01)

	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.db_path", "./data/neurotrader.db")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.redis_prefix", "neurotrader")
	v.SetDefault("storage.max_journal", 1000)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen_addr", ":8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Market.Symbol == "" {
		return fmt.Errorf("market.symbol is required")
	}
	if c.Market.Interval == "" {
		return fmt.Errorf("market.interval is required")
	}
	if c.Market.APIURL == "" {
		return fmt.Errorf("market.api_url is required")
	}
	if c.Market.PollInterval < time.Second {
		return fmt.Errorf("market.poll_interval must be at least 1 second")
	}
	if c.Market.EvaluationDelay <= 0 {
		return fmt.Errorf("market.evaluation_delay must be positive")
	}
	if c.Market.FetchLimit < 1 || c.Market.FetchLimit > 1000 {
		return fmt.Errorf("market.fetch_limit must be between 1 and 1000")
	}
	if c.Market.InitialFetchLimit < 1 || c.Market.InitialFetchLimit > 1000 {
		return fmt.Errorf("market.initial_fetch_limit must be between 1 and 1000")
	}
	if c.Market.WindowSize < c.Strategy.Lookback {
		return fmt.Errorf("market.window_size must be at least strategy.lookback")
	}

	if c.Trading.InitialBalance <= 0 {
		return fmt.Errorf("trading.initial_balance must be positive")
	}
	if c.Trading.BaseBet <= 0 {
		return fmt.Errorf("trading.base_bet must be positive")
	}
	if c.Trading.HistoryLimit < 1 {
		return fmt.Errorf("trading.history_limit must be at least 1")
	}
	if c.Trading.PredictionLimit < 1 {
		return fmt.Errorf("trading.prediction_limit must be at least 1")
	}

	if c.Strategy.Lookback < 1 {
		return fmt.Errorf("strategy.lookback must be at least 1")
	}
	if c.Strategy.ThresholdMin < 0.0 || c.Strategy.ThresholdMax > 1.0 || c.Strategy.ThresholdMin > c.Strategy.ThresholdMax {
		return fmt.Errorf("strategy.threshold_min/threshold_max must satisfy 0 <= min <= max <= 1")
	}
	if c.Strategy.CorrectionFactor < 0 {
		return fmt.Errorf("strategy.correction_factor must not be negative")
	}

	if c.Experience.MaxMemory < 1 {
		return fmt.Errorf("experience.max_memory must be at least 1")
	}

	if c.Model.Key == "" {
		return fmt.Errorf("model.key is required")
	}
	if c.Model.LearningRate < 0 {
		return fmt.Errorf("model.learning_rate must not be negative")
	}

	switch c.Storage.Backend {
	case "sqlite":
	case "redis":
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("storage.redis_addr is required when storage.backend is redis")
		}
	default:
		return fmt.Errorf("storage.backend must be one of: sqlite, redis")
	}
	if c.Storage.MaxJournal < 1 {
		return fmt.Errorf("storage.max_journal must be at least 1")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.API.Enabled && c.API.ListenAddr == "" {
		return fmt.Errorf("api.listen_addr is required when api is enabled")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
