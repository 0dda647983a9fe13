package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config aggregates all configuration settings for the application.
type Config struct {
	// Environment indicates the running environment (e.g., "development", "production").
	Environment string `mapstructure:"environment"`
	// LogLevel sets the global logging verbosity.
	LogLevel string `mapstructure:"log_level"`
	// Server holds configuration for the HTTP server.
	Server ServerConfig `mapstructure:"server"`
	// Database holds configuration for the PostgreSQL connection.
	Database DatabaseConfig `mapstructure:"database"`
	// Redis holds configuration for the Redis connection.
	Redis RedisConfig `mapstructure:"redis"`
	// Market holds configuration for the indicator provider service.
	Market MarketConfig `mapstructure:"market"`
	// Forecast holds configuration for the forecasting service.
	Forecast ForecastConfig `mapstructure:"forecast"`
	// Oracle holds configuration for the swap price oracle.
	Oracle OracleConfig `mapstructure:"oracle"`
	// Strategy holds all trading strategy tunables.
	Strategy StrategyConfig `mapstructure:"strategy"`
	// Telegram holds configuration for trade notifications.
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// ServerConfig defines the HTTP server settings.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig defines the PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig defines the Redis connection settings.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MarketConfig defines the indicator provider service settings.
type MarketConfig struct {
	// ServiceURL is the base URL of the indicator proxy.
	ServiceURL string `mapstructure:"service_url"`
	// Timeout is the per-request timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// RetryAttempts is the number of attempts for proxy calls.
	RetryAttempts int `mapstructure:"retry_attempts"`
	// RetryBaseDelay is multiplied by the attempt number between retries.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
}

// ForecastConfig defines the forecasting service settings.
type ForecastConfig struct {
	// ServiceURL is the base URL of the forecasting service.
	ServiceURL string `mapstructure:"service_url"`
	// Timeout is the per-request timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// Horizon is the number of 5-minute steps requested per forecast.
	Horizon int `mapstructure:"horizon"`
	// WindowSize is the number of aligned timestamps fed to the model.
	WindowSize int `mapstructure:"window_size"`
}

// OracleConfig defines the swap price oracle settings.
type OracleConfig struct {
	// ServiceURL is the base URL of the route/quote service.
	ServiceURL string `mapstructure:"service_url"`
	// Timeout is the per-request timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// QuoteToken is the quote asset mint/address (USDC).
	QuoteToken string `mapstructure:"quote_token"`
	// QuoteDecimals is the number of decimals of the quote asset.
	QuoteDecimals int32 `mapstructure:"quote_decimals"`
	// Tokens maps trading symbols to their on-chain assets.
	Tokens map[string]TokenConfig `mapstructure:"tokens"`
}

// TokenConfig identifies the on-chain asset behind a trading symbol.
type TokenConfig struct {
	Mint     string `mapstructure:"mint"`
	Decimals int32  `mapstructure:"decimals"`
}

// Token resolves the asset for a symbol. Lookup is case-insensitive because
// viper lowercases map keys read from config files.
func (c OracleConfig) Token(symbol string) (TokenConfig, bool) {
	if tok, ok := c.Tokens[symbol]; ok {
		return tok, true
	}
	tok, ok := c.Tokens[strings.ToLower(symbol)]
	return tok, ok
}

// TelegramConfig defines trade notification settings.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	Enabled  bool   `mapstructure:"enabled"`
}

// StrategyConfig is the single versioned structure holding every scoring and
// threshold constant used by the decision engine. Changing any value changes
// trading behavior, so the set is identified by Version and logged at startup.
type StrategyConfig struct {
	// Version identifies this parameter set.
	Version string `mapstructure:"version"`

	// InitialBalance is the starting USDC paper balance.
	InitialBalance float64 `mapstructure:"initial_balance"`

	// ForecastSteps is the number of forecast steps folded into the decayed average.
	ForecastSteps int `mapstructure:"forecast_steps"`
	// DecayAlphaFlat is the geometric decay base used when no position is open.
	DecayAlphaFlat float64 `mapstructure:"decay_alpha_flat"`
	// DecayAlphaHeld is the smaller, faster-decaying base used while positioned.
	DecayAlphaHeld float64 `mapstructure:"decay_alpha_held"`
	// AIMultiplierFlat scales the forecast diff percentage when flat.
	AIMultiplierFlat float64 `mapstructure:"ai_multiplier_flat"`
	// AIMultiplierHeld scales the forecast diff percentage while positioned.
	AIMultiplierHeld float64 `mapstructure:"ai_multiplier_held"`

	// VWAPDeadBandPct is the +/- deviation band that scores zero.
	VWAPDeadBandPct float64 `mapstructure:"vwap_dead_band_pct"`
	// VWAPStep is the score added per extra 1% deviation beyond the band.
	VWAPStep float64 `mapstructure:"vwap_step"`
	// BBMultiplier scales the Bollinger band position score.
	BBMultiplier float64 `mapstructure:"bb_multiplier"`
	// RSIMultiplier scales the squared, centered RSI score.
	RSIMultiplier float64 `mapstructure:"rsi_multiplier"`
	// OBVWindow is the number of samples used for slope regression.
	OBVWindow int `mapstructure:"obv_window"`
	// OBVSlopeThreshold is the minimum normalized price slope for divergence.
	OBVSlopeThreshold float64 `mapstructure:"obv_slope_threshold"`
	// OBVWeight scales the divergence score.
	OBVWeight float64 `mapstructure:"obv_weight"`
	// ProfitBiasFactor scales the negative bias per 1% unrealized gain.
	ProfitBiasFactor float64 `mapstructure:"profit_bias_factor"`

	// BuyThreshold is the fused score above which a position is opened.
	BuyThreshold float64 `mapstructure:"buy_threshold"`
	// SellThreshold is the fused score below which a position is closed.
	SellThreshold float64 `mapstructure:"sell_threshold"`
	// StopLossPct closes a position when price moves this far against entry (negative).
	StopLossPct float64 `mapstructure:"stop_loss_pct"`
	// TakeProfitPct closes a position when price moves this far in favor of entry.
	TakeProfitPct float64 `mapstructure:"take_profit_pct"`
}

// Load reads configuration from config.yaml, .env and environment variables.
func Load() (*Config, error) {
	// .env is optional; values land in the process environment for viper.
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN"); err != nil {
		return nil, fmt.Errorf("failed to bind TELEGRAM_BOT_TOKEN environment variable: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)

	if err := config.Strategy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid strategy configuration: %w", err)
	}

	return &config, nil
}

// Validate rejects parameter combinations that would make the engine
// malfunction silently.
func (s StrategyConfig) Validate() error {
	if s.ForecastSteps <= 0 {
		return fmt.Errorf("forecast_steps must be positive, got %d", s.ForecastSteps)
	}
	if s.DecayAlphaFlat <= 0 || s.DecayAlphaFlat >= 1 {
		return fmt.Errorf("decay_alpha_flat must be in (0,1), got %f", s.DecayAlphaFlat)
	}
	if s.DecayAlphaHeld <= 0 || s.DecayAlphaHeld >= 1 {
		return fmt.Errorf("decay_alpha_held must be in (0,1), got %f", s.DecayAlphaHeld)
	}
	if s.BuyThreshold <= s.SellThreshold {
		return fmt.Errorf("buy_threshold (%f) must exceed sell_threshold (%f)", s.BuyThreshold, s.SellThreshold)
	}
	if s.StopLossPct >= 0 {
		return fmt.Errorf("stop_loss_pct must be negative, got %f", s.StopLossPct)
	}
	if s.TakeProfitPct <= 0 {
		return fmt.Errorf("take_profit_pct must be positive, got %f", s.TakeProfitPct)
	}
	if s.OBVWindow < 2 {
		return fmt.Errorf("obv_window must be at least 2, got %d", s.OBVWindow)
	}
	return nil
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "quantflow")
	viper.SetDefault("database.sslmode", "disable")

	// Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Indicator provider
	viper.SetDefault("market.service_url", "http://localhost:3001")
	viper.SetDefault("market.timeout", "10s")
	viper.SetDefault("market.retry_attempts", 3)
	viper.SetDefault("market.retry_base_delay", "500ms")

	// Forecast service
	viper.SetDefault("forecast.service_url", "http://localhost:3002")
	viper.SetDefault("forecast.timeout", "30s")
	viper.SetDefault("forecast.horizon", 12)
	viper.SetDefault("forecast.window_size", 288)

	// Swap oracle
	viper.SetDefault("oracle.service_url", "http://localhost:3003")
	viper.SetDefault("oracle.timeout", "10s")
	viper.SetDefault("oracle.quote_token", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	viper.SetDefault("oracle.quote_decimals", 6)
	viper.SetDefault("oracle.tokens", map[string]interface{}{
		"sol": map[string]interface{}{
			"mint":     "So11111111111111111111111111111111111111112",
			"decimals": 9,
		},
	})

	// Telegram
	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.chat_id", "")
	viper.SetDefault("telegram.enabled", false)

	// Strategy v1 canonical parameter set
	viper.SetDefault("strategy.version", "v1")
	viper.SetDefault("strategy.initial_balance", 1000.0)
	viper.SetDefault("strategy.forecast_steps", 12)
	viper.SetDefault("strategy.decay_alpha_flat", 0.92)
	viper.SetDefault("strategy.decay_alpha_held", 0.85)
	viper.SetDefault("strategy.ai_multiplier_flat", 150.0)
	viper.SetDefault("strategy.ai_multiplier_held", 90.0)
	viper.SetDefault("strategy.vwap_dead_band_pct", 0.5)
	viper.SetDefault("strategy.vwap_step", 0.5)
	viper.SetDefault("strategy.bb_multiplier", 2.0)
	viper.SetDefault("strategy.rsi_multiplier", 3.0)
	viper.SetDefault("strategy.obv_window", 12)
	viper.SetDefault("strategy.obv_slope_threshold", 0.5)
	viper.SetDefault("strategy.obv_weight", 1.5)
	viper.SetDefault("strategy.profit_bias_factor", 0.5)
	viper.SetDefault("strategy.buy_threshold", 2.0)
	viper.SetDefault("strategy.sell_threshold", -2.0)
	viper.SetDefault("strategy.stop_loss_pct", -2.0)
	viper.SetDefault("strategy.take_profit_pct", 3.0)
}
