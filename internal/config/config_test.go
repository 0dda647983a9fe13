package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "quantflow", cfg.Database.DBName)
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, 3, cfg.Market.RetryAttempts)
	assert.Equal(t, 12, cfg.Forecast.Horizon)
	assert.Equal(t, 288, cfg.Forecast.WindowSize)
	assert.Equal(t, int32(6), cfg.Oracle.QuoteDecimals)
	assert.False(t, cfg.Telegram.Enabled)
}

func TestLoad_StrategyDefaults(t *testing.T) {
	viper.Reset()

	cfg, err := Load()
	require.NoError(t, err)

	s := cfg.Strategy
	assert.Equal(t, "v1", s.Version)
	assert.Equal(t, 1000.0, s.InitialBalance)
	assert.Equal(t, 12, s.ForecastSteps)
	assert.Equal(t, 0.92, s.DecayAlphaFlat)
	assert.Equal(t, 0.85, s.DecayAlphaHeld)
	assert.Greater(t, s.AIMultiplierFlat, s.AIMultiplierHeld)
	assert.Equal(t, 2.0, s.BuyThreshold)
	assert.Equal(t, -2.0, s.SellThreshold)
	assert.Equal(t, -2.0, s.StopLossPct)
	assert.Equal(t, 3.0, s.TakeProfitPct)
}

func TestLoad_EnvOverride(t *testing.T) {
	viper.Reset()
	t.Setenv("STRATEGY_BUY_THRESHOLD", "2.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2.5, cfg.Strategy.BuyThreshold)
}

func TestStrategyConfig_Validate(t *testing.T) {
	valid := StrategyConfig{
		Version:        "v1",
		ForecastSteps:  12,
		DecayAlphaFlat: 0.92,
		DecayAlphaHeld: 0.85,
		BuyThreshold:   2.0,
		SellThreshold:  -2.0,
		StopLossPct:    -2.0,
		TakeProfitPct:  3.0,
		OBVWindow:      12,
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*StrategyConfig)
	}{
		{"zero forecast steps", func(s *StrategyConfig) { s.ForecastSteps = 0 }},
		{"alpha out of range", func(s *StrategyConfig) { s.DecayAlphaFlat = 1.0 }},
		{"inverted thresholds", func(s *StrategyConfig) { s.BuyThreshold = -3.0 }},
		{"positive stop loss", func(s *StrategyConfig) { s.StopLossPct = 2.0 }},
		{"negative take profit", func(s *StrategyConfig) { s.TakeProfitPct = -1.0 }},
		{"tiny obv window", func(s *StrategyConfig) { s.OBVWindow = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}
