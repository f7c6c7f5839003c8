package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grisha2077/vortex-trader-pro/pkg/exchanges/common"
)

func validTradingConfig() TradingConfig {
	cfg := TradingConfig{
		Symbols:           []string{"btcusdt", " ETHUSDT ", "BTCUSDT"},
		Leverage:          10,
		PositionSize:      100,
		StopLossPercent:   1,
		TakeProfitPercent: 2,
		RSILevel:          6,
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := validTradingConfig()
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Symbols)
	assert.Equal(t, DefaultInterval, cfg.Interval)
	assert.Equal(t, DefaultRSIPeriod, cfg.RSIPeriod)
	assert.Equal(t, DefaultMaxOpenPositions, cfg.MaxOpenPositions)
	assert.Equal(t, "CROSS", cfg.MarginMode)
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllViolations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TradingConfig)
		field  string
	}{
		{"no symbols", func(c *TradingConfig) { c.Symbols = nil }, "symbols"},
		{"leverage too high", func(c *TradingConfig) { c.Leverage = 126 }, "leverage"},
		{"leverage zero", func(c *TradingConfig) { c.Leverage = 0 }, "leverage"},
		{"zero size", func(c *TradingConfig) { c.PositionSize = 0 }, "positionSize"},
		{"stop loss 100", func(c *TradingConfig) { c.StopLossPercent = 100 }, "stopLossPercent"},
		{"take profit negative", func(c *TradingConfig) { c.TakeProfitPercent = -1 }, "takeProfitPercent"},
		{"rsi level above range", func(c *TradingConfig) { c.RSILevel = 101 }, "rsiLevel"},
		{"max open positions", func(c *TradingConfig) { c.MaxOpenPositions = 11 }, "maxOpenPositions"},
		{"margin mode", func(c *TradingConfig) { c.MarginMode = "HEDGE" }, "marginMode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTradingConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)

			var ce *common.ConfigurationError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.field, ce.Field)
		})
	}

	cfg := validTradingConfig()
	cfg.Leverage = 0
	cfg.PositionSize = 0
	err := cfg.Validate()
	assert.Contains(t, err.Error(), "leverage")
	assert.Contains(t, err.Error(), "position size")
}

func TestLoadTradingProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	body := `
symbols: [BTCUSDT, SOLUSDT]
interval: 1m
leverage: 5
position_size: 250
stop_loss_percent: 1.5
take_profit_percent: 3
rsi_level: 6
enable_short_entries: true
margin_mode: isolated
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := LoadTradingProfile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "SOLUSDT"}, cfg.Symbols)
	assert.Equal(t, "1m", cfg.Interval)
	assert.Equal(t, 250.0, cfg.PositionSize)
	assert.True(t, cfg.EnableShortEntries)
	assert.Equal(t, "ISOLATED", cfg.MarginMode)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BINANCE_SYMBOLS", "btcusdt, ethusdt")
	t.Setenv("ORDER_RETRY_DELAY", "250")
	t.Setenv("RECONCILE_INTERVAL", "45s")
	t.Setenv("MAX_ERRORS", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.BinanceSymbols)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.RetryDelay)
	assert.Equal(t, 45*time.Second, cfg.Engine.ReconcileInterval)
	assert.Equal(t, 5, cfg.Engine.MaxErrors)
	assert.Equal(t, 3, cfg.Engine.MaxRetries)
}

func TestParseMarginMode(t *testing.T) {
	m, err := ParseMarginMode("cross")
	require.NoError(t, err)
	assert.Equal(t, common.MarginCross, m)
	_, err = ParseMarginMode("")
	assert.Error(t, err)
}
