package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/grisha2077/vortex-trader-pro/pkg/exchanges/common"
)

const (
	DefaultInterval         = "3m"
	DefaultRSIPeriod        = 11
	DefaultMaxOpenPositions = 5
)

// TradingConfig is the payload of startTrading. It can also be read from a
// YAML profile.
type TradingConfig struct {
	Symbols            []string `json:"symbols" yaml:"symbols"`
	Interval           string   `json:"interval,omitempty" yaml:"interval"`
	Leverage           int      `json:"leverage" yaml:"leverage"`
	PositionSize       float64  `json:"positionSize" yaml:"position_size"`
	StopLossPercent    float64  `json:"stopLossPercent" yaml:"stop_loss_percent"`
	TakeProfitPercent  float64  `json:"takeProfitPercent" yaml:"take_profit_percent"`
	RSILevel           float64  `json:"rsiLevel" yaml:"rsi_level"`
	RSIPeriod          int      `json:"rsiPeriod,omitempty" yaml:"rsi_period"`
	CooldownSeconds    int      `json:"cooldownSeconds,omitempty" yaml:"cooldown_seconds"`
	MaxOpenPositions   int      `json:"maxOpenPositions,omitempty" yaml:"max_open_positions"`
	EnableShortEntries bool     `json:"enableShortEntries,omitempty" yaml:"enable_short_entries"`
	MarginMode         string   `json:"marginMode,omitempty" yaml:"margin_mode"`
	Warmup             bool     `json:"warmup,omitempty" yaml:"warmup"`
}

// LoadTradingProfile reads a YAML trading profile and applies defaults.
func LoadTradingProfile(path string) (TradingConfig, error) {
	var cfg TradingConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read trading profile: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse trading profile: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills optional fields and normalizes symbols.
func (c *TradingConfig) ApplyDefaults() {
	if c.Interval == "" {
		c.Interval = DefaultInterval
	}
	if c.RSIPeriod == 0 {
		c.RSIPeriod = DefaultRSIPeriod
	}
	if c.MaxOpenPositions == 0 {
		c.MaxOpenPositions = DefaultMaxOpenPositions
	}
	if c.MarginMode == "" {
		c.MarginMode = "CROSS"
	}
	c.MarginMode = strings.ToUpper(c.MarginMode)
	seen := make(map[string]bool, len(c.Symbols))
	symbols := make([]string, 0, len(c.Symbols))
	for _, s := range c.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		symbols = append(symbols, s)
	}
	c.Symbols = symbols
}

// Validate reports every violated constraint at once.
func (c TradingConfig) Validate() error {
	var errs []error
	add := func(field, msg string) {
		errs = append(errs, &common.ConfigurationError{Field: field, Err: errors.New(msg)})
	}

	if len(c.Symbols) == 0 {
		add("symbols", "at least one trading pair must be selected")
	}
	if c.Leverage < 1 || c.Leverage > 125 {
		add("leverage", "leverage must be between 1 and 125")
	}
	if c.PositionSize <= 0 {
		add("positionSize", "position size must be greater than 0")
	}
	if c.StopLossPercent <= 0 || c.StopLossPercent >= 100 {
		add("stopLossPercent", "stop loss must be between 0 and 100")
	}
	if c.TakeProfitPercent <= 0 || c.TakeProfitPercent >= 100 {
		add("takeProfitPercent", "take profit must be between 0 and 100")
	}
	if c.RSILevel <= 0 || c.RSILevel > 100 {
		add("rsiLevel", "RSI level must be between 0 and 100")
	}
	if c.RSIPeriod < 2 {
		add("rsiPeriod", "RSI period must be at least 2")
	}
	if c.CooldownSeconds < 0 {
		add("cooldownSeconds", "cooldown cannot be negative")
	}
	if c.MaxOpenPositions < 1 || c.MaxOpenPositions > 10 {
		add("maxOpenPositions", "maximum open positions must be between 1 and 10")
	}
	if _, err := ParseMarginMode(c.MarginMode); err != nil {
		add("marginMode", err.Error())
	}
	return errors.Join(errs...)
}

// ParseMarginMode maps the CROSS/ISOLATED position modes to venue margin types.
func ParseMarginMode(mode string) (common.MarginType, error) {
	switch strings.ToUpper(mode) {
	case "CROSS", "CROSSED":
		return common.MarginCross, nil
	case "ISOLATED":
		return common.MarginIsolated, nil
	default:
		return "", fmt.Errorf("invalid position mode %q", mode)
	}
}
