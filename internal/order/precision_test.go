package order

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grisha2077/vortex-trader-pro/internal/strategy"
	exchange "github.com/grisha2077/vortex-trader-pro/pkg/exchanges/common"
)

func TestFormatQuantity(t *testing.T) {
	c := NewInstrumentCache()
	c.Put(exchange.Instrument{Symbol: "ETHUSDT", StepSize: 0.1, QuantityPrecision: 1, PricePrecision: 2})

	tests := []struct {
		in   float64
		text string
	}{
		{0.3, "0.3"},
		{0.39, "0.3"},
		{2.0000001, "2.0"},
		{0.05, "0.0"},
		{12345.67, "12345.6"},
	}
	for _, tt := range tests {
		text, v, err := c.FormatQuantity("ETHUSDT", tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.text, text, "input %v", tt.in)

		again, _, err := c.FormatQuantity("ETHUSDT", v)
		require.NoError(t, err)
		assert.Equal(t, text, again, "formatting is idempotent for %v", tt.in)
	}
}

func TestFormatUnknownSymbol(t *testing.T) {
	c := NewInstrumentCache()
	_, _, err := c.FormatPrice("XRPUSDT", 1)
	assert.True(t, exchange.IsConfiguration(err))
}

func TestInstrumentCacheIsImmutable(t *testing.T) {
	c := NewInstrumentCache()
	c.Put(exchange.Instrument{Symbol: "BTCUSDT", StepSize: 0.001})
	c.Put(exchange.Instrument{Symbol: "BTCUSDT", StepSize: 1})
	inst, ok := c.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 0.001, inst.StepSize)
}

func TestCheckQuantityBounds(t *testing.T) {
	c := NewInstrumentCache()
	c.Put(btcInstrument())
	assert.NoError(t, c.CheckQuantity("BTCUSDT", 0.5))
	assert.Error(t, c.CheckQuantity("BTCUSDT", 0))
	assert.Error(t, c.CheckQuantity("BTCUSDT", 5000))
}

func TestCalculatePnLRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		dir      strategy.Direction
		entry    float64
		exit     float64
		qty      float64
		leverage int
		wantPnL  float64
		wantPct  float64
	}{
		{"long win", strategy.Long, 100, 110, 2, 3, 60, 30},
		{"long loss", strategy.Long, 100, 95, 1, 1, -5, -5},
		{"short win", strategy.Short, 100, 90, 1, 2, 20, 20},
		{"short loss", strategy.Short, 50, 55, 4, 1, -20, -10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pnl, pct := CalculatePnL(tt.dir, tt.entry, tt.exit, tt.qty, tt.leverage)
			assert.InDelta(t, tt.wantPnL, pnl, 1e-9)
			assert.InDelta(t, tt.wantPct, pct, 1e-9)
		})
	}
}

func TestAsyncExecutorDeliversEveryResult(t *testing.T) {
	a := NewAsyncExecutor(2, nil)
	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, a.Submit(context.Background(), Task{
			ID: "t",
			Run: func(context.Context) (any, error) {
				time.Sleep(time.Millisecond)
				return 1, nil
			},
		}))
	}
	a.Close()
	assert.ErrorIs(t, a.Submit(context.Background(), Task{}), ErrExecutorClosed)

	got := 0
	for r := range a.Results() {
		assert.NoError(t, r.Err)
		got += r.Value.(int)
	}
	assert.Equal(t, n, got)
}
