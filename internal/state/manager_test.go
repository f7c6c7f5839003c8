package state

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grisha2077/vortex-trader-pro/internal/strategy"
	exchange "github.com/grisha2077/vortex-trader-pro/pkg/exchanges/common"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(cfg Config) (*Manager, *clock) {
	m := NewManager(cfg, nil)
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	m.now = c.now
	return m, c
}

func long(symbol string, entry, qty float64) Position {
	return Position{Symbol: symbol, Direction: strategy.Long, EntryPrice: entry, Quantity: qty, Leverage: 1}
}

func TestTryOpenIsAtomic(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.TryOpen(long("BTCUSDT", 100, 1)) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Len(t, m.Positions(), 1)
}

func TestCloseRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		dir  strategy.Direction
		want float64
	}{
		{"long", strategy.Long, (103 - 100) * 2 * 5},
		{"short", strategy.Short, -(103 - 100) * 2 * 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(DefaultConfig(), nil)
			require.True(t, m.TryOpen(Position{Symbol: "ETHUSDT", Direction: tt.dir, EntryPrice: 100, Quantity: 2, Leverage: 5}))

			tr, ok := m.Close("ETHUSDT", 103, "signal")
			require.True(t, ok)
			assert.InDelta(t, tt.want, tr.PnL, 1e-9)
			assert.False(t, m.HasPosition("ETHUSDT"))

			_, ok = m.Close("ETHUSDT", 103, "signal")
			assert.False(t, ok, "closing twice is a no-op")
		})
	}
}

func TestHistoryIsBoundedNewestFirst(t *testing.T) {
	m := NewManager(Config{HistoryLimit: 100}, nil)
	for i := 0; i < 130; i++ {
		sym := fmt.Sprintf("S%03d", i)
		require.True(t, m.TryOpen(long(sym, 10, 1)))
		_, ok := m.Close(sym, 11, "test")
		require.True(t, ok)
	}
	h := m.History()
	require.Len(t, h, 100)
	assert.Equal(t, "S129", h[0].Symbol)
	assert.Equal(t, "S030", h[99].Symbol)
}

func TestSeedKeepsOrder(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)
	m.Seed([]Trade{{Symbol: "NEW"}, {Symbol: "OLD"}})
	require.True(t, m.TryOpen(long("BTCUSDT", 1, 1)))
	m.Close("BTCUSDT", 2, "test")

	h := m.History()
	require.Len(t, h, 3)
	assert.Equal(t, []string{"BTCUSDT", "NEW", "OLD"}, []string{h[0].Symbol, h[1].Symbol, h[2].Symbol})
}

func TestCooldownAfterEntryAndExit(t *testing.T) {
	m, c := newTestManager(Config{Cooldown: time.Minute})

	assert.NoError(t, m.CanEnter("BTCUSDT"))
	require.True(t, m.TryOpen(long("BTCUSDT", 100, 1)))
	assert.ErrorIs(t, m.CanEnter("BTCUSDT"), ErrPositionOpen)

	c.advance(2 * time.Minute)
	m.Close("BTCUSDT", 101, "test")
	assert.ErrorIs(t, m.CanEnter("BTCUSDT"), ErrCoolingDown)

	c.advance(59 * time.Second)
	assert.ErrorIs(t, m.CanEnter("BTCUSDT"), ErrCoolingDown)
	c.advance(time.Second)
	assert.NoError(t, m.CanEnter("BTCUSDT"))
}

func TestCircuitBreaker(t *testing.T) {
	m := NewManager(Config{MaxErrors: 3}, nil)

	assert.False(t, m.RecordError("SOLUSDT"))
	assert.False(t, m.RecordError("SOLUSDT"))
	m.RecordSuccess("SOLUSDT")
	assert.Equal(t, 0, m.ErrorCount("SOLUSDT"))

	assert.False(t, m.RecordError("SOLUSDT"))
	assert.False(t, m.RecordError("SOLUSDT"))
	assert.True(t, m.RecordError("SOLUSDT"))
	assert.False(t, m.RecordError("SOLUSDT"), "trips once")

	assert.ErrorIs(t, m.CanEnter("SOLUSDT"), ErrSymbolDisabled)
	m.RecordSuccess("SOLUSDT")
	assert.True(t, m.Disabled("SOLUSDT"), "only a restart clears the breaker")
	assert.NoError(t, m.CanEnter("BTCUSDT"), "other symbols are unaffected")
	assert.Equal(t, []string{"SOLUSDT"}, m.DisabledSymbols())
}

func TestReconcileTrustsVenue(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)
	require.True(t, m.TryOpen(Position{Symbol: "BTCUSDT", Direction: strategy.Long, EntryPrice: 100, Quantity: 1, Leverage: 2, StopLoss: 99}))
	require.True(t, m.TryOpen(long("ETHUSDT", 10, 3)))

	report := m.Reconcile([]exchange.VenuePosition{
		{Symbol: "BTCUSDT", Amount: 0.5, EntryPrice: 100.5, Leverage: 2},
		{Symbol: "SOLUSDT", Amount: -4, EntryPrice: 20, Leverage: 3},
		{Symbol: "XRPUSDT", Amount: 0},
	}, func(symbol string) float64 {
		if symbol == "ETHUSDT" {
			return 12
		}
		return 0
	})

	require.True(t, report.HasDiffs())
	kinds := map[string]DiffKind{}
	for _, d := range report.Diffs {
		kinds[d.Symbol] = d.Kind
	}
	assert.Equal(t, map[string]DiffKind{"BTCUSDT": DiffChanged, "ETHUSDT": DiffRemoved, "SOLUSDT": DiffAdded}, kinds)

	btc, ok := m.Position("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 0.5, btc.Quantity)
	assert.Equal(t, 100.5, btc.EntryPrice)
	assert.Equal(t, 99.0, btc.StopLoss, "local bracket metadata survives")

	sol, ok := m.Position("SOLUSDT")
	require.True(t, ok)
	assert.Equal(t, strategy.Short, sol.Direction)
	assert.True(t, sol.External)

	assert.False(t, m.HasPosition("ETHUSDT"))
	assert.False(t, m.HasPosition("XRPUSDT"))
	require.Len(t, report.Closed, 1)
	assert.InDelta(t, 6.0, report.Closed[0].PnL, 1e-9)
	assert.Len(t, m.History(), 1)
}

func TestReconcileWithoutDrift(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)
	require.True(t, m.TryOpen(long("BTCUSDT", 100, 1)))
	report := m.Reconcile([]exchange.VenuePosition{{Symbol: "BTCUSDT", Amount: 1, EntryPrice: 100}}, nil)
	assert.False(t, report.HasDiffs())
}

func TestStats(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)
	require.True(t, m.TryOpen(long("A", 10, 1)))
	m.Close("A", 12, "test")
	require.True(t, m.TryOpen(long("B", 10, 1)))
	m.Close("B", 9, "test")
	require.True(t, m.TryOpen(Position{Symbol: "C", Direction: strategy.Long, EntryPrice: 100, Quantity: 2, Leverage: 4}))

	s := m.Stats(func(string) float64 { return 101 })
	assert.Equal(t, 1, s.OpenPositions)
	assert.Equal(t, 2, s.CompletedTrades)
	assert.InDelta(t, 1.0, s.TotalPnL, 1e-9)
	assert.InDelta(t, 0.5, s.AveragePnL, 1e-9)
	assert.InDelta(t, 8.0, s.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 50.0, s.LockedFunds, 1e-9)
}
