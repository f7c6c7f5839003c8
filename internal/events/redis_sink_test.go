package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisSinkAppendsClosedPositions(t *testing.T) {
	sink := NewRedisSink(nil, "vortex", nil)
	closedAt := time.UnixMilli(1_700_000_000_000)

	args, ok := sink.tradeEntry(PositionChange{
		Kind:       PositionClose,
		Symbol:     "BTCUSDT",
		Side:       "LONG",
		EntryPrice: 91.02,
		Price:      90.0,
		Quantity:   21.973,
		PnL:        -448.2492,
		Time:       closedAt,
	})
	require.True(t, ok)
	assert.Equal(t, "vortex:trades", args.Stream)
	assert.True(t, args.Approx)
	values, ok := args.Values.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", values["symbol"])
	assert.Equal(t, "LONG", values["side"])
	assert.Equal(t, 90.0, values["exit"])
	assert.Equal(t, -448.2492, values["pnl"])
	assert.Equal(t, closedAt.UnixMilli(), values["ts_ms"])
}

func TestRedisSinkSkipsOpenAndUpdate(t *testing.T) {
	sink := NewRedisSink(nil, "vortex", nil)

	for _, kind := range []PositionUpdateKind{PositionOpen, PositionUpdate} {
		_, ok := sink.tradeEntry(PositionChange{Kind: kind, Symbol: "BTCUSDT"})
		assert.False(t, ok, kind)
	}
	_, ok := sink.tradeEntry(TradeHistory{Trades: []TradeRecord{{Symbol: "BTCUSDT"}}})
	assert.False(t, ok, "history snapshots repeat earlier trades")
}

func TestRedisSinkOscillatorField(t *testing.T) {
	field, value, ok := oscillatorField(OscillatorUpdate{Symbol: "ETHUSDT", Value: 4.123456})
	require.True(t, ok)
	assert.Equal(t, "ETHUSDT", field)
	assert.Equal(t, "4.1235", value)

	_, _, ok = oscillatorField(Stats{CompletedTrades: 1})
	assert.False(t, ok)
}

func TestEncodeEnvelope(t *testing.T) {
	body, err := encodeEnvelope(Envelope{Type: EventSignal, Payload: SignalDetected{Symbol: "BTCUSDT"}})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &decoded))
	assert.Equal(t, string(EventSignal), decoded["type"])
}
