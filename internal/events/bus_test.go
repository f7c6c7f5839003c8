package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventOscillator, 10)
	defer unsub()

	for i := 0; i < 5; i++ {
		bus.Publish(EventOscillator, OscillatorUpdate{Symbol: "BTCUSDT", Value: float64(i)})
	}
	for i := 0; i < 5; i++ {
		msg := <-ch
		upd, ok := msg.(OscillatorUpdate)
		require.True(t, ok)
		assert.Equal(t, float64(i), upd.Value)
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	_, unsub := bus.Subscribe(EventStats, 1)
	defer unsub()

	bus.Publish(EventStats, Stats{})
	bus.Publish(EventStats, Stats{})
	assert.Equal(t, uint64(1), bus.Dropped())
}

func TestSubscribeAllWrapsEnvelope(t *testing.T) {
	bus := NewBus()
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	bus.now = func() time.Time { return fixed }

	all, unsub := bus.SubscribeAll(4)
	bus.Publish(EventError, ErrorEvent{Kind: ErrorOrder, Symbol: "ETHUSDT", Message: "boom"})

	env := <-all
	assert.Equal(t, EventError, env.Type)
	assert.Equal(t, fixed, env.Time)

	body, err := encodeEnvelope(env)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &decoded))
	assert.Equal(t, "bot.error", decoded["type"])
	data := decoded["data"].(map[string]any)
	assert.Equal(t, "ETHUSDT", data["symbol"])

	unsub()
	unsub()
	_, open := <-all
	assert.False(t, open, "unsubscribe closes the channel once")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventPosition, 1)
	unsub()
	bus.Publish(EventPosition, PositionChange{Kind: PositionOpen})
	_, open := <-ch
	assert.False(t, open)
}
