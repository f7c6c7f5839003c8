package monitor

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/grisha2077/vortex-trader-pro/internal/events"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	m.CandleIngested("BTCUSDT")
	m.CandleIngested("BTCUSDT")
	m.OrderPlaced("entry", 50*time.Millisecond)
	m.OrderFailed("protection")
	m.OrderRetried()
	m.RateLimitWait("orders")
	m.APIRequest("GET", 404, time.Millisecond)
	m.JournalFlushed("trades", 3, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.candles.WithLabelValues("BTCUSDT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersPlaced.WithLabelValues("entry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersFailed.WithLabelValues("protection")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.orderRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimitWaits.WithLabelValues("orders")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.apiRequests.WithLabelValues("GET", "4xx")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.journalRows.WithLabelValues("trades", "written")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.journalRows.WithLabelValues("trades", "failed")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.CandleIngested("BTCUSDT")
	m.OrderPlaced("entry", time.Second)
	m.SetPortfolio(1, 2, 3)
	assert.NotNil(t, m.Handler())
}

func TestMonitorHandlesEvents(t *testing.T) {
	m := NewMetrics()
	mon := &Monitor{Metrics: m, Log: zap.NewNop()}
	var alerts int
	mon.AlertFn = func(events.ErrorEvent) { alerts++ }

	mon.handle(events.Envelope{Type: events.EventError, Payload: events.ErrorEvent{Kind: events.ErrorCircuitBreaker, Fatal: true}})
	mon.handle(events.Envelope{Type: events.EventStats, Payload: events.Stats{ActiveTrades: 2, RealizedPnL: 12.5}})
	mon.handle(events.Envelope{Type: events.EventSignal, Payload: events.SignalDetected{Symbol: "BTCUSDT", Direction: "LONG"}})

	assert.Equal(t, 1, alerts)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.circuitTrips))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.openPositions))
	assert.Equal(t, 12.5, testutil.ToFloat64(m.realizedPnL))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.signals.WithLabelValues("BTCUSDT", "LONG")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := NewMetrics()
	m.Reconnect("klines-0")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "vortex_stream_reconnects_total")
}
