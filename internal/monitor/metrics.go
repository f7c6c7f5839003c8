package monitor

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vortex"

// Metrics holds the Prometheus collectors of the trading core. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	candles        *prometheus.CounterVec
	signals        *prometheus.CounterVec
	ordersPlaced   *prometheus.CounterVec
	ordersFailed   *prometheus.CounterVec
	orderRetries   prometheus.Counter
	orderLatency   prometheus.Histogram
	reconnects     *prometheus.CounterVec
	rateLimitWaits *prometheus.CounterVec
	errors         *prometheus.CounterVec
	circuitTrips   prometheus.Counter
	openPositions  prometheus.Gauge
	realizedPnL    prometheus.Gauge
	unrealizedPnL  prometheus.Gauge
	apiRequests    *prometheus.CounterVec
	apiLatency     prometheus.Histogram
	journalRows    *prometheus.CounterVec
}

// NewMetrics registers all collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		candles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candles_total",
			Help:      "Closed candles ingested per symbol.",
		}, []string{"symbol"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Threshold crossings detected.",
		}, []string{"symbol", "direction"}),
		ordersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_total",
			Help:      "Orders accepted by the venue.",
		}, []string{"purpose"}),
		ordersFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_failed_total",
			Help:      "Orders that failed after all retries.",
		}, []string{"purpose"}),
		orderRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_retries_total",
			Help:      "Order submission retries.",
		}),
		orderLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_latency_seconds",
			Help:      "Latency of successful order submissions.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reconnects_total",
			Help:      "Stream reconnect attempts.",
		}, []string{"stream"}),
		rateLimitWaits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_waits_total",
			Help:      "Calls delayed until a rate window reset.",
		}, []string{"class"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Error events by kind.",
		}, []string{"kind"}),
		circuitTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_trips_total",
			Help:      "Symbols disabled by the circuit breaker.",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Positions currently held.",
		}),
		realizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realized_pnl",
			Help:      "Realized PnL of the trade history.",
		}),
		unrealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unrealized_pnl",
			Help:      "Unrealized PnL of open positions.",
		}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "HTTP API requests by method and status class.",
		}, []string{"method", "status"}),
		apiLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_latency_seconds",
			Help:      "HTTP API request latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		journalRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_rows_total",
			Help:      "Journal rows flushed by table and result.",
		}, []string{"table", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.candles, m.signals, m.ordersPlaced, m.ordersFailed, m.orderRetries,
		m.orderLatency, m.reconnects, m.rateLimitWaits, m.errors, m.circuitTrips,
		m.openPositions, m.realizedPnL, m.unrealizedPnL, m.apiRequests, m.apiLatency,
		m.journalRows,
	)
	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CandleIngested(symbol string) {
	if m == nil {
		return
	}
	m.candles.WithLabelValues(symbol).Inc()
}

func (m *Metrics) SignalDetected(symbol, direction string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(symbol, direction).Inc()
}

func (m *Metrics) OrderPlaced(purpose string, latency time.Duration) {
	if m == nil {
		return
	}
	m.ordersPlaced.WithLabelValues(purpose).Inc()
	m.orderLatency.Observe(latency.Seconds())
}

func (m *Metrics) OrderFailed(purpose string) {
	if m == nil {
		return
	}
	m.ordersFailed.WithLabelValues(purpose).Inc()
}

func (m *Metrics) OrderRetried() {
	if m == nil {
		return
	}
	m.orderRetries.Inc()
}

func (m *Metrics) Reconnect(stream string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(stream).Inc()
}

func (m *Metrics) RateLimitWait(class string) {
	if m == nil {
		return
	}
	m.rateLimitWaits.WithLabelValues(class).Inc()
}

func (m *Metrics) Error(kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}

func (m *Metrics) CircuitTripped() {
	if m == nil {
		return
	}
	m.circuitTrips.Inc()
}

// SetPortfolio updates the position and PnL gauges.
func (m *Metrics) SetPortfolio(open int, realized, unrealized float64) {
	if m == nil {
		return
	}
	m.openPositions.Set(float64(open))
	m.realizedPnL.Set(realized)
	m.unrealizedPnL.Set(unrealized)
}

// APIRequest records one served HTTP request.
func (m *Metrics) APIRequest(method string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, fmt.Sprintf("%dxx", status/100)).Inc()
	m.apiLatency.Observe(latency.Seconds())
}

// JournalFlushed counts the rows of one journal flush.
func (m *Metrics) JournalFlushed(table string, written, failed int) {
	if m == nil {
		return
	}
	m.journalRows.WithLabelValues(table, "written").Add(float64(written))
	m.journalRows.WithLabelValues(table, "failed").Add(float64(failed))
}
