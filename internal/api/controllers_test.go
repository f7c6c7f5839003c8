package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grisha2077/vortex-trader-pro/internal/connectivity"
	"github.com/grisha2077/vortex-trader-pro/internal/engine"
	"github.com/grisha2077/vortex-trader-pro/internal/events"
	"github.com/grisha2077/vortex-trader-pro/internal/monitor"
	"github.com/grisha2077/vortex-trader-pro/internal/order"
	"github.com/grisha2077/vortex-trader-pro/pkg/config"
	exchange "github.com/grisha2077/vortex-trader-pro/pkg/exchanges/common"
)

const testSecret = "test-secret"

type stubEngine struct {
	running   bool
	started   config.TradingConfig
	startErr  error
	orderErr  error
	manual    []order.ManualOrder
	lastLimit int
	lastSym   string
}

func (e *stubEngine) StartTrading(_ context.Context, cfg config.TradingConfig) error {
	if e.startErr != nil {
		return e.startErr
	}
	if e.running {
		return engine.ErrAlreadyRunning
	}
	e.running = true
	e.started = cfg
	return nil
}

func (e *stubEngine) StopTrading(context.Context) error {
	e.running = false
	return nil
}

func (e *stubEngine) PlaceManualOrder(_ context.Context, m order.ManualOrder) (*order.Order, error) {
	if e.orderErr != nil {
		return nil, e.orderErr
	}
	e.manual = append(e.manual, m)
	return &order.Order{
		OrderRequest: exchange.OrderRequest{
			Symbol:   m.Symbol,
			Side:     exchange.Side(m.Side),
			Type:     exchange.OrderType(m.Type),
			Quantity: "0.010",
			ClientID: "manual-1",
		},
		Purpose:  order.PurposeManual,
		Status:   exchange.StatusFilled,
		AvgPrice: 65000,
		Attempts: 1,
	}, nil
}

func (e *stubEngine) GetPositions(context.Context) []engine.PositionView {
	return []engine.PositionView{{Symbol: "BTCUSDT", Side: "LONG", Quantity: 0.5, EntryPrice: 100, Leverage: 20}}
}

func (e *stubEngine) GetTradeHistory(context.Context) []engine.TradeView {
	return []engine.TradeView{{Symbol: "ETHUSDT", Side: "SHORT", PnL: 3.5, Reason: "take_profit"}}
}

func (e *stubEngine) GetStats(context.Context) engine.StatsView {
	return engine.StatsView{OpenPositions: 1, CompletedTrades: 1, TotalPnL: 3.5, AveragePnL: 3.5}
}

func (e *stubEngine) GetSymbols(context.Context) []engine.SymbolStatus {
	return []engine.SymbolStatus{{Symbol: "BTCUSDT", State: engine.StateInPosition}}
}

func (e *stubEngine) GetStreams(context.Context) []connectivity.StreamStatus {
	return []connectivity.StreamStatus{{Key: "klines:3m:BTCUSDT", State: connectivity.StateConnected}}
}

func (e *stubEngine) GetOrders(_ context.Context, symbol string, limit int) ([]engine.OrderView, error) {
	e.lastSym, e.lastLimit = symbol, limit
	return []engine.OrderView{{ClientID: "c1", Symbol: "BTCUSDT", Purpose: "entry"}}, nil
}

func (e *stubEngine) GetSystemStatus(context.Context) *engine.SystemStatus {
	return &engine.SystemStatus{Running: e.running, Venue: "binance-usdm", Version: "test"}
}

func newTestAPIServer(t *testing.T, secret string) (*httptest.Server, *stubEngine, *Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	stub := &stubEngine{}
	server := NewServer(events.NewBus(), stub, monitor.NewMetrics(), secret, nil)
	httpServer := httptest.NewServer(server.Router)
	t.Cleanup(func() {
		httpServer.Close()
		server.Close()
	})
	return httpServer, stub, server
}

func testToken(t *testing.T) string {
	t.Helper()
	token, expiresAt, err := IssueToken("ops", testSecret, time.Hour)
	require.NoError(t, err)
	require.True(t, expiresAt.After(time.Now()))
	return token
}

func doJSONRequest(t *testing.T, client *http.Client, method, url, token string, payload any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(payload))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func TestHealthIsPublic(t *testing.T) {
	ts, _, _ := newTestAPIServer(t, testSecret)
	var body map[string]string
	status := doJSONRequest(t, ts.Client(), http.MethodGet, ts.URL+"/health", "", nil, &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestAuthRequired(t *testing.T) {
	ts, _, _ := newTestAPIServer(t, testSecret)
	client := ts.Client()

	var resp errorBody
	status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/positions", "", nil, &resp)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "MISSING_TOKEN", resp.Code)

	status = doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/positions", "garbage", nil, &resp)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "INVALID_TOKEN", resp.Code)

	forged, _, err := IssueToken("ops", "other-secret", time.Hour)
	require.NoError(t, err)
	status = doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/positions", forged, nil, &resp)
	assert.Equal(t, http.StatusUnauthorized, status)

	var positions []engine.PositionView
	status = doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/positions", testToken(t), nil, &positions)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, positions, 1)
	assert.Equal(t, "BTCUSDT", positions[0].Symbol)
}

func TestStartStopTrading(t *testing.T) {
	ts, stub, _ := newTestAPIServer(t, testSecret)
	client := ts.Client()
	token := testToken(t)

	cfg := map[string]any{
		"symbols":           []string{"BTCUSDT"},
		"leverage":          20,
		"positionSize":      100,
		"stopLossPercent":   1,
		"takeProfitPercent": 2,
		"rsiLevel":          6,
	}
	var st engine.SystemStatus
	status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/trading/start", token, cfg, &st)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, st.Running)
	assert.Equal(t, 20, stub.started.Leverage)
	assert.Equal(t, []string{"BTCUSDT"}, stub.started.Symbols)

	var resp errorBody
	status = doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/trading/start", token, cfg, &resp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "ALREADY_RUNNING", resp.Code)

	status = doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/trading/stop", token, nil, &st)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, st.Running)
}

func TestStartTradingErrorMapping(t *testing.T) {
	ts, stub, _ := newTestAPIServer(t, "")
	client := ts.Client()

	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&exchange.ConfigurationError{Field: "leverage", Err: errors.New("must be 1..125")}, http.StatusBadRequest, "INVALID_CONFIG"},
		{&exchange.ConnectivityError{Err: errors.New("dial tcp: refused")}, http.StatusBadGateway, "VENUE_UNREACHABLE"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		stub.startErr = tc.err
		var resp errorBody
		status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/trading/start", "", map[string]any{}, &resp)
		assert.Equal(t, tc.status, status)
		assert.Equal(t, tc.code, resp.Code)
	}

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/trading/start", strings.NewReader("{not json"))
	require.NoError(t, err)
	res, err := client.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestManualOrder(t *testing.T) {
	ts, stub, _ := newTestAPIServer(t, "")
	client := ts.Client()

	var view engine.OrderView
	status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/orders", "", map[string]any{
		"symbol":   "BTCUSDT",
		"side":     "BUY",
		"type":     "MARKET",
		"quantity": 0.01,
		"leverage": 5,
	}, &view)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "manual-1", view.ClientID)
	assert.Equal(t, "manual", view.Purpose)
	assert.Equal(t, "0.010", view.Quantity)
	require.Len(t, stub.manual, 1)
	assert.Equal(t, 5, stub.manual[0].Leverage)

	stub.orderErr = &exchange.OrderSubmissionError{Symbol: "BTCUSDT", Type: exchange.OrderTypeMarket, Attempts: 4, Err: errors.New("margin is insufficient")}
	var resp errorBody
	status = doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/orders", "", map[string]any{"symbol": "BTCUSDT"}, &resp)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "ORDER_REJECTED", resp.Code)
}

func TestListOrdersQuery(t *testing.T) {
	ts, stub, _ := newTestAPIServer(t, "")
	client := ts.Client()

	var orders []engine.OrderView
	status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/orders?symbol=btcusdt&limit=10000", "", nil, &orders)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, orders, 1)
	assert.Equal(t, "BTCUSDT", stub.lastSym)
	assert.Equal(t, maxOrderLimit, stub.lastLimit)

	var resp errorBody
	status = doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/orders?limit=-1", "", nil, &resp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_LIMIT", resp.Code)
}

func TestQueryEndpoints(t *testing.T) {
	ts, _, _ := newTestAPIServer(t, "")
	client := ts.Client()

	var stats engine.StatsView
	require.Equal(t, http.StatusOK, doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/stats", "", nil, &stats))
	assert.Equal(t, 3.5, stats.TotalPnL)

	var trades []engine.TradeView
	require.Equal(t, http.StatusOK, doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/trades", "", nil, &trades))
	require.Len(t, trades, 1)
	assert.Equal(t, "take_profit", trades[0].Reason)

	var symbols []engine.SymbolStatus
	require.Equal(t, http.StatusOK, doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/symbols", "", nil, &symbols))
	require.Len(t, symbols, 1)
	assert.Equal(t, engine.StateInPosition, symbols[0].State)

	var streams []connectivity.StreamStatus
	require.Equal(t, http.StatusOK, doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/streams", "", nil, &streams))
	require.Len(t, streams, 1)

	res, err := client.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotEmpty(t, res.Header.Get("X-Request-ID"))
}

func TestWebsocketStreamsFilteredEvents(t *testing.T) {
	ts, _, server := newTestAPIServer(t, "")

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?types=" + string(events.EventSignal)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is registered after the upgrade; keep publishing until one arrives.
	got := make(chan map[string]any, 1)
	go func() {
		var env map[string]any
		if err := conn.ReadJSON(&env); err == nil {
			got <- env
		}
	}()

	deadline := time.After(2 * time.Second)
	for {
		server.Bus.Publish(events.EventOscillator, events.OscillatorUpdate{Symbol: "BTCUSDT", Value: 50})
		server.Bus.Publish(events.EventSignal, events.SignalDetected{Symbol: "BTCUSDT", Direction: "LONG"})
		select {
		case env := <-got:
			assert.Equal(t, string(events.EventSignal), env["type"])
			data, ok := env["data"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, "LONG", data["type"])
			return
		case <-deadline:
			t.Fatal("no websocket event received")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
