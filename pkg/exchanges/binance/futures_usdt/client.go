package futures_usdt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/grisha2077/vortex-trader-pro/pkg/exchanges/common"
	market "github.com/grisha2077/vortex-trader-pro/pkg/market/binance"
)

const (
	mainnetURL = "https://fapi.binance.com"
	testnetURL = "https://testnet.binancefuture.com"
)

// Config holds Binance USDT-M futures credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64  // ms
	BaseURL    string // overrides the mainnet/testnet host when set
}

// Client handles Binance USDT-M futures REST calls. It implements common.Gateway.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	clock       *common.VenueClock
	rateLimiter *common.RateLimiter
	log         *zap.Logger
}

var _ common.Gateway = (*Client)(nil)

// NewClient creates a new USDT-M futures client. The rate limiter is optional
// and only receives the venue's used-weight headers.
func NewClient(cfg Config, rateLimiter *common.RateLimiter, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	base := mainnetURL
	if cfg.Testnet {
		base = testnetURL
	}
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	c := &Client{
		cfg:         cfg,
		baseURL:     base,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		rateLimiter: rateLimiter,
		log:         log.Named("futures_usdt"),
	}
	c.clock = common.NewVenueClock(c.ServerTime, log)
	return c
}

// Clock exposes the venue clock so callers can start it.
func (c *Client) Clock() *common.VenueClock { return c.clock }

// Testnet reports whether the client targets the test venue.
func (c *Client) Testnet() bool { return c.cfg.Testnet }

func (c *Client) now() int64 {
	return c.clock.Millis()
}

func (c *Client) hasCredentials() bool {
	return c.cfg.APIKey != "" && c.cfg.APISecret != ""
}

// Ping checks venue reachability.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doPublic(ctx, "/fapi/v1/ping", nil)
	return err
}

// ServerTime fetches futures server time in milliseconds.
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	body, err := c.doPublic(ctx, "/fapi/v1/time", nil)
	if err != nil {
		return 0, err
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("decode server time: %w", err)
	}
	return res.ServerTime, nil
}

// Instruments returns precision metadata for every listed symbol.
func (c *Client) Instruments(ctx context.Context) (map[string]common.Instrument, error) {
	body, err := c.doPublic(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return nil, err
	}
	var info exchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode exchange info: %w", err)
	}
	out := make(map[string]common.Instrument, len(info.Symbols))
	for _, s := range info.Symbols {
		inst := s.toInstrument()
		out[inst.Symbol] = inst
	}
	return out, nil
}

// TickerPrice returns the last traded price of a symbol.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	body, err := c.doPublic(ctx, "/fapi/v1/ticker/price", params)
	if err != nil {
		return 0, err
	}
	var res struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("decode ticker price: %w", err)
	}
	return parseFloat(res.Price), nil
}

// Klines fetches the most recent candles, oldest first.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]market.Kline, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.doPublic(ctx, "/fapi/v1/klines", params)
	if err != nil {
		return nil, err
	}
	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	out := make([]market.Kline, 0, len(raw))
	for _, item := range raw {
		if len(item) < 7 {
			continue
		}
		out = append(out, market.Kline{
			Symbol:    strings.ToUpper(symbol),
			OpenTime:  anyInt64(item[0]),
			Open:      anyFloat(item[1]),
			High:      anyFloat(item[2]),
			Low:       anyFloat(item[3]),
			Close:     anyFloat(item[4]),
			Volume:    anyFloat(item[5]),
			CloseTime: anyInt64(item[6]),
			Closed:    true,
		})
	}
	return out, nil
}

// SubmitOrder places an order.
func (c *Client) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if !c.hasCredentials() {
		return common.OrderResult{}, fmt.Errorf("binance usdt futures: %w", common.ErrMissingCredentials)
	}
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("type", strings.ToUpper(string(req.Type)))
	if req.Quantity != "" && !req.ClosePosition {
		params.Set("quantity", req.Quantity)
	}

	switch req.Type {
	case common.OrderTypeLimit:
		params.Set("price", req.Price)
		tif := req.TimeInForce
		if tif == "" {
			tif = common.TIFGTC
		}
		params.Set("timeInForce", string(tif))
	case common.OrderTypeStopMarket, common.OrderTypeTakeProfitMarket:
		params.Set("stopPrice", req.StopPrice)
		if req.WorkingType != "" {
			params.Set("workingType", req.WorkingType)
		}
	}

	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}
	if req.ClosePosition {
		params.Set("closePosition", "true")
	} else if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	params.Set("newOrderRespType", "RESULT")
	params.Set("timestamp", strconv.FormatInt(c.now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))

	body, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return common.OrderResult{}, err
	}
	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order: %w", err)
	}
	return common.OrderResult{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		ClientID:        resp.ClientOrderID,
		Status:          mapStatus(resp.Status),
		AvgPrice:        parseFloat(resp.AvgPrice),
		ExecutedQty:     parseFloat(resp.ExecutedQty),
	}, nil
}

// CancelAllOpenOrders cancels all open orders for a symbol.
func (c *Client) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	if !c.hasCredentials() {
		return fmt.Errorf("binance usdt futures: %w", common.ErrMissingCredentials)
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("timestamp", strconv.FormatInt(c.now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	_, err := c.doSigned(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params)
	return err
}

// Positions returns the venue's position snapshot, including flat rows.
func (c *Client) Positions(ctx context.Context) ([]common.VenuePosition, error) {
	if !c.hasCredentials() {
		return nil, fmt.Errorf("binance usdt futures: %w", common.ErrMissingCredentials)
	}
	params := url.Values{}
	params.Set("timestamp", strconv.FormatInt(c.now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/positionRisk", params)
	if err != nil {
		return nil, err
	}
	var rows []PositionRisk
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	out := make([]common.VenuePosition, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toVenue())
	}
	return out, nil
}

// SetLeverage sets leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	params.Set("timestamp", strconv.FormatInt(c.now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	_, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/leverage", params)
	return err
}

// SetMarginType sets margin type. The venue answers -4046 when the mode is
// already active; that is treated as success.
func (c *Client) SetMarginType(ctx context.Context, symbol string, marginType common.MarginType) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("marginType", strings.ToUpper(string(marginType)))
	params.Set("timestamp", strconv.FormatInt(c.now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	_, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/marginType", params)
	if err != nil && strings.Contains(err.Error(), "-4046") {
		return nil
	}
	return err
}

// CreateListenKey creates a listen key for the user data stream.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	body, err := c.doKeyed(ctx, http.MethodPost, "/fapi/v1/listenKey")
	if err != nil {
		return "", err
	}
	var out struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode listen key: %w", err)
	}
	return out.ListenKey, nil
}

// KeepAliveListenKey extends the listen key life by 60 minutes.
func (c *Client) KeepAliveListenKey(ctx context.Context) error {
	_, err := c.doKeyed(ctx, http.MethodPut, "/fapi/v1/listenKey")
	return err
}

func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, path)
}

func (c *Client) doKeyed(ctx context.Context, method, path string) ([]byte, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("binance usdt futures: %w", common.ErrMissingCredentials)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	return c.do(req, path)
}

// doSigned handles signing and sending requests.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	encoded := params.Encode()
	encoded += "&signature=" + sign(encoded, c.cfg.APISecret)

	var (
		req *http.Request
		err error
	)
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(encoded))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	return c.do(req, path)
}

func (c *Client) do(req *http.Request, path string) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if c.rateLimiter != nil {
		c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("binance usdt futures %s %s read body: %w", req.Method, path, err)
	}
	if res.StatusCode >= 300 {
		if bytes.Contains(body, []byte(`"code":-1021`)) {
			c.clock.MarkStale()
		}
		return nil, fmt.Errorf("binance usdt futures %s %s status %d: %s", req.Method, path, res.StatusCode, string(body))
	}
	return body, nil
}
