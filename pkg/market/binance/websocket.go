package market

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	futuresStreamHost = "fstream.binance.com"
	testnetStreamHost = "stream.binancefuture.com"
)

// StreamClient dials Binance USDT-M futures websockets.
type StreamClient struct {
	BaseURL      string // scheme://host, overridable for tests
	PingInterval time.Duration
	dialer       *websocket.Dialer
}

// NewStreamClient builds a websocket client; testnet toggles the host.
func NewStreamClient(testnet bool) *StreamClient {
	host := futuresStreamHost
	if testnet {
		host = testnetStreamHost
	}
	return &StreamClient{
		BaseURL:      (&url.URL{Scheme: "wss", Host: host}).String(),
		PingInterval: 30 * time.Second,
		dialer:       websocket.DefaultDialer,
	}
}

// KlineStream returns the stream name for a symbol/interval pair.
func KlineStream(symbol, interval string) string {
	return fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), interval)
}

// BookTickerStream returns the best bid/ask stream name for a symbol.
func BookTickerStream(symbol string) string {
	return strings.ToLower(symbol) + "@bookTicker"
}

// Conn is one open websocket. Read is not safe for concurrent use; Close is.
type Conn struct {
	ws        *websocket.Conn
	onAlive   func()
	done      chan struct{}
	closeOnce sync.Once
}

// OpenCombined dials one connection carrying all given streams. onAlive is
// invoked for every message and pong.
func (c *StreamClient) OpenCombined(ctx context.Context, streams []string, onAlive func()) (*Conn, error) {
	if len(streams) == 0 {
		return nil, fmt.Errorf("no streams requested")
	}
	u := fmt.Sprintf("%s/stream?streams=%s", c.BaseURL, strings.Join(streams, "/"))
	return c.open(ctx, u, onAlive)
}

// OpenUserData dials the user-data stream of a listen key.
func (c *StreamClient) OpenUserData(ctx context.Context, listenKey string, onAlive func()) (*Conn, error) {
	if listenKey == "" {
		return nil, fmt.Errorf("empty listen key")
	}
	return c.open(ctx, c.BaseURL+"/ws/"+listenKey, onAlive)
}

func (c *StreamClient) open(ctx context.Context, u string, onAlive func()) (*Conn, error) {
	ws, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial binance ws: %w", err)
	}
	if onAlive == nil {
		onAlive = func() {}
	}
	conn := &Conn{ws: ws, onAlive: onAlive, done: make(chan struct{})}
	ws.SetPongHandler(func(string) error {
		conn.onAlive()
		return nil
	})
	if c.PingInterval > 0 {
		go conn.pingLoop(c.PingInterval)
	}
	return conn, nil
}

func (c *Conn) pingLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			_ = c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
		}
	}
}

// Read blocks for the next data message.
func (c *Conn) Read() ([]byte, error) {
	_, msg, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	c.onAlive()
	return msg, nil
}

// Close sends a close frame and releases the connection. Safe to call twice.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

// IsNormalClose reports whether err came from an orderly shutdown.
func IsNormalClose(err error) bool {
	if err == nil {
		return false
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		strings.Contains(err.Error(), "use of closed network connection")
}
