package connectivity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	exchange "github.com/grisha2077/vortex-trader-pro/pkg/exchanges/common"
	market "github.com/grisha2077/vortex-trader-pro/pkg/market/binance"
)

var errClosed = errors.New("use of closed network connection")

type fakeStream struct {
	msgs    chan []byte
	closed  chan struct{}
	once    sync.Once
	onAlive func()
}

func newFakeStream(onAlive func(), msgs ...string) *fakeStream {
	s := &fakeStream{msgs: make(chan []byte, len(msgs)), closed: make(chan struct{}), onAlive: onAlive}
	for _, m := range msgs {
		s.msgs <- []byte(m)
	}
	return s
}

// Read drains queued messages and then blocks until closed.
func (s *fakeStream) Read() ([]byte, error) {
	select {
	case m := <-s.msgs:
		s.onAlive()
		return m, nil
	case <-s.closed:
		return nil, errClosed
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// fakeDialer scripts each open call by its index.
type fakeDialer struct {
	mu      sync.Mutex
	opens   [][]string
	keys    []string
	script  func(n int, onAlive func()) (Stream, error)
	streams []*fakeStream
}

func (d *fakeDialer) open(streams []string, onAlive func()) (Stream, error) {
	d.mu.Lock()
	n := len(d.opens)
	d.opens = append(d.opens, streams)
	d.mu.Unlock()
	s, err := d.script(n, onAlive)
	if err != nil {
		return nil, err
	}
	if fs, ok := s.(*fakeStream); ok {
		d.mu.Lock()
		d.streams = append(d.streams, fs)
		d.mu.Unlock()
	}
	return s, nil
}

func (d *fakeDialer) OpenCombined(_ context.Context, streams []string, onAlive func()) (Stream, error) {
	return d.open(streams, onAlive)
}

func (d *fakeDialer) OpenUserData(_ context.Context, listenKey string, onAlive func()) (Stream, error) {
	d.mu.Lock()
	d.keys = append(d.keys, listenKey)
	d.mu.Unlock()
	return d.open([]string{listenKey}, onAlive)
}

func (d *fakeDialer) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.opens)
}

type fakeKeys struct {
	mu        sync.Mutex
	minted    int
	keepAlive int
}

func (k *fakeKeys) CreateListenKey(context.Context) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.minted++
	return fmt.Sprintf("key-%d", k.minted), nil
}

func (k *fakeKeys) KeepAliveListenKey(context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keepAlive++
	return nil
}

type pingGateway struct {
	exchange.Gateway
	err error
}

func (g pingGateway) Ping(context.Context) error { return g.err }

func klineFrame(symbol string, close float64) string {
	return fmt.Sprintf(`{"stream":"x@kline_3m","data":{"e":"kline","k":{"t":1,"T":2,"s":"%s","i":"3m","o":"1","c":"%g","h":"1","l":"1","v":"1","x":true}}}`, symbol, close)
}

func testConfig() Config {
	return Config{
		GroupSize:            5,
		ReconnectBaseDelay:   time.Millisecond,
		ReconnectMaxAttempts: 5,
		PingInterval:         time.Hour,
		KeepAliveInterval:    time.Hour,
	}
}

func TestInitializeFailsFast(t *testing.T) {
	m := NewManager(pingGateway{err: errors.New("dial tcp: refused")}, nil, nil, nil, testConfig(), zap.NewNop())
	err := m.Initialize(context.Background())
	var ce *exchange.ConnectivityError
	require.ErrorAs(t, err, &ce)

	ok := NewManager(pingGateway{}, nil, nil, nil, testConfig(), zap.NewNop())
	assert.NoError(t, ok.Initialize(context.Background()))
}

func TestGroups(t *testing.T) {
	symbols := make([]string, 12)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("S%d", i)
	}
	groups := Groups(symbols, 5)
	require.Len(t, groups, 3)
	assert.Len(t, groups[0], 5)
	assert.Len(t, groups[1], 5)
	assert.Len(t, groups[2], 2)
	assert.Nil(t, Groups(nil, 5))
}

func TestSubscribeCandlesOpensOneStreamPerGroup(t *testing.T) {
	d := &fakeDialer{script: func(_ int, onAlive func()) (Stream, error) {
		return newFakeStream(onAlive), nil
	}}
	m := NewManager(pingGateway{}, nil, d, nil, testConfig(), zap.NewNop())
	defer m.Close()

	symbols := []string{"A", "B", "C", "D", "E", "F", "G"}
	require.NoError(t, m.SubscribeCandles(symbols, "3m", func(market.Kline) {}))
	require.NoError(t, m.SubscribeCandles([]string{"A"}, "3m", func(market.Kline) {}), "repeat is a warning")

	require.Eventually(t, func() bool { return d.openCount() == 2 }, time.Second, time.Millisecond)
	assert.Len(t, m.Status(), 2)
}

func TestReconnectReopensFromRegistry(t *testing.T) {
	d := &fakeDialer{}
	d.script = func(n int, onAlive func()) (Stream, error) {
		s := newFakeStream(onAlive, klineFrame("BTCUSDT", float64(100+n)))
		if n == 0 {
			go func() {
				time.Sleep(10 * time.Millisecond)
				s.Close()
			}()
		}
		return s, nil
	}
	m := NewManager(pingGateway{}, nil, d, nil, testConfig(), zap.NewNop())
	defer m.Close()

	var mu sync.Mutex
	var closes []float64
	require.NoError(t, m.SubscribeCandles([]string{"BTCUSDT"}, "3m", func(k market.Kline) {
		mu.Lock()
		closes = append(closes, k.Close)
		mu.Unlock()
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(closes) == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, []float64{100, 101}, closes)
	d.mu.Lock()
	assert.Equal(t, d.opens[0], d.opens[1], "same streams reopened")
	d.mu.Unlock()
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	d := &fakeDialer{script: func(int, func()) (Stream, error) {
		return nil, errors.New("handshake failed")
	}}
	m := NewManager(pingGateway{}, nil, d, nil, testConfig(), zap.NewNop())
	defer m.Close()

	require.NoError(t, m.SubscribeOrderBook("ETHUSDT", func(market.BookTicker) {}))

	select {
	case err := <-m.Errors():
		var ce *exchange.ConnectivityError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "book:ETHUSDT", ce.Stream)
		assert.Equal(t, 5, ce.Attempts)
	case <-time.After(2 * time.Second):
		t.Fatal("no fatal error surfaced")
	}
	assert.Equal(t, 6, d.openCount(), "initial connect plus five reconnects")
	require.Len(t, m.Status(), 1)
	assert.Equal(t, StateStopped, m.Status()[0].State)
}

func TestWatchdogForcesReconnect(t *testing.T) {
	d := &fakeDialer{script: func(_ int, onAlive func()) (Stream, error) {
		return newFakeStream(onAlive), nil
	}}
	cfg := testConfig()
	cfg.PingInterval = 5 * time.Millisecond
	m := NewManager(pingGateway{}, nil, d, nil, cfg, zap.NewNop())
	defer m.Close()

	require.NoError(t, m.SubscribeOrderBook("BTCUSDT", func(market.BookTicker) {}))
	require.Eventually(t, func() bool { return d.openCount() >= 2 }, time.Second, time.Millisecond)
}

func TestSubscribePositionsMintsKeyPerConnect(t *testing.T) {
	d := &fakeDialer{}
	d.script = func(n int, onAlive func()) (Stream, error) {
		if n == 0 {
			return newFakeStream(onAlive, `{"e":"listenKeyExpired","E":1}`), nil
		}
		return newFakeStream(onAlive, `{"e":"ACCOUNT_UPDATE","E":2,"a":{"P":[{"s":"BTCUSDT","pa":"0.5","ep":"100"}]}}`), nil
	}
	keys := &fakeKeys{}
	m := NewManager(pingGateway{}, keys, d, nil, testConfig(), zap.NewNop())
	defer m.Close()

	events := make(chan market.UserEvent, 1)
	require.NoError(t, m.SubscribePositions(func(ev market.UserEvent) { events <- ev }))
	require.NoError(t, m.SubscribePositions(func(market.UserEvent) {}))

	select {
	case ev := <-events:
		assert.Equal(t, market.UserEventAccountUpdate, ev.Type)
		require.Len(t, ev.Positions, 1)
	case <-time.After(time.Second):
		t.Fatal("no account update delivered")
	}
	d.mu.Lock()
	assert.Equal(t, []string{"key-1", "key-2"}, d.keys)
	d.mu.Unlock()
}

func TestSubmitCallWaitsOnBucket(t *testing.T) {
	limiter := exchange.NewRateLimiter(zap.NewNop(),
		exchange.NewRateBucket(exchange.ClassOrder, 2, 40*time.Millisecond),
		exchange.NewRateBucket(exchange.ClassRequest, 10, time.Minute),
	)
	m := NewManager(pingGateway{}, nil, nil, limiter, testConfig(), zap.NewNop())

	start := time.Now()
	calls := 0
	for i := 0; i < 3; i++ {
		require.NoError(t, m.SubmitCall(context.Background(), exchange.ClassOrder, func(context.Context) error {
			calls++
			return nil
		}))
	}
	assert.Equal(t, 3, calls, "excess calls are delayed, never dropped")
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	want := io.ErrUnexpectedEOF
	assert.ErrorIs(t, m.SubmitCall(context.Background(), exchange.ClassRequest, func(context.Context) error { return want }), want)
}

func TestCloseAllowsResubscribe(t *testing.T) {
	d := &fakeDialer{script: func(_ int, onAlive func()) (Stream, error) {
		return newFakeStream(onAlive), nil
	}}
	m := NewManager(pingGateway{}, nil, d, nil, testConfig(), zap.NewNop())
	require.NoError(t, m.SubscribeCandles([]string{"BTCUSDT"}, "3m", func(market.Kline) {}))
	require.Eventually(t, func() bool { return d.openCount() == 1 }, time.Second, time.Millisecond)

	m.Close()
	assert.Empty(t, m.Status())

	require.NoError(t, m.SubscribeCandles([]string{"BTCUSDT"}, "3m", func(market.Kline) {}))
	require.Eventually(t, func() bool { return d.openCount() == 2 }, time.Second, time.Millisecond)
	m.Close()
}
