// Package connectivity keeps venue streams alive and funnels every outbound
// venue call through the rate buckets.
package connectivity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/grisha2077/vortex-trader-pro/internal/monitor"
	exchange "github.com/grisha2077/vortex-trader-pro/pkg/exchanges/common"
	market "github.com/grisha2077/vortex-trader-pro/pkg/market/binance"
)

var errListenKeyExpired = errors.New("listen key expired")

// Config tunes grouping, reconnects and liveness.
type Config struct {
	GroupSize            int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxAttempts int
	PingInterval         time.Duration
	KeepAliveInterval    time.Duration
}

// DefaultConfig returns 5 symbols per connection, 1s×attempt backoff capped
// at 5 attempts, a 30s ping and a 30m listen-key keepalive.
func DefaultConfig() Config {
	return Config{
		GroupSize:            5,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxAttempts: 5,
		PingInterval:         30 * time.Second,
		KeepAliveInterval:    30 * time.Minute,
	}
}

// Manager owns market-data and account streams.
type Manager struct {
	gw      exchange.Gateway
	keys    ListenKeys
	dialer  Dialer
	limiter *exchange.RateLimiter
	cfg     Config
	log     *zap.Logger

	Metrics *monitor.Metrics

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	registry map[string]*supervisor
	symbols  map[string]string // "interval|symbol" -> group key
	wg       sync.WaitGroup
	errCh    chan error
}

// NewManager wires a connectivity manager. keys may be nil when no
// user-data stream is needed.
func NewManager(gw exchange.Gateway, keys ListenKeys, dialer Dialer, limiter *exchange.RateLimiter, cfg Config, log *zap.Logger) *Manager {
	def := DefaultConfig()
	if cfg.GroupSize <= 0 {
		cfg.GroupSize = def.GroupSize
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if cfg.ReconnectMaxAttempts <= 0 {
		cfg.ReconnectMaxAttempts = def.ReconnectMaxAttempts
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = def.KeepAliveInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		gw:       gw,
		keys:     keys,
		dialer:   dialer,
		limiter:  limiter,
		cfg:      cfg,
		log:      log.Named("connectivity"),
		ctx:      ctx,
		cancel:   cancel,
		registry: make(map[string]*supervisor),
		symbols:  make(map[string]string),
		errCh:    make(chan error, 16),
	}
}

// Initialize verifies the venue answers a ping.
func (m *Manager) Initialize(ctx context.Context) error {
	err := m.SubmitCall(ctx, exchange.ClassRequest, func(ctx context.Context) error {
		return m.gw.Ping(ctx)
	})
	if err != nil {
		return &exchange.ConnectivityError{Err: err}
	}
	m.log.Info("venue reachable")
	return nil
}

// SubmitCall waits on the bucket of class and then runs fn.
func (m *Manager) SubmitCall(ctx context.Context, class exchange.CallClass, fn func(context.Context) error) error {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx, class); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	return fn(ctx)
}

// Errors delivers fatal stream failures.
func (m *Manager) Errors() <-chan error { return m.errCh }

func (m *Manager) report(ctx context.Context, err error) {
	select {
	case m.errCh <- err:
	case <-ctx.Done():
	}
}

// Groups partitions symbols into connection groups of at most size symbols.
func Groups(symbols []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	var out [][]string
	for start := 0; start < len(symbols); start += size {
		end := start + size
		if end > len(symbols) {
			end = len(symbols)
		}
		out = append(out, append([]string(nil), symbols[start:end]...))
	}
	return out
}

// SubscribeCandles opens one combined kline stream per group of symbols.
// Symbols already subscribed for interval are skipped with a warning.
func (m *Manager) SubscribeCandles(symbols []string, interval string, onCandle func(market.Kline)) error {
	if m.dialer == nil {
		return errors.New("no stream dialer configured")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var fresh []string
	for _, s := range symbols {
		s = strings.ToUpper(s)
		if key, ok := m.symbols[interval+"|"+s]; ok {
			m.log.Warn("candles already subscribed", zap.String("symbol", s), zap.String("stream", key))
			continue
		}
		fresh = append(fresh, s)
	}

	for _, group := range Groups(fresh, m.cfg.GroupSize) {
		streams := make([]string, len(group))
		for i, s := range group {
			streams[i] = market.KlineStream(s, interval)
		}
		key := "klines:" + interval + ":" + strings.Join(group, ",")
		for _, s := range group {
			m.symbols[interval+"|"+s] = key
		}
		m.startLocked(&supervisor{
			key: key,
			open: func(ctx context.Context, onAlive func()) (Stream, error) {
				return m.dialer.OpenCombined(ctx, streams, onAlive)
			},
			handle: func(msg []byte) error {
				_, data, err := market.ParseCombined(msg)
				if err != nil {
					m.log.Debug("undecodable frame", zap.String("stream", key), zap.Error(err))
					return nil
				}
				k, err := market.ParseKline(data)
				if err != nil {
					return nil
				}
				onCandle(k)
				return nil
			},
		})
	}
	return nil
}

// SubscribeOrderBook streams the best bid/ask of symbol. A repeated
// subscription is a warning, not an error.
func (m *Manager) SubscribeOrderBook(symbol string, onUpdate func(market.BookTicker)) error {
	if m.dialer == nil {
		return errors.New("no stream dialer configured")
	}
	symbol = strings.ToUpper(symbol)
	key := "book:" + symbol
	streams := []string{market.BookTickerStream(symbol)}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.registry[key]; ok {
		m.log.Warn("order book already subscribed", zap.String("symbol", symbol))
		return nil
	}
	m.startLocked(&supervisor{
		key: key,
		open: func(ctx context.Context, onAlive func()) (Stream, error) {
			return m.dialer.OpenCombined(ctx, streams, onAlive)
		},
		handle: func(msg []byte) error {
			_, data, err := market.ParseCombined(msg)
			if err != nil {
				return nil
			}
			bt, err := market.ParseBookTicker(data)
			if err != nil {
				return nil
			}
			onUpdate(bt)
			return nil
		},
	})
	return nil
}

// SubscribePositions streams account events. Every (re)connect mints a
// fresh listen key; a keepalive runs while the subscription exists.
func (m *Manager) SubscribePositions(onUpdate func(market.UserEvent)) error {
	if m.dialer == nil || m.keys == nil {
		return errors.New("user data stream not configured")
	}
	const key = "user"

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.registry[key]; ok {
		m.log.Warn("positions already subscribed")
		return nil
	}
	m.startLocked(&supervisor{
		key: key,
		open: func(ctx context.Context, onAlive func()) (Stream, error) {
			var listenKey string
			err := m.SubmitCall(ctx, exchange.ClassRequest, func(ctx context.Context) error {
				var err error
				listenKey, err = m.keys.CreateListenKey(ctx)
				return err
			})
			if err != nil {
				return nil, fmt.Errorf("create listen key: %w", err)
			}
			return m.dialer.OpenUserData(ctx, listenKey, onAlive)
		},
		handle: func(msg []byte) error {
			ev, err := market.ParseUserEvent(msg)
			if err != nil {
				m.log.Debug("undecodable user event", zap.Error(err))
				return nil
			}
			if ev.Type == market.UserEventListenKeyExpired {
				return errListenKeyExpired
			}
			onUpdate(ev)
			return nil
		},
	})

	m.wg.Add(1)
	go m.keepAlive(m.ctx)
	return nil
}

func (m *Manager) keepAlive(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := m.SubmitCall(ctx, exchange.ClassRequest, func(ctx context.Context) error {
				return m.keys.KeepAliveListenKey(ctx)
			})
			if err != nil {
				m.log.Warn("listen key keepalive failed", zap.Error(err))
			}
		}
	}
}

func (m *Manager) startLocked(s *supervisor) {
	s.state = StateDisconnected
	m.registry[s.key] = s
	m.wg.Add(1)
	go m.run(m.ctx, s)
}

// Status lists every registry entry ordered by key.
func (m *Manager) Status() []StreamStatus {
	m.mu.Lock()
	out := make([]StreamStatus, 0, len(m.registry))
	for _, s := range m.registry {
		out = append(out, s.status())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Close stops every stream and waits for the supervisors to exit. The
// registry is cleared so the manager can subscribe again afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	m.cancel()
	m.mu.Unlock()
	m.wg.Wait()

	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.registry = make(map[string]*supervisor)
	m.symbols = make(map[string]string)
	m.mu.Unlock()
	m.log.Info("streams closed")
}
