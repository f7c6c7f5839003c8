package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/grisha2077/vortex-trader-pro/internal/connectivity"
	"github.com/grisha2077/vortex-trader-pro/internal/events"
	"github.com/grisha2077/vortex-trader-pro/internal/monitor"
	"github.com/grisha2077/vortex-trader-pro/internal/order"
	"github.com/grisha2077/vortex-trader-pro/internal/state"
	"github.com/grisha2077/vortex-trader-pro/internal/strategy"
	"github.com/grisha2077/vortex-trader-pro/pkg/config"
	"github.com/grisha2077/vortex-trader-pro/pkg/db"
	exchange "github.com/grisha2077/vortex-trader-pro/pkg/exchanges/common"
	market "github.com/grisha2077/vortex-trader-pro/pkg/market/binance"
)

// ErrAlreadyRunning is returned by StartTrading while a session is active.
var ErrAlreadyRunning = errors.New("trading already running")

// Streams is the connectivity surface the engine drives.
type Streams interface {
	Initialize(ctx context.Context) error
	SubmitCall(ctx context.Context, class exchange.CallClass, fn func(context.Context) error) error
	SubscribeCandles(symbols []string, interval string, onCandle func(market.Kline)) error
	SubscribeOrderBook(symbol string, onUpdate func(market.BookTicker)) error
	SubscribePositions(onUpdate func(market.UserEvent)) error
	Errors() <-chan error
	Status() []connectivity.StreamStatus
	Close()
}

// TradeJournal persists closed trades and serves the journal back.
type TradeJournal interface {
	RecordTrade(t state.Trade)
	RecentTrades(ctx context.Context, limit int) ([]state.Trade, error)
	RecentOrders(ctx context.Context, symbol string, limit int) ([]db.Order, error)
}

// KlineSource serves historical candles, oldest first.
type KlineSource interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]market.Kline, error)
}

// Impl implements the Service interface by composing the trading modules.
type Impl struct {
	gw       exchange.Gateway
	streams  Streams
	executor *order.Executor
	ledger   *state.Manager
	bus      *events.Bus
	journal  TradeJournal
	klines   KlineSource
	metrics  *monitor.Metrics
	settings config.EngineSettings
	log      *zap.Logger

	// System metadata
	meta SystemStatus

	lifecycle sync.Mutex // serializes start and stop

	mu      sync.RWMutex
	session *session
	symbols map[string]*SymbolStatus
	active  []string
}

// Config holds the configuration for creating an engine implementation.
type Config struct {
	Gateway  exchange.Gateway
	Streams  Streams
	Executor *order.Executor
	Ledger   *state.Manager
	Bus      *events.Bus
	Journal  TradeJournal // optional
	Klines   KlineSource  // optional, used for warm-up
	Metrics  *monitor.Metrics
	Settings config.EngineSettings
	Log      *zap.Logger
	Meta     SystemStatus
}

// NewImpl creates a new engine implementation.
func NewImpl(cfg Config) *Impl {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Bus == nil {
		cfg.Bus = events.NewBus()
	}
	def := config.DefaultEngineSettings()
	if cfg.Settings.ReconcileInterval <= 0 {
		cfg.Settings.ReconcileInterval = def.ReconcileInterval
	}
	if cfg.Settings.StatsInterval <= 0 {
		cfg.Settings.StatsInterval = def.StatsInterval
	}
	if cfg.Settings.Workers <= 0 {
		cfg.Settings.Workers = def.Workers
	}
	if cfg.Settings.HistoryLimit <= 0 {
		cfg.Settings.HistoryLimit = def.HistoryLimit
	}
	return &Impl{
		gw:       cfg.Gateway,
		streams:  cfg.Streams,
		executor: cfg.Executor,
		ledger:   cfg.Ledger,
		bus:      cfg.Bus,
		journal:  cfg.Journal,
		klines:   cfg.Klines,
		metrics:  cfg.Metrics,
		settings: cfg.Settings,
		log:      cfg.Log.Named("engine"),
		meta:     cfg.Meta,
		symbols:  make(map[string]*SymbolStatus),
	}
}

// --- Commands ---

// StartTrading validates cfg, prepares every symbol on the venue and starts
// the event loop. Symbols whose metadata cannot be fetched are reported and
// left out; the call fails only when none remain.
func (e *Impl) StartTrading(ctx context.Context, cfg config.TradingConfig) error {
	if e.streams == nil || e.executor == nil || e.ledger == nil {
		return fmt.Errorf("trading core not available")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		e.publishError(events.ErrorConfiguration, "", err.Error(), false)
		return err
	}
	margin, _ := config.ParseMarginMode(cfg.MarginMode)

	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	if e.current() != nil {
		return ErrAlreadyRunning
	}

	if err := e.streams.Initialize(ctx); err != nil {
		e.publishError(events.ErrorConnectivity, "", err.Error(), true)
		return err
	}

	e.executor.Configure(order.Config{
		PositionSize:      cfg.PositionSize,
		Leverage:          cfg.Leverage,
		StopLossPercent:   cfg.StopLossPercent,
		TakeProfitPercent: cfg.TakeProfitPercent,
		MaxRetries:        e.settings.MaxRetries,
		RetryDelay:        e.settings.RetryDelay,
	})
	cooldown := e.settings.Cooldown
	if cfg.CooldownSeconds > 0 {
		cooldown = time.Duration(cfg.CooldownSeconds) * time.Second
	}
	e.ledger.SetCooldown(cooldown)

	symbols, err := e.loadInstruments(ctx, cfg.Symbols)
	if err != nil {
		return err
	}
	for _, sym := range symbols {
		if err := e.executor.PrepareSymbol(ctx, sym, cfg.Leverage, margin); err != nil {
			e.log.Warn("symbol preparation failed", zap.String("symbol", sym), zap.Error(err))
			e.publishError(events.ErrorConfiguration, sym, err.Error(), false)
		}
	}
	e.seedHistory(ctx)

	signals := strategy.NewSignalEngine(strategy.Params{
		Period: cfg.RSIPeriod,
		Level:  cfg.RSILevel,
		Short:  cfg.EnableShortEntries,
	})
	if cfg.Warmup {
		e.warmUp(ctx, signals, symbols, cfg)
	}

	s := newSession(cfg, symbols, signals, e.settings.Workers, e.log)
	e.resetSymbols(symbols, signals)
	go e.run(s)

	if err := e.streams.SubscribeCandles(symbols, cfg.Interval, s.pushCandle); err != nil {
		s.cancel()
		<-s.done
		s.stopWork()
		e.streams.Close()
		e.resetSymbols(nil, nil)
		e.publishError(events.ErrorConnectivity, "", err.Error(), true)
		return fmt.Errorf("subscribe candles: %w", err)
	}
	for _, sym := range symbols {
		if err := e.streams.SubscribeOrderBook(sym, s.pushBook); err != nil {
			e.log.Warn("order book unavailable", zap.String("symbol", sym), zap.Error(err))
		}
	}
	if err := e.streams.SubscribePositions(s.pushUser); err != nil {
		e.log.Warn("user data stream unavailable, relying on periodic reconciliation", zap.Error(err))
	}
	s.requestReconcile()

	e.mu.Lock()
	e.session = s
	e.mu.Unlock()

	e.log.Info("trading started",
		zap.Strings("symbols", symbols),
		zap.String("interval", cfg.Interval),
		zap.Int("leverage", cfg.Leverage),
		zap.Float64("rsi_level", cfg.RSILevel),
		zap.Bool("short", cfg.EnableShortEntries))
	e.bus.Publish(events.EventStatus, events.Status{Running: true, Symbols: symbols, Time: time.Now()})
	return nil
}

// StopTrading halts the loop, waits for in-flight venue work, closes every
// open position best-effort and tears down the streams. Stopping an idle
// engine is a no-op.
func (e *Impl) StopTrading(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	s := e.session
	e.session = nil
	e.mu.Unlock()
	if s == nil {
		return nil
	}

	s.cancel()
	<-s.done

	var errs []error
	for _, p := range e.ledger.Positions() {
		if err := e.flatten(ctx, p); err != nil {
			e.log.Error("close on stop failed", zap.String("symbol", p.Symbol), zap.Error(err))
			e.publishError(events.ErrorOrder, p.Symbol, err.Error(), false)
			errs = append(errs, err)
		}
	}
	s.stopWork()
	e.streams.Close()
	e.resetSymbols(nil, nil)

	e.log.Info("trading stopped", zap.Int("close_failures", len(errs)))
	e.bus.Publish(events.EventStatus, events.Status{Running: false, Time: time.Now()})
	return errors.Join(errs...)
}

// flatten closes p with a market order and records the trade.
func (e *Impl) flatten(ctx context.Context, p state.Position) error {
	exit, err := e.executor.Close(ctx, order.CloseRequest{
		Symbol:     p.Symbol,
		Direction:  p.Direction,
		Quantity:   p.Quantity,
		Price:      e.lastPrice(p.Symbol),
		EntryPrice: p.EntryPrice,
	})
	if err != nil {
		return err
	}
	if trade, ok := e.ledger.Close(p.Symbol, exit.ExitPrice, "stopped"); ok {
		e.recordTrade(trade)
	}
	return nil
}

// PlaceManualOrder submits an operator order. It works whether or not the
// loop is running; a running loop reconciles right after so the ledger picks
// up any resulting position.
func (e *Impl) PlaceManualOrder(ctx context.Context, m order.ManualOrder) (*order.Order, error) {
	if e.executor == nil {
		return nil, fmt.Errorf("execution engine not available")
	}
	o, err := e.executor.PlaceManual(ctx, m)
	if err != nil {
		kind := events.ErrorOrder
		if exchange.IsConfiguration(err) {
			kind = events.ErrorConfiguration
		}
		e.publishError(kind, m.Symbol, err.Error(), false)
		return nil, err
	}
	if s := e.current(); s != nil {
		s.requestReconcile()
	}
	return o, nil
}

// --- Queries ---

func (e *Impl) GetPositions(ctx context.Context) []PositionView {
	positions := e.ledger.Positions()
	out := make([]PositionView, 0, len(positions))
	for _, p := range positions {
		px := e.lastPrice(p.Symbol)
		v := PositionView{
			Symbol:       p.Symbol,
			Side:         string(p.Direction),
			Quantity:     p.Quantity,
			EntryPrice:   p.EntryPrice,
			CurrentPrice: px,
			Leverage:     p.Leverage,
			StopLoss:     p.StopLoss,
			TakeProfit:   p.TakeProfit,
			Protected:    p.Protected,
			External:     p.External,
			OpenedAt:     p.OpenedAt,
		}
		if px > 0 {
			v.UnrealizedPnL, _ = order.CalculatePnL(p.Direction, p.EntryPrice, px, p.Quantity, max(p.Leverage, 1))
		}
		out = append(out, v)
	}
	return out
}

func (e *Impl) GetTradeHistory(ctx context.Context) []TradeView {
	history := e.ledger.History()
	out := make([]TradeView, 0, len(history))
	for _, t := range history {
		out = append(out, TradeView{
			Symbol:     t.Symbol,
			Side:       string(t.Direction),
			EntryPrice: t.EntryPrice,
			ExitPrice:  t.ExitPrice,
			Quantity:   t.Quantity,
			Leverage:   t.Leverage,
			PnL:        t.PnL,
			PnLPercent: t.PnLPercent,
			Reason:     t.Reason,
			OpenedAt:   t.OpenedAt,
			ClosedAt:   t.ClosedAt,
		})
	}
	return out
}

func (e *Impl) GetStats(ctx context.Context) StatsView {
	st := e.ledger.Stats(e.lastPrice)
	return StatsView{
		OpenPositions:   st.OpenPositions,
		CompletedTrades: st.CompletedTrades,
		TotalPnL:        st.TotalPnL,
		AveragePnL:      st.AveragePnL,
		UnrealizedPnL:   st.UnrealizedPnL,
		LockedFunds:     st.LockedFunds,
		DisabledSymbols: st.DisabledSymbols,
	}
}

func (e *Impl) GetSymbols(ctx context.Context) []SymbolStatus {
	e.mu.RLock()
	out := make([]SymbolStatus, 0, len(e.active))
	for _, sym := range e.active {
		st := *e.symbols[sym]
		if st.RSI != nil {
			v := *st.RSI
			st.RSI = &v
		}
		out = append(out, st)
	}
	e.mu.RUnlock()

	for i := range out {
		out[i].Errors = e.ledger.ErrorCount(out[i].Symbol)
		out[i].Disabled = e.ledger.Disabled(out[i].Symbol)
	}
	return out
}

func (e *Impl) GetStreams(ctx context.Context) []connectivity.StreamStatus {
	if e.streams == nil {
		return nil
	}
	return e.streams.Status()
}

func (e *Impl) GetOrders(ctx context.Context, symbol string, limit int) ([]OrderView, error) {
	if e.journal == nil {
		return nil, fmt.Errorf("order journal not available")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := e.journal.RecentOrders(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}
	out := make([]OrderView, 0, len(rows))
	for _, o := range rows {
		out = append(out, OrderView{
			ClientID:        o.ClientID,
			ExchangeOrderID: o.ExchangeOrderID,
			Symbol:          o.Symbol,
			Side:            o.Side,
			Type:            o.Type,
			Purpose:         o.Purpose,
			Quantity:        o.Quantity,
			Price:           o.Price,
			StopPrice:       o.StopPrice,
			Status:          o.Status,
			AvgPrice:        o.AvgPrice,
			Attempts:        o.Attempts,
			Error:           o.Error,
			CreatedAt:       o.CreatedAt,
		})
	}
	return out, nil
}

func (e *Impl) GetSystemStatus(ctx context.Context) *SystemStatus {
	status := e.meta
	status.ServerTime = time.Now()
	if s := e.current(); s != nil {
		status.Running = true
		status.Symbols = append([]string(nil), s.symbols...)
		status.Interval = s.cfg.Interval
		status.StartedAt = s.startedAt
	}
	return &status
}

// --- Helpers ---

func (e *Impl) current() *session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session
}

// loadInstruments caches precision metadata and returns the symbols that
// can be traded.
func (e *Impl) loadInstruments(ctx context.Context, symbols []string) ([]string, error) {
	err := e.executor.LoadInstruments(ctx, symbols)
	if err != nil && !exchange.IsConfiguration(err) {
		e.publishError(events.ErrorConnectivity, "", err.Error(), false)
		return nil, err
	}
	var ok []string
	for _, sym := range symbols {
		if e.executor.Instruments().Has(sym) {
			ok = append(ok, sym)
			continue
		}
		e.publishError(events.ErrorConfiguration, sym, "instrument metadata unavailable", false)
	}
	if len(ok) == 0 {
		if err == nil {
			err = &exchange.ConfigurationError{Field: "symbols", Err: exchange.ErrUnknownInstrument}
		}
		return nil, err
	}
	return ok, nil
}

// seedHistory loads the journal into an empty ledger history.
func (e *Impl) seedHistory(ctx context.Context) {
	if e.journal == nil || len(e.ledger.History()) > 0 {
		return
	}
	trades, err := e.journal.RecentTrades(ctx, e.settings.HistoryLimit)
	if err != nil {
		e.log.Warn("trade journal unreadable", zap.Error(err))
		return
	}
	e.ledger.Seed(trades)
	e.log.Info("trade history restored", zap.Int("trades", len(trades)))
}

// warmUp fills the oscillator windows from REST candles so signals can fire
// on the first live candle.
func (e *Impl) warmUp(ctx context.Context, signals *strategy.SignalEngine, symbols []string, cfg config.TradingConfig) {
	if e.klines == nil {
		return
	}
	now := time.Now().UnixMilli()
	for _, sym := range symbols {
		var candles []market.Kline
		err := e.streams.SubmitCall(ctx, exchange.ClassRequest, func(ctx context.Context) error {
			var err error
			candles, err = e.klines.Klines(ctx, sym, cfg.Interval, cfg.RSIPeriod+1)
			return err
		})
		if err != nil {
			e.log.Warn("warm-up skipped", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		closes := make([]float64, 0, len(candles))
		for _, k := range candles {
			if k.CloseTime > 0 && k.CloseTime >= now {
				continue // still forming
			}
			closes = append(closes, k.Close)
		}
		signals.Seed(sym, closes)
		if v, ok := signals.Value(sym); ok {
			e.log.Info("oscillator warmed up", zap.String("symbol", sym), zap.Float64("rsi", v))
		}
	}
}

// resetSymbols replaces the tracked symbol set. Symbols disabled by the
// circuit breaker stay DISABLED; the rest start MONITORING. A nil set marks
// every known symbol IDLE.
func (e *Impl) resetSymbols(symbols []string, signals *strategy.SignalEngine) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if symbols == nil {
		for _, st := range e.symbols {
			if st.State != StateDisabled {
				st.State = StateIdle
			}
		}
		return
	}
	e.active = append([]string(nil), symbols...)
	sort.Strings(e.active)
	for _, sym := range symbols {
		st, ok := e.symbols[sym]
		if !ok {
			st = &SymbolStatus{Symbol: sym}
			e.symbols[sym] = st
		}
		st.RSI = nil
		if v, ok := signals.Value(sym); ok {
			st.RSI = &v
		}
		st.State = StateMonitoring
		if e.ledger.Disabled(sym) {
			st.State = StateDisabled
		}
	}
}

func (e *Impl) stateOf(symbol string) SymbolState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if st, ok := e.symbols[symbol]; ok {
		return st.State
	}
	return StateIdle
}

// transition moves symbol to the next state. DISABLED is terminal.
func (e *Impl) transition(symbol string, to SymbolState) {
	e.mu.Lock()
	st, ok := e.symbols[symbol]
	if !ok {
		st = &SymbolStatus{Symbol: symbol, State: StateIdle}
		e.symbols[symbol] = st
	}
	from := st.State
	if from == StateDisabled || from == to {
		e.mu.Unlock()
		return
	}
	st.State = to
	e.mu.Unlock()
	e.log.Debug("state", zap.String("symbol", symbol), zap.String("from", string(from)), zap.String("to", string(to)))
}

func (e *Impl) observe(symbol string, price float64, rsi *float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.symbols[symbol]
	if !ok {
		return
	}
	if price > 0 {
		st.LastPrice = price
	}
	if rsi != nil {
		v := *rsi
		st.RSI = &v
	}
}

func (e *Impl) lastPrice(symbol string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if st, ok := e.symbols[symbol]; ok {
		return st.LastPrice
	}
	return 0
}

func (e *Impl) publishError(kind events.ErrorKind, symbol, msg string, fatal bool) {
	e.bus.Publish(events.EventError, events.ErrorEvent{
		Kind:    kind,
		Symbol:  symbol,
		Message: msg,
		Fatal:   fatal,
		Time:    time.Now(),
	})
}

// recordTrade journals a closed trade and publishes it with the history.
func (e *Impl) recordTrade(t state.Trade) {
	if e.journal != nil {
		e.journal.RecordTrade(t)
	}
	e.bus.Publish(events.EventPosition, events.PositionChange{
		Kind:       events.PositionClose,
		Symbol:     t.Symbol,
		Side:       string(t.Direction),
		EntryPrice: t.EntryPrice,
		Price:      t.ExitPrice,
		Quantity:   t.Quantity,
		PnL:        t.PnL,
		PnLPercent: t.PnLPercent,
		Time:       t.ClosedAt,
	})
	history := e.ledger.History()
	records := make([]events.TradeRecord, 0, len(history))
	for _, h := range history {
		records = append(records, tradeRecord(h))
	}
	e.bus.Publish(events.EventTradeHistory, events.TradeHistory{Trades: records})
	e.log.Info("trade closed",
		zap.String("symbol", t.Symbol),
		zap.String("reason", t.Reason),
		zap.Float64("entry", t.EntryPrice),
		zap.Float64("exit", t.ExitPrice),
		zap.Float64("pnl", t.PnL))
}

func tradeRecord(t state.Trade) events.TradeRecord {
	return events.TradeRecord{
		Symbol:     t.Symbol,
		Side:       string(t.Direction),
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		Quantity:   t.Quantity,
		PnL:        t.PnL,
		PnLPercent: t.PnLPercent,
		OpenedAt:   t.OpenedAt,
		ClosedAt:   t.ClosedAt,
	}
}
