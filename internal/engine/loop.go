package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/grisha2077/vortex-trader-pro/internal/events"
	"github.com/grisha2077/vortex-trader-pro/internal/order"
	"github.com/grisha2077/vortex-trader-pro/internal/risk"
	"github.com/grisha2077/vortex-trader-pro/internal/state"
	"github.com/grisha2077/vortex-trader-pro/internal/strategy"
	"github.com/grisha2077/vortex-trader-pro/pkg/config"
	exchange "github.com/grisha2077/vortex-trader-pro/pkg/exchanges/common"
	market "github.com/grisha2077/vortex-trader-pro/pkg/market/binance"
)

const (
	taskEntry     = "entry"
	taskExit      = "exit"
	taskReconcile = "reconcile"

	taskTimeout = 2 * time.Minute
)

// session is one StartTrading..StopTrading run. Everything below the
// channels is owned by the loop goroutine.
type session struct {
	cfg       config.TradingConfig
	symbols   []string
	tracked   map[string]bool
	startedAt time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	work     context.Context // venue calls; outlives the loop until stop completes
	stopWork context.CancelFunc
	done     chan struct{}

	candles   chan market.Kline
	books     chan market.BookTicker
	user      chan market.UserEvent
	reconcile chan struct{}

	signals *strategy.SignalEngine
	guard   *risk.StopLossManager
	exec    *order.AsyncExecutor

	reconciling    bool
	reconcileAgain bool
	stopping       bool
}

type exitOutcome struct {
	price  float64
	reason string
}

func newSession(cfg config.TradingConfig, symbols []string, signals *strategy.SignalEngine, workers int, log *zap.Logger) *session {
	ctx, cancel := context.WithCancel(context.Background())
	work, stopWork := context.WithCancel(context.Background())
	tracked := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		tracked[s] = true
	}
	return &session{
		cfg:       cfg,
		symbols:   symbols,
		tracked:   tracked,
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		work:      work,
		stopWork:  stopWork,
		done:      make(chan struct{}),
		candles:   make(chan market.Kline, 256),
		books:     make(chan market.BookTicker, 256),
		user:      make(chan market.UserEvent, 64),
		reconcile: make(chan struct{}, 1),
		signals:   signals,
		guard:     risk.NewStopLossManager(),
		exec:      order.NewAsyncExecutor(workers, log),
	}
}

func (s *session) pushCandle(k market.Kline) {
	select {
	case s.candles <- k:
	case <-s.ctx.Done():
	}
}

// pushBook drops updates while the loop is busy; only the latest price matters.
func (s *session) pushBook(bt market.BookTicker) {
	select {
	case s.books <- bt:
	default:
	}
}

func (s *session) pushUser(ev market.UserEvent) {
	select {
	case s.user <- ev:
	case <-s.ctx.Done():
	}
}

func (s *session) requestReconcile() {
	select {
	case s.reconcile <- struct{}{}:
	default:
	}
}

// run is the event loop. Every state transition of the session happens here.
func (e *Impl) run(s *session) {
	defer close(s.done)

	reconcileTick := time.NewTicker(e.settings.ReconcileInterval)
	defer reconcileTick.Stop()
	statsTick := time.NewTicker(e.settings.StatsInterval)
	defer statsTick.Stop()

	connErrs := e.streams.Errors()
	results := s.exec.Results()
	for {
		select {
		case <-s.ctx.Done():
			e.drain(s)
			return
		case k := <-s.candles:
			e.onCandle(s, k)
		case bt := <-s.books:
			e.onBook(s, bt)
		case ev := <-s.user:
			e.onUserEvent(s, ev)
		case <-s.reconcile:
			e.scheduleReconcile(s)
		case r := <-results:
			e.onResult(s, r)
		case <-reconcileTick.C:
			e.scheduleReconcile(s)
		case <-statsTick.C:
			e.publishStats()
		case err := <-connErrs:
			e.onConnectivityError(err)
		}
	}
}

// drain waits for in-flight tasks and applies their results.
func (e *Impl) drain(s *session) {
	s.stopping = true
	s.exec.Close()
	for r := range s.exec.Results() {
		e.onResult(s, r)
	}
}

func (e *Impl) submit(s *session, t order.Task) bool {
	if s.stopping {
		return false
	}
	ctx, cancel := context.WithTimeout(s.work, taskTimeout)
	run := t.Run
	t.Run = func(ctx context.Context) (any, error) {
		defer cancel()
		return run(ctx)
	}
	if err := s.exec.Submit(ctx, t); err != nil {
		cancel()
		e.log.Warn("task rejected", zap.String("task", t.ID), zap.String("symbol", t.Symbol), zap.Error(err))
		return false
	}
	return true
}

func (e *Impl) onResult(s *session, r order.ExecutionResult) {
	switch r.TaskID {
	case taskEntry:
		e.onEntry(s, r)
	case taskExit:
		e.onExit(s, r)
	case taskReconcile:
		e.onReconcile(s, r)
	}
}

// --- Market data ---

func (e *Impl) onCandle(s *session, k market.Kline) {
	if !s.tracked[k.Symbol] {
		return
	}
	e.observe(k.Symbol, k.Close, nil)
	e.checkBracket(s, k.Symbol, k.Close)
	if !k.Closed {
		return
	}

	e.metrics.CandleIngested(k.Symbol)
	upd, sig := s.signals.Ingest(k)
	if upd != nil {
		e.observe(k.Symbol, 0, &upd.Value)
		e.bus.Publish(events.EventOscillator, events.OscillatorUpdate{
			Symbol: upd.Symbol,
			Value:  upd.Value,
			Price:  upd.Price,
			Time:   upd.Time,
		})
	}
	if sig != nil {
		e.onSignal(s, *sig)
	}
}

func (e *Impl) onBook(s *session, bt market.BookTicker) {
	if !s.tracked[bt.Symbol] {
		return
	}
	e.bus.Publish(events.EventOrderBook, events.OrderBookUpdate{
		Symbol:   bt.Symbol,
		BidPrice: bt.BidPrice,
		BidQty:   bt.BidQty,
		AskPrice: bt.AskPrice,
		AskQty:   bt.AskQty,
		Time:     bt.Time,
	})
	if bt.BidPrice <= 0 || bt.AskPrice <= 0 {
		return
	}
	mid := (bt.BidPrice + bt.AskPrice) / 2
	e.observe(bt.Symbol, mid, nil)
	e.checkBracket(s, bt.Symbol, mid)
}

func (e *Impl) onUserEvent(s *session, ev market.UserEvent) {
	switch ev.Type {
	case market.UserEventAccountUpdate:
		e.scheduleReconcile(s)
	case market.UserEventOrderTradeUpdate:
		o := ev.Order
		if o == nil || o.Status != string(exchange.StatusFilled) {
			return
		}
		if o.Type == string(exchange.OrderTypeStopMarket) || o.Type == string(exchange.OrderTypeTakeProfitMarket) {
			e.log.Info("protective order filled",
				zap.String("symbol", o.Symbol),
				zap.String("type", o.Type),
				zap.Float64("price", o.AvgPrice))
			e.scheduleReconcile(s)
		}
	}
}

// --- Entry ---

func (e *Impl) onSignal(s *session, sig strategy.Signal) {
	e.bus.Publish(events.EventSignal, events.SignalDetected{
		Symbol:    sig.Symbol,
		Direction: string(sig.Direction),
		Value:     sig.Value,
		Price:     sig.Price,
		Time:      sig.Time,
	})
	e.log.Info("signal detected",
		zap.String("symbol", sig.Symbol),
		zap.String("direction", string(sig.Direction)),
		zap.Float64("rsi", sig.Value),
		zap.Float64("price", sig.Price))

	if st := e.stateOf(sig.Symbol); st != StateMonitoring {
		e.log.Debug("signal ignored", zap.String("symbol", sig.Symbol), zap.String("state", string(st)))
		return
	}
	if err := e.ledger.CanEnter(sig.Symbol); err != nil {
		e.log.Info("entry gated", zap.String("symbol", sig.Symbol), zap.Error(err))
		return
	}
	if limit := s.cfg.MaxOpenPositions; limit > 0 && len(e.ledger.Positions()) >= limit {
		e.log.Info("entry gated", zap.String("symbol", sig.Symbol), zap.Int("max_open_positions", limit))
		return
	}

	e.transition(sig.Symbol, StatePendingEntry)
	ok := e.submit(s, order.Task{
		ID:     taskEntry,
		Symbol: sig.Symbol,
		Run: func(ctx context.Context) (any, error) {
			return e.executor.Execute(ctx, sig)
		},
	})
	if !ok {
		e.transition(sig.Symbol, StateMonitoring)
	}
}

func (e *Impl) onEntry(s *session, r order.ExecutionResult) {
	sym := r.Symbol
	if r.Err != nil {
		e.log.Error("entry failed", zap.String("symbol", sym), zap.Error(r.Err))
		e.transition(sym, StateMonitoring)
		kind := events.ErrorOrder
		if exchange.IsConfiguration(r.Err) {
			kind = events.ErrorConfiguration
		}
		e.symbolError(sym, kind, r.Err)
		return
	}

	entry, _ := r.Value.(*order.Entry)
	if entry == nil {
		if e.ledger.HasPosition(sym) {
			e.transition(sym, StateInPosition)
		} else {
			e.transition(sym, StateMonitoring)
		}
		return
	}

	local := risk.BracketFor(entry.Direction, entry.EntryPrice, s.cfg.StopLossPercent, s.cfg.TakeProfitPercent)
	pos := state.Position{
		Symbol:     sym,
		Direction:  entry.Direction,
		EntryPrice: entry.EntryPrice,
		Quantity:   entry.Quantity,
		Leverage:   entry.Leverage,
		OpenedAt:   entry.OpenedAt,
		StopLoss:   nonZero(entry.StopLoss, local.StopLoss),
		TakeProfit: nonZero(entry.TakeProfit, local.TakeProfit),
		Protected:  entry.Protected(),
	}
	for _, o := range entry.Protection {
		switch o.Purpose {
		case order.PurposeStopLoss:
			pos.StopOrderID = o.ExchangeOrderID
		case order.PurposeTakeProfit:
			pos.TakeProfitOrderID = o.ExchangeOrderID
		}
	}
	if !e.ledger.TryOpen(pos) {
		// Reconciliation saw the fill first.
		e.ledger.Update(sym, func(p *state.Position) {
			opened := p.OpenedAt
			*p = pos
			p.OpenedAt = opened
		})
		e.ledger.MarkActivity(sym)
	}
	e.ledger.RecordSuccess(sym)
	e.transition(sym, StateInPosition)
	s.guard.AddPosition(risk.StopLossPosition{
		Symbol:     sym,
		Direction:  pos.Direction,
		EntryPrice: pos.EntryPrice,
		StopLoss:   pos.StopLoss,
		TakeProfit: pos.TakeProfit,
	})

	e.bus.Publish(events.EventPosition, events.PositionChange{
		Kind:       events.PositionOpen,
		Symbol:     sym,
		Side:       string(pos.Direction),
		EntryPrice: pos.EntryPrice,
		Price:      pos.EntryPrice,
		Quantity:   pos.Quantity,
		StopLoss:   pos.StopLoss,
		TakeProfit: pos.TakeProfit,
		Time:       pos.OpenedAt,
	})

	if entry.ProtectionErr != nil {
		e.log.Error("position unprotected", zap.String("symbol", sym), zap.Error(entry.ProtectionErr))
		e.symbolError(sym, events.ErrorProtection, fmt.Errorf("position open without full protection: %w", entry.ProtectionErr))
	}
}

// --- Exit ---

func (e *Impl) checkBracket(s *session, symbol string, price float64) {
	if e.stateOf(symbol) != StateInPosition {
		return
	}
	d := s.guard.UpdatePrice(symbol, price)
	if d == nil {
		return
	}
	e.beginExit(s, symbol, string(d.Reason), d.Price, d.Detail)
}

func (e *Impl) beginExit(s *session, symbol, reason string, price float64, detail string) {
	p, ok := e.ledger.Position(symbol)
	if !ok {
		s.guard.RemovePosition(symbol)
		e.transition(symbol, StateMonitoring)
		return
	}
	e.log.Info("exit triggered", zap.String("symbol", symbol), zap.String("reason", reason), zap.String("detail", detail))
	e.transition(symbol, StatePendingExit)

	req := order.CloseRequest{Symbol: symbol, Direction: p.Direction, Quantity: p.Quantity, Price: price, EntryPrice: p.EntryPrice}
	protected := p.Protected
	ok = e.submit(s, order.Task{
		ID:     taskExit,
		Symbol: symbol,
		Run: func(ctx context.Context) (any, error) {
			if protected {
				// The venue bracket may already have closed it.
				if flat, err := e.venueFlat(ctx, symbol); err == nil && flat {
					return exitOutcome{price: price, reason: reason}, nil
				}
			}
			exit, err := e.executor.Close(ctx, req)
			if err != nil {
				return nil, err
			}
			return exitOutcome{price: exit.ExitPrice, reason: reason}, nil
		},
	})
	if !ok {
		e.transition(symbol, StateInPosition)
	}
}

func (e *Impl) onExit(s *session, r order.ExecutionResult) {
	sym := r.Symbol
	if r.Err != nil {
		e.log.Error("exit failed", zap.String("symbol", sym), zap.Error(r.Err))
		e.transition(sym, StateInPosition)
		e.symbolError(sym, events.ErrorOrder, r.Err)
		e.scheduleReconcile(s)
		return
	}
	out, _ := r.Value.(exitOutcome)
	s.guard.RemovePosition(sym)
	if trade, ok := e.ledger.Close(sym, out.price, out.reason); ok {
		e.recordTrade(trade)
	} else {
		e.ledger.MarkActivity(sym)
	}
	e.ledger.RecordSuccess(sym)
	e.transition(sym, StateMonitoring)
}

func (e *Impl) venueFlat(ctx context.Context, symbol string) (bool, error) {
	if e.gw == nil {
		return false, errors.New("no gateway")
	}
	var venue []exchange.VenuePosition
	err := e.streams.SubmitCall(ctx, exchange.ClassRequest, func(ctx context.Context) error {
		var err error
		venue, err = e.gw.Positions(ctx)
		return err
	})
	if err != nil {
		return false, err
	}
	for _, vp := range venue {
		if vp.Symbol == symbol && vp.Amount != 0 {
			return false, nil
		}
	}
	return true, nil
}

// --- Reconciliation ---

func (e *Impl) scheduleReconcile(s *session) {
	if s.stopping || e.gw == nil {
		return
	}
	if s.reconciling {
		s.reconcileAgain = true
		return
	}
	s.reconciling = true
	ok := e.submit(s, order.Task{
		ID: taskReconcile,
		Run: func(ctx context.Context) (any, error) {
			var venue []exchange.VenuePosition
			err := e.streams.SubmitCall(ctx, exchange.ClassRequest, func(ctx context.Context) error {
				var err error
				venue, err = e.gw.Positions(ctx)
				return err
			})
			return venue, err
		},
	})
	if !ok {
		s.reconciling = false
	}
}

func (e *Impl) onReconcile(s *session, r order.ExecutionResult) {
	s.reconciling = false
	defer func() {
		if s.reconcileAgain {
			s.reconcileAgain = false
			e.scheduleReconcile(s)
		}
	}()

	if r.Err != nil {
		if errors.Is(r.Err, exchange.ErrMissingCredentials) {
			e.log.Debug("reconciliation skipped without credentials")
			return
		}
		e.log.Warn("reconciliation failed", zap.Error(r.Err))
		e.publishError(events.ErrorReconciliation, "", r.Err.Error(), false)
		return
	}

	venue, _ := r.Value.([]exchange.VenuePosition)
	report := e.ledger.Reconcile(venue, e.lastPrice)

	for _, t := range report.Closed {
		s.guard.RemovePosition(t.Symbol)
		if e.stateOf(t.Symbol) == StateInPosition {
			e.transition(t.Symbol, StatePendingExit)
			e.transition(t.Symbol, StateMonitoring)
		}
		e.recordTrade(t)
	}
	for _, d := range report.Diffs {
		if d.Kind == state.DiffRemoved {
			continue
		}
		p, ok := e.ledger.Position(d.Symbol)
		if !ok {
			continue
		}
		p = e.adopt(s, p)
		e.bus.Publish(events.EventPosition, events.PositionChange{
			Kind:       events.PositionUpdate,
			Symbol:     p.Symbol,
			Side:       string(p.Direction),
			EntryPrice: p.EntryPrice,
			Price:      e.lastPrice(p.Symbol),
			Quantity:   p.Quantity,
			StopLoss:   p.StopLoss,
			TakeProfit: p.TakeProfit,
			Time:       report.Time,
		})
	}
}

// adopt puts a venue-reported position under the local bracket guard.
func (e *Impl) adopt(s *session, p state.Position) state.Position {
	if p.StopLoss == 0 && p.TakeProfit == 0 && p.EntryPrice > 0 {
		b := risk.BracketFor(p.Direction, p.EntryPrice, s.cfg.StopLossPercent, s.cfg.TakeProfitPercent)
		p.StopLoss, p.TakeProfit = b.StopLoss, b.TakeProfit
		e.ledger.Update(p.Symbol, func(q *state.Position) {
			q.StopLoss, q.TakeProfit = b.StopLoss, b.TakeProfit
		})
	}
	if !s.tracked[p.Symbol] {
		return p
	}
	s.guard.AddPosition(risk.StopLossPosition{
		Symbol:       p.Symbol,
		Direction:    p.Direction,
		EntryPrice:   p.EntryPrice,
		CurrentPrice: e.lastPrice(p.Symbol),
		StopLoss:     p.StopLoss,
		TakeProfit:   p.TakeProfit,
	})
	if e.stateOf(p.Symbol) == StateMonitoring {
		e.transition(p.Symbol, StateInPosition)
	}
	return p
}

// --- Errors and stats ---

// symbolError reports err and counts it against the symbol's breaker.
func (e *Impl) symbolError(symbol string, kind events.ErrorKind, err error) {
	e.publishError(kind, symbol, err.Error(), false)
	e.countError(symbol)
}

// countError charges one failure to symbol and disables it once the
// breaker trips.
func (e *Impl) countError(symbol string) {
	if !e.ledger.RecordError(symbol) {
		return
	}
	e.transition(symbol, StateDisabled)
	e.publishError(events.ErrorCircuitBreaker, symbol,
		fmt.Sprintf("%s disabled after %d consecutive errors", symbol, e.ledger.ErrorCount(symbol)), true)
}

func (e *Impl) onConnectivityError(err error) {
	var ce *exchange.ConnectivityError
	if !errors.As(err, &ce) {
		e.publishError(events.ErrorConnectivity, "", err.Error(), true)
		return
	}
	e.log.Error("stream lost", zap.String("stream", ce.Stream), zap.Int("attempts", ce.Attempts), zap.Error(ce.Err))
	for _, sym := range streamSymbols(ce.Stream) {
		e.publishError(events.ErrorConnectivity, sym, err.Error(), true)
		if sym != "" {
			e.countError(sym)
		}
	}
}

// streamSymbols extracts the symbols from a supervisor key such as
// "klines:3m:BTCUSDT,ETHUSDT" or "book:BTCUSDT".
func streamSymbols(key string) []string {
	switch {
	case strings.HasPrefix(key, "klines:"):
		i := strings.LastIndex(key, ":")
		return strings.Split(key[i+1:], ",")
	case strings.HasPrefix(key, "book:"):
		return []string{strings.TrimPrefix(key, "book:")}
	default:
		return []string{""}
	}
}

func (e *Impl) publishStats() {
	st := e.ledger.Stats(e.lastPrice)
	e.bus.Publish(events.EventStats, events.Stats{
		CompletedTrades: st.CompletedTrades,
		ActiveTrades:    st.OpenPositions,
		TotalPnL:        st.TotalPnL,
		AveragePnL:      st.AveragePnL,
		RealizedPnL:     st.TotalPnL,
		UnrealizedPnL:   st.UnrealizedPnL,
		LockedFunds:     st.LockedFunds,
		DisabledSymbols: st.DisabledSymbols,
		Time:            time.Now(),
	})
}

func nonZero(v, fallback float64) float64 {
	if v != 0 {
		return v
	}
	return fallback
}
