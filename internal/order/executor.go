package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/grisha2077/vortex-trader-pro/internal/monitor"
	"github.com/grisha2077/vortex-trader-pro/internal/risk"
	"github.com/grisha2077/vortex-trader-pro/internal/strategy"
	exchange "github.com/grisha2077/vortex-trader-pro/pkg/exchanges/common"
)

// CallRunner runs a venue call under the rate bucket of its class.
type CallRunner interface {
	SubmitCall(ctx context.Context, class exchange.CallClass, fn func(context.Context) error) error
}

// PositionChecker answers whether a position is already open for a symbol.
type PositionChecker interface {
	HasPosition(symbol string) bool
}

// Journal persists submitted orders. Implementations must not block.
type Journal interface {
	RecordOrder(o Order)
}

// directCalls runs calls without rate limiting.
type directCalls struct{}

func (directCalls) SubmitCall(ctx context.Context, _ exchange.CallClass, fn func(context.Context) error) error {
	return fn(ctx)
}

// Executor turns signals and manual requests into venue orders.
type Executor struct {
	gw          exchange.Gateway
	calls       CallRunner
	instruments *InstrumentCache
	positions   PositionChecker

	Journal Journal
	Metrics *monitor.Metrics

	log *zap.Logger

	mu  sync.RWMutex
	cfg Config
}

// NewExecutor wires an executor. calls may be nil to bypass rate limiting.
func NewExecutor(gw exchange.Gateway, calls CallRunner, instruments *InstrumentCache, positions PositionChecker, log *zap.Logger) *Executor {
	if calls == nil {
		calls = directCalls{}
	}
	if instruments == nil {
		instruments = NewInstrumentCache()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		gw:          gw,
		calls:       calls,
		instruments: instruments,
		positions:   positions,
		log:         log.Named("executor"),
		cfg:         DefaultConfig(),
	}
}

// Configure replaces sizing and retry parameters.
func (e *Executor) Configure(cfg Config) {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Leverage < 1 {
		cfg.Leverage = 1
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

// Config returns the active parameters.
func (e *Executor) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Instruments exposes the precision cache.
func (e *Executor) Instruments() *InstrumentCache { return e.instruments }

// LoadInstruments fetches metadata for symbols not yet cached. Symbols the
// venue does not list are reported as configuration errors.
func (e *Executor) LoadInstruments(ctx context.Context, symbols []string) error {
	var missing []string
	for _, s := range symbols {
		if !e.instruments.Has(s) {
			missing = append(missing, s)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	var all map[string]exchange.Instrument
	err := e.calls.SubmitCall(ctx, exchange.ClassRequest, func(ctx context.Context) error {
		var err error
		all, err = e.gw.Instruments(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("fetch instruments: %w", err)
	}

	var errs []error
	for _, s := range missing {
		inst, ok := all[s]
		if !ok {
			errs = append(errs, &exchange.ConfigurationError{Symbol: s, Field: "symbol", Err: exchange.ErrUnknownInstrument})
			continue
		}
		e.instruments.Put(inst)
		e.log.Debug("instrument cached",
			zap.String("symbol", s),
			zap.Float64("step", inst.StepSize),
			zap.Int("qty_precision", inst.QuantityPrecision),
			zap.Int("price_precision", inst.PricePrecision))
	}
	return errors.Join(errs...)
}

// PrepareSymbol applies leverage and margin mode for symbol.
func (e *Executor) PrepareSymbol(ctx context.Context, symbol string, leverage int, margin exchange.MarginType) error {
	err := e.calls.SubmitCall(ctx, exchange.ClassRequest, func(ctx context.Context) error {
		return e.gw.SetLeverage(ctx, symbol, leverage)
	})
	if err != nil {
		return fmt.Errorf("set leverage %s: %w", symbol, err)
	}
	err = e.calls.SubmitCall(ctx, exchange.ClassRequest, func(ctx context.Context) error {
		return e.gw.SetMarginType(ctx, symbol, margin)
	})
	if err != nil {
		return fmt.Errorf("set margin type %s: %w", symbol, err)
	}
	return nil
}

// Execute opens a position for sig and attaches the protective bracket. It
// returns (nil, nil) when a position for the symbol is already open.
func (e *Executor) Execute(ctx context.Context, sig strategy.Signal) (*Entry, error) {
	if e.positions != nil && e.positions.HasPosition(sig.Symbol) {
		e.log.Info("position already open, signal skipped",
			zap.String("symbol", sig.Symbol),
			zap.String("direction", string(sig.Direction)))
		return nil, nil
	}
	cfg := e.Config()
	if sig.Price <= 0 {
		return nil, &exchange.ConfigurationError{Symbol: sig.Symbol, Field: "price", Err: fmt.Errorf("reference price %v", sig.Price)}
	}

	raw := PositionQuantity(cfg.PositionSize, sig.Price, cfg.Leverage)
	qtyText, qty, err := e.instruments.FormatQuantity(sig.Symbol, raw)
	if err != nil {
		return nil, err
	}
	if err := e.instruments.CheckQuantity(sig.Symbol, qty); err != nil {
		return nil, err
	}

	side := sideFor(sig.Direction)
	entryOrder := &Order{
		OrderRequest: exchange.OrderRequest{
			Symbol:   sig.Symbol,
			Side:     side,
			Type:     exchange.OrderTypeMarket,
			Quantity: qtyText,
			ClientID: uuid.NewString(),
		},
		Purpose: PurposeEntry,
	}
	if err := e.SubmitOrder(ctx, entryOrder); err != nil {
		return nil, err
	}

	entry := &Entry{
		Symbol:     sig.Symbol,
		Direction:  sig.Direction,
		Side:       side,
		EntryPrice: sig.Price,
		Quantity:   qty,
		Leverage:   cfg.Leverage,
		Order:      *entryOrder,
		OpenedAt:   time.Now(),
	}
	if entryOrder.AvgPrice > 0 {
		entry.EntryPrice = entryOrder.AvgPrice
	}
	if entryOrder.ExecutedQty > 0 {
		entry.Quantity = entryOrder.ExecutedQty
	}

	e.log.Info("entry filled",
		zap.String("symbol", entry.Symbol),
		zap.String("side", string(side)),
		zap.Float64("price", entry.EntryPrice),
		zap.Float64("qty", entry.Quantity))

	e.protect(ctx, entry, cfg)
	return entry, nil
}

// protect places the stop-loss and take-profit orders for entry.
func (e *Executor) protect(ctx context.Context, entry *Entry, cfg Config) {
	b := risk.BracketFor(entry.Direction, entry.EntryPrice, cfg.StopLossPercent, cfg.TakeProfitPercent)
	legs := []struct {
		purpose Purpose
		typ     exchange.OrderType
		price   float64
		target  *float64
	}{
		{PurposeStopLoss, exchange.OrderTypeStopMarket, b.StopLoss, &entry.StopLoss},
		{PurposeTakeProfit, exchange.OrderTypeTakeProfitMarket, b.TakeProfit, &entry.TakeProfit},
	}

	var errs []error
	for _, leg := range legs {
		text, price, err := e.instruments.FormatPrice(entry.Symbol, leg.price)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*leg.target = price
		o := &Order{
			OrderRequest: exchange.OrderRequest{
				Symbol:        entry.Symbol,
				Side:          entry.Side.Opposite(),
				Type:          leg.typ,
				StopPrice:     text,
				ClientID:      uuid.NewString(),
				ClosePosition: true,
				WorkingType:   exchange.WorkingTypeMarkPrice,
			},
			Purpose: leg.purpose,
		}
		if err := e.SubmitOrder(ctx, o); err != nil {
			errs = append(errs, err)
		}
		entry.Protection = append(entry.Protection, *o)
	}
	entry.ProtectionErr = errors.Join(errs...)
	if entry.ProtectionErr != nil {
		e.log.Error("position left without full protection",
			zap.String("symbol", entry.Symbol),
			zap.Error(entry.ProtectionErr))
	}
}

// SubmitOrder sends o with up to MaxRetries retries spaced by RetryDelay.
// o is updated with the venue's answer or the final error.
func (e *Executor) SubmitOrder(ctx context.Context, o *Order) error {
	cfg := e.Config()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	maxAttempts := cfg.MaxRetries + 1
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		o.Attempts = attempt
		var res exchange.OrderResult
		lastErr = e.calls.SubmitCall(ctx, exchange.ClassOrder, func(ctx context.Context) error {
			var err error
			res, err = e.gw.SubmitOrder(ctx, o.OrderRequest)
			return err
		})
		if lastErr == nil {
			o.ExchangeOrderID = res.ExchangeOrderID
			o.Status = res.Status
			o.AvgPrice = res.AvgPrice
			o.ExecutedQty = res.ExecutedQty
			e.Metrics.OrderPlaced(string(o.Purpose), time.Since(start))
			e.record(*o)
			return nil
		}
		if exchange.IsConfiguration(lastErr) || errors.Is(lastErr, exchange.ErrMissingCredentials) || ctx.Err() != nil {
			break
		}
		if attempt == maxAttempts {
			break
		}

		e.Metrics.OrderRetried()
		e.log.Warn("order submission failed, retrying",
			zap.String("symbol", o.Symbol),
			zap.String("type", string(o.Type)),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(lastErr))
		if err := sleep(ctx, cfg.RetryDelay); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
	}

	o.Status = exchange.StatusRejected
	o.Err = lastErr.Error()
	e.Metrics.OrderFailed(string(o.Purpose))
	e.record(*o)
	return &exchange.OrderSubmissionError{Symbol: o.Symbol, Type: o.Type, Attempts: o.Attempts, Err: lastErr}
}

// Close flattens a position with a reduce-only market order after
// cancelling its resting bracket orders.
func (e *Executor) Close(ctx context.Context, req CloseRequest) (*Exit, error) {
	err := e.calls.SubmitCall(ctx, exchange.ClassOrder, func(ctx context.Context) error {
		return e.gw.CancelAllOpenOrders(ctx, req.Symbol)
	})
	if err != nil {
		e.log.Warn("cancel open orders failed", zap.String("symbol", req.Symbol), zap.Error(err))
	}

	qtyText, _, err := e.instruments.FormatQuantity(req.Symbol, req.Quantity)
	if err != nil {
		return nil, err
	}
	o := &Order{
		OrderRequest: exchange.OrderRequest{
			Symbol:     req.Symbol,
			Side:       sideFor(req.Direction).Opposite(),
			Type:       exchange.OrderTypeMarket,
			Quantity:   qtyText,
			ClientID:   uuid.NewString(),
			ReduceOnly: true,
		},
		Purpose: PurposeExit,
	}
	if err := e.SubmitOrder(ctx, o); err != nil {
		return nil, err
	}

	exit := &Exit{Symbol: req.Symbol, ExitPrice: o.AvgPrice, Order: *o, ClosedAt: time.Now()}
	if exit.ExitPrice <= 0 {
		exit.ExitPrice = req.Price
	}
	if exit.ExitPrice <= 0 {
		var px float64
		err := e.calls.SubmitCall(ctx, exchange.ClassRequest, func(ctx context.Context) error {
			var err error
			px, err = e.gw.TickerPrice(ctx, req.Symbol)
			return err
		})
		if err != nil {
			e.log.Warn("exit price unavailable", zap.String("symbol", req.Symbol), zap.Error(err))
		}
		exit.ExitPrice = px
	}
	if exit.ExitPrice <= 0 {
		e.log.Warn("booking exit at entry price", zap.String("symbol", req.Symbol), zap.Float64("entry_price", req.EntryPrice))
		exit.ExitPrice = req.EntryPrice
	}

	e.log.Info("position closed",
		zap.String("symbol", req.Symbol),
		zap.Float64("exit_price", exit.ExitPrice),
		zap.String("qty", qtyText))
	return exit, nil
}

// PlaceManual validates and submits an operator order, applying its
// leverage and margin mode first.
func (e *Executor) PlaceManual(ctx context.Context, m ManualOrder) (*Order, error) {
	m.Normalize()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := e.LoadInstruments(ctx, []string{m.Symbol}); err != nil {
		return nil, err
	}
	if err := e.PrepareSymbol(ctx, m.Symbol, m.Leverage, m.marginType()); err != nil {
		return nil, err
	}

	qtyText, qty, err := e.instruments.FormatQuantity(m.Symbol, m.Quantity)
	if err != nil {
		return nil, err
	}
	if err := e.instruments.CheckQuantity(m.Symbol, qty); err != nil {
		return nil, err
	}

	o := &Order{
		OrderRequest: exchange.OrderRequest{
			Symbol:   m.Symbol,
			Side:     exchange.Side(m.Side),
			Type:     exchange.OrderType(m.Type),
			Quantity: qtyText,
			ClientID: uuid.NewString(),
		},
		Purpose: PurposeManual,
	}
	if o.Type != exchange.OrderTypeMarket {
		priceText, _, err := e.instruments.FormatPrice(m.Symbol, m.Price)
		if err != nil {
			return nil, err
		}
		switch o.Type {
		case exchange.OrderTypeLimit:
			o.Price = priceText
			o.TimeInForce = exchange.TIFGTC
		default:
			o.StopPrice = priceText
			o.WorkingType = exchange.WorkingTypeMarkPrice
		}
	}

	if err := e.SubmitOrder(ctx, o); err != nil {
		return o, err
	}
	e.log.Info("manual order placed",
		zap.String("symbol", o.Symbol),
		zap.String("side", string(o.Side)),
		zap.String("type", string(o.Type)),
		zap.String("qty", o.Quantity),
		zap.String("exchange_id", o.ExchangeOrderID))
	return o, nil
}

func (e *Executor) record(o Order) {
	if e.Journal != nil {
		e.Journal.RecordOrder(o)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
