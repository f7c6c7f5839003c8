package persistence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/grisha2077/vortex-trader-pro/internal/order"
	"github.com/grisha2077/vortex-trader-pro/internal/state"
	"github.com/grisha2077/vortex-trader-pro/internal/strategy"
	"github.com/grisha2077/vortex-trader-pro/pkg/db"
)

// Journal records orders and closed trades in SQLite through a BatchWriter
// and reads the history back at start.
type Journal struct {
	db     *db.Database
	writer *BatchWriter
	log    *zap.Logger
}

// NewJournal starts a batch writer on database.
func NewJournal(database *db.Database, flushEvery time.Duration, log *zap.Logger) *Journal {
	if log == nil {
		log = zap.NewNop()
	}
	return &Journal{
		db:     database,
		writer: NewBatchWriter(database.DB, 50, flushEvery, log),
		log:    log.Named("journal"),
	}
}

// RecordOrder queues o for persistence.
func (j *Journal) RecordOrder(o order.Order) {
	j.writer.Insert("orders", db.InsertOrderSQL, db.OrderArgs(db.Order{
		ClientID:        o.ClientID,
		ExchangeOrderID: o.ExchangeOrderID,
		Symbol:          o.Symbol,
		Side:            string(o.Side),
		Type:            string(o.Type),
		Purpose:         string(o.Purpose),
		Quantity:        o.Quantity,
		Price:           o.Price,
		StopPrice:       o.StopPrice,
		Status:          string(o.Status),
		AvgPrice:        o.AvgPrice,
		ExecutedQty:     o.ExecutedQty,
		Attempts:        o.Attempts,
		Error:           o.Err,
		CreatedAt:       o.CreatedAt,
	})...)
}

// RecordTrade queues a closed trade for persistence.
func (j *Journal) RecordTrade(t state.Trade) {
	j.writer.Insert("trades", db.InsertTradeSQL, db.TradeArgs(db.Trade{
		Symbol:     t.Symbol,
		Direction:  string(t.Direction),
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		Quantity:   t.Quantity,
		Leverage:   t.Leverage,
		PnL:        t.PnL,
		PnLPercent: t.PnLPercent,
		Reason:     t.Reason,
		OpenedAt:   t.OpenedAt,
		ClosedAt:   t.ClosedAt,
	})...)
}

// RecentTrades loads up to limit trades, newest first, after flushing
// anything still buffered.
func (j *Journal) RecentTrades(ctx context.Context, limit int) ([]state.Trade, error) {
	if err := j.writer.Flush(); err != nil {
		j.log.Warn("flush before read failed", zap.Error(err))
	}
	rows, err := j.db.RecentTrades(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]state.Trade, 0, len(rows))
	for _, r := range rows {
		out = append(out, state.Trade{
			Symbol:     r.Symbol,
			Direction:  strategy.Direction(r.Direction),
			EntryPrice: r.EntryPrice,
			ExitPrice:  r.ExitPrice,
			Quantity:   r.Quantity,
			Leverage:   r.Leverage,
			PnL:        r.PnL,
			PnLPercent: r.PnLPercent,
			Reason:     r.Reason,
			OpenedAt:   r.OpenedAt,
			ClosedAt:   r.ClosedAt,
		})
	}
	return out, nil
}

// RecentOrders loads journaled orders, newest first.
func (j *Journal) RecentOrders(ctx context.Context, symbol string, limit int) ([]db.Order, error) {
	if err := j.writer.Flush(); err != nil {
		j.log.Warn("flush before read failed", zap.Error(err))
	}
	return j.db.RecentOrders(ctx, symbol, limit)
}

// Summary combines the journaled trade totals with the state of the write
// queue. Rows still queued are not yet in the totals.
type Summary struct {
	db.TradeSummary
	Writer WriterStats
}

// Summary reads the trade totals without flushing so it never waits on a
// pending batch.
func (j *Journal) Summary(ctx context.Context) (Summary, error) {
	sum, err := j.db.Summary(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Summary{TradeSummary: sum, Writer: j.writer.Stats()}, nil
}

// OnFlush reports per-table flush outcomes to fn.
func (j *Journal) OnFlush(fn FlushHook) { j.writer.OnFlush(fn) }

// Close flushes pending writes.
func (j *Journal) Close() error { return j.writer.Close() }
