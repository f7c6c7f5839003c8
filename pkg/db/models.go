package db

import (
	"context"
	"database/sql"
	"time"
)

// Order is one submitted venue order.
type Order struct {
	ClientID        string
	ExchangeOrderID string
	Symbol          string
	Side            string
	Type            string
	Purpose         string
	Quantity        string
	Price           string
	StopPrice       string
	Status          string
	AvgPrice        float64
	ExecutedQty     float64
	Attempts        int
	Error           string
	CreatedAt       time.Time
}

// Trade is one closed position.
type Trade struct {
	ID         int64
	Symbol     string
	Direction  string
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	Leverage   int
	PnL        float64
	PnLPercent float64
	Reason     string
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// TradeSummary aggregates the journal.
type TradeSummary struct {
	Count    int
	TotalPnL float64
	Wins     int
}

// InsertOrderSQL upserts an order by client id so a retried order keeps one row.
const InsertOrderSQL = `
	INSERT INTO orders (
		client_id, exchange_order_id, symbol, side, type, purpose, quantity, price, stop_price,
		status, avg_price, executed_qty, attempts, error, created_at_ms
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(client_id) DO UPDATE SET
		exchange_order_id = excluded.exchange_order_id,
		status = excluded.status,
		avg_price = excluded.avg_price,
		executed_qty = excluded.executed_qty,
		attempts = excluded.attempts,
		error = excluded.error
`

// InsertTradeSQL appends a closed trade.
const InsertTradeSQL = `
	INSERT INTO trades (
		symbol, direction, entry_price, exit_price, quantity, leverage, pnl, pnl_percent, reason, opened_at_ms, closed_at_ms
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// OrderArgs returns the InsertOrderSQL arguments of o.
func OrderArgs(o Order) []any {
	return []any{
		o.ClientID, o.ExchangeOrderID, o.Symbol, o.Side, o.Type, o.Purpose, o.Quantity, o.Price, o.StopPrice,
		o.Status, o.AvgPrice, o.ExecutedQty, o.Attempts, o.Error, toMillis(o.CreatedAt),
	}
}

// TradeArgs returns the InsertTradeSQL arguments of t.
func TradeArgs(t Trade) []any {
	return []any{
		t.Symbol, t.Direction, t.EntryPrice, t.ExitPrice, t.Quantity, t.Leverage, t.PnL, t.PnLPercent, t.Reason,
		toMillis(t.OpenedAt), toMillis(t.ClosedAt),
	}
}

// CreateOrder inserts or updates an order row.
func (d *Database) CreateOrder(ctx context.Context, o Order) error {
	_, err := d.DB.ExecContext(ctx, InsertOrderSQL, OrderArgs(o)...)
	return err
}

// CreateTrade inserts a new trade row.
func (d *Database) CreateTrade(ctx context.Context, t Trade) error {
	_, err := d.DB.ExecContext(ctx, InsertTradeSQL, TradeArgs(t)...)
	return err
}

// RecentTrades returns up to limit trades, newest first.
func (d *Database) RecentTrades(ctx context.Context, limit int) ([]Trade, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, direction, entry_price, exit_price, quantity, leverage, pnl, pnl_percent, reason,
		       COALESCE(opened_at_ms, 0), closed_at_ms
		FROM trades
		ORDER BY closed_at_ms DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var t Trade
		var openedMs, closedMs int64
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Direction, &t.EntryPrice, &t.ExitPrice, &t.Quantity, &t.Leverage,
			&t.PnL, &t.PnLPercent, &t.Reason, &openedMs, &closedMs); err != nil {
			return nil, err
		}
		t.OpenedAt = fromMillis(openedMs)
		t.ClosedAt = fromMillis(closedMs)
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecentOrders returns up to limit orders, newest first. An empty symbol matches all.
func (d *Database) RecentOrders(ctx context.Context, symbol string, limit int) ([]Order, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT client_id, COALESCE(exchange_order_id, ''), symbol, side, type, purpose,
		       COALESCE(quantity, ''), COALESCE(price, ''), COALESCE(stop_price, ''),
		       status, avg_price, executed_qty, attempts, COALESCE(error, ''), created_at_ms
		FROM orders
		WHERE (? = '' OR symbol = ?)
		ORDER BY created_at_ms DESC
		LIMIT ?
	`, symbol, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		var createdMs int64
		if err := rows.Scan(&o.ClientID, &o.ExchangeOrderID, &o.Symbol, &o.Side, &o.Type, &o.Purpose,
			&o.Quantity, &o.Price, &o.StopPrice, &o.Status, &o.AvgPrice, &o.ExecutedQty, &o.Attempts, &o.Error, &createdMs); err != nil {
			return nil, err
		}
		o.CreatedAt = fromMillis(createdMs)
		out = append(out, o)
	}
	return out, rows.Err()
}

// Summary aggregates every journaled trade.
func (d *Database) Summary(ctx context.Context) (TradeSummary, error) {
	var s TradeSummary
	var total sql.NullFloat64
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(pnl), COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0) FROM trades
	`).Scan(&s.Count, &total, &s.Wins)
	if err != nil {
		return TradeSummary{}, err
	}
	s.TotalPnL = total.Float64
	return s, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
