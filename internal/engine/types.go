package engine

import (
	"time"

	"github.com/grisha2077/vortex-trader-pro/internal/order"
)

// SymbolState is the orchestrator state of one symbol.
type SymbolState string

const (
	StateIdle         SymbolState = "IDLE"
	StateMonitoring   SymbolState = "MONITORING"
	StatePendingEntry SymbolState = "PENDING_ENTRY"
	StateInPosition   SymbolState = "IN_POSITION"
	StatePendingExit  SymbolState = "PENDING_EXIT"
	StateDisabled     SymbolState = "DISABLED"
)

// SymbolStatus is the live view of one traded symbol.
type SymbolStatus struct {
	Symbol    string      `json:"symbol"`
	State     SymbolState `json:"state"`
	RSI       *float64    `json:"rsi,omitempty"`
	LastPrice float64     `json:"last_price"`
	Errors    int         `json:"errors"`
	Disabled  bool        `json:"disabled"`
}

// PositionView represents an open position.
type PositionView struct {
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Quantity      float64   `json:"quantity"`
	EntryPrice    float64   `json:"entry_price"`
	CurrentPrice  float64   `json:"current_price"`
	Leverage      int       `json:"leverage"`
	StopLoss      float64   `json:"stop_loss,omitempty"`
	TakeProfit    float64   `json:"take_profit,omitempty"`
	Protected     bool      `json:"protected"`
	External      bool      `json:"external"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	OpenedAt      time.Time `json:"opened_at"`
}

// TradeView represents a completed trade.
type TradeView struct {
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Quantity   float64   `json:"quantity"`
	Leverage   int       `json:"leverage"`
	PnL        float64   `json:"pnl"`
	PnLPercent float64   `json:"pnl_percent"`
	Reason     string    `json:"reason"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
}

// StatsView is the portfolio summary.
type StatsView struct {
	OpenPositions   int      `json:"open_positions"`
	CompletedTrades int      `json:"completed_trades"`
	TotalPnL        float64  `json:"total_pnl"`
	AveragePnL      float64  `json:"average_pnl"`
	UnrealizedPnL   float64  `json:"unrealized_pnl"`
	LockedFunds     float64  `json:"locked_funds"`
	DisabledSymbols []string `json:"disabled_symbols,omitempty"`
}

// OrderView represents a journaled order.
type OrderView struct {
	ClientID        string    `json:"client_id"`
	ExchangeOrderID string    `json:"exchange_order_id,omitempty"`
	Symbol          string    `json:"symbol"`
	Side            string    `json:"side"`
	Type            string    `json:"type"`
	Purpose         string    `json:"purpose"`
	Quantity        string    `json:"quantity"`
	Price           string    `json:"price,omitempty"`
	StopPrice       string    `json:"stop_price,omitempty"`
	Status          string    `json:"status"`
	AvgPrice        float64   `json:"avg_price"`
	Attempts        int       `json:"attempts"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// SystemStatus represents the system runtime status.
type SystemStatus struct {
	Running    bool      `json:"running"`
	Testnet    bool      `json:"testnet"`
	Venue      string    `json:"venue"`
	Symbols    []string  `json:"symbols"`
	Interval   string    `json:"interval,omitempty"`
	Version    string    `json:"version"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	ServerTime time.Time `json:"server_time"`
}

// ViewOrder converts an executed order into its API view.
func ViewOrder(o *order.Order) OrderView {
	return OrderView{
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
		Attempts:        o.Attempts,
		Error:           o.Err,
		CreatedAt:       o.CreatedAt,
	}
}
