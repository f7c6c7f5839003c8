package order

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/grisha2077/vortex-trader-pro/internal/strategy"
	exchange "github.com/grisha2077/vortex-trader-pro/pkg/exchanges/common"
)

// Purpose tells why an order was sent.
type Purpose string

const (
	PurposeEntry      Purpose = "entry"
	PurposeStopLoss   Purpose = "stop_loss"
	PurposeTakeProfit Purpose = "take_profit"
	PurposeExit       Purpose = "exit"
	PurposeManual     Purpose = "manual"
)

// Order is a request sent to the venue together with its outcome.
type Order struct {
	exchange.OrderRequest
	Purpose         Purpose
	ExchangeOrderID string
	Status          exchange.OrderStatus
	AvgPrice        float64
	ExecutedQty     float64
	Attempts        int
	Err             string
	CreatedAt       time.Time
}

// Config holds the sizing, bracket and retry parameters of the engine.
type Config struct {
	PositionSize      float64 // USD notional per entry
	Leverage          int
	StopLossPercent   float64
	TakeProfitPercent float64
	MaxRetries        int
	RetryDelay        time.Duration
}

// DefaultConfig returns the retry defaults; sizing must be set by the caller.
func DefaultConfig() Config {
	return Config{
		Leverage:   1,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// Entry describes a filled signal entry and the state of its protection.
type Entry struct {
	Symbol     string
	Direction  strategy.Direction
	Side       exchange.Side
	EntryPrice float64
	Quantity   float64
	Leverage   int
	StopLoss   float64
	TakeProfit float64
	Order      Order
	Protection []Order
	// ProtectionErr is set when a bracket order could not be placed. The
	// position is open but not fully protected.
	ProtectionErr error
	OpenedAt      time.Time
}

// Protected reports whether both bracket orders were accepted.
func (e *Entry) Protected() bool { return e.ProtectionErr == nil }

// CloseRequest identifies an open position to flatten.
type CloseRequest struct {
	Symbol    string
	Direction strategy.Direction
	Quantity  float64
	// Price is used as the exit price when the venue does not report a fill price.
	Price float64
	// EntryPrice is the last resort when neither the fill nor the ticker
	// yields a price; the trade is then booked flat.
	EntryPrice float64
}

// Exit is the result of a closing order.
type Exit struct {
	Symbol    string
	ExitPrice float64
	Order     Order
	ClosedAt  time.Time
}

// ManualOrder is an operator-submitted order.
type ManualOrder struct {
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	Type         string  `json:"type"`
	Quantity     float64 `json:"quantity"`
	Price        float64 `json:"price,omitempty"`
	Leverage     int     `json:"leverage"`
	PositionMode string  `json:"positionMode"`
}

var (
	validSides = map[string]bool{"BUY": true, "SELL": true}
	validTypes = map[string]bool{
		string(exchange.OrderTypeMarket):           true,
		string(exchange.OrderTypeLimit):            true,
		string(exchange.OrderTypeStopMarket):       true,
		string(exchange.OrderTypeTakeProfitMarket): true,
	}
)

// Normalize upper-cases the enumerated fields.
func (m *ManualOrder) Normalize() {
	m.Symbol = strings.ToUpper(strings.TrimSpace(m.Symbol))
	m.Side = strings.ToUpper(strings.TrimSpace(m.Side))
	m.Type = strings.ToUpper(strings.TrimSpace(m.Type))
	m.PositionMode = strings.ToUpper(strings.TrimSpace(m.PositionMode))
}

// Validate checks every field and reports all violations at once.
func (m ManualOrder) Validate() error {
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, &exchange.ConfigurationError{Symbol: m.Symbol, Field: field, Err: fmt.Errorf(format, args...)})
	}

	if m.Symbol == "" {
		bad("symbol", "symbol is required")
	}
	if !validSides[m.Side] {
		bad("side", "side must be BUY or SELL, got %q", m.Side)
	}
	if !validTypes[m.Type] {
		bad("type", "unsupported order type %q", m.Type)
	}
	if m.Quantity <= 0 {
		bad("quantity", "quantity must be positive")
	}
	if m.Type != string(exchange.OrderTypeMarket) && m.Price <= 0 {
		bad("price", "price is required for %s orders", m.Type)
	}
	if m.Leverage < 1 || m.Leverage > 125 {
		bad("leverage", "leverage must be between 1 and 125, got %d", m.Leverage)
	}
	if m.PositionMode != "CROSS" && m.PositionMode != "ISOLATED" {
		bad("positionMode", "position mode must be CROSS or ISOLATED, got %q", m.PositionMode)
	}
	return errors.Join(errs...)
}

// marginType maps the operator's position mode onto the venue's margin type.
func (m ManualOrder) marginType() exchange.MarginType {
	if m.PositionMode == "ISOLATED" {
		return exchange.MarginIsolated
	}
	return exchange.MarginCross
}

// sideFor returns the order side that opens a position in dir.
func sideFor(dir strategy.Direction) exchange.Side {
	if dir == strategy.Short {
		return exchange.SideSell
	}
	return exchange.SideBuy
}
