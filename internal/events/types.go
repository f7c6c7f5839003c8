package events

import "time"

// Event enumerates the outward topics of the trading core.
type Event string

const (
	EventOscillator   Event = "oscillator.update"
	EventSignal       Event = "signal.detected"
	EventPosition     Event = "position.update"
	EventTradeHistory Event = "trade.history"
	EventStats        Event = "bot.stats"
	EventError        Event = "bot.error"
	EventStatus       Event = "bot.status"
	EventOrderBook    Event = "orderbook.update"
)

// Envelope wraps every published payload with its topic and time.
type Envelope struct {
	Type    Event     `json:"type"`
	Time    time.Time `json:"time"`
	Payload any       `json:"data"`
}

// OscillatorUpdate carries one computed RSI value.
type OscillatorUpdate struct {
	Symbol string    `json:"symbol"`
	Value  float64   `json:"rsi"`
	Price  float64   `json:"price"`
	Time   time.Time `json:"timestamp"`
}

// SignalDetected reports a threshold crossing.
type SignalDetected struct {
	Symbol    string    `json:"symbol"`
	Direction string    `json:"type"`
	Value     float64   `json:"rsi"`
	Price     float64   `json:"price"`
	Time      time.Time `json:"timestamp"`
}

// PositionUpdateKind distinguishes the phases of a position's life.
type PositionUpdateKind string

const (
	PositionOpen   PositionUpdateKind = "OPEN"
	PositionUpdate PositionUpdateKind = "UPDATE"
	PositionClose  PositionUpdateKind = "CLOSE"
)

// PositionChange is the payload of EventPosition.
type PositionChange struct {
	Kind       PositionUpdateKind `json:"type"`
	Symbol     string             `json:"symbol"`
	Side       string             `json:"side"`
	EntryPrice float64            `json:"entryPrice"`
	Price      float64            `json:"price"`
	Quantity   float64            `json:"quantity"`
	StopLoss   float64            `json:"stopLoss,omitempty"`
	TakeProfit float64            `json:"takeProfit,omitempty"`
	PnL        float64            `json:"pnl,omitempty"`
	PnLPercent float64            `json:"pnlPercent,omitempty"`
	Time       time.Time          `json:"timestamp"`
}

// TradeRecord is one completed trade.
type TradeRecord struct {
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	EntryPrice float64   `json:"entryPrice"`
	ExitPrice  float64   `json:"exitPrice"`
	Quantity   float64   `json:"quantity"`
	PnL        float64   `json:"pnl"`
	PnLPercent float64   `json:"pnlPercent"`
	OpenedAt   time.Time `json:"openedAt"`
	ClosedAt   time.Time `json:"timestamp"`
}

// TradeHistory carries the bounded history, newest first.
type TradeHistory struct {
	Trades []TradeRecord `json:"trades"`
}

// Stats is the periodic statistics snapshot.
type Stats struct {
	CompletedTrades int       `json:"completedTrades"`
	ActiveTrades    int       `json:"activeTrades"`
	TotalPnL        float64   `json:"totalPnL"`
	AveragePnL      float64   `json:"averagePnL"`
	RealizedPnL     float64   `json:"realizedPnL"`
	UnrealizedPnL   float64   `json:"unrealizedPnL"`
	LockedFunds     float64   `json:"lockedFunds"`
	DisabledSymbols []string  `json:"disabledSymbols,omitempty"`
	Time            time.Time `json:"timestamp"`
}

// ErrorKind classifies error events.
type ErrorKind string

const (
	ErrorConnectivity   ErrorKind = "connectivity"
	ErrorOrder          ErrorKind = "order"
	ErrorConfiguration  ErrorKind = "configuration"
	ErrorReconciliation ErrorKind = "reconciliation"
	ErrorProtection     ErrorKind = "protection"
	ErrorCircuitBreaker ErrorKind = "circuit_breaker"
)

// ErrorEvent reports a failure; Fatal marks a symbol or stream that stopped.
type ErrorEvent struct {
	Kind    ErrorKind `json:"kind"`
	Symbol  string    `json:"symbol,omitempty"`
	Message string    `json:"message"`
	Fatal   bool      `json:"fatal"`
	Time    time.Time `json:"timestamp"`
}

// Status reports lifecycle transitions of the bot.
type Status struct {
	Running bool      `json:"running"`
	Symbols []string  `json:"symbols,omitempty"`
	Time    time.Time `json:"timestamp"`
}

// OrderBookUpdate carries the best bid/ask of a symbol.
type OrderBookUpdate struct {
	Symbol   string  `json:"symbol"`
	BidPrice float64 `json:"bidPrice"`
	BidQty   float64 `json:"bidQty"`
	AskPrice float64 `json:"askPrice"`
	AskQty   float64 `json:"askQty"`
	Time     int64   `json:"timestamp"`
}
