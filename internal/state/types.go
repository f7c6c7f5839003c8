package state

import (
	"time"

	"github.com/grisha2077/vortex-trader-pro/internal/strategy"
)

// Position is an open position held by the bot. At most one exists per symbol.
type Position struct {
	Symbol     string
	Direction  strategy.Direction
	EntryPrice float64
	Quantity   float64
	Leverage   int
	OpenedAt   time.Time

	StopLoss          float64
	TakeProfit        float64
	StopOrderID       string
	TakeProfitOrderID string
	Protected         bool

	// External marks positions learned from the venue rather than opened here.
	External bool
}

// Notional is the position value at entry.
func (p Position) Notional() float64 { return p.EntryPrice * p.Quantity }

// Margin is the collateral locked by the position.
func (p Position) Margin() float64 {
	if p.Leverage <= 0 {
		return p.Notional()
	}
	return p.Notional() / float64(p.Leverage)
}

// Trade is an immutable record of a closed position.
type Trade struct {
	Symbol     string
	Direction  strategy.Direction
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

// Stats aggregates the ledger.
type Stats struct {
	OpenPositions   int
	CompletedTrades int
	TotalPnL        float64
	AveragePnL      float64
	UnrealizedPnL   float64
	LockedFunds     float64
	DisabledSymbols []string
}

// symbolHealth is the per-symbol operational record.
type symbolHealth struct {
	consecutiveErrors int
	disabled          bool
	lastActivity      time.Time
}

// DiffKind classifies one reconciliation difference.
type DiffKind string

const (
	DiffAdded   DiffKind = "added"   // venue holds a position unknown locally
	DiffRemoved DiffKind = "removed" // local position no longer held by the venue
	DiffChanged DiffKind = "changed" // size or side differ
)

// PositionDiff represents a position difference
type PositionDiff struct {
	Symbol   string
	Kind     DiffKind
	LocalQty float64 // signed
	VenueQty float64 // signed
}

// Report is the outcome of one reconciliation.
type Report struct {
	Time   time.Time
	Diffs  []PositionDiff
	Closed []Trade // trades recorded for positions the venue no longer holds
}

// HasDiffs reports whether local state had drifted from the venue.
func (r Report) HasDiffs() bool { return len(r.Diffs) > 0 }
