package risk

import (
	"fmt"
	"sync"

	"github.com/grisha2077/vortex-trader-pro/internal/strategy"
)

// Bracket holds the protective trigger prices of one position.
type Bracket struct {
	StopLoss   float64
	TakeProfit float64
}

// BracketFor derives stop-loss and take-profit prices from the entry price.
// Shorts mirror the long bracket around the entry.
func BracketFor(dir strategy.Direction, entry, stopLossPct, takeProfitPct float64) Bracket {
	if dir == strategy.Short {
		return Bracket{
			StopLoss:   entry * (1 + stopLossPct/100),
			TakeProfit: entry * (1 - takeProfitPct/100),
		}
	}
	return Bracket{
		StopLoss:   entry * (1 - stopLossPct/100),
		TakeProfit: entry * (1 + takeProfitPct/100),
	}
}

// StopLossManager watches open positions against their brackets so the bot
// can close locally when the venue-side protective orders are missing.
type StopLossManager struct {
	positions map[string]*StopLossPosition
	mu        sync.RWMutex
}

// StopLossPosition tracks the bracket of a position.
type StopLossPosition struct {
	Symbol       string
	Direction    strategy.Direction
	EntryPrice   float64
	CurrentPrice float64
	StopLoss     float64
	TakeProfit   float64
}

// ExitReason names which side of the bracket was crossed.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
)

// StopLossDecision asks the caller to close a position.
type StopLossDecision struct {
	Symbol string
	Reason ExitReason
	Price  float64
	Detail string
}

// NewStopLossManager creates a new stop loss manager
func NewStopLossManager() *StopLossManager {
	return &StopLossManager{
		positions: make(map[string]*StopLossPosition),
	}
}

// AddPosition starts tracking a position, replacing any previous bracket for the symbol.
func (m *StopLossManager) AddPosition(pos StopLossPosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos.CurrentPrice == 0 {
		pos.CurrentPrice = pos.EntryPrice
	}
	m.positions[pos.Symbol] = &pos
}

// UpdatePrice records the latest price and returns a decision when a bound is reached.
func (m *StopLossManager) UpdatePrice(symbol string, price float64) *StopLossDecision {
	if price <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, exists := m.positions[symbol]
	if !exists {
		return nil
	}
	pos.CurrentPrice = price

	if pos.isStopLossTriggered() {
		return &StopLossDecision{
			Symbol: symbol,
			Reason: ExitStopLoss,
			Price:  price,
			Detail: fmt.Sprintf("stop loss %.8g reached at %.8g", pos.StopLoss, price),
		}
	}
	if pos.isTakeProfitTriggered() {
		return &StopLossDecision{
			Symbol: symbol,
			Reason: ExitTakeProfit,
			Price:  price,
			Detail: fmt.Sprintf("take profit %.8g reached at %.8g", pos.TakeProfit, price),
		}
	}
	return nil
}

func (p *StopLossPosition) isStopLossTriggered() bool {
	if p.StopLoss <= 0 {
		return false
	}
	if p.Direction == strategy.Short {
		return p.CurrentPrice >= p.StopLoss
	}
	return p.CurrentPrice <= p.StopLoss
}

func (p *StopLossPosition) isTakeProfitTriggered() bool {
	if p.TakeProfit <= 0 {
		return false
	}
	if p.Direction == strategy.Short {
		return p.CurrentPrice <= p.TakeProfit
	}
	return p.CurrentPrice >= p.TakeProfit
}

// RemovePosition stops tracking a symbol.
func (m *StopLossManager) RemovePosition(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, symbol)
}

// GetPosition returns a copy of the tracked bracket.
func (m *StopLossManager) GetPosition(symbol string) (StopLossPosition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[symbol]
	if !ok {
		return StopLossPosition{}, false
	}
	return *pos, true
}

// Symbols lists every tracked symbol.
func (m *StopLossManager) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.positions))
	for s := range m.positions {
		out = append(out, s)
	}
	return out
}
