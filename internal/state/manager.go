package state

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/grisha2077/vortex-trader-pro/internal/order"
	"github.com/grisha2077/vortex-trader-pro/internal/strategy"
	exchange "github.com/grisha2077/vortex-trader-pro/pkg/exchanges/common"
)

var (
	ErrPositionOpen   = errors.New("position already open")
	ErrCoolingDown    = errors.New("symbol in cooldown")
	ErrSymbolDisabled = errors.New("symbol disabled by circuit breaker")
)

const qtyTolerance = 1e-9

// Config bounds the ledger.
type Config struct {
	HistoryLimit int
	Cooldown     time.Duration
	MaxErrors    int
}

// DefaultConfig returns history 100, cooldown 60s and a breaker at 3 errors.
func DefaultConfig() Config {
	return Config{HistoryLimit: 100, Cooldown: 60 * time.Second, MaxErrors: 3}
}

// Manager is the position ledger: open positions, trade history and
// per-symbol health. Every method is safe for concurrent use.
type Manager struct {
	mu        sync.RWMutex
	positions map[string]Position
	history   []Trade // newest first
	health    map[string]*symbolHealth
	cfg       Config
	now       func() time.Time
	log       *zap.Logger
}

func NewManager(cfg Config, log *zap.Logger) *Manager {
	def := DefaultConfig()
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = def.MaxErrors
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		positions: make(map[string]Position),
		health:    make(map[string]*symbolHealth),
		cfg:       cfg,
		now:       time.Now,
		log:       log.Named("ledger"),
	}
}

// SetCooldown overrides the re-entry cooldown.
func (m *Manager) SetCooldown(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Cooldown = d
}

func (m *Manager) healthOf(symbol string) *symbolHealth {
	h, ok := m.health[symbol]
	if !ok {
		h = &symbolHealth{}
		m.health[symbol] = h
	}
	return h
}

// TryOpen inserts p unless a position for the symbol exists. The check and
// the insert happen under one lock. A successful open starts the cooldown.
func (m *Manager) TryOpen(p Position) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.positions[p.Symbol]; exists {
		return false
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = m.now()
	}
	m.positions[p.Symbol] = p
	m.healthOf(p.Symbol).lastActivity = m.now()
	return true
}

// Update mutates an open position in place. It returns false when none is open.
func (m *Manager) Update(symbol string, fn func(*Position)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	if !ok {
		return false
	}
	fn(&p)
	p.Symbol = symbol
	m.positions[symbol] = p
	return true
}

// Close removes the position for symbol and records the realized trade.
func (m *Manager) Close(symbol string, exitPrice float64, reason string) (Trade, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	if !ok {
		return Trade{}, false
	}
	delete(m.positions, symbol)
	t := m.closeLocked(p, exitPrice, reason)
	m.log.Info("position closed",
		zap.String("symbol", symbol),
		zap.String("reason", reason),
		zap.Float64("entry", t.EntryPrice),
		zap.Float64("exit", t.ExitPrice),
		zap.Float64("pnl", t.PnL))
	return t, true
}

func (m *Manager) closeLocked(p Position, exitPrice float64, reason string) Trade {
	pnl, pct := order.CalculatePnL(p.Direction, p.EntryPrice, exitPrice, p.Quantity, leverageOf(p))
	t := Trade{
		Symbol:     p.Symbol,
		Direction:  p.Direction,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   p.Quantity,
		Leverage:   leverageOf(p),
		PnL:        pnl,
		PnLPercent: pct,
		Reason:     reason,
		OpenedAt:   p.OpenedAt,
		ClosedAt:   m.now(),
	}
	m.pushTradeLocked(t)
	m.healthOf(p.Symbol).lastActivity = t.ClosedAt
	return t
}

func (m *Manager) pushTradeLocked(t Trade) {
	m.history = append([]Trade{t}, m.history...)
	if len(m.history) > m.cfg.HistoryLimit {
		m.history = m.history[:m.cfg.HistoryLimit]
	}
}

func leverageOf(p Position) int {
	if p.Leverage < 1 {
		return 1
	}
	return p.Leverage
}

// Position returns the open position for symbol.
func (m *Manager) Position(symbol string) (Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[symbol]
	return p, ok
}

// HasPosition reports whether a position is open for symbol.
func (m *Manager) HasPosition(symbol string) bool {
	_, ok := m.Position(symbol)
	return ok
}

// Positions returns a snapshot of all positions ordered by symbol.
func (m *Manager) Positions() []Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Symbol < res[j].Symbol })
	return res
}

// History returns the trade history, newest first.
func (m *Manager) History() []Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Trade(nil), m.history...)
}

// Seed loads previously journaled trades given newest first. It does not
// touch cooldowns.
func (m *Manager) Seed(trades []Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(trades) - 1; i >= 0; i-- {
		m.pushTradeLocked(trades[i])
	}
}

// CanEnter is the entry gate: no open position, cooldown elapsed and breaker not tripped.
func (m *Manager) CanEnter(symbol string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, open := m.positions[symbol]; open {
		return ErrPositionOpen
	}
	h, ok := m.health[symbol]
	if !ok {
		return nil
	}
	if h.disabled {
		return ErrSymbolDisabled
	}
	if !h.lastActivity.IsZero() && m.now().Sub(h.lastActivity) < m.cfg.Cooldown {
		return ErrCoolingDown
	}
	return nil
}

// MarkActivity restarts the cooldown of symbol.
func (m *Manager) MarkActivity(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthOf(symbol).lastActivity = m.now()
}

// RecordError counts a failure against symbol. It returns true exactly once,
// when the count reaches the breaker threshold and the symbol is disabled.
func (m *Manager) RecordError(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.healthOf(symbol)
	if h.disabled {
		return false
	}
	h.consecutiveErrors++
	if h.consecutiveErrors >= m.cfg.MaxErrors {
		h.disabled = true
		m.log.Error("circuit breaker tripped",
			zap.String("symbol", symbol),
			zap.Int("errors", h.consecutiveErrors))
		return true
	}
	return false
}

// RecordSuccess resets the consecutive error count of symbol.
func (m *Manager) RecordSuccess(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.health[symbol]; ok && !h.disabled {
		h.consecutiveErrors = 0
	}
}

// ErrorCount returns the consecutive error count of symbol.
func (m *Manager) ErrorCount(symbol string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h, ok := m.health[symbol]; ok {
		return h.consecutiveErrors
	}
	return 0
}

// Disabled reports whether symbol tripped its breaker.
func (m *Manager) Disabled(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.health[symbol]
	return ok && h.disabled
}

// DisabledSymbols lists every tripped symbol in order.
func (m *Manager) DisabledSymbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for s, h := range m.health {
		if h.disabled {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Reconcile replaces the position set with the venue snapshot. Venue rows
// with zero size are ignored. Local positions the venue no longer holds are
// recorded as trades at lastPrice (or the entry price when unknown).
func (m *Manager) Reconcile(venue []exchange.VenuePosition, lastPrice func(symbol string) float64) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := Report{Time: m.now()}
	next := make(map[string]Position, len(venue))

	for _, vp := range venue {
		if math.Abs(vp.Amount) < qtyTolerance {
			continue
		}
		dir := strategy.Long
		if vp.Amount < 0 {
			dir = strategy.Short
		}
		p, known := m.positions[vp.Symbol]
		localQty := signedQty(p)
		if !known {
			p = Position{Symbol: vp.Symbol, OpenedAt: report.Time, External: true}
			report.Diffs = append(report.Diffs, PositionDiff{Symbol: vp.Symbol, Kind: DiffAdded, VenueQty: vp.Amount})
		} else if math.Abs(localQty-vp.Amount) > qtyTolerance {
			report.Diffs = append(report.Diffs, PositionDiff{Symbol: vp.Symbol, Kind: DiffChanged, LocalQty: localQty, VenueQty: vp.Amount})
		}
		p.Direction = dir
		p.Quantity = math.Abs(vp.Amount)
		if vp.EntryPrice > 0 {
			p.EntryPrice = vp.EntryPrice
		}
		if vp.Leverage > 0 {
			p.Leverage = vp.Leverage
		}
		next[vp.Symbol] = p
	}

	for sym, p := range m.positions {
		if _, held := next[sym]; held {
			continue
		}
		report.Diffs = append(report.Diffs, PositionDiff{Symbol: sym, Kind: DiffRemoved, LocalQty: signedQty(p)})
		exit := p.EntryPrice
		if lastPrice != nil {
			if px := lastPrice(sym); px > 0 {
				exit = px
			}
		}
		report.Closed = append(report.Closed, m.closeLocked(p, exit, "reconciled"))
	}
	m.positions = next

	sort.Slice(report.Diffs, func(i, j int) bool { return report.Diffs[i].Symbol < report.Diffs[j].Symbol })
	if report.HasDiffs() {
		for _, d := range report.Diffs {
			m.log.Warn("position drift resolved from venue",
				zap.String("symbol", d.Symbol),
				zap.String("kind", string(d.Kind)),
				zap.Float64("local_qty", d.LocalQty),
				zap.Float64("venue_qty", d.VenueQty))
		}
	}
	return report
}

func signedQty(p Position) float64 {
	if p.Direction == strategy.Short {
		return -p.Quantity
	}
	return p.Quantity
}

// Stats aggregates realized and unrealized PnL. markPrice may return 0 for
// unknown symbols, in which case the position contributes no unrealized PnL.
func (m *Manager) Stats(markPrice func(symbol string) float64) Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{OpenPositions: len(m.positions), CompletedTrades: len(m.history)}
	for _, t := range m.history {
		s.TotalPnL += t.PnL
	}
	if s.CompletedTrades > 0 {
		s.AveragePnL = s.TotalPnL / float64(s.CompletedTrades)
	}
	for sym, p := range m.positions {
		s.LockedFunds += p.Margin()
		if markPrice == nil {
			continue
		}
		if px := markPrice(sym); px > 0 {
			pnl, _ := order.CalculatePnL(p.Direction, p.EntryPrice, px, p.Quantity, leverageOf(p))
			s.UnrealizedPnL += pnl
		}
	}
	for sym, h := range m.health {
		if h.disabled {
			s.DisabledSymbols = append(s.DisabledSymbols, sym)
		}
	}
	sort.Strings(s.DisabledSymbols)
	return s
}
