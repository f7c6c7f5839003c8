// Package engine drives the trading core: it owns the per-symbol state
// machine and connects market data, signal detection, order execution and
// the position ledger. The API layer talks to the core only through Service.
package engine

import (
	"context"

	"github.com/grisha2077/vortex-trader-pro/internal/connectivity"
	"github.com/grisha2077/vortex-trader-pro/internal/order"
	"github.com/grisha2077/vortex-trader-pro/pkg/config"
)

// Service defines the command and query surface of the trading core.
type Service interface {
	// Commands
	StartTrading(ctx context.Context, cfg config.TradingConfig) error
	StopTrading(ctx context.Context) error
	PlaceManualOrder(ctx context.Context, m order.ManualOrder) (*order.Order, error)

	// Queries
	GetPositions(ctx context.Context) []PositionView
	GetTradeHistory(ctx context.Context) []TradeView
	GetStats(ctx context.Context) StatsView
	GetSymbols(ctx context.Context) []SymbolStatus
	GetStreams(ctx context.Context) []connectivity.StreamStatus
	GetOrders(ctx context.Context, symbol string, limit int) ([]OrderView, error)

	// System
	GetSystemStatus(ctx context.Context) *SystemStatus
}
