package order

import "github.com/grisha2077/vortex-trader-pro/internal/strategy"

// CalculatePnL returns the realized PnL of a round trip and its percentage of
// the entry notional. Shorts invert the sign.
func CalculatePnL(dir strategy.Direction, entry, exit, qty float64, leverage int) (pnl, pct float64) {
	pnl = (exit - entry) * qty * float64(leverage)
	if dir == strategy.Short {
		pnl = -pnl
	}
	if notional := entry * qty; notional != 0 {
		pct = pnl / notional * 100
	}
	return pnl, pct
}
