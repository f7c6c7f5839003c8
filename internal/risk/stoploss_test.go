package risk

import (
	"math"
	"testing"

	"github.com/grisha2077/vortex-trader-pro/internal/strategy"
)

func TestBracketFor(t *testing.T) {
	tests := []struct {
		name     string
		dir      strategy.Direction
		entry    float64
		wantStop float64
		wantTake float64
	}{
		{name: "long", dir: strategy.Long, entry: 100, wantStop: 99, wantTake: 100.11},
		{name: "short", dir: strategy.Short, entry: 100, wantStop: 101, wantTake: 99.89},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := BracketFor(tt.dir, tt.entry, 1, 0.11)
			if math.Abs(b.StopLoss-tt.wantStop) > 1e-9 {
				t.Fatalf("StopLoss=%v, expected %v", b.StopLoss, tt.wantStop)
			}
			if math.Abs(b.TakeProfit-tt.wantTake) > 1e-9 {
				t.Fatalf("TakeProfit=%v, expected %v", b.TakeProfit, tt.wantTake)
			}
		})
	}
}

func TestUpdatePriceTriggers(t *testing.T) {
	tests := []struct {
		name  string
		dir   strategy.Direction
		price float64
		want  ExitReason
	}{
		{name: "long inside", dir: strategy.Long, price: 100.05},
		{name: "long stop", dir: strategy.Long, price: 98.5, want: ExitStopLoss},
		{name: "long take", dir: strategy.Long, price: 100.2, want: ExitTakeProfit},
		{name: "short stop", dir: strategy.Short, price: 101.5, want: ExitStopLoss},
		{name: "short take", dir: strategy.Short, price: 99.5, want: ExitTakeProfit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewStopLossManager()
			b := BracketFor(tt.dir, 100, 1, 0.11)
			m.AddPosition(StopLossPosition{
				Symbol:     "BTCUSDT",
				Direction:  tt.dir,
				EntryPrice: 100,
				StopLoss:   b.StopLoss,
				TakeProfit: b.TakeProfit,
			})

			d := m.UpdatePrice("BTCUSDT", tt.price)
			if tt.want == "" {
				if d != nil {
					t.Fatalf("unexpected decision %+v", d)
				}
				return
			}
			if d == nil {
				t.Fatalf("expected %s decision at %v", tt.want, tt.price)
			}
			if d.Reason != tt.want {
				t.Fatalf("Reason=%s, expected %s", d.Reason, tt.want)
			}
		})
	}
}

func TestRemovedPositionIsIgnored(t *testing.T) {
	m := NewStopLossManager()
	m.AddPosition(StopLossPosition{Symbol: "ETHUSDT", Direction: strategy.Long, EntryPrice: 10, StopLoss: 9, TakeProfit: 11})
	m.RemovePosition("ETHUSDT")

	if d := m.UpdatePrice("ETHUSDT", 1); d != nil {
		t.Fatalf("expected no decision, got %+v", d)
	}
	if _, ok := m.GetPosition("ETHUSDT"); ok {
		t.Fatal("position still tracked")
	}
}
