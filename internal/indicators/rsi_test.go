package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRSIBoundaries(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"flat", []float64{100, 100, 100, 100}, 50},
		{"gains only", []float64{1, 2, 3, 4, 5}, 100},
		{"losses only", []float64{5, 4, 3, 2, 1}, 0},
		{"single value", []float64{42}, 50},
		{"balanced", []float64{10, 11, 10}, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, RSI(tt.values), 1e-9)
		})
	}
}

func TestRSIKnownWindow(t *testing.T) {
	closes := []float64{100, 99.78, 100.18}
	for i := 0; i < 8; i++ {
		closes = append(closes, closes[len(closes)-1]-1.1725)
	}
	assert.InDelta(t, 4.0, RSI(closes), 1e-6)
}

func TestRSIWeighsMovesEqually(t *testing.T) {
	// Same moves in a different order: +2 -1 +1 and -1 +1 +2.
	a := RSI([]float64{10, 12, 11, 12})
	b := RSI([]float64{10, 9, 10, 12})
	assert.InDelta(t, 75.0, a, 1e-9)
	assert.InDelta(t, a, b, 1e-9, "no smoothing, so order does not matter")
}

func TestWindowEvictsOldest(t *testing.T) {
	w := NewWindow(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		w.Push(v)
		assert.LessOrEqual(t, w.Len(), 3)
	}
	assert.True(t, w.Full())
	assert.Equal(t, []float64{3, 4, 5}, w.Values())
}
