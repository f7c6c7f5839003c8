package indicators

// RSI computes the Relative Strength Index over every close in values:
// the sum of up-moves divided by the sum of all moves, scaled to 0..100.
// A flat series yields 50, gains only 100, losses only 0. Fewer than two
// values also yield 50.
func RSI(values []float64) float64 {
	if len(values) < 2 {
		return 50
	}

	gain := 0.0
	loss := 0.0
	for i := 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}

	if gain+loss == 0 {
		return 50
	}
	return 100 * gain / (gain + loss)
}
