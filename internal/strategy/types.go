package strategy

import "time"

// Direction is the side a signal asks to enter.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Signal is an entry request emitted on a threshold crossing.
type Signal struct {
	Symbol    string
	Direction Direction
	Value     float64 // oscillator value that triggered the crossing
	Price     float64 // close of the triggering candle
	Time      time.Time
}

// OscillatorUpdate is emitted for every computed oscillator value.
type OscillatorUpdate struct {
	Symbol   string
	Value    float64
	Previous *float64
	Price    float64
	Time     time.Time
}

// Params configures the crossing detector.
type Params struct {
	Period int     // closes per window
	Level  float64 // LONG trigger; SHORT uses 100 - Level
	Short  bool    // emit SHORT signals
}
