package strategy

import (
	"time"

	"github.com/grisha2077/vortex-trader-pro/internal/indicators"
	market "github.com/grisha2077/vortex-trader-pro/pkg/market/binance"
)

type oscillatorState struct {
	window   *indicators.Window
	last     float64
	hasLast  bool
	lastSeen time.Time
}

// SignalEngine turns closed candles into RSI values and edge-triggered
// crossing signals. It is owned by a single goroutine and is not safe for
// concurrent use.
type SignalEngine struct {
	params Params
	states map[string]*oscillatorState
	now    func() time.Time
}

// NewSignalEngine creates an engine; a zero period falls back to 11.
func NewSignalEngine(p Params) *SignalEngine {
	if p.Period < 2 {
		p.Period = 11
	}
	return &SignalEngine{
		params: p,
		states: make(map[string]*oscillatorState),
		now:    time.Now,
	}
}

// Params returns the active parameters.
func (e *SignalEngine) Params() Params { return e.params }

func (e *SignalEngine) state(symbol string) *oscillatorState {
	st, ok := e.states[symbol]
	if !ok {
		st = &oscillatorState{window: indicators.NewWindow(e.params.Period)}
		e.states[symbol] = st
	}
	return st
}

// Ingest appends the close of a finished candle. Until the window holds
// exactly Period closes nothing is returned. Otherwise an update is always
// returned, and a signal when the value crossed a trigger since the previous
// candle. Candles that are still forming are ignored.
func (e *SignalEngine) Ingest(k market.Kline) (*OscillatorUpdate, *Signal) {
	if !k.Closed {
		return nil, nil
	}
	st := e.state(k.Symbol)
	st.window.Push(k.Close)
	if !st.window.Full() {
		return nil, nil
	}

	now := e.now()
	value := indicators.RSI(st.window.Values())
	update := &OscillatorUpdate{Symbol: k.Symbol, Value: value, Price: k.Close, Time: now}

	var sig *Signal
	if st.hasLast {
		prev := st.last
		update.Previous = &prev
		if dir, ok := e.crossing(prev, value); ok {
			sig = &Signal{Symbol: k.Symbol, Direction: dir, Value: value, Price: k.Close, Time: now}
		}
	}
	st.last = value
	st.hasLast = true
	st.lastSeen = now
	return update, sig
}

// crossing applies the edge trigger: LONG when the value rises through Level,
// SHORT when it falls through 100 - Level.
func (e *SignalEngine) crossing(prev, curr float64) (Direction, bool) {
	level := e.params.Level
	if prev < level && curr >= level {
		return Long, true
	}
	upper := 100 - level
	if e.params.Short && prev > upper && curr <= upper {
		return Short, true
	}
	return "", false
}

// Seed pre-fills a symbol's window with historical closes, oldest first,
// without emitting signals. The last computed value becomes the previous
// value for the next live candle.
func (e *SignalEngine) Seed(symbol string, closes []float64) {
	st := e.state(symbol)
	for _, c := range closes {
		st.window.Push(c)
		if st.window.Full() {
			st.last = indicators.RSI(st.window.Values())
			st.hasLast = true
		}
	}
}

// Value returns the latest oscillator value of a symbol.
func (e *SignalEngine) Value(symbol string) (float64, bool) {
	st, ok := e.states[symbol]
	if !ok || !st.hasLast {
		return 0, false
	}
	return st.last, true
}

// Reset drops all state of a symbol.
func (e *SignalEngine) Reset(symbol string) {
	delete(e.states, symbol)
}
