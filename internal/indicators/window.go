package indicators

// Window keeps the last n values in arrival order.
type Window struct {
	values []float64
	size   int
}

// NewWindow creates a window holding at most size values.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{values: make([]float64, 0, size), size: size}
}

// Push appends v, evicting the oldest value once full.
func (w *Window) Push(v float64) {
	if len(w.values) == w.size {
		copy(w.values, w.values[1:])
		w.values = w.values[:w.size-1]
	}
	w.values = append(w.values, v)
}

// Full reports whether the window holds exactly size values.
func (w *Window) Full() bool { return len(w.values) == w.size }

// Len returns the number of values held.
func (w *Window) Len() int { return len(w.values) }

// Size returns the capacity.
func (w *Window) Size() int { return w.size }

// Values returns a copy of the held values, oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, len(w.values))
	copy(out, w.values)
	return out
}
