package curriculum

import "math"

// #region window

// Window is a fixed-size FIFO of the most recent values with running sum and
// sum of squares. Push, Mean and Std are O(1).
type Window struct {
	buf    []float64
	head   int // next write position
	n      int
	sum    float64
	sumSq  float64
	pushes int
}

// NewWindow returns an empty window holding up to size values.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{buf: make([]float64, size)}
}

// Push appends x, evicting the oldest value when full.
func (w *Window) Push(x float64) {
	if w.n == len(w.buf) {
		old := w.buf[w.head]
		w.sum -= old
		w.sumSq -= old * old
	} else {
		w.n++
	}
	w.buf[w.head] = x
	w.head = (w.head + 1) % len(w.buf)
	w.sum += x
	w.sumSq += x * x

	// Re-sum once per cycle so rounding drift cannot accumulate.
	w.pushes++
	if w.pushes%len(w.buf) == 0 {
		w.resum()
	}
}

func (w *Window) resum() {
	w.sum, w.sumSq = 0, 0
	for _, v := range w.Values() {
		w.sum += v
		w.sumSq += v * v
	}
}

// Len returns the number of stored values.
func (w *Window) Len() int { return w.n }

// Cap returns the window size.
func (w *Window) Cap() int { return len(w.buf) }

// Full reports whether the window holds Cap values.
func (w *Window) Full() bool { return w.n == len(w.buf) }

// Reset empties the window.
func (w *Window) Reset() {
	w.head, w.n, w.sum, w.sumSq, w.pushes = 0, 0, 0, 0, 0
}

// Mean returns the average of the stored values (0 when empty).
func (w *Window) Mean() float64 {
	if w.n == 0 {
		return 0
	}
	return w.sum / float64(w.n)
}

// Std returns the population standard deviation.
func (w *Window) Std() float64 {
	if w.n == 0 {
		return 0
	}
	mean := w.Mean()
	v := w.sumSq/float64(w.n) - mean*mean
	if v < 0 {
		return 0
	}
	return math.Sqrt(v)
}

// CV returns Std/|Mean|, or 0 when the mean is zero.
func (w *Window) CV() float64 {
	m := w.Mean()
	if m == 0 {
		return 0
	}
	return w.Std() / math.Abs(m)
}

// Values returns the stored values oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, w.n)
	start := (w.head - w.n + len(w.buf)) % len(w.buf)
	for i := 0; i < w.n; i++ {
		out[i] = w.buf[(start+i)%len(w.buf)]
	}
	return out
}

// Last returns the newest k values oldest first (fewer if not stored).
func (w *Window) Last(k int) []float64 {
	vals := w.Values()
	if k >= len(vals) {
		return vals
	}
	return vals[len(vals)-k:]
}

// #endregion window
