package modular

// Predictor identifies one of the fixed per-pixel predictors, or the
// adaptive weighted predictor.
type Predictor uint8

const (
	PredZero Predictor = iota
	PredLeft
	PredTop
	PredAvg
	PredSelect
	PredGradient
	PredWeighted
	PredTopRight

	numPredictors
)

var predictorNames = [numPredictors]string{
	"Zero", "Left", "Top", "Avg", "Select", "Gradient", "Weighted", "TopRight",
}

func (p Predictor) String() string {
	if p < numPredictors {
		return predictorNames[p]
	}
	return "Invalid"
}

// neighborhood holds the causal neighbors of a pixel after the boundary
// fallback rule has been applied: a missing neighbor takes the value of
// the left pixel when available, else the top pixel, else zero.
type neighborhood struct {
	w, n, nw, ne, nn, ww int32
}

// gather fills nb with the causal neighbors of (x, y). row is the
// current row being produced; top and topTop are the rows above (nil on
// the image boundary).
func (nb *neighborhood) gather(row, top, topTop []int32, x, width int) {
	var left int32
	switch {
	case x > 0:
		left = row[x-1]
	case top != nil:
		left = top[x]
	}
	nb.w = left
	if top != nil {
		nb.n = top[x]
	} else {
		nb.n = left
	}
	if x > 0 && top != nil {
		nb.nw = top[x-1]
	} else {
		nb.nw = left
	}
	if x+1 < width && top != nil {
		nb.ne = top[x+1]
	} else {
		nb.ne = nb.n
	}
	if topTop != nil {
		nb.nn = topTop[x]
	} else {
		nb.nn = nb.n
	}
	if x > 1 {
		nb.ww = row[x-2]
	} else {
		nb.ww = left
	}
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

// clampedGradient predicts w+n-nw clamped to [min(w,n), max(w,n)].
func clampedGradient(w, n, nw int32) int32 {
	lo, hi := min32(w, n), max32(w, n)
	g := w + n - nw
	if g < lo {
		return lo
	}
	if g > hi {
		return hi
	}
	return g
}

// predictFixed evaluates a non-adaptive predictor over the gathered
// neighborhood. PredWeighted is not handled here; the channel coder
// routes it through the weighted predictor state.
func predictFixed(p Predictor, nb *neighborhood) int32 {
	switch p {
	case PredZero:
		return 0
	case PredLeft:
		return nb.w
	case PredTop:
		return nb.n
	case PredAvg:
		return (nb.w + nb.n) >> 1
	case PredSelect:
		// Pick the neighbor whose gradient toward NW is smaller.
		if abs32(nb.n-nb.nw) < abs32(nb.w-nb.nw) {
			return nb.w
		}
		return nb.n
	case PredGradient:
		return clampedGradient(nb.w, nb.n, nb.nw)
	case PredTopRight:
		return nb.ne
	}
	panic("modular: internal error: predictFixed called with adaptive predictor")
}
