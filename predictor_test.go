package modular

import "testing"

func TestClampedGradient(t *testing.T) {
	tests := []struct {
		w, n, nw, want int32
	}{
		{0, 0, 0, 0},
		{10, 10, 10, 10},
		{3, 2, 1, 3},  // in range
		{3, 2, 0, 3},  // clamped to max(w, n)
		{3, 2, 10, 2}, // clamped to min(w, n)
		{-5, 5, 0, 0}, // signed
		{-5, -2, 1, -5},
	}
	for _, tt := range tests {
		if got := clampedGradient(tt.w, tt.n, tt.nw); got != tt.want {
			t.Errorf("clampedGradient(%d, %d, %d) = %d, want %d", tt.w, tt.n, tt.nw, got, tt.want)
		}
	}
}

func TestPredictFixed(t *testing.T) {
	nb := neighborhood{w: 10, n: 20, nw: 15, ne: 30, nn: 25, ww: 5}
	tests := []struct {
		pred Predictor
		want int32
	}{
		{PredZero, 0},
		{PredLeft, 10},
		{PredTop, 20},
		{PredAvg, 15},
		{PredGradient, 15},
		{PredTopRight, 30},
	}
	for _, tt := range tests {
		if got := predictFixed(tt.pred, &nb); got != tt.want {
			t.Errorf("predictFixed(%v) = %d, want %d", tt.pred, got, tt.want)
		}
	}
	// Select picks W when N is the worse gradient match.
	sel := neighborhood{w: 10, n: 20, nw: 19}
	if got := predictFixed(PredSelect, &sel); got != 10 {
		t.Errorf("select with nw near n = %d, want 10", got)
	}
	sel = neighborhood{w: 10, n: 20, nw: 11}
	if got := predictFixed(PredSelect, &sel); got != 20 {
		t.Errorf("select with nw near w = %d, want 20", got)
	}
}

func TestNeighborhoodGatherBoundaries(t *testing.T) {
	row := []int32{1, 2, 3, 4}
	top := []int32{5, 6, 7, 8}
	topTop := []int32{9, 10, 11, 12}

	var nb neighborhood
	// Top-left corner of the image: everything falls back to zero.
	nb.gather(row, nil, nil, 0, 4)
	if nb != (neighborhood{}) {
		t.Fatalf("corner neighborhood = %+v, want zeros", nb)
	}

	// First row: N falls back to W.
	nb.gather(row, nil, nil, 2, 4)
	if nb.w != 2 || nb.n != 2 || nb.nw != 2 || nb.ne != 2 || nb.nn != 2 || nb.ww != 1 {
		t.Fatalf("first-row neighborhood = %+v", nb)
	}

	// First column: W falls back to N.
	nb.gather(row, top, topTop, 0, 4)
	if nb.w != 5 || nb.n != 5 || nb.nw != 5 || nb.ne != 6 || nb.nn != 9 {
		t.Fatalf("first-column neighborhood = %+v", nb)
	}

	// Interior pixel.
	nb.gather(row, top, topTop, 2, 4)
	if nb.w != 2 || nb.n != 7 || nb.nw != 6 || nb.ne != 8 || nb.nn != 11 || nb.ww != 1 {
		t.Fatalf("interior neighborhood = %+v", nb)
	}

	// Right edge: NE falls back to N.
	nb.gather(row, top, topTop, 3, 4)
	if nb.ne != nb.n {
		t.Fatalf("right-edge NE = %d, want N = %d", nb.ne, nb.n)
	}
}

func TestPredictorString(t *testing.T) {
	if PredGradient.String() != "Gradient" {
		t.Errorf("PredGradient.String() = %q", PredGradient.String())
	}
	if Predictor(200).String() != "Invalid" {
		t.Errorf("Predictor(200).String() = %q", Predictor(200).String())
	}
}
