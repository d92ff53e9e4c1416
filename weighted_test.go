package modular

import (
	"math/rand"
	"testing"
)

// runWP feeds a whole channel through the weighted predictor and
// returns the guesses in raster order.
func runWP(hdr WPHeader, ch *Channel) []int32 {
	wp := newWPState(hdr, ch.W)
	defer wp.release()
	out := make([]int32, 0, ch.W*ch.H)
	var top, topTop []int32
	for y := 0; y < ch.H; y++ {
		row := ch.Row(y)
		for x := 0; x < ch.W; x++ {
			var nb neighborhood
			nb.gather(row, top, topTop, x, ch.W)
			guess, signal := wp.Predict(x, y, &nb, true)
			if signal < -wpPropRange || signal > wpPropRange-1 {
				panic("signal out of range")
			}
			out = append(out, guess)
			wp.UpdateErrors(row[x], x, y)
		}
		topTop = top
		top = row
	}
	return out
}

func TestWPConstantImage(t *testing.T) {
	ch := NewChannel(16, 16)
	for i := range ch.Pixels {
		ch.Pixels[i] = 42
	}
	guesses := runWP(wpHeaderForMode(0), &ch)
	// Away from the top-left corner every neighbor is 42 and all past
	// errors are zero, so the blend must return 42 exactly.
	for y := 1; y < 16; y++ {
		for x := 1; x < 16; x++ {
			if g := guesses[y*16+x]; g != 42 {
				t.Fatalf("guess at (%d,%d) = %d, want 42", x, y, g)
			}
		}
	}
}

func TestWPDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	ch := NewChannel(23, 17)
	for i := range ch.Pixels {
		ch.Pixels[i] = int32(rng.Intn(1 << 12))
	}
	a := runWP(wpHeaderForMode(0), &ch)
	b := runWP(wpHeaderForMode(0), &ch)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("guess %d differs between identical runs: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestWPModesDiffer(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	ch := NewChannel(32, 32)
	for i := range ch.Pixels {
		ch.Pixels[i] = int32(rng.Intn(256))
	}
	base := runWP(wpHeaderForMode(0), &ch)
	for mode := 1; mode < 4; mode++ {
		other := runWP(wpHeaderForMode(mode), &ch)
		same := true
		for i := range base {
			if base[i] != other[i] {
				same = false
				break
			}
		}
		if same {
			t.Errorf("mode %d produced identical guesses to mode 0 on noise", mode)
		}
	}
}

func TestWPHeaderModeClamping(t *testing.T) {
	if wpHeaderForMode(-1) != wpParamPresets[0] {
		t.Error("negative mode should fall back to preset 0")
	}
	if wpHeaderForMode(99) != wpParamPresets[0] {
		t.Error("out-of-range mode should fall back to preset 0")
	}
	if wpHeaderForMode(2) != wpParamPresets[2] {
		t.Error("mode 2 should select preset 2")
	}
}

func TestClampWPSignal(t *testing.T) {
	tests := []struct{ in, want int32 }{
		{0, 0},
		{511, 511},
		{512, 511},
		{100000, 511},
		{-512, -512},
		{-513, -512},
		{-100000, -512},
	}
	for _, tt := range tests {
		if got := clampWPSignal(tt.in); got != tt.want {
			t.Errorf("clampWPSignal(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestWPZeroWidthChannel(t *testing.T) {
	wp := newWPState(wpHeaderForMode(0), 0)
	wp.release() // must not panic
}
