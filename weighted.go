package modular

import "github.com/deepteams/modular/internal/pool"

// wpPropRange bounds the weighted predictor's error-signal property for
// context-table addressing: values saturate to [-wpPropRange,
// wpPropRange-1].
const wpPropRange = 512

// numWPArms is the number of simple predictor arms blended by the
// weighted predictor.
const numWPArms = 4

// WPHeader is the adaptive-predictor configuration carried in the group
// header. The four arm weights and the correction constants are in the
// same 1/32 fixed-point domain the predictor computes in.
type WPHeader struct {
	P1, P2        int32
	P3a, P3b, P3c int32
	P3d, P3e      int32
	Weights       [numWPArms]int32
}

// wpParamPresets are the parameter presets selected by Options.WPMode.
var wpParamPresets = [4]WPHeader{
	{P1: 16, P2: 10, P3a: 7, P3b: 7, P3c: 7, P3d: 0, P3e: 0, Weights: [numWPArms]int32{13, 12, 12, 12}},
	{P1: 8, P2: 8, P3a: 4, P3b: 0, P3c: 3, P3d: 0, P3e: 0, Weights: [numWPArms]int32{16, 9, 7, 7}},
	{P1: 16, P2: 8, P3a: 0, P3b: 16, P3c: 0, P3d: 24, P3e: 0, Weights: [numWPArms]int32{10, 36, 12, 4}},
	{P1: 32, P2: 16, P3a: 10, P3b: 10, P3c: 10, P3d: 4, P3e: 4, Weights: [numWPArms]int32{12, 12, 12, 12}},
}

// wpHeaderForMode returns the parameter preset for a WPMode.
func wpHeaderForMode(mode int) WPHeader {
	if mode < 0 || mode >= len(wpParamPresets) {
		mode = 0
	}
	return wpParamPresets[mode]
}

// wpState is the adaptive predictor's per-channel mutable state: one
// row of signed true-prediction errors and one row of per-arm absolute
// errors, for the current and the previous row. It advances strictly in
// raster order; Predict for a pixel must be followed by UpdateErrors
// with that pixel's true value before the next Predict.
type wpState struct {
	hdr   WPHeader
	width int

	trueErrPrev []int32
	trueErrCur  []int32
	armErrPrev  [numWPArms][]int32
	armErrCur   [numWPArms][]int32

	// Arm guesses of the pixel most recently passed to Predict, kept
	// until UpdateErrors scores them.
	lastArm   [numWPArms]int32
	lastGuess int32
}

// newWPState creates predictor state for one channel traversal.
func newWPState(hdr WPHeader, width int) *wpState {
	s := &wpState{hdr: hdr, width: width}
	if width == 0 {
		return s
	}
	s.trueErrPrev = pool.GetInt32(width)
	s.trueErrCur = pool.GetInt32(width)
	for i := 0; i < numWPArms; i++ {
		s.armErrPrev[i] = pool.GetInt32(width)
		s.armErrCur[i] = pool.GetInt32(width)
	}
	return s
}

// release returns the state's buffers to the pool.
func (s *wpState) release() {
	if s.width == 0 {
		return
	}
	pool.PutInt32(s.trueErrPrev)
	pool.PutInt32(s.trueErrCur)
	for i := 0; i < numWPArms; i++ {
		pool.PutInt32(s.armErrPrev[i])
		pool.PutInt32(s.armErrCur[i])
	}
}

// clampWPSignal saturates the error signal to the property range.
func clampWPSignal(v int32) int32 {
	if v < -wpPropRange {
		return -wpPropRange
	}
	if v > wpPropRange-1 {
		return wpPropRange - 1
	}
	return v
}

// Predict returns the weighted guess for (x, y) and, when wantSignal is
// set, the clamped error signal destined for the reserved WP property
// slot. The neighborhood must already have the boundary fallback
// applied.
func (s *wpState) Predict(x, y int, nb *neighborhood, wantSignal bool) (guess, signal int32) {
	var teW, teN, teNW, teNE int32
	if x > 0 {
		teW = s.trueErrCur[x-1]
	}
	if y > 0 {
		teN = s.trueErrPrev[x]
		if x > 0 {
			teNW = s.trueErrPrev[x-1]
		}
		if x+1 < s.width {
			teNE = s.trueErrPrev[x+1]
		}
	}

	// Arm predictions in 1/8 fixed point.
	h := &s.hdr
	p0 := (nb.w + nb.ne - nb.n) << 3
	p1 := (nb.n << 3) - ((((teW + teN + teNE) << 3) * h.P1) >> 5)
	p2 := (nb.w << 3) - ((((teW + teN + teNW) << 3) * h.P2) >> 5)
	p3 := (nb.n << 3) - (((teNW<<3)*h.P3a + (teN<<3)*h.P3b + (teNE<<3)*h.P3c +
		((nb.nn-nb.n)<<3)*h.P3d + ((nb.nw-nb.w)<<3)*h.P3e) >> 5)
	arms := [numWPArms]int32{p0, p1, p2, p3}

	// Blend with weights inversely proportional to each arm's recent
	// absolute error around the pixel.
	var num, den int64
	for i := 0; i < numWPArms; i++ {
		var acc int32
		if x > 0 {
			acc += s.armErrCur[i][x-1]
		}
		if y > 0 {
			acc += s.armErrPrev[i][x]
			if x+1 < s.width {
				acc += s.armErrPrev[i][x+1]
			}
		}
		w := (int64(h.Weights[i]) << 12) / (int64(acc) + 1)
		if w < 1 {
			w = 1
		}
		num += w * int64(arms[i])
		den += w
	}
	pred := int32((num + den/2) / den)

	// When the neighborhood errors agree in sign the true value is very
	// likely inside the neighbor range; clamp the blend to it.
	if (teW >= 0 && teN >= 0 && teNE >= 0) || (teW <= 0 && teN <= 0 && teNE <= 0) {
		lo := min32(nb.w, min32(nb.n, nb.ne)) << 3
		hi := max32(nb.w, max32(nb.n, nb.ne)) << 3
		if pred < lo {
			pred = lo
		}
		if pred > hi {
			pred = hi
		}
	}

	guess = (pred + 4) >> 3

	if wantSignal {
		maxe := teW
		if abs32(teN) > abs32(maxe) {
			maxe = teN
		}
		if abs32(teNW) > abs32(maxe) {
			maxe = teNW
		}
		if abs32(teNE) > abs32(maxe) {
			maxe = teNE
		}
		signal = clampWPSignal(maxe)
	}

	s.lastArm = arms
	s.lastGuess = guess
	return guess, signal
}

// UpdateErrors scores the most recent prediction against the true
// value. It must be called exactly once per pixel, immediately after
// Predict and before the next pixel's Predict; skipping or reordering
// it corrupts all subsequent predictions for the channel.
func (s *wpState) UpdateErrors(val int32, x, y int) {
	s.trueErrCur[x] = val - s.lastGuess
	for i := 0; i < numWPArms; i++ {
		s.armErrCur[i][x] = abs32(((s.lastArm[i] + 4) >> 3) - val)
	}
	if x == s.width-1 {
		s.trueErrPrev, s.trueErrCur = s.trueErrCur, s.trueErrPrev
		for i := 0; i < numWPArms; i++ {
			s.armErrPrev[i], s.armErrCur[i] = s.armErrCur[i], s.armErrPrev[i]
		}
	}
}
