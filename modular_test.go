package modular

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

// cloneShape returns an image with the same channel shapes as src and
// all samples zero, ready to receive a decode.
func cloneShape(src *Image) *Image {
	dst := &Image{W: src.W, H: src.H, MaxVal: src.MaxVal, NbMetaChannels: src.NbMetaChannels}
	dst.Channel = make([]Channel, len(src.Channel))
	for i := range src.Channel {
		dst.Channel[i] = NewChannel(src.Channel[i].W, src.Channel[i].H)
	}
	return dst
}

func assertEqualPixels(t *testing.T, got, want *Image) {
	t.Helper()
	if len(got.Channel) != len(want.Channel) {
		t.Fatalf("%d channels, want %d", len(got.Channel), len(want.Channel))
	}
	for c := range want.Channel {
		for i, v := range want.Channel[c].Pixels {
			if got.Channel[c].Pixels[i] != v {
				t.Fatalf("channel %d pixel %d: got %d, want %d",
					c, i, got.Channel[c].Pixels[i], v)
			}
		}
	}
}

func roundTrip(t *testing.T, img *Image, opts *Options) []byte {
	t.Helper()
	data, err := Encode(img, opts)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dst := cloneShape(img)
	if err := Decode(data, dst, opts); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	assertEqualPixels(t, dst, img)
	return data
}

func gradientImage(w, h, channels int) *Image {
	img := NewImage(w, h, 255, channels)
	for c := range img.Channel {
		for y := 0; y < h; y++ {
			row := img.Channel[c].Row(y)
			for x := 0; x < w; x++ {
				row[x] = int32((x + 2*y + 17*c) % 256)
			}
		}
	}
	return img
}

func noiseImage(rng *rand.Rand, w, h, channels, depth int) *Image {
	img := NewImage(w, h, int32(1<<depth-1), channels)
	for c := range img.Channel {
		for i := range img.Channel[c].Pixels {
			img.Channel[c].Pixels[i] = int32(rng.Intn(1 << depth))
		}
	}
	return img
}

func TestRoundTripGradient(t *testing.T) {
	roundTrip(t, gradientImage(64, 48, 3), nil)
}

func TestRoundTripBitDepths(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	for _, depth := range []int{1, 2, 5, 8, 12, 16} {
		img := noiseImage(rng, 33, 29, 2, depth)
		roundTrip(t, img, nil)
	}
}

func TestRoundTripNegativeSamples(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	img := NewImage(40, 40, math.MaxInt32, 1)
	for i := range img.Channel[0].Pixels {
		img.Channel[0].Pixels[i] = int32(rng.Intn(2001) - 1000)
	}
	roundTrip(t, img, nil)
}

func TestRoundTripTinyShapes(t *testing.T) {
	shapes := []struct{ w, h int }{{1, 1}, {1, 7}, {7, 1}, {2, 2}, {3, 3}}
	for _, s := range shapes {
		img := gradientImage(s.w, s.h, 1)
		roundTrip(t, img, nil)
	}
}

func TestRoundTripSmallGradientBlock(t *testing.T) {
	img := NewImage(2, 2, 255, 1)
	copy(img.Channel[0].Pixels, []int32{1, 2, 3, 4})
	roundTrip(t, img, nil)

	// With an explicit single-leaf gradient tree the stream codes one
	// token per pixel and nothing else varies.
	tree := Tree{{Property: -1, Predictor: PredGradient, Multiplier: 1}}
	tree.assignContexts()
	data, err := EncodeWithTree(img, tree, nil)
	if err != nil {
		t.Fatalf("EncodeWithTree: %v", err)
	}
	dst := cloneShape(img)
	if err := DecodeWithTree(data, dst, tree, nil); err != nil {
		t.Fatalf("DecodeWithTree: %v", err)
	}
	assertEqualPixels(t, dst, img)
}

func TestRoundTripLearnerDisabled(t *testing.T) {
	opts := DefaultOptions()
	opts.NbRepeats = 0
	roundTrip(t, gradientImage(32, 32, 2), opts)
}

func TestRoundTripAllPredictorArms(t *testing.T) {
	opts := DefaultOptions()
	opts.NbRepeats = 1
	opts.Predictors = []Predictor{
		PredZero, PredLeft, PredTop, PredAvg,
		PredSelect, PredGradient, PredWeighted, PredTopRight,
	}
	rng := rand.New(rand.NewSource(31))
	img := noiseImage(rng, 32, 32, 2, 8)
	// Smooth half, noisy half, so different arms win in different
	// regions.
	for y := 0; y < 16; y++ {
		row := img.Channel[0].Row(y)
		for x := range row {
			row[x] = int32(x + y)
		}
	}
	roundTrip(t, img, opts)
}

func TestRoundTripWPModes(t *testing.T) {
	img := gradientImage(32, 32, 1)
	for mode := 0; mode < 4; mode++ {
		opts := DefaultOptions()
		opts.WPMode = mode
		opts.Predictors = []Predictor{PredWeighted}
		opts.NbRepeats = 1
		roundTrip(t, img, opts)
	}
}

func TestRoundTripReferenceProperties(t *testing.T) {
	// Channel 1 closely tracks channel 0, which only the
	// previous-channel properties can exploit.
	rng := rand.New(rand.NewSource(37))
	img := NewImage(32, 32, 255, 2)
	for i := range img.Channel[0].Pixels {
		v := int32(rng.Intn(200))
		img.Channel[0].Pixels[i] = v
		img.Channel[1].Pixels[i] = v + int32(rng.Intn(3))
	}
	opts := DefaultOptions()
	opts.MaxProperties = 8
	opts.NbRepeats = 1
	roundTrip(t, img, opts)
}

func TestSharedTreeStream(t *testing.T) {
	img := gradientImage(24, 24, 1)
	tree := Tree{
		{Property: propN, SplitVal: 100, LChild: 1, RChild: 2},
		{Property: -1, Predictor: PredGradient, Multiplier: 1},
		{Property: -1, Predictor: PredLeft, Multiplier: 1},
	}
	tree.assignContexts()

	data, err := EncodeWithTree(img, tree, nil)
	if err != nil {
		t.Fatalf("EncodeWithTree: %v", err)
	}
	dst := cloneShape(img)
	if err := DecodeWithTree(data, dst, tree, nil); err != nil {
		t.Fatalf("DecodeWithTree: %v", err)
	}
	assertEqualPixels(t, dst, img)

	// The stream declares a shared tree; decoding without one must
	// fail cleanly.
	if err := Decode(data, cloneShape(img), nil); !errors.Is(err, ErrInvalidTree) {
		t.Fatalf("Decode without shared tree: %v, want ErrInvalidTree", err)
	}

	// A shared-tree stream is smaller than a self-contained one of the
	// same image because it omits the tree section.
	selfContained, err := Encode(img, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) >= len(selfContained)+16 {
		t.Errorf("shared-tree stream %d bytes, self-contained %d", len(data), len(selfContained))
	}
}

func TestGatherLearnSharedTree(t *testing.T) {
	opts := &Options{NbRepeats: 1, Predictors: []Predictor{PredZero, PredGradient}}
	images := []*Image{
		gradientImage(24, 24, 2),
		gradientImage(16, 32, 2),
	}

	samples := NewTreeSamples(opts)
	for _, img := range images {
		GatherTreeData(img, samples, opts)
	}
	tree := LearnTree(samples, opts)
	if len(tree) == 0 {
		t.Fatal("LearnTree returned an empty tree")
	}

	for _, img := range images {
		data, err := EncodeWithTree(img, tree, opts)
		if err != nil {
			t.Fatalf("EncodeWithTree: %v", err)
		}
		dst := cloneShape(img)
		if err := DecodeWithTree(data, dst, tree, opts); err != nil {
			t.Fatalf("DecodeWithTree: %v", err)
		}
		assertEqualPixels(t, dst, img)
	}
}

func TestLearnTreeNil(t *testing.T) {
	tree := LearnTree(nil, nil)
	if len(tree) != 1 || !tree[0].IsLeaf() {
		t.Fatalf("expected trivial single-leaf tree, got %d nodes", len(tree))
	}
}

func TestConstantChannelFill(t *testing.T) {
	// A constant-zero channel under a zero-predictor leaf produces one
	// repeated cheap symbol; the decoder fills without per-pixel reads.
	tree := Tree{{Property: -1, Predictor: PredZero, Multiplier: 1}}
	tree.assignContexts()

	for _, fill := range []int32{0, -1} {
		img := NewImage(8, 8, 255, 1)
		for i := range img.Channel[0].Pixels {
			img.Channel[0].Pixels[i] = fill
		}
		data, err := EncodeWithTree(img, tree, nil)
		if err != nil {
			t.Fatalf("EncodeWithTree: %v", err)
		}
		dst := cloneShape(img)
		if err := DecodeWithTree(data, dst, tree, nil); err != nil {
			t.Fatalf("DecodeWithTree(fill %d): %v", fill, err)
		}
		assertEqualPixels(t, dst, img)
	}
}

func TestConstantChannelValueFive(t *testing.T) {
	tree := Tree{{Property: -1, Predictor: PredZero, Multiplier: 1}}
	tree.assignContexts()
	img := NewImage(8, 8, 255, 1)
	for i := range img.Channel[0].Pixels {
		img.Channel[0].Pixels[i] = 5
	}
	data, err := EncodeWithTree(img, tree, nil)
	if err != nil {
		t.Fatalf("EncodeWithTree: %v", err)
	}
	dst := cloneShape(img)
	if err := DecodeWithTree(data, dst, tree, nil); err != nil {
		t.Fatalf("DecodeWithTree: %v", err)
	}
	assertEqualPixels(t, dst, img)

	// A constant small residual is a single direct-coded symbol, so the
	// channel costs no bits beyond the histogram header. The stream must
	// be exactly as small as the all-zero one.
	zero := NewImage(8, 8, 255, 1)
	zeroData, err := EncodeWithTree(zero, tree, nil)
	if err != nil {
		t.Fatalf("EncodeWithTree: %v", err)
	}
	if len(data) != len(zeroData) {
		t.Fatalf("constant-5 stream is %d bytes, all-zero stream is %d; want equal",
			len(data), len(zeroData))
	}
}

func TestPowerOfTwoMultiplier(t *testing.T) {
	tree := Tree{{Property: -1, Predictor: PredZero, Multiplier: 4}}
	tree.assignContexts()
	img := NewImage(16, 16, 1020, 1)
	for i := range img.Channel[0].Pixels {
		img.Channel[0].Pixels[i] = int32(i%64) * 4 // exactly divisible
	}
	data, err := EncodeWithTree(img, tree, nil)
	if err != nil {
		t.Fatalf("EncodeWithTree: %v", err)
	}
	dst := cloneShape(img)
	if err := DecodeWithTree(data, dst, tree, nil); err != nil {
		t.Fatalf("DecodeWithTree: %v", err)
	}
	assertEqualPixels(t, dst, img)
}

func TestMultiplierRejectsIndivisibleResidual(t *testing.T) {
	// Silent flooring of residual/multiplier would corrupt the round
	// trip, so the encoder must refuse data the leaf cannot represent.
	tree := Tree{{Property: -1, Predictor: PredZero, Multiplier: 3}}
	tree.assignContexts()
	img := NewImage(2, 2, 255, 1)
	copy(img.Channel[0].Pixels, []int32{1, 2, 3, 4})
	defer func() {
		if recover() == nil {
			t.Fatal("EncodeWithTree accepted residuals not divisible by the leaf multiplier")
		}
	}()
	_, _ = EncodeWithTree(img, tree, nil)
}

func TestWPOnlyTreePath(t *testing.T) {
	tree := Tree{
		{Property: propWP, SplitVal: 0, LChild: 1, RChild: 2},
		{Property: -1, Predictor: PredWeighted, Multiplier: 1},
		{Property: -1, Predictor: PredWeighted, Multiplier: 1},
	}
	tree.assignContexts()
	rng := rand.New(rand.NewSource(41))
	img := noiseImage(rng, 32, 32, 1, 8)
	data, err := EncodeWithTree(img, tree, nil)
	if err != nil {
		t.Fatalf("EncodeWithTree: %v", err)
	}
	dst := cloneShape(img)
	if err := DecodeWithTree(data, dst, tree, nil); err != nil {
		t.Fatalf("DecodeWithTree: %v", err)
	}
	assertEqualPixels(t, dst, img)
}

func TestMaxChanSizeEndsChannelLoop(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxChanSize = 16
	img := NewImage(8, 8, 255, 3)
	img.Channel[1].Resize(32, 8) // exceeds the cap, ends the coded list
	for i := range img.Channel[0].Pixels {
		img.Channel[0].Pixels[i] = int32(i)
	}
	for i := range img.Channel[1].Pixels {
		img.Channel[1].Pixels[i] = 99
	}
	for i := range img.Channel[2].Pixels {
		img.Channel[2].Pixels[i] = 7
	}
	data, err := Encode(img, opts)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dst := cloneShape(img)
	if err := Decode(data, dst, opts); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for i, v := range img.Channel[0].Pixels {
		if dst.Channel[0].Pixels[i] != v {
			t.Fatalf("coded channel pixel %d: got %d, want %d", i, dst.Channel[0].Pixels[i], v)
		}
	}
	// The oversized channel and everything after it stay uncoded on
	// both sides, even though channel 2 is within the cap itself.
	for c := 1; c <= 2; c++ {
		for i, v := range dst.Channel[c].Pixels {
			if v != 0 {
				t.Fatalf("uncoded channel %d pixel %d decoded to %d, want untouched zero", c, i, v)
			}
		}
	}
	if got := codedChannels(img, opts.norm()); len(got) != 1 || got[0] != 0 {
		t.Fatalf("codedChannels = %v, want [0]", got)
	}
}

func TestSkipChannels(t *testing.T) {
	opts := DefaultOptions()
	opts.SkipChannels = 1
	img := gradientImage(16, 16, 2)
	data, err := Encode(img, opts)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dst := cloneShape(img)
	if err := Decode(data, dst, opts); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for i, v := range dst.Channel[0].Pixels {
		if v != 0 {
			t.Fatalf("skipped channel pixel %d decoded to %d", i, v)
		}
	}
	assertEqualPixels(t,
		&Image{Channel: dst.Channel[1:]},
		&Image{Channel: img.Channel[1:]})
}

func TestTruncatedStream(t *testing.T) {
	rng := rand.New(rand.NewSource(43))
	img := noiseImage(rng, 32, 32, 2, 8)
	data, err := Encode(img, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for _, cut := range []int{1, 2, 5, len(data) / 4, len(data) / 2, len(data) - 1} {
		if cut >= len(data) {
			continue
		}
		dst := cloneShape(img)
		err := Decode(data[:cut], dst, nil)
		if !errors.Is(err, ErrNotEnoughData) {
			t.Fatalf("cut %d: %v, want ErrNotEnoughData", cut, err)
		}
	}

	// An early cut leaves every channel zero filled.
	dst := cloneShape(img)
	dst.Channel[0].Pixels[0] = 7 // stale data from a previous use
	if err := Decode(data[:2], dst, nil); !errors.Is(err, ErrNotEnoughData) {
		t.Fatalf("tiny cut: %v, want ErrNotEnoughData", err)
	}
	for c := range dst.Channel {
		for i, v := range dst.Channel[c].Pixels {
			if v != 0 {
				t.Fatalf("channel %d pixel %d = %d after truncated decode, want 0", c, i, v)
			}
		}
	}
}

func TestGarbageInput(t *testing.T) {
	rng := rand.New(rand.NewSource(47))
	img := NewImage(16, 16, 255, 2)
	for i := 0; i < 200; i++ {
		data := make([]byte, rng.Intn(300))
		rng.Read(data)
		// Must never panic; any error outcome is acceptable.
		_ = Decode(data, cloneShape(img), nil)
	}
}

func TestReconstructSaturation(t *testing.T) {
	tests := []struct {
		guess, offset int32
		multiplier    uint32
		residual      int64
		want          int32
	}{
		{0, 0, 1, 5, 5},
		{10, -3, 2, 4, 15},
		{math.MaxInt32, 0, 1, 1, math.MaxInt32},
		{math.MinInt32, 0, 1, -1, math.MinInt32},
		{0, 0, math.MaxUint32, math.MaxInt64 / 2, math.MaxInt32},
		{0, 0, math.MaxUint32, math.MinInt64 / 2, math.MinInt32},
		{100, 100, 1, math.MaxInt64, math.MaxInt32},
	}
	for _, tt := range tests {
		got := reconstruct(tt.guess, tt.offset, tt.multiplier, tt.residual)
		if got != tt.want {
			t.Errorf("reconstruct(%d, %d, %d, %d) = %d, want %d",
				tt.guess, tt.offset, tt.multiplier, tt.residual, got, tt.want)
		}
	}
}

func TestSatMul64(t *testing.T) {
	tests := []struct {
		a, b, want int64
	}{
		{0, math.MinInt64, 0},
		{3, 4, 12},
		{3, -4, -12},
		{-3, 4, -12},
		{-3, -4, 12},
		{math.MaxInt64, 2, math.MaxInt64},
		{2, math.MaxInt64, math.MaxInt64},
		{math.MinInt64, 2, math.MinInt64},
		{math.MinInt64, -1, math.MaxInt64},
		{math.MinInt64, -2, math.MaxInt64},
		{math.MaxInt64, -2, math.MinInt64},
		{-2, math.MaxInt64, math.MinInt64},
		{math.MaxInt64, 1, math.MaxInt64},
		{math.MinInt64, 1, math.MinInt64},
		{1 << 31, 1 << 31, 1 << 62},
		{1 << 32, -(1 << 31), math.MinInt64},
		{1 << 32, 1 << 32, math.MaxInt64},
	}
	for _, tt := range tests {
		if got := satMul64(tt.a, tt.b); got != tt.want {
			t.Errorf("satMul64(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCompressDecompress(t *testing.T) {
	img := gradientImage(20, 20, 3)
	data, err := Compress(img)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	dst := cloneShape(img)
	if err := Decompress(data, dst); err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	assertEqualPixels(t, dst, img)
}

func TestEncodeEmptyImage(t *testing.T) {
	if _, err := Encode(nil, nil); err == nil {
		t.Fatal("Encode(nil) succeeded")
	}
	if _, err := Encode(&Image{}, nil); err == nil {
		t.Fatal("Encode of image without channels succeeded")
	}
}

func TestCompressionDensity(t *testing.T) {
	// A smooth gradient must compress far below raw size.
	img := gradientImage(128, 128, 1)
	data, err := Encode(img, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	raw := 128 * 128 // one byte per sample at this depth
	if len(data) > raw/4 {
		t.Errorf("gradient compressed to %d bytes, raw is %d", len(data), raw)
	}
}
