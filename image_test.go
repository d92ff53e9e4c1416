package modular

import (
	"errors"
	"testing"
)

// biasTransform adds a constant to every sample of every channel. It is
// deliberately simple: enough to exercise serialization, MetaApply and
// Inverse ordering.
type biasTransform struct {
	bias int32
}

func (tr *biasTransform) ID() uint32      { return 9 }
func (tr *biasTransform) Params() []int32 { return []int32{tr.bias} }

func (tr *biasTransform) MetaApply(img *Image) error { return nil }

func (tr *biasTransform) Inverse(img *Image) error {
	for c := range img.Channel {
		for i := range img.Channel[c].Pixels {
			img.Channel[c].Pixels[i] -= tr.bias
		}
	}
	return nil
}

func init() {
	RegisterTransform(9, func(params []int32) (Transform, error) {
		if len(params) != 1 {
			return nil, ErrUnknownTransform
		}
		return &biasTransform{bias: params[0]}, nil
	})
}

func TestTransformHeaderRoundTrip(t *testing.T) {
	// Encode an image that has the bias transform applied; the decoder
	// must read the transform from the header and undo it.
	img := gradientImage(16, 16, 1)
	biased := cloneShape(img)
	for i, v := range img.Channel[0].Pixels {
		biased.Channel[0].Pixels[i] = v + 50
	}
	biased.Transforms = []Transform{&biasTransform{bias: 50}}

	data, err := Encode(biased, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dst := cloneShape(img)
	if err := Decode(data, dst, nil); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	// After the inverse the original (unbiased) samples come back.
	assertEqualPixels(t, dst, img)
	if len(dst.Transforms) != 1 || dst.Transforms[0].ID() != 9 {
		t.Fatalf("decoded transforms = %v", dst.Transforms)
	}
}

func TestTruncatedStreamStillInverts(t *testing.T) {
	// A truncated stream must still run the inverse transform chain, so
	// the caller always receives final pixels. Zero-filled residuals
	// come out as the negated bias.
	img := gradientImage(16, 16, 1)
	biased := cloneShape(img)
	for i, v := range img.Channel[0].Pixels {
		biased.Channel[0].Pixels[i] = v + 50
	}
	biased.Transforms = []Transform{&biasTransform{bias: 50}}
	data, err := Encode(biased, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Cut the stream anywhere past the group header. Whenever the
	// decoder reports truncation, the channel must hold inverted
	// pixels: either the true values or the negated bias over a zero
	// fill, never raw residuals.
	sawZeroFill := false
	for cut := 8; cut < len(data); cut++ {
		dst := cloneShape(img)
		if err := Decode(data[:cut], dst, nil); !errors.Is(err, ErrNotEnoughData) {
			continue
		}
		if len(dst.Transforms) != 1 || dst.Transforms[0].ID() != 9 {
			t.Fatalf("cut %d: decoded transforms = %v", cut, dst.Transforms)
		}
		for i, v := range dst.Channel[0].Pixels {
			if v != -50 && v != img.Channel[0].Pixels[i] {
				t.Fatalf("cut %d: pixel %d = %d, want -50 or %d",
					cut, i, v, img.Channel[0].Pixels[i])
			}
		}
		if dst.Channel[0].Pixels[len(dst.Channel[0].Pixels)-1] == -50 {
			sawZeroFill = true
		}
	}
	if !sawZeroFill {
		t.Fatal("no truncation produced an inverted zero fill")
	}
}

func TestUnknownTransformID(t *testing.T) {
	if _, err := makeTransform(77, nil); !errors.Is(err, ErrUnknownTransform) {
		t.Fatalf("makeTransform(77) = %v, want ErrUnknownTransform", err)
	}
}

func TestRegisterTransformDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("duplicate registration did not panic")
		}
	}()
	RegisterTransform(9, func(params []int32) (Transform, error) { return nil, nil })
}

func TestTooManyTransforms(t *testing.T) {
	img := gradientImage(4, 4, 1)
	for i := 0; i < maxHeaderTransforms+1; i++ {
		img.Transforms = append(img.Transforms, &biasTransform{})
	}
	if _, err := Encode(img, nil); !errors.Is(err, ErrTooManyTransforms) {
		t.Fatalf("Encode with %d transforms: %v, want ErrTooManyTransforms", len(img.Transforms), err)
	}
}

func TestChannelResizeReuse(t *testing.T) {
	ch := NewChannel(8, 8)
	for i := range ch.Pixels {
		ch.Pixels[i] = 1
	}
	ch.Resize(4, 4)
	if ch.W != 4 || ch.H != 4 || len(ch.Pixels) != 16 {
		t.Fatalf("resize result %dx%d, %d pixels", ch.W, ch.H, len(ch.Pixels))
	}
	for i, v := range ch.Pixels {
		if v != 0 {
			t.Fatalf("pixel %d not cleared: %d", i, v)
		}
	}
	ch.Resize(16, 16)
	if len(ch.Pixels) != 256 {
		t.Fatalf("grow result %d pixels", len(ch.Pixels))
	}
}
