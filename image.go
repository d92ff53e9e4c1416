package modular

import (
	"errors"
	"fmt"
)

// Channel is a single pixel plane: width, height and a row-major buffer
// of signed integer samples. Zero-sized channels are valid and coding
// them is a no-op.
type Channel struct {
	W, H   int
	Pixels []int32
}

// NewChannel creates a w×h channel with all samples zero.
func NewChannel(w, h int) Channel {
	return Channel{W: w, H: h, Pixels: make([]int32, w*h)}
}

// Row returns the y-th row of the channel.
func (c *Channel) Row(y int) []int32 {
	return c.Pixels[y*c.W : (y+1)*c.W]
}

// Resize reallocates the pixel buffer for new dimensions. Existing
// samples are discarded.
func (c *Channel) Resize(w, h int) {
	c.W, c.H = w, h
	if cap(c.Pixels) >= w*h {
		c.Pixels = c.Pixels[:w*h]
		for i := range c.Pixels {
			c.Pixels[i] = 0
		}
		return
	}
	c.Pixels = make([]int32, w*h)
}

// ZeroFill sets every sample of the channel to zero.
func (c *Channel) ZeroFill() {
	for i := range c.Pixels {
		c.Pixels[i] = 0
	}
}

// Image is an ordered sequence of channels sharing a coordinate space,
// together with the maximum sample value and the list of reversible
// transforms already applied to the data (undone after decode).
type Image struct {
	W, H   int
	MaxVal int32

	Channel []Channel

	// NbMetaChannels counts leading channels that carry transform
	// metadata rather than pixels; they are exempt from the maximum
	// channel-size cutoff.
	NbMetaChannels int

	Transforms []Transform
}

// NewImage creates an image with nbChannels w×h channels.
func NewImage(w, h int, maxVal int32, nbChannels int) *Image {
	img := &Image{W: w, H: h, MaxVal: maxVal}
	img.Channel = make([]Channel, nbChannels)
	for i := range img.Channel {
		img.Channel[i] = NewChannel(w, h)
	}
	return img
}

// Transform is a reversible image transform. The coder core only needs
// the contract: MetaApply derives the post-transform channel shapes on
// the decode side before any pixel data is read, and Inverse undoes the
// transform after all channels are decoded. ID and Params make the
// transform serializable through the transform registry.
type Transform interface {
	ID() uint32
	Params() []int32
	MetaApply(*Image) error
	Inverse(*Image) error
}

// ErrUnknownTransform is returned when a decoded group header names a
// transform id with no registered constructor.
var ErrUnknownTransform = errors.New("modular: unknown transform id")

var transformRegistry = map[uint32]func(params []int32) (Transform, error){}

// RegisterTransform registers a constructor for the given transform id.
// Transform subsystems register themselves at init time; the coder core
// only invokes constructors while decoding group headers.
func RegisterTransform(id uint32, ctor func(params []int32) (Transform, error)) {
	if _, dup := transformRegistry[id]; dup {
		panic(fmt.Sprintf("modular: transform id %d registered twice", id))
	}
	transformRegistry[id] = ctor
}

func makeTransform(id uint32, params []int32) (Transform, error) {
	ctor, ok := transformRegistry[id]
	if !ok {
		return nil, ErrUnknownTransform
	}
	return ctor(params)
}
