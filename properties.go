package modular

import "github.com/deepteams/modular/internal/pool"

// Property indices of the context-model property vector. The first two
// are static for a whole channel traversal, the rest are recomputed per
// pixel. Additional reference properties, four per referenced previous
// channel, follow propWP.
const (
	propChannel = 0 // channel index
	propGroup   = 1 // group id
	propY       = 2
	propX       = 3
	propAbsN    = 4
	propAbsW    = 5
	propN       = 6
	propW       = 7
	propWNNW    = 8 // W + N - NW
	propWmNW    = 9
	propNWmN    = 10
	propNmNE    = 11
	propNmNN    = 12
	propWmWW    = 13
	propWP      = 14 // weighted predictor error signal

	numStaticProperties  = 2
	numNonrefProperties  = 15
	extraPropsPerChannel = 4
)

// roundPropertyCount pads a property count so that reference blocks
// stay whole; context trees built with one reference budget remain
// addressable with a larger one.
func roundPropertyCount(n int) int {
	if n <= numNonrefProperties {
		return numNonrefProperties
	}
	refs := (n - numNonrefProperties + extraPropsPerChannel - 1) / extraPropsPerChannel
	return numNonrefProperties + refs*extraPropsPerChannel
}

// refChannelState holds precomputed reference properties of one
// previously coded channel: four values per pixel, in raster order.
type refChannelState struct {
	data []int32 // len 4*w*h
}

// propertyState fills the property vector for a channel traversal.
// Static properties are written once, per-row ones on each NextRow,
// per-pixel ones on each Fill. The caller stores the weighted
// predictor's signal into props[propWP] itself.
type propertyState struct {
	props []int32
	refs  []refChannelState
	width int
}

// referenceChannels selects the previously coded channels whose
// properties the context model may consult: same-shape channels, most
// recent first, until the reference budget maxProperties is spent.
func referenceChannels(img *Image, chanIndex, maxProperties int) []int {
	var out []int
	ch := &img.Channel[chanIndex]
	for j := chanIndex - 1; j >= img.NbMetaChannels; j-- {
		if len(out)*extraPropsPerChannel >= maxProperties {
			break
		}
		prev := &img.Channel[j]
		if prev.W != ch.W || prev.H != ch.H {
			continue
		}
		out = append(out, j)
	}
	return out
}

// newPropertyState precomputes reference properties and prepares the
// scratch vector for coding channel chanIndex of img within group.
func newPropertyState(img *Image, chanIndex, group, maxProperties int) *propertyState {
	ch := &img.Channel[chanIndex]
	refIdx := referenceChannels(img, chanIndex, maxProperties)

	s := &propertyState{
		props: make([]int32, numNonrefProperties+len(refIdx)*extraPropsPerChannel),
		width: ch.W,
	}
	s.props[propChannel] = int32(chanIndex)
	s.props[propGroup] = int32(group)

	for _, j := range refIdx {
		s.refs = append(s.refs, precomputeReference(&img.Channel[j]))
	}
	return s
}

// precomputeReference derives the four per-pixel properties of one
// reference channel: magnitude, value, and the same pair relative to
// the channel's own clamped-gradient prediction.
func precomputeReference(ch *Channel) refChannelState {
	data := pool.GetInt32(extraPropsPerChannel * ch.W * ch.H)
	var top []int32
	for y := 0; y < ch.H; y++ {
		row := ch.Row(y)
		out := data[extraPropsPerChannel*y*ch.W:]
		for x := 0; x < ch.W; x++ {
			v := row[x]
			var w, n, nw int32
			if x > 0 {
				w = row[x-1]
			} else if y > 0 {
				w = top[x]
			}
			if y > 0 {
				n = top[x]
			} else {
				n = w
			}
			if x > 0 && y > 0 {
				nw = top[x-1]
			} else {
				nw = w
			}
			g := clampedGradient(w, n, nw)
			out[4*x] = abs32(v)
			out[4*x+1] = v
			out[4*x+2] = abs32(v - g)
			out[4*x+3] = v - g
		}
		top = row
	}
	return refChannelState{data: data}
}

// release returns precomputed reference buffers to the pool.
func (s *propertyState) release() {
	for i := range s.refs {
		pool.PutInt32(s.refs[i].data)
	}
	s.refs = nil
}

// NextRow updates the per-row property.
func (s *propertyState) NextRow(y int) {
	s.props[propY] = int32(y)
}

// Fill writes the per-pixel properties for (x, y) from the gathered
// neighborhood. props[propWP] is left untouched.
func (s *propertyState) Fill(x, y int, nb *neighborhood) {
	p := s.props
	p[propX] = int32(x)
	p[propAbsN] = abs32(nb.n)
	p[propAbsW] = abs32(nb.w)
	p[propN] = nb.n
	p[propW] = nb.w
	p[propWNNW] = nb.w + nb.n - nb.nw
	p[propWmNW] = nb.w - nb.nw
	p[propNWmN] = nb.nw - nb.n
	p[propNmNE] = nb.n - nb.ne
	p[propNmNN] = nb.n - nb.nn
	p[propWmWW] = nb.w - nb.ww

	base := numNonrefProperties
	for i := range s.refs {
		src := s.refs[i].data[extraPropsPerChannel*(y*s.width+x):]
		copy(p[base:base+extraPropsPerChannel], src[:extraPropsPerChannel])
		base += extraPropsPerChannel
	}
}
