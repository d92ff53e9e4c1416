package modular

import (
	"errors"
	"math"

	"github.com/deepteams/modular/internal/bitio"
	"github.com/deepteams/modular/internal/entropy"
)

var (
	// ErrNotEnoughData reports a truncated stream. Channels that could
	// not be decoded are zero filled; the image is usable but partial.
	ErrNotEnoughData = errors.New("modular: not enough data")

	// ErrShapeMismatch is returned when the decoded channels do not
	// restore to the shapes the caller described.
	ErrShapeMismatch = errors.New("modular: channel shape mismatch after inverse transforms")
)

func satMul64(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	// Split by sign so each bound is checked against the limit the
	// product would actually cross.
	switch {
	case a > 0 && b > 0:
		if a > math.MaxInt64/b {
			return math.MaxInt64
		}
	case a < 0 && b < 0:
		if a < math.MaxInt64/b {
			return math.MaxInt64
		}
	case a > 0:
		if b < math.MinInt64/a {
			return math.MinInt64
		}
	default:
		if a < math.MinInt64/b {
			return math.MinInt64
		}
	}
	return a * b
}

func satAdd64(a, b int64) int64 {
	s := a + b
	if a > 0 && b > 0 && s < 0 {
		return math.MaxInt64
	}
	if a < 0 && b < 0 && s >= 0 {
		return math.MinInt64
	}
	return s
}

func clampPixel(v int64) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}

// reconstruct applies a leaf's residual transform with saturation.
func reconstruct(guess, offset int32, multiplier uint32, residual int64) int32 {
	v := satMul64(residual, int64(multiplier))
	v = satAdd64(v, int64(guess)+int64(offset))
	return clampPixel(v)
}

// groupHeader is the decoded stream prologue.
type groupHeader struct {
	useGlobalTree bool
	wpMode        int
	transforms    []Transform
}

func readGroupHeader(r *bitio.Reader) (*groupHeader, error) {
	h := &groupHeader{}
	h.useGlobalTree = r.ReadBit()
	h.wpMode = int(r.ReadBits(2))
	n := int(r.ReadBits(headerTransformLenBits))
	for i := 0; i < n; i++ {
		id := r.ReadBits(headerTransformIDBits)
		np := int(r.ReadBits(headerTransformLenBits))
		params := make([]int32, np)
		for j := range params {
			params[j] = int32(r.ReadBits(headerTransformDataBits))
		}
		tr, err := makeTransform(id, params)
		if err != nil {
			return nil, err
		}
		h.transforms = append(h.transforms, tr)
	}
	if !r.AllReadsWithinBounds() {
		return nil, ErrNotEnoughData
	}
	return h, nil
}

// decodeChannel fills one channel from the residual stream, choosing
// the traversal matching the tree's shape. The flat tree's leaves must
// already carry clustered contexts.
func decodeChannel(img *Image, chanIndex, group int, flat []FlatNode, info flatInfo, sr *entropy.SymbolReader, r *bitio.Reader, wpMode, maxProperties int) error {
	ch := &img.Channel[chanIndex]

	if len(flat) == 1 {
		return decodeSingleLeaf(ch, &flat[0], sr, r, wpMode)
	}
	if info.wpOnly {
		if lut := buildWPLookupTable(flat, false); lut != nil {
			return decodeWPOnly(ch, lut, sr, r, wpMode)
		}
	}
	if info.useWP {
		return decodeGeneralWP(img, chanIndex, group, flat, info.numProps, sr, r, wpMode, maxProperties)
	}
	return decodeGeneral(img, chanIndex, group, flat, info.numProps, sr, r, maxProperties)
}

// decodeSingleLeaf handles trees with no decisions at all. A zero
// predictor admits two extra shortcuts: a context that codes a single
// cheap symbol fills the whole channel without touching the stream, and
// a power-of-two multiplier turns reconstruction into a shift.
func decodeSingleLeaf(ch *Channel, leaf *FlatNode, sr *entropy.SymbolReader, r *bitio.Reader, wpMode int) error {
	if leaf.Predictor == PredZero {
		if leaf.Multiplier == 1 && leaf.Offset == 0 {
			if v, ok := sr.IsSingleValue(int(leaf.ChildID)); ok {
				fill := clampPixel(entropy.UnpackSigned(v))
				for i := range ch.Pixels {
					ch.Pixels[i] = fill
				}
				return nil
			}
		}
		if leaf.Multiplier&(leaf.Multiplier-1) == 0 {
			shift := uint(0)
			for m := leaf.Multiplier; m > 1; m >>= 1 {
				shift++
			}
			for i := range ch.Pixels {
				res := entropy.UnpackSigned(sr.ReadHybridUintClustered(int(leaf.ChildID), r))
				ch.Pixels[i] = clampPixel(satAdd64(satMul64(res, 1<<shift), int64(leaf.Offset)))
			}
			return nil
		}
	}

	if leaf.Predictor == PredWeighted {
		wp := newWPState(wpHeaderForMode(wpMode), ch.W)
		defer wp.release()
		var top, topTop []int32
		for y := 0; y < ch.H; y++ {
			row := ch.Row(y)
			for x := 0; x < ch.W; x++ {
				var nb neighborhood
				nb.gather(row, top, topTop, x, ch.W)
				guess, _ := wp.Predict(x, y, &nb, false)
				tok := sr.ReadHybridUintClustered(int(leaf.ChildID), r)
				row[x] = reconstruct(guess, leaf.Offset, leaf.Multiplier, entropy.UnpackSigned(tok))
				wp.UpdateErrors(row[x], x, y)
			}
			topTop = top
			top = row
		}
		return nil
	}

	var top, topTop []int32
	for y := 0; y < ch.H; y++ {
		row := ch.Row(y)
		for x := 0; x < ch.W; x++ {
			var nb neighborhood
			nb.gather(row, top, topTop, x, ch.W)
			guess := predictFixed(leaf.Predictor, &nb)
			tok := sr.ReadHybridUintClustered(int(leaf.ChildID), r)
			row[x] = reconstruct(guess, leaf.Offset, leaf.Multiplier, entropy.UnpackSigned(tok))
		}
		topTop = top
		top = row
	}
	return nil
}

// decodeWPOnly decodes with the signal-to-context table.
func decodeWPOnly(ch *Channel, lut *wpLookupTable, sr *entropy.SymbolReader, r *bitio.Reader, wpMode int) error {
	wp := newWPState(wpHeaderForMode(wpMode), ch.W)
	defer wp.release()
	var top, topTop []int32
	for y := 0; y < ch.H; y++ {
		row := ch.Row(y)
		for x := 0; x < ch.W; x++ {
			var nb neighborhood
			nb.gather(row, top, topTop, x, ch.W)
			guess, signal := wp.Predict(x, y, &nb, true)
			i := signal + wpPropRange
			tok := sr.ReadHybridUintClustered(int(lut.ctx[i]), r)
			row[x] = reconstruct(guess, lut.off[i], lut.mult[i], entropy.UnpackSigned(tok))
			wp.UpdateErrors(row[x], x, y)
		}
		topTop = top
		top = row
	}
	return nil
}

func decodeGeneral(img *Image, chanIndex, group int, flat []FlatNode, numProps int, sr *entropy.SymbolReader, r *bitio.Reader, maxProperties int) error {
	ch := &img.Channel[chanIndex]
	ps := newPropertyState(img, chanIndex, group, maxProperties)
	defer ps.release()
	props := padProps(ps, numProps)

	var top, topTop []int32
	for y := 0; y < ch.H; y++ {
		row := ch.Row(y)
		ps.NextRow(y)
		for x := 0; x < ch.W; x++ {
			var nb neighborhood
			nb.gather(row, top, topTop, x, ch.W)
			ps.Fill(x, y, &nb)
			leaf := flatLookup(flat, props)
			guess := predictFixed(leaf.Predictor, &nb)
			tok := sr.ReadHybridUintClustered(int(leaf.ChildID), r)
			row[x] = reconstruct(guess, leaf.Offset, leaf.Multiplier, entropy.UnpackSigned(tok))
		}
		topTop = top
		top = row
	}
	return nil
}

func decodeGeneralWP(img *Image, chanIndex, group int, flat []FlatNode, numProps int, sr *entropy.SymbolReader, r *bitio.Reader, wpMode, maxProperties int) error {
	ch := &img.Channel[chanIndex]
	ps := newPropertyState(img, chanIndex, group, maxProperties)
	defer ps.release()
	props := padProps(ps, numProps)
	wp := newWPState(wpHeaderForMode(wpMode), ch.W)
	defer wp.release()

	var top, topTop []int32
	for y := 0; y < ch.H; y++ {
		row := ch.Row(y)
		ps.NextRow(y)
		for x := 0; x < ch.W; x++ {
			var nb neighborhood
			nb.gather(row, top, topTop, x, ch.W)
			wpGuess, signal := wp.Predict(x, y, &nb, true)
			ps.Fill(x, y, &nb)
			props[propWP] = signal
			leaf := flatLookup(flat, props)
			guess := wpGuess
			if leaf.Predictor != PredWeighted {
				guess = predictFixed(leaf.Predictor, &nb)
			}
			tok := sr.ReadHybridUintClustered(int(leaf.ChildID), r)
			row[x] = reconstruct(guess, leaf.Offset, leaf.Multiplier, entropy.UnpackSigned(tok))
			wp.UpdateErrors(row[x], x, y)
		}
		topTop = top
		top = row
	}
	return nil
}

// zeroFillFrom blanks channel idx and everything coded after it, the
// recovery shape for truncated streams.
func zeroFillFrom(img *Image, coded []int, from int) {
	for _, i := range coded[from:] {
		img.Channel[i].ZeroFill()
	}
}

// decodeImage reads the coded stream produced by encodeImage into the
// pre-shaped channels of img.
func decodeImage(data []byte, img *Image, opts *Options, globalTree Tree) error {
	r := bitio.NewReader(data)
	hdr, err := readGroupHeader(r)
	if err != nil {
		return err
	}
	img.Transforms = hdr.transforms
	for _, tr := range hdr.transforms {
		if err := tr.MetaApply(img); err != nil {
			return err
		}
	}

	coded := codedChannels(img, opts)

	var tree Tree
	if hdr.useGlobalTree {
		if len(globalTree) == 0 {
			return ErrInvalidTree
		}
		tree = make(Tree, len(globalTree))
		copy(tree, globalTree)
		tree.assignContexts()
	} else {
		treeSR, err := entropy.NewSymbolReader(r, numTreeContexts)
		if err != nil {
			return failTruncated(img, coded, 0, r, err)
		}
		tree, err = parseTree(treeSR, r, treeSizeLimit(img))
		if err != nil {
			return failTruncated(img, coded, 0, r, err)
		}
		if err := treeSR.CheckFinalState(r); err != nil {
			return failTruncated(img, coded, 0, r, err)
		}
	}

	sr, err := entropy.NewSymbolReader(r, tree.NumLeaves())
	if err != nil {
		return failTruncated(img, coded, 0, r, err)
	}
	// From here on tree lookups yield clustered contexts directly.
	ctxMap := sr.ContextMap()
	for i := range tree {
		if tree[i].IsLeaf() {
			tree[i].Context = uint32(ctxMap[tree[i].Context])
		}
	}

	for n, i := range coded {
		staticProps := [numStaticProperties]int32{int32(i), int32(groupID(img))}
		flat, info := flattenTree(tree, staticProps)
		if err := decodeChannel(img, i, groupID(img), flat, info, sr, r, hdr.wpMode, opts.MaxProperties); err != nil {
			return failTruncated(img, coded, n, r, err)
		}
		if !r.AllReadsWithinBounds() {
			zeroFillFrom(img, coded, n)
			return ErrNotEnoughData
		}
	}
	if err := sr.CheckFinalState(r); err != nil {
		if !r.AllReadsWithinBounds() {
			return ErrNotEnoughData
		}
		return err
	}
	return nil
}

// failTruncated distinguishes a truncated stream, which zero fills the
// unfinished channels and reports the distinguished non-fatal error,
// from genuine corruption.
func failTruncated(img *Image, coded []int, from int, r *bitio.Reader, err error) error {
	if !r.AllReadsWithinBounds() {
		zeroFillFrom(img, coded, from)
		return ErrNotEnoughData
	}
	return err
}

// Decode fills the pre-shaped channels of img from a stream produced by
// Encode. On ErrNotEnoughData the stream was truncated and the channels
// it did not cover are zero filled.
func Decode(data []byte, img *Image, opts *Options) error {
	return decodeTopLevel(data, img, opts, nil)
}

// DecodeWithTree decodes a stream produced by EncodeWithTree against
// the same shared tree.
func DecodeWithTree(data []byte, img *Image, tree Tree, opts *Options) error {
	return decodeTopLevel(data, img, opts, tree)
}

func decodeTopLevel(data []byte, img *Image, opts *Options, tree Tree) error {
	if img == nil || len(img.Channel) == 0 {
		return ErrShapeMismatch
	}
	o := opts.norm()

	type shape struct{ w, h int }
	want := make([]shape, len(img.Channel))
	for i := range img.Channel {
		want[i] = shape{img.Channel[i].W, img.Channel[i].H}
	}

	truncated := false
	if err := decodeImage(data, img, o, tree); err != nil {
		if !errors.Is(err, ErrNotEnoughData) {
			return err
		}
		// Truncation still undoes the transforms, so the partial
		// result is made of final pixels rather than residual planes.
		truncated = true
	}

	for i := len(img.Transforms) - 1; i >= 0; i-- {
		if err := img.Transforms[i].Inverse(img); err != nil {
			return err
		}
	}
	if len(img.Channel) != len(want) {
		return ErrShapeMismatch
	}
	for i := range img.Channel {
		if img.Channel[i].W != want[i].w || img.Channel[i].H != want[i].h {
			return ErrShapeMismatch
		}
	}
	if truncated {
		return ErrNotEnoughData
	}
	return nil
}
