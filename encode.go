package modular

import (
	"errors"
	"fmt"

	"github.com/deepteams/modular/internal/bitio"
	"github.com/deepteams/modular/internal/entropy"
)

// ErrTooManyTransforms is returned when an image carries more
// transforms than the header can describe.
var ErrTooManyTransforms = errors.New("modular: too many transforms")

const (
	maxHeaderTransforms     = 15
	maxTransformParams      = 15
	headerTransformIDBits   = 4
	headerTransformLenBits  = 4
	headerTransformDataBits = 32
)

// codedChannels lists the channels taking part in the coded stream, in
// order. Skipped and empty channels are left out; the first non-meta
// channel larger than MaxChanSize ends the list, so everything after it
// stays uncoded too. Both sides derive the same list from the header.
func codedChannels(img *Image, opts *Options) []int {
	coded := make([]int, 0, len(img.Channel))
	for i := range img.Channel {
		if i < opts.SkipChannels {
			continue
		}
		ch := &img.Channel[i]
		if ch.W == 0 || ch.H == 0 {
			continue
		}
		if i >= img.NbMetaChannels && (ch.W > opts.MaxChanSize || ch.H > opts.MaxChanSize) {
			break
		}
		coded = append(coded, i)
	}
	return coded
}

// writeGroupHeader emits the stream prologue: whether a caller-provided
// tree is in use, the weighted predictor mode, and the transform chain.
func writeGroupHeader(w *bitio.Writer, img *Image, opts *Options, useGlobalTree bool) error {
	if len(img.Transforms) > maxHeaderTransforms {
		return ErrTooManyTransforms
	}
	w.WriteBit(useGlobalTree)
	w.WriteBits(uint32(opts.WPMode), 2)
	w.WriteBits(uint32(len(img.Transforms)), headerTransformLenBits)
	for _, tr := range img.Transforms {
		params := tr.Params()
		if len(params) > maxTransformParams {
			return ErrTooManyTransforms
		}
		w.WriteBits(tr.ID(), headerTransformIDBits)
		w.WriteBits(uint32(len(params)), headerTransformLenBits)
		for _, p := range params {
			w.WriteBits(uint32(p), headerTransformDataBits)
		}
	}
	return nil
}

// residualToken derives the coded residual for one pixel under a leaf.
// The reconstruction is value = guess + offset + multiplier*residual,
// so the encoder inverts it. The residual must divide exactly: trees
// produced by the learner always have offset 0 and multiplier 1, and a
// caller-supplied tree with a wider multiplier is only valid for data
// that is a multiple of it.
func residualToken(value, guess, offset int32, multiplier uint32) uint64 {
	r := int64(value) - int64(guess) - int64(offset)
	if multiplier != 1 {
		if r%int64(multiplier) != 0 {
			panic(fmt.Sprintf("modular: internal error: residual %d not divisible by leaf multiplier %d", r, multiplier))
		}
		r /= int64(multiplier)
	}
	return entropy.PackSigned(r)
}

// tokenizeChannel produces the residual token stream of one channel
// under the given tree, choosing the cheapest traversal that matches
// the tree's shape.
func tokenizeChannel(img *Image, chanIndex, group int, tree Tree, opts *Options, tokens []entropy.Token) []entropy.Token {
	ch := &img.Channel[chanIndex]
	staticProps := [numStaticProperties]int32{int32(chanIndex), int32(group)}
	flat, info := flattenTree(tree, staticProps)

	if len(flat) == 1 {
		return tokenizeSingleLeaf(ch, &flat[0], opts, tokens)
	}
	if info.wpOnly {
		if lut := buildWPLookupTable(flat, true); lut != nil {
			return tokenizeWPOnly(ch, lut, opts, tokens)
		}
	}
	if info.useWP {
		return tokenizeGeneralWP(img, chanIndex, group, flat, info.numProps, opts, tokens)
	}
	return tokenizeGeneral(img, chanIndex, group, flat, info.numProps, opts, tokens)
}

// tokenizeSingleLeaf codes a channel whose tree is one leaf: no
// properties are consulted, only the leaf's predictor runs.
func tokenizeSingleLeaf(ch *Channel, leaf *FlatNode, opts *Options, tokens []entropy.Token) []entropy.Token {
	if leaf.Predictor == PredWeighted {
		wp := newWPState(wpHeaderForMode(opts.WPMode), ch.W)
		defer wp.release()
		var top, topTop []int32
		for y := 0; y < ch.H; y++ {
			row := ch.Row(y)
			for x := 0; x < ch.W; x++ {
				var nb neighborhood
				nb.gather(row, top, topTop, x, ch.W)
				guess, _ := wp.Predict(x, y, &nb, false)
				tokens = append(tokens, entropy.Token{
					Context: leaf.ChildID,
					Value:   residualToken(row[x], guess, leaf.Offset, leaf.Multiplier),
				})
				wp.UpdateErrors(row[x], x, y)
			}
			topTop = top
			top = row
		}
		return tokens
	}
	var top, topTop []int32
	for y := 0; y < ch.H; y++ {
		row := ch.Row(y)
		for x := 0; x < ch.W; x++ {
			var nb neighborhood
			nb.gather(row, top, topTop, x, ch.W)
			guess := predictFixed(leaf.Predictor, &nb)
			tokens = append(tokens, entropy.Token{
				Context: leaf.ChildID,
				Value:   residualToken(row[x], guess, leaf.Offset, leaf.Multiplier),
			})
		}
		topTop = top
		top = row
	}
	return tokens
}

// tokenizeWPOnly codes a channel whose tree only consults the weighted
// predictor's error signal, via a direct signal-to-context table.
func tokenizeWPOnly(ch *Channel, lut *wpLookupTable, opts *Options, tokens []entropy.Token) []entropy.Token {
	wp := newWPState(wpHeaderForMode(opts.WPMode), ch.W)
	defer wp.release()
	var top, topTop []int32
	for y := 0; y < ch.H; y++ {
		row := ch.Row(y)
		for x := 0; x < ch.W; x++ {
			var nb neighborhood
			nb.gather(row, top, topTop, x, ch.W)
			guess, signal := wp.Predict(x, y, &nb, true)
			ctx := lut.ctx[signal+wpPropRange]
			tokens = append(tokens, entropy.Token{
				Context: ctx,
				Value:   entropy.PackSigned(int64(row[x]) - int64(guess)),
			})
			wp.UpdateErrors(row[x], x, y)
		}
		topTop = top
		top = row
	}
	return tokens
}

// tokenizeGeneral codes a channel with the full property vector but no
// weighted predictor anywhere in the tree.
func tokenizeGeneral(img *Image, chanIndex, group int, flat []FlatNode, numProps int, opts *Options, tokens []entropy.Token) []entropy.Token {
	ch := &img.Channel[chanIndex]
	ps := newPropertyState(img, chanIndex, group, opts.MaxProperties)
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
			tokens = append(tokens, entropy.Token{
				Context: leaf.ChildID,
				Value:   residualToken(row[x], guess, leaf.Offset, leaf.Multiplier),
			})
		}
		topTop = top
		top = row
	}
	return tokens
}

// tokenizeGeneralWP codes a channel with the full property vector and a
// live weighted predictor.
func tokenizeGeneralWP(img *Image, chanIndex, group int, flat []FlatNode, numProps int, opts *Options, tokens []entropy.Token) []entropy.Token {
	ch := &img.Channel[chanIndex]
	ps := newPropertyState(img, chanIndex, group, opts.MaxProperties)
	defer ps.release()
	props := padProps(ps, numProps)
	wp := newWPState(wpHeaderForMode(opts.WPMode), ch.W)
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
			tokens = append(tokens, entropy.Token{
				Context: leaf.ChildID,
				Value:   residualToken(row[x], guess, leaf.Offset, leaf.Multiplier),
			})
			wp.UpdateErrors(row[x], x, y)
		}
		topTop = top
		top = row
	}
	return tokens
}

// padProps extends the property scratch to the width the flat tree
// addresses; slots for references this channel does not have stay zero.
func padProps(ps *propertyState, numProps int) []int32 {
	if numProps > len(ps.props) {
		grown := make([]int32, numProps)
		copy(grown, ps.props)
		ps.props = grown
	}
	return ps.props
}

// encodeImage writes the complete coded stream of img: header, context
// tree (unless a caller-shared one is in use), residual histograms and
// residual tokens.
func encodeImage(img *Image, opts *Options, globalTree Tree, w *bitio.Writer) error {
	if err := writeGroupHeader(w, img, opts, globalTree != nil); err != nil {
		return err
	}

	coded := codedChannels(img, opts)

	tree := globalTree
	if tree == nil {
		tree = learnImageTree(img, coded, opts)
		if opts.TreeObserver != nil {
			opts.TreeObserver(&tree)
		}
		treeTokens := tokenizeTree(tree)
		tables, ctxMap, err := entropy.BuildAndEncodeHistograms(
			entropy.Params{ImageWidth: img.W}, numTreeContexts, treeTokens, w)
		if err != nil {
			return err
		}
		entropy.WriteTokens(treeTokens, tables, ctxMap, w)
	}

	var tokens []entropy.Token
	for _, i := range coded {
		tokens = tokenizeChannel(img, i, groupID(img), tree, opts, tokens)
	}
	tables, ctxMap, err := entropy.BuildAndEncodeHistograms(
		entropy.Params{ImageWidth: img.W}, tree.NumLeaves(), tokens, w)
	if err != nil {
		return err
	}
	entropy.WriteTokens(tokens, tables, ctxMap, w)
	return nil
}

// learnImageTree samples every coded channel and grows one tree for the
// whole image. A zero sampling rate yields the trivial single-leaf tree
// with the configured fallback predictor.
func learnImageTree(img *Image, coded []int, opts *Options) Tree {
	fraction := sampleFraction(opts.NbRepeats, img.W, img.H)
	numProps := roundPropertyCount(numNonrefProperties + opts.MaxProperties)
	ts := newSampleSet(opts.Predictors, numProps)
	rng := newSampleRNG()
	if fraction > 0 {
		for _, i := range coded {
			gatherChannel(img, i, groupID(img), opts, fraction, &rng, ts)
		}
	}
	return learnTree(ts, opts, fraction)
}

// groupID is the group property value of a standalone image.
func groupID(img *Image) int { return 0 }

// treeSizeLimit bounds an incoming serialized tree relative to the
// pixels it will code.
func treeSizeLimit(img *Image) int {
	n := 1024
	for i := range img.Channel {
		n += img.Channel[i].W * img.Channel[i].H
	}
	return n
}

// Encode compresses img into a self-contained byte stream using a tree
// learned from the image itself.
func Encode(img *Image, opts *Options) ([]byte, error) {
	if img == nil || len(img.Channel) == 0 {
		return nil, fmt.Errorf("modular: nothing to encode")
	}
	o := opts.norm()
	w := bitio.NewWriter(1024)
	if err := encodeImage(img, o, nil, w); err != nil {
		return nil, err
	}
	return w.Finish(), nil
}

// EncodeWithTree compresses img against a caller-provided tree. The
// stream does not embed the tree; DecodeWithTree must receive the same
// one.
func EncodeWithTree(img *Image, tree Tree, opts *Options) ([]byte, error) {
	if img == nil || len(img.Channel) == 0 {
		return nil, fmt.Errorf("modular: nothing to encode")
	}
	if len(tree) == 0 {
		return nil, ErrInvalidTree
	}
	shared := make(Tree, len(tree))
	copy(shared, tree)
	shared.assignContexts()
	o := opts.norm()
	w := bitio.NewWriter(1024)
	if err := encodeImage(img, o, shared, w); err != nil {
		return nil, err
	}
	return w.Finish(), nil
}
