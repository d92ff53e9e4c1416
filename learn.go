package modular

import (
	"sort"

	"github.com/deepteams/modular/internal/entropy"
)

const (
	// maxTreeNodes caps the learned tree so the flattened form and its
	// serialization stay small.
	maxTreeNodes = 2047
	// maxTreeDepth bounds recursion during learning.
	maxTreeDepth = 12
	// maxSplitCandidates bounds the distinct split values tried per
	// property at one node.
	maxSplitCandidates = 32
)

// sampleRNG is the xorshift128+ generator that decides which pixels
// feed the tree learner. Fixed seeds keep learning deterministic.
type sampleRNG struct {
	s0, s1 uint64
}

func newSampleRNG() sampleRNG {
	return sampleRNG{s0: 0x94D049BB133111EB, s1: 0xBF58476D1CE4E5B9}
}

func (r *sampleRNG) next() uint64 {
	s1 := r.s0
	s0 := r.s1
	bits := s1 + s0
	r.s0 = s0
	s1 ^= s1 << 23
	s1 ^= s0 ^ (s1 >> 18) ^ (s0 >> 5)
	r.s1 = s1
	return bits
}

// sampleFraction clamps the configured sampling rate: small channels
// are sampled densely enough to see about a thousand pixels, and the
// result stays within [0, 1]. A rate of zero disables learning.
func sampleFraction(nbRepeats float64, w, h int) float64 {
	f := nbRepeats
	if f > 1 {
		f = 1
	}
	if f > 0 && w*h > 0 {
		min := 1024.0 / float64(w*h)
		if min > 1 {
			min = 1
		}
		if f < min {
			f = min
		}
	}
	if f < 0 {
		f = 0
	}
	return f
}

// sampleSet is the learner's working set: one property vector, one
// guess per candidate predictor and the true value, per sampled pixel.
// Properties are stored column major so split scans stay contiguous.
type sampleSet struct {
	predictors []Predictor
	numProps   int
	props      [][]int32 // [property][sample]
	guesses    [][]int32 // [predictor][sample]
	values     []int32
}

func newSampleSet(predictors []Predictor, numProps int) *sampleSet {
	ts := &sampleSet{
		predictors: predictors,
		numProps:   numProps,
		props:      make([][]int32, numProps),
		guesses:    make([][]int32, len(predictors)),
	}
	return ts
}

func (ts *sampleSet) numSamples() int { return len(ts.values) }

func (ts *sampleSet) add(props []int32, guesses []int32, value int32) {
	for p := 0; p < ts.numProps; p++ {
		var v int32
		if p < len(props) {
			v = props[p]
		}
		ts.props[p] = append(ts.props[p], v)
	}
	for i := range ts.predictors {
		ts.guesses[i] = append(ts.guesses[i], guesses[i])
	}
	ts.values = append(ts.values, value)
}

// gatherChannel walks one channel in raster order, keeping the
// weighted predictor causal across every pixel, and records the
// sampled subset into ts.
func gatherChannel(img *Image, chanIndex, group int, opts *Options, fraction float64, rng *sampleRNG, ts *sampleSet) {
	ch := &img.Channel[chanIndex]
	if ch.W == 0 || ch.H == 0 || fraction <= 0 {
		return
	}
	threshold := uint64(float64(^uint64(0)>>32) * fraction)

	ps := newPropertyState(img, chanIndex, group, opts.MaxProperties)
	defer ps.release()
	wp := newWPState(wpHeaderForMode(opts.WPMode), ch.W)
	defer wp.release()

	guesses := make([]int32, len(ts.predictors))
	var top, topTop []int32
	for y := 0; y < ch.H; y++ {
		row := ch.Row(y)
		ps.NextRow(y)
		for x := 0; x < ch.W; x++ {
			var nb neighborhood
			nb.gather(row, top, topTop, x, ch.W)
			wpGuess, signal := wp.Predict(x, y, &nb, true)
			take := rng.next()>>32 <= threshold
			if take {
				ps.Fill(x, y, &nb)
				ps.props[propWP] = signal
				for i, p := range ts.predictors {
					if p == PredWeighted {
						guesses[i] = wpGuess
					} else {
						guesses[i] = predictFixed(p, &nb)
					}
				}
				ts.add(ps.props, guesses, row[x])
			}
			wp.UpdateErrors(row[x], x, y)
		}
		topTop = top
		top = row
	}
}

// residualCost estimates the coded size, in bits, of the node's
// residuals under one predictor, using the token class histogram the
// coder would actually produce.
func residualCost(ts *sampleSet, samples []int, pred int) float64 {
	var h entropy.Histogram
	g := ts.guesses[pred]
	for _, s := range samples {
		h.Add(entropy.PackSigned(int64(ts.values[s]) - int64(g[s])))
	}
	return h.EstimatedBits()
}

// bestPredictor returns the cheapest predictor for the node's samples
// and its cost. The weighted predictor's cost is inflated when the
// caller trades density for decode speed.
func bestPredictor(ts *sampleSet, samples []int, fastDecode float64) (int, float64) {
	best, bestCost := 0, 0.0
	for i, p := range ts.predictors {
		c := residualCost(ts, samples, i)
		if p == PredWeighted {
			c *= fastDecode
		}
		if i == 0 || c < bestCost {
			best, bestCost = i, c
		}
	}
	return best, bestCost
}

// splitCandidates returns ascending distinct values of property p over
// the node's samples, quantile-thinned to the candidate cap.
func splitCandidates(ts *sampleSet, samples []int, p int) []int32 {
	col := ts.props[p]
	vals := make([]int32, len(samples))
	for i, s := range samples {
		vals[i] = col[s]
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	distinct := vals[:0]
	for i, v := range vals {
		if i == 0 || v != distinct[len(distinct)-1] {
			distinct = append(distinct, v)
		}
	}
	if len(distinct) <= 1 {
		return nil
	}
	// The largest value cannot split: nothing is greater than it.
	distinct = distinct[:len(distinct)-1]
	if len(distinct) <= maxSplitCandidates {
		return distinct
	}
	out := make([]int32, maxSplitCandidates)
	for i := range out {
		out[i] = distinct[i*len(distinct)/maxSplitCandidates]
	}
	return out
}

type learnWork struct {
	node    uint32
	samples []int
	depth   int
}

// learnTree grows a decision tree by greedy splitting: each node takes
// the property and split value with the largest estimated bit saving,
// as long as the saving clears the threshold and the node budget and
// depth allow. Ties resolve to the lowest property and split value
// because candidates are scanned in ascending order and only strict
// improvements are accepted.
func learnTree(ts *sampleSet, opts *Options, fraction float64) Tree {
	defaultLeaf := TreeNode{Property: -1, Predictor: opts.Predictor, Multiplier: 1}
	if ts == nil || ts.numSamples() == 0 {
		t := Tree{defaultLeaf}
		t.assignContexts()
		return t
	}
	threshold := opts.SplittingHeuristicsThreshold * (fraction*0.9 + 0.1)

	all := make([]int, ts.numSamples())
	for i := range all {
		all[i] = i
	}
	tree := Tree{{}}
	work := []learnWork{{node: 0, samples: all, depth: 0}}
	for len(work) > 0 {
		w := work[len(work)-1]
		work = work[:len(work)-1]

		predIdx, parentCost := bestPredictor(ts, w.samples, opts.FastDecodeMultiplier)

		bestGain := 0.0
		bestProp := int32(-1)
		var bestSplit int32
		canSplit := w.depth < maxTreeDepth && len(tree)+2 <= maxTreeNodes && len(w.samples) >= 2
		if canSplit {
			for p := 0; p < ts.numProps; p++ {
				for _, sv := range splitCandidates(ts, w.samples, p) {
					var left, right []int
					col := ts.props[p]
					for _, s := range w.samples {
						if col[s] > sv {
							left = append(left, s)
						} else {
							right = append(right, s)
						}
					}
					if len(left) == 0 || len(right) == 0 {
						continue
					}
					_, lc := bestPredictor(ts, left, opts.FastDecodeMultiplier)
					_, rc := bestPredictor(ts, right, opts.FastDecodeMultiplier)
					if gain := parentCost - (lc + rc); gain > bestGain {
						bestGain = gain
						bestProp = int32(p)
						bestSplit = sv
					}
				}
			}
		}

		if bestProp < 0 || bestGain <= threshold {
			tree[w.node] = TreeNode{Property: -1, Predictor: ts.predictors[predIdx], Multiplier: 1}
			continue
		}

		var left, right []int
		col := ts.props[bestProp]
		for _, s := range w.samples {
			if col[s] > bestSplit {
				left = append(left, s)
			} else {
				right = append(right, s)
			}
		}
		l := uint32(len(tree))
		tree[w.node] = TreeNode{
			Property: bestProp,
			SplitVal: bestSplit,
			LChild:   l,
			RChild:   l + 1,
		}
		tree = append(tree, TreeNode{}, TreeNode{})
		work = append(work,
			learnWork{node: l, samples: left, depth: w.depth + 1},
			learnWork{node: l + 1, samples: right, depth: w.depth + 1})
	}
	tree.assignContexts()
	return tree
}

// TreeSamples accumulates training pixels across images so one tree,
// learned once, can serve several EncodeWithTree calls.
type TreeSamples struct {
	set     *sampleSet
	rng     sampleRNG
	sampled float64
	pixels  float64
}

// NewTreeSamples returns an empty sample accumulator sized for opts.
// The same opts must be used for gathering, learning and encoding.
func NewTreeSamples(opts *Options) *TreeSamples {
	o := opts.norm()
	numProps := roundPropertyCount(numNonrefProperties + o.MaxProperties)
	return &TreeSamples{
		set: newSampleSet(o.Predictors, numProps),
		rng: newSampleRNG(),
	}
}

// GatherTreeData samples every coded channel of img into samples. It
// writes no output; call LearnTree once all images are gathered, then
// EncodeWithTree per image.
func GatherTreeData(img *Image, samples *TreeSamples, opts *Options) {
	o := opts.norm()
	fraction := sampleFraction(o.NbRepeats, img.W, img.H)
	if fraction <= 0 {
		return
	}
	for _, i := range codedChannels(img, o) {
		ch := &img.Channel[i]
		gatherChannel(img, i, groupID(img), o, fraction, &samples.rng, samples.set)
		samples.sampled += fraction * float64(ch.W*ch.H)
		samples.pixels += float64(ch.W * ch.H)
	}
}

// LearnTree grows a decision tree over everything gathered so far.
// Without samples it returns the trivial single-leaf tree.
func LearnTree(samples *TreeSamples, opts *Options) Tree {
	o := opts.norm()
	if samples == nil {
		return learnTree(nil, o, 0)
	}
	fraction := 0.0
	if samples.pixels > 0 {
		fraction = samples.sampled / samples.pixels
	}
	return learnTree(samples.set, o, fraction)
}

// assignContexts numbers the leaves in breadth-first order, matching
// the implicit numbering a decoder derives from the serialized form.
func (t Tree) assignContexts() {
	ctx := uint32(0)
	queue := []uint32{0}
	for len(queue) > 0 {
		n := &t[queue[0]]
		queue = queue[1:]
		if n.IsLeaf() {
			n.Context = ctx
			ctx++
			continue
		}
		queue = append(queue, n.LChild, n.RChild)
	}
}
