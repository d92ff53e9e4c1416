package modular

import "math"

// FlatNode is a fused node of a flattened context tree. An internal
// node packs its own decision and both children's decisions, so one
// lookup step covers two tree levels and lands on one of four
// consecutive grandchild slots starting at ChildID. Children that were
// leaves are duplicated behind an always-true dummy decision to keep
// the four-slot layout. Leaf nodes reuse ChildID for the entropy
// context.
type FlatNode struct {
	Property0  int32 // -1 for a leaf
	SplitVal0  int32
	Properties [2]int32
	SplitVals  [2]int32
	ChildID    uint32
	Predictor  Predictor
	Offset     int32
	Multiplier uint32
}

// flatInfo summarizes a flattened tree for coder path selection.
type flatInfo struct {
	useWP    bool // some leaf uses the weighted predictor
	wpOnly   bool // every leaf is weighted and every decision tests the WP property
	numProps int  // property vector length the flat tree addresses
}

// flattenTree resolves decisions on the static properties (channel and
// group are fixed for a whole traversal) and rebuilds the survivors as
// a breadth-first flat tree with two-level fusion. Leaf contexts carry
// over from the source nodes.
func flattenTree(t Tree, staticProps [numStaticProperties]int32) ([]FlatNode, flatInfo) {
	// Chase decisions resolvable right now.
	skipStatic := func(cur uint32) uint32 {
		for t[cur].Property >= 0 && t[cur].Property < numStaticProperties {
			if staticProps[t[cur].Property] > t[cur].SplitVal {
				cur = t[cur].LChild
			} else {
				cur = t[cur].RChild
			}
		}
		return cur
	}

	info := flatInfo{wpOnly: true}
	out := make([]FlatNode, 0, len(t))
	queue := []uint32{0}
	maxProp := -1
	mark := func(p int32) {
		if p >= numStaticProperties && int(p) > maxProp {
			maxProp = int(p)
		}
		if p != propWP && p >= numStaticProperties {
			info.wpOnly = false
		}
		if p == propWP {
			info.useWP = true
		}
	}
	for len(queue) > 0 {
		cur := skipStatic(queue[0])
		queue = queue[1:]
		src := &t[cur]
		if src.IsLeaf() {
			out = append(out, FlatNode{
				Property0:  -1,
				ChildID:    src.Context,
				Predictor:  src.Predictor,
				Offset:     src.Offset,
				Multiplier: src.Multiplier,
			})
			if src.Predictor == PredWeighted {
				info.useWP = true
			} else {
				info.wpOnly = false
			}
			continue
		}

		flat := FlatNode{
			Property0: src.Property,
			SplitVal0: src.SplitVal,
			ChildID:   uint32(len(out) + len(queue) + 1),
		}
		for i, childIdx := range [2]uint32{src.LChild, src.RChild} {
			child := skipStatic(childIdx)
			if t[child].IsLeaf() {
				// Dummy always-false decision, leaf duplicated into
				// both slots.
				flat.Properties[i] = 0
				flat.SplitVals[i] = math.MaxInt32
				queue = append(queue, child, child)
			} else {
				flat.Properties[i] = t[child].Property
				flat.SplitVals[i] = t[child].SplitVal
				mark(flat.Properties[i])
				queue = append(queue, t[child].LChild, t[child].RChild)
			}
		}
		mark(flat.Property0)
		out = append(out, flat)
	}

	if len(out) == 1 && out[0].Property0 < 0 {
		// A lone leaf has its dedicated fast paths.
		info.wpOnly = false
	}
	info.numProps = 0
	if maxProp >= 0 {
		info.numProps = roundPropertyCount(maxProp + 1)
	}
	return out, info
}

// lookup descends the flat tree for the given property vector and
// returns the reached leaf. Each step consumes one fused node: the top
// decision picks the child half, the packed child decision picks the
// grandchild slot.
func flatLookup(tree []FlatNode, props []int32) *FlatNode {
	n := &tree[0]
	for n.Property0 >= 0 {
		off := uint32(0)
		sel := 0
		if props[n.Property0] <= n.SplitVal0 {
			off = 2
			sel = 1
		}
		if props[n.Properties[sel]] <= n.SplitVals[sel] {
			off++
		}
		n = &tree[n.ChildID+off]
	}
	return n
}

// wpLookupTable is the flattened tree specialized to trees whose every
// decision tests the WP error signal: a direct table from the clamped
// signal to the leaf's context, offset and multiplier.
type wpLookupTable struct {
	ctx  []uint32 // len 2*wpPropRange
	off  []int32
	mult []uint32
}

// treeRange is an interval of WP signal values mapping to the subtree
// at pos. Begin is excluded and end included, matching the > versus <=
// split convention.
type treeRange struct {
	begin, end int32
	pos        uint32
}

// buildWPLookupTable simulates every possible WP signal value through
// the flat tree by interval splitting. It returns nil when the tree
// cannot be tabulated: a split value outside the signal range, or
// (strict mode, used when encoding) a leaf with a non-trivial offset or
// multiplier. Non-strict mode admits offsets that fit a signed byte and
// multipliers that fit an unsigned one.
func buildWPLookupTable(tree []FlatNode, strict bool) *wpLookupTable {
	lut := &wpLookupTable{
		ctx:  make([]uint32, 2*wpPropRange),
		off:  make([]int32, 2*wpPropRange),
		mult: make([]uint32, 2*wpPropRange),
	}
	stack := []treeRange{{begin: -wpPropRange - 1, end: wpPropRange - 1, pos: 0}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur.begin < -wpPropRange-1 || cur.begin >= wpPropRange-1 || cur.end > wpPropRange-1 {
			return nil
		}
		n := &tree[cur.pos]
		if n.Property0 < 0 {
			if strict {
				if n.Offset != 0 || n.Multiplier != 1 {
					return nil
				}
			} else {
				if n.Offset < math.MinInt8 || n.Offset > math.MaxInt8 {
					return nil
				}
				if n.Multiplier > math.MaxUint8 {
					return nil
				}
			}
			for i := cur.begin + 1; i <= cur.end; i++ {
				lut.ctx[i+wpPropRange] = n.ChildID
				lut.off[i+wpPropRange] = n.Offset
				lut.mult[i+wpPropRange] = n.Multiplier
			}
			continue
		}

		// Greater side of the fused decision.
		if n.Properties[0] >= numStaticProperties {
			stack = append(stack,
				treeRange{begin: n.SplitVals[0], end: cur.end, pos: n.ChildID},
				treeRange{begin: n.SplitVal0, end: n.SplitVals[0], pos: n.ChildID + 1})
		} else {
			stack = append(stack,
				treeRange{begin: n.SplitVal0, end: cur.end, pos: n.ChildID})
		}
		// Lesser-or-equal side.
		if n.Properties[1] >= numStaticProperties {
			stack = append(stack,
				treeRange{begin: n.SplitVals[1], end: n.SplitVal0, pos: n.ChildID + 2},
				treeRange{begin: cur.begin, end: n.SplitVals[1], pos: n.ChildID + 3})
		} else {
			stack = append(stack,
				treeRange{begin: cur.begin, end: n.SplitVal0, pos: n.ChildID + 2})
		}
	}
	return lut
}
