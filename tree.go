package modular

import (
	"errors"
	"math"

	"github.com/deepteams/modular/internal/bitio"
	"github.com/deepteams/modular/internal/entropy"
)

// ErrInvalidTree is returned when a serialized context tree is
// malformed or exceeds its size limit.
var ErrInvalidTree = errors.New("modular: invalid context tree")

// Token contexts of the tree stream.
const (
	treeCtxSplitVal   = 0
	treeCtxProperty   = 1
	treeCtxPredictor  = 2
	treeCtxOffset     = 3
	treeCtxMultiplier = 4
	numTreeContexts   = 5
)

// maxTreeProperty bounds the property index a serialized tree may test,
// keeping the property vector a hostile stream can demand small.
const maxTreeProperty = 1 << 16

// TreeNode is one node of a context decision tree. Internal nodes test
// props[Property] > SplitVal and descend to LChild on true, RChild on
// false. Leaves (Property == -1) select the predictor and the residual
// transform value = guess + Offset + Multiplier*residual, and carry the
// entropy context for the residual token.
type TreeNode struct {
	Property   int32
	SplitVal   int32
	LChild     uint32
	RChild     uint32
	Predictor  Predictor
	Offset     int32
	Multiplier uint32
	Context    uint32
}

// Tree is a context decision tree with the root at index 0.
type Tree []TreeNode

// IsLeaf reports whether the node is a leaf.
func (n *TreeNode) IsLeaf() bool { return n.Property < 0 }

// NumLeaves returns the leaf count, which is the number of raw residual
// contexts the tree addresses.
func (t Tree) NumLeaves() int { return (len(t) + 1) / 2 }

// tokenizeTree serializes the tree breadth first. Each node emits its
// property index plus one, with zero marking a leaf; internal nodes
// follow with the split value, leaves with predictor, offset and
// multiplier. Leaf contexts are implicit in the traversal order, so
// they are not emitted.
func tokenizeTree(t Tree) []entropy.Token {
	tokens := make([]entropy.Token, 0, 4*len(t))
	queue := []uint32{0}
	for len(queue) > 0 {
		n := &t[queue[0]]
		queue = queue[1:]
		if n.IsLeaf() {
			tokens = append(tokens,
				entropy.Token{Context: treeCtxProperty, Value: 0},
				entropy.Token{Context: treeCtxPredictor, Value: uint64(n.Predictor)},
				entropy.Token{Context: treeCtxOffset, Value: entropy.PackSigned(int64(n.Offset))},
				entropy.Token{Context: treeCtxMultiplier, Value: uint64(n.Multiplier) - 1})
			continue
		}
		tokens = append(tokens,
			entropy.Token{Context: treeCtxProperty, Value: uint64(n.Property) + 1},
			entropy.Token{Context: treeCtxSplitVal, Value: entropy.PackSigned(int64(n.SplitVal))})
		queue = append(queue, n.LChild, n.RChild)
	}
	return tokens
}

// parseTree reads a breadth-first serialized tree. sizeLimit bounds the
// node count so a hostile stream cannot force unbounded allocation.
// Leaf contexts are assigned in traversal order; the caller replaces
// them with clustered contexts once the residual histograms are read.
func parseTree(sr *entropy.SymbolReader, r *bitio.Reader, sizeLimit int) (Tree, error) {
	tree := make(Tree, 1, 64)
	queue := []uint32{0}
	leafCtx := uint32(0)
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		n := &tree[idx]

		prop := sr.ReadHybridUint(treeCtxProperty, r)
		if prop == 0 {
			pred := sr.ReadHybridUint(treeCtxPredictor, r)
			if pred >= uint64(numPredictors) {
				return nil, ErrInvalidTree
			}
			offset := entropy.UnpackSigned(sr.ReadHybridUint(treeCtxOffset, r))
			if offset < math.MinInt32 || offset > math.MaxInt32 {
				return nil, ErrInvalidTree
			}
			mul := sr.ReadHybridUint(treeCtxMultiplier, r)
			if mul > math.MaxUint32-1 {
				return nil, ErrInvalidTree
			}
			n.Property = -1
			n.Predictor = Predictor(pred)
			n.Offset = int32(offset)
			n.Multiplier = uint32(mul) + 1
			n.Context = leafCtx
			leafCtx++
			continue
		}
		if prop-1 >= maxTreeProperty {
			return nil, ErrInvalidTree
		}
		splitVal := entropy.UnpackSigned(sr.ReadHybridUint(treeCtxSplitVal, r))
		if splitVal < math.MinInt32 || splitVal > math.MaxInt32 {
			return nil, ErrInvalidTree
		}
		n.Property = int32(prop - 1)
		n.SplitVal = int32(splitVal)
		n.LChild = uint32(len(tree))
		n.RChild = uint32(len(tree) + 1)
		tree = append(tree, TreeNode{}, TreeNode{})
		if len(tree) > sizeLimit {
			return nil, ErrInvalidTree
		}
		queue = append(queue, n.LChild, n.RChild)
	}
	return tree, nil
}

// walk descends from the root along the property vector and returns the
// reached leaf. Used by the reference path and by tests; coding uses
// the flattened form.
func (t Tree) walk(props []int32) *TreeNode {
	n := &t[0]
	for !n.IsLeaf() {
		if props[n.Property] > n.SplitVal {
			n = &t[n.LChild]
		} else {
			n = &t[n.RChild]
		}
	}
	return n
}
