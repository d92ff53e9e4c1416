package entropy

import (
	"container/heap"
	"errors"
	"sort"
)

// maxCodeLength caps prefix code lengths so the decoder can use a
// single-level lookup table of 1<<maxCodeLength entries per cluster.
const maxCodeLength = 11

// Errors returned when decoding prefix codes.
var (
	ErrInvalidCode = errors.New("entropy: invalid prefix code")
	ErrEmptyCode   = errors.New("entropy: all code lengths are zero")
)

// PrefixCode holds a canonical prefix code for encoding: per-symbol
// code lengths and bit-reversed codewords (LSB-first, matching the
// little-endian bit writer).
type PrefixCode struct {
	Lengths [NumTokenClasses]uint8
	Codes   [NumTokenClasses]uint16
}

// tableEntry is a single entry in a prefix decode table. Bits is the
// number of bits consumed; Value is the decoded symbol.
type tableEntry struct {
	Bits  uint8
	Value uint8
}

// decTable is a fully-expanded single-level decode table for one
// cluster, plus the fast-path single-symbol annotation.
type decTable struct {
	table []tableEntry
	// single is the cluster's only used symbol, or -1 when the cluster
	// has more than one symbol.
	single int
}

type huffNode struct {
	count uint32
	value int // symbol index for leaves, -1 for internal nodes
	left  int
	right int
}

type nodeHeap struct {
	pool    []huffNode
	indices []int
}

func (h *nodeHeap) Len() int { return len(h.indices) }

func (h *nodeHeap) Less(i, j int) bool {
	a, b := h.pool[h.indices[i]], h.pool[h.indices[j]]
	if a.count != b.count {
		return a.count < b.count
	}
	return h.indices[i] < h.indices[j]
}

func (h *nodeHeap) Swap(i, j int) {
	h.indices[i], h.indices[j] = h.indices[j], h.indices[i]
}

func (h *nodeHeap) Push(x any) {
	h.indices = append(h.indices, x.(int))
}

func (h *nodeHeap) Pop() any {
	old := h.indices
	n := len(old)
	idx := old[n-1]
	h.indices = old[:n-1]
	return idx
}

// buildCodeLengths derives length-limited prefix code lengths from a
// symbol histogram. Lengths are limited by doubling the minimum leaf
// count and rebuilding until the deepest code fits.
//
// A histogram with zero or one used symbol produces all-zero lengths;
// such clusters are stored with the simple-code encoding and decoded
// with a zero-bit table, so the symbol costs no bits in the stream.
func buildCodeLengths(histogram []uint32) [NumTokenClasses]uint8 {
	var lengths [NumTokenClasses]uint8

	used := 0
	for _, c := range histogram {
		if c > 0 {
			used++
		}
	}
	if used <= 1 {
		return lengths
	}
	if used == 2 {
		for i, c := range histogram {
			if c > 0 {
				lengths[i] = 1
			}
		}
		return lengths
	}

	for countMin := uint32(1); ; countMin *= 2 {
		for i := range lengths {
			lengths[i] = 0
		}
		h := &nodeHeap{}
		for sym, c := range histogram {
			if c == 0 {
				continue
			}
			if c < countMin {
				c = countMin
			}
			idx := len(h.pool)
			h.pool = append(h.pool, huffNode{count: c, value: sym, left: -1, right: -1})
			h.indices = append(h.indices, idx)
		}
		heap.Init(h)
		for h.Len() > 1 {
			l := heap.Pop(h).(int)
			r := heap.Pop(h).(int)
			parent := len(h.pool)
			h.pool = append(h.pool, huffNode{
				count: h.pool[l].count + h.pool[r].count,
				value: -1,
				left:  l,
				right: r,
			})
			heap.Push(h, parent)
		}
		assignDepths(h.pool, h.indices[0], 0, &lengths)

		maxDepth := 0
		for _, l := range lengths {
			if int(l) > maxDepth {
				maxDepth = int(l)
			}
		}
		if maxDepth <= maxCodeLength {
			return lengths
		}
	}
}

// assignDepths sets each leaf symbol's code length to its tree depth.
func assignDepths(pool []huffNode, idx, depth int, lengths *[NumTokenClasses]uint8) {
	n := &pool[idx]
	if n.value >= 0 {
		lengths[n.value] = uint8(depth)
		return
	}
	assignDepths(pool, n.left, depth+1, lengths)
	assignDepths(pool, n.right, depth+1, lengths)
}

// buildPrefixCode derives canonical bit-reversed codewords from code
// lengths.
func buildPrefixCode(lengths [NumTokenClasses]uint8) PrefixCode {
	pc := PrefixCode{Lengths: lengths}

	type symLen struct {
		symbol int
		length uint8
	}
	var symbols []symLen
	for i, l := range lengths {
		if l > 0 {
			symbols = append(symbols, symLen{i, l})
		}
	}
	sort.SliceStable(symbols, func(i, j int) bool {
		if symbols[i].length != symbols[j].length {
			return symbols[i].length < symbols[j].length
		}
		return symbols[i].symbol < symbols[j].symbol
	})

	code := uint32(0)
	prevLen := uint8(0)
	for _, s := range symbols {
		if s.length > prevLen {
			code <<= uint(s.length - prevLen)
			prevLen = s.length
		}
		pc.Codes[s.symbol] = reverseBits(code, int(s.length))
		code++
	}
	return pc
}

// reverseBits reverses the lower nBits of v.
func reverseBits(v uint32, nBits int) uint16 {
	var result uint32
	for i := 0; i < nBits; i++ {
		result = (result << 1) | (v & 1)
		v >>= 1
	}
	return uint16(result)
}

// buildDecodeTable expands code lengths into a single-level LSB-first
// lookup table. When exactly one symbol is used, the table decodes it
// with zero bits consumed.
func buildDecodeTable(lengths [NumTokenClasses]uint8) (decTable, error) {
	used := 0
	lastSym := -1
	for i, l := range lengths {
		if l > maxCodeLength {
			return decTable{}, ErrInvalidCode
		}
		if l > 0 {
			used++
			lastSym = i
		}
	}
	dt := decTable{single: -1}
	const tableSize = 1 << maxCodeLength
	dt.table = make([]tableEntry, tableSize)

	if used == 0 {
		return decTable{}, ErrEmptyCode
	}
	if used == 1 {
		dt.single = lastSym
		for i := range dt.table {
			dt.table[i] = tableEntry{Bits: 0, Value: uint8(lastSym)}
		}
		return dt, nil
	}

	// Kraft check: the lengths must form a complete, non-overfull code.
	var space uint32
	for _, l := range lengths {
		if l > 0 {
			space += 1 << uint(maxCodeLength-int(l))
		}
	}
	if space != tableSize {
		return decTable{}, ErrInvalidCode
	}

	pc := buildPrefixCode(lengths)
	for sym, l := range lengths {
		if l == 0 {
			continue
		}
		code := uint32(pc.Codes[sym])
		step := uint32(1) << uint(l)
		for idx := code; idx < tableSize; idx += step {
			dt.table[idx] = tableEntry{Bits: l, Value: uint8(sym)}
		}
	}
	return dt, nil
}
