package entropy

import (
	"errors"
	"math"
	"math/bits"

	"github.com/deepteams/modular/internal/bitio"
)

// maxClusters bounds the number of entropy contexts after clustering.
const maxClusters = 64

// clusterHeaderBits approximates the serialized size of one cluster's
// prefix code: merging two clusters is worthwhile whenever the entropy
// increase stays below the header cost it saves.
const clusterHeaderBits = 305.0

// ErrBadHistogram is returned when serialized entropy tables are
// malformed.
var ErrBadHistogram = errors.New("entropy: malformed histogram tables")

// Histogram collects per-token-class frequency counts for one context.
type Histogram struct {
	Counts [NumTokenClasses]uint32
	Total  uint32
}

// Add records one token value.
func (h *Histogram) Add(v uint64) {
	class, _, _ := TokenClass(v)
	h.Counts[class]++
	h.Total++
}

// AddHistogram merges other into h.
func (h *Histogram) AddHistogram(other *Histogram) {
	for i, c := range other.Counts {
		h.Counts[i] += c
	}
	h.Total += other.Total
}

// ShannonBits returns the information content of the histogram in bits,
// excluding extra bits (which cost the same under any clustering).
func (h *Histogram) ShannonBits() float64 {
	if h.Total == 0 {
		return 0
	}
	total := float64(h.Total)
	cost := 0.0
	for _, c := range h.Counts {
		if c > 0 {
			cost += float64(c) * math.Log2(total/float64(c))
		}
	}
	return cost
}

// EstimatedBits returns the full estimated coding cost of the
// histogram's tokens: entropy of the class symbols plus their raw extra
// bits. This is the cost model used by the tree learner.
func (h *Histogram) EstimatedBits() float64 {
	cost := h.ShannonBits()
	for class, c := range h.Counts {
		if c > 0 {
			cost += float64(c) * float64(ClassExtraBits(class))
		}
	}
	return cost
}

// Params configures histogram building. ImageWidth is a hint with the
// widest coded channel; wider channels produce more tokens per context,
// which makes distinct clusters pay for their header cost sooner.
type Params struct {
	ImageWidth int
}

// EncodedTables holds the encoder-side prefix codes after clustering.
type EncodedTables struct {
	Clusters []PrefixCode
}

// clusterHistograms greedily merges per-context histograms and returns
// the context-cluster map together with the merged histograms.
func clusterHistograms(histos []Histogram, params Params) ([]uint8, []Histogram) {
	numContexts := len(histos)
	ctxMap := make([]uint8, numContexts)

	mergeThreshold := clusterHeaderBits
	if params.ImageWidth > 256 {
		// Plenty of tokens per context: keep clusters apart longer.
		mergeThreshold = clusterHeaderBits / 4
	}

	type cluster struct {
		hist Histogram
		ctxs []int
	}
	var clusters []cluster
	for i := range histos {
		if histos[i].Total == 0 {
			continue
		}
		clusters = append(clusters, cluster{hist: histos[i], ctxs: []int{i}})
	}
	if len(clusters) == 0 {
		// No tokens at all: one empty cluster for every context.
		return ctxMap, []Histogram{{}}
	}

	for len(clusters) > 1 {
		bestI, bestJ := -1, -1
		bestIncrease := math.Inf(1)
		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				var merged Histogram
				merged.AddHistogram(&clusters[i].hist)
				merged.AddHistogram(&clusters[j].hist)
				increase := merged.ShannonBits() -
					clusters[i].hist.ShannonBits() - clusters[j].hist.ShannonBits()
				if increase < bestIncrease {
					bestIncrease = increase
					bestI, bestJ = i, j
				}
			}
		}
		if len(clusters) <= maxClusters && bestIncrease > mergeThreshold {
			break
		}
		clusters[bestI].hist.AddHistogram(&clusters[bestJ].hist)
		clusters[bestI].ctxs = append(clusters[bestI].ctxs, clusters[bestJ].ctxs...)
		clusters = append(clusters[:bestJ], clusters[bestJ+1:]...)
	}

	out := make([]Histogram, len(clusters))
	for ci := range clusters {
		out[ci] = clusters[ci].hist
		for _, ctx := range clusters[ci].ctxs {
			ctxMap[ctx] = uint8(ci)
		}
	}
	// Empty contexts share cluster 0.
	return ctxMap, out
}

// usedSymbols returns the used symbols of a histogram, up to the first
// three.
func usedSymbols(h *Histogram) []int {
	var syms []int
	for i, c := range h.Counts {
		if c > 0 {
			syms = append(syms, i)
			if len(syms) == 3 {
				break
			}
		}
	}
	return syms
}

// writePrefixHeader serializes one cluster's prefix code. Clusters with
// at most two used symbols use the simple encoding (the symbols are
// stored directly); larger clusters store 4-bit code lengths for the
// whole alphabet.
func writePrefixHeader(w *bitio.Writer, h *Histogram, pc *PrefixCode) {
	syms := usedSymbols(h)
	if len(syms) <= 2 {
		w.WriteBit(true) // simple
		if len(syms) <= 1 {
			sym := 0
			if len(syms) == 1 {
				sym = syms[0]
			}
			w.WriteBits(0, 1) // one symbol
			w.WriteBits(uint32(sym), 7)
			pc.Lengths = [NumTokenClasses]uint8{}
			pc.Codes = [NumTokenClasses]uint16{}
			return
		}
		w.WriteBits(1, 1) // two symbols
		s0, s1 := syms[0], syms[1]
		w.WriteBits(uint32(s0), 7)
		w.WriteBits(uint32(s1), 7)
		pc.Lengths = [NumTokenClasses]uint8{}
		pc.Codes = [NumTokenClasses]uint16{}
		pc.Lengths[s0], pc.Lengths[s1] = 1, 1
		pc.Codes[s0], pc.Codes[s1] = 0, 1
		return
	}
	w.WriteBit(false) // full code
	lengths := buildCodeLengths(h.Counts[:])
	*pc = buildPrefixCode(lengths)
	for _, l := range lengths {
		w.WriteBits(uint32(l), 4)
	}
}

// BuildAndEncodeHistograms builds per-context histograms over the given
// token stream, clusters them, and writes the cluster map and prefix
// codes to the bit writer. It returns the encoder-side tables and the
// context-cluster map needed by WriteTokens.
func BuildAndEncodeHistograms(params Params, numContexts int, tokens []Token, w *bitio.Writer) (*EncodedTables, []uint8, error) {
	histos := make([]Histogram, numContexts)
	for _, t := range tokens {
		if int(t.Context) >= numContexts {
			return nil, nil, ErrBadHistogram
		}
		histos[t.Context].Add(t.Value)
	}

	ctxMap, clustered := clusterHistograms(histos, params)

	w.WriteBits(uint32(len(clustered)-1), 6)
	clusterBits := bits.Len(uint(len(clustered) - 1))
	for _, c := range ctxMap {
		w.WriteBits(uint32(c), clusterBits)
	}

	tables := &EncodedTables{Clusters: make([]PrefixCode, len(clustered))}
	for i := range clustered {
		writePrefixHeader(w, &clustered[i], &tables.Clusters[i])
	}
	return tables, ctxMap, nil
}

// DecodeHistograms reads the cluster map and per-cluster prefix codes
// written by BuildAndEncodeHistograms and returns the decode tables.
func DecodeHistograms(r *bitio.Reader, numContexts int) ([]decTable, []uint8, error) {
	numClusters := int(r.ReadBits(6)) + 1
	clusterBits := bits.Len(uint(numClusters - 1))
	ctxMap := make([]uint8, numContexts)
	for i := range ctxMap {
		c := r.ReadBits(clusterBits)
		if int(c) >= numClusters {
			return nil, nil, ErrBadHistogram
		}
		ctxMap[i] = uint8(c)
	}

	tables := make([]decTable, numClusters)
	for i := range tables {
		if r.ReadBit() { // simple
			two := r.ReadBits(1) == 1
			s0 := int(r.ReadBits(7))
			if s0 >= NumTokenClasses {
				return nil, nil, ErrBadHistogram
			}
			if !two {
				dt := decTable{single: s0}
				dt.table = make([]tableEntry, 1<<maxCodeLength)
				for j := range dt.table {
					dt.table[j] = tableEntry{Bits: 0, Value: uint8(s0)}
				}
				tables[i] = dt
				continue
			}
			s1 := int(r.ReadBits(7))
			if s1 >= NumTokenClasses || s1 == s0 {
				return nil, nil, ErrBadHistogram
			}
			var lengths [NumTokenClasses]uint8
			lengths[s0], lengths[s1] = 1, 1
			dt, err := buildDecodeTable(lengths)
			if err != nil {
				return nil, nil, err
			}
			tables[i] = dt
			continue
		}
		var lengths [NumTokenClasses]uint8
		for j := range lengths {
			l := r.ReadBits(4)
			if l > maxCodeLength {
				return nil, nil, ErrBadHistogram
			}
			lengths[j] = uint8(l)
		}
		dt, err := buildDecodeTable(lengths)
		if err != nil {
			return nil, nil, err
		}
		tables[i] = dt
	}
	if !r.AllReadsWithinBounds() {
		return nil, nil, ErrBadHistogram
	}
	return tables, ctxMap, nil
}
