package entropy

import (
	"errors"

	"github.com/deepteams/modular/internal/bitio"
)

// streamEndState is the terminal-state marker appended after every
// token stream. A decoder that drifted out of sync with the encoder
// will not land on it.
const streamEndState = 0x13a5

// ErrFinalState is returned when a token stream's terminal state check
// fails.
var ErrFinalState = errors.New("entropy: bad stream final state")

// SymbolReader decodes hybrid-uint tokens from a bitstream using the
// clustered prefix tables produced by DecodeHistograms. It is
// sequential and stateful: tokens must be read in exactly the order
// they were written.
type SymbolReader struct {
	clusters []decTable
	ctxMap   []uint8
}

// NewSymbolReader reads the entropy tables for numContexts contexts
// from the bit reader and returns a SymbolReader over them.
func NewSymbolReader(r *bitio.Reader, numContexts int) (*SymbolReader, error) {
	tables, ctxMap, err := DecodeHistograms(r, numContexts)
	if err != nil {
		return nil, err
	}
	return &SymbolReader{clusters: tables, ctxMap: ctxMap}, nil
}

// ContextMap returns the raw-context to clustered-context mapping.
func (sr *SymbolReader) ContextMap() []uint8 {
	return sr.ctxMap
}

// readUint reads n raw bits as a uint64 (n <= 63).
func readUint(r *bitio.Reader, n int) uint64 {
	if n <= 32 {
		return uint64(r.ReadBits(n))
	}
	lo := uint64(r.ReadBits(32))
	hi := uint64(r.ReadBits(n - 32))
	return lo | hi<<32
}

// ReadHybridUintClustered decodes one token from the given clustered
// context. Reads past the end of the stream return zeros; the caller
// detects truncation through the reader's bounds query.
func (sr *SymbolReader) ReadHybridUintClustered(cluster int, r *bitio.Reader) uint64 {
	dt := &sr.clusters[cluster]
	e := dt.table[r.PeekBits(maxCodeLength)]
	r.SkipBits(int(e.Bits))
	class := int(e.Value)
	extra := readUint(r, ClassExtraBits(class))
	return ClassValue(class, extra)
}

// ReadHybridUint decodes one token addressed by its raw (unclustered)
// context id.
func (sr *SymbolReader) ReadHybridUint(ctx uint32, r *bitio.Reader) uint64 {
	return sr.ReadHybridUintClustered(int(sr.ctxMap[ctx]), r)
}

// IsSingleValue reports whether the given clustered context always
// decodes to the same value without consuming any bits, and returns
// that value. This is the precondition for filling a whole channel
// without per-pixel entropy reads.
func (sr *SymbolReader) IsSingleValue(cluster int) (uint64, bool) {
	dt := &sr.clusters[cluster]
	// Only classes without extra bits decode to a single value.
	if dt.single < 0 || ClassExtraBits(dt.single) != 0 {
		return 0, false
	}
	return ClassValue(dt.single, 0), true
}

// CheckFinalState consumes and verifies the terminal-state marker
// written after the token stream. It must be called exactly once, after
// the last token of the stream has been read.
func (sr *SymbolReader) CheckFinalState(r *bitio.Reader) error {
	if r.ReadBits(16) != streamEndState || !r.AllReadsWithinBounds() {
		return ErrFinalState
	}
	return nil
}
