package entropy

import (
	"fmt"

	"github.com/deepteams/modular/internal/bitio"
)

// WriteTokens encodes the token stream with the clustered prefix codes
// produced by BuildAndEncodeHistograms, then appends the terminal-state
// marker. Tokens must be the same stream (same order) the histograms
// were built from.
func WriteTokens(tokens []Token, tables *EncodedTables, ctxMap []uint8, w *bitio.Writer) {
	for _, t := range tokens {
		pc := &tables.Clusters[ctxMap[t.Context]]
		class, numExtra, extra := TokenClass(t.Value)
		if class >= NumTokenClasses {
			panic(fmt.Sprintf("modular: internal error: token value %d exceeds class alphabet", t.Value))
		}
		w.WriteBits(uint32(pc.Codes[class]), int(pc.Lengths[class]))
		if numExtra > 32 {
			w.WriteBits(uint32(extra), 32)
			w.WriteBits(uint32(extra>>32), numExtra-32)
		} else {
			w.WriteBits(uint32(extra), numExtra)
		}
	}
	w.WriteBits(streamEndState, 16)
}
