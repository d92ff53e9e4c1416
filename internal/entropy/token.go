// Package entropy implements the adaptive entropy backend consumed by the
// modular pixel coder: residual tokens, hybrid-uint token classes,
// per-context histograms with greedy context clustering, and a canonical
// prefix-coded symbol reader/writer over the bitio layer.
//
// The coder core only depends on the narrow contract exposed here
// (BuildAndEncodeHistograms, WriteTokens, SymbolReader); the prefix-coded
// implementation behind it is interchangeable with any other sequential
// token backend.
package entropy

import "math/bits"

// Token alphabet layout. Values below numDirectTokens are their own
// class and carry no extra bits, so small residuals cost one symbol
// and a cluster holding only one of them qualifies for the
// single-value fast path. Larger values split by bit length: class
// numDirectTokens+k covers bit length 5+k and carries 4+k extra bits.
const (
	numDirectTokens = 16
	NumTokenClasses = numDirectTokens + 60 // bit lengths 5..64
)

// Token is the atomic unit handed to the entropy writer: a context id
// and a packed-signed residual value. Tokens are produced in raster
// order and the backend is stateful across the tokens of a group, so
// order matters.
type Token struct {
	Context uint32
	Value   uint64
}

// PackSigned maps a signed value to an unsigned one, interleaving
// positive and negative values: 0, -1, 1, -2, 2, ...
func PackSigned(v int64) uint64 {
	return uint64(v<<1) ^ uint64(v>>63)
}

// UnpackSigned is the inverse of PackSigned.
func UnpackSigned(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

// TokenClass splits a value into its token class, the number of extra
// bits, and the extra-bit payload.
func TokenClass(v uint64) (class, numExtra int, extra uint64) {
	if v < numDirectTokens {
		return int(v), 0, 0
	}
	n := bits.Len64(v)
	return numDirectTokens + n - 5, n - 1, v - (1 << uint(n-1))
}

// ClassValue reconstructs a value from its token class and extra-bit
// payload.
func ClassValue(class int, extra uint64) uint64 {
	if class < numDirectTokens {
		return uint64(class)
	}
	n := class - numDirectTokens + 5
	return (1 << uint(n-1)) + extra
}

// ClassExtraBits returns the number of extra bits carried by a class.
func ClassExtraBits(class int) int {
	if class < numDirectTokens {
		return 0
	}
	return class - numDirectTokens + 4
}
