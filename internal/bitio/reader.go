// Package bitio implements the bit-level I/O layer used by the modular
// coder: a little-endian bit reader with a running consumed-bit counter
// and an explicit bounds query for truncation detection, and a matching
// accumulator-based bit writer.
package bitio

import "encoding/binary"

// maxNumBitRead is the maximum number of bits a single ReadBits call
// may request.
const maxNumBitRead = 32

// Reader reads bit fields packed in little-endian byte order.
//
// Reads past the end of the buffer yield zero bits and latch an
// out-of-bounds flag instead of failing; callers decide whether a
// truncated stream is fatal via AllReadsWithinBounds. This models bit
// availability as an explicit bounded-read check rather than blocking
// I/O, so partial streams can be recovered from gracefully.
type Reader struct {
	buf []byte
	pos int // absolute bit position
	oob bool
}

// NewReader creates a Reader over the given byte slice.
func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

// peek returns the next n bits (n <= 32) without advancing. Bytes past
// the end of the buffer read as zero.
func (r *Reader) peek(n int) uint32 {
	byteIdx := r.pos >> 3
	var window uint64
	if byteIdx+8 <= len(r.buf) {
		window = binary.LittleEndian.Uint64(r.buf[byteIdx:])
	} else {
		for i := 0; i < 8 && byteIdx+i < len(r.buf); i++ {
			window |= uint64(r.buf[byteIdx+i]) << uint(8*i)
		}
	}
	window >>= uint(r.pos & 7)
	if n == maxNumBitRead {
		return uint32(window)
	}
	return uint32(window) & ((1 << uint(n)) - 1)
}

// ReadBits reads n bits (0..32) and returns them as an unsigned value.
// Reading past the end of the buffer returns the available bits padded
// with zeros and marks the reader out of bounds.
func (r *Reader) ReadBits(n int) uint32 {
	if n == 0 {
		return 0
	}
	if n < 0 || n > maxNumBitRead {
		r.oob = true
		return 0
	}
	v := r.peek(n)
	r.pos += n
	if r.pos > len(r.buf)*8 {
		r.oob = true
	}
	return v
}

// ReadBit reads a single bit as a bool.
func (r *Reader) ReadBit() bool {
	return r.ReadBits(1) != 0
}

// PeekBits returns the next n bits (n <= 32) without consuming them.
func (r *Reader) PeekBits(n int) uint32 {
	if n <= 0 || n > maxNumBitRead {
		return 0
	}
	return r.peek(n)
}

// SkipBits advances the read position by n bits.
func (r *Reader) SkipBits(n int) {
	r.pos += n
	if r.pos > len(r.buf)*8 {
		r.oob = true
	}
}

// TotalBitsConsumed returns the number of bits consumed so far,
// including any bits read past the end of the buffer.
func (r *Reader) TotalBitsConsumed() int {
	return r.pos
}

// AllReadsWithinBounds reports whether every read so far stayed inside
// the underlying buffer. Once a read crosses the end, this remains
// false for the lifetime of the reader.
func (r *Reader) AllReadsWithinBounds() bool {
	return !r.oob
}
