package bitio

import "encoding/binary"

const (
	// writerBits is the number of bits flushed at a time.
	writerBits = 32
	// writerBytes is the number of bytes written per flush.
	writerBytes = 4
)

// Writer accumulates bits in a 64-bit register and flushes 32 bits
// (4 little-endian bytes) at a time. The produced layout matches what
// Reader expects.
type Writer struct {
	bits    uint64 // bit accumulator
	used    int    // number of bits used in accumulator
	buf     []byte // output buffer
	cur     int    // current write position in buf
	written int    // total bits written
}

// NewWriter creates a Writer with an initial buffer pre-allocated for
// expectedSize bytes.
func NewWriter(expectedSize int) *Writer {
	if expectedSize < 1024 {
		expectedSize = 1024
	}
	// Round up to the next 1k boundary.
	expectedSize = ((expectedSize >> 10) + 1) << 10
	return &Writer{
		buf: make([]byte, expectedSize),
	}
}

// WriteBits writes the low n bits (0..32) of v into the stream in
// little-endian order.
func (w *Writer) WriteBits(v uint32, n int) {
	if n == 0 {
		return
	}
	if w.used >= writerBits {
		w.flushBits()
	}
	if n < 32 {
		v &= (1 << uint(n)) - 1
	}
	w.bits |= uint64(v) << uint(w.used)
	w.used += n
	w.written += n
}

// WriteBit writes a single bit.
func (w *Writer) WriteBit(b bool) {
	if b {
		w.WriteBits(1, 1)
	} else {
		w.WriteBits(0, 1)
	}
}

// flushBits writes the lower 32 bits of the accumulator to the output
// buffer as 4 little-endian bytes and shifts the accumulator right.
func (w *Writer) flushBits() {
	w.grow(writerBytes)
	binary.LittleEndian.PutUint32(w.buf[w.cur:], uint32(w.bits))
	w.cur += writerBytes
	w.bits >>= writerBits
	w.used -= writerBits
}

// grow ensures at least n bytes of capacity remain at w.cur.
func (w *Writer) grow(n int) {
	if w.cur+n <= len(w.buf) {
		return
	}
	newSize := len(w.buf) * 3 / 2
	need := w.cur + n
	if newSize < need {
		newSize = need
	}
	newSize = ((newSize >> 10) + 1) << 10
	tmp := make([]byte, newSize)
	copy(tmp, w.buf[:w.cur])
	w.buf = tmp
}

// BitsWritten returns the total number of bits written so far.
func (w *Writer) BitsWritten() int {
	return w.written
}

// Finish flushes all remaining bits and returns the complete encoded
// byte slice. The final partial byte, if any, is zero-padded.
func (w *Writer) Finish() []byte {
	for w.used >= writerBits {
		w.flushBits()
	}
	w.grow((w.used + 7) >> 3)
	for w.used > 0 {
		w.buf[w.cur] = byte(w.bits)
		w.cur++
		w.bits >>= 8
		w.used -= 8
	}
	w.used = 0
	return w.buf[:w.cur]
}
