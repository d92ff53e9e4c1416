package bitio

import "testing"

func TestWriteReadRoundTrip(t *testing.T) {
	w := NewWriter(0)
	fields := []struct {
		v uint32
		n int
	}{
		{0x1, 1}, {0x0, 1}, {0x5, 3}, {0xff, 8}, {0x1234, 16},
		{0xdeadbeef, 32}, {0x7, 5}, {0x3fffffff, 30}, {0, 7}, {1, 1},
	}
	for _, f := range fields {
		w.WriteBits(f.v, f.n)
	}
	data := w.Finish()

	r := NewReader(data)
	for i, f := range fields {
		mask := uint32((1 << uint(f.n)) - 1)
		if f.n == 32 {
			mask = 0xffffffff
		}
		got := r.ReadBits(f.n)
		if got != f.v&mask {
			t.Fatalf("field %d: ReadBits(%d) = %#x, want %#x", i, f.n, got, f.v&mask)
		}
	}
	if !r.AllReadsWithinBounds() {
		t.Fatal("reads unexpectedly out of bounds")
	}
}

func TestBitsConsumed(t *testing.T) {
	w := NewWriter(0)
	w.WriteBits(0xabc, 12)
	w.WriteBits(0x3, 2)
	if w.BitsWritten() != 14 {
		t.Fatalf("BitsWritten = %d, want 14", w.BitsWritten())
	}
	r := NewReader(w.Finish())
	r.ReadBits(12)
	r.ReadBits(2)
	if r.TotalBitsConsumed() != 14 {
		t.Fatalf("TotalBitsConsumed = %d, want 14", r.TotalBitsConsumed())
	}
}

func TestOutOfBoundsLatches(t *testing.T) {
	r := NewReader([]byte{0xff})
	if got := r.ReadBits(8); got != 0xff {
		t.Fatalf("ReadBits(8) = %#x, want 0xff", got)
	}
	if !r.AllReadsWithinBounds() {
		t.Fatal("in-bounds read flagged out of bounds")
	}
	// Crossing the end pads with zeros and latches the flag.
	if got := r.ReadBits(4); got != 0 {
		t.Fatalf("past-end ReadBits(4) = %#x, want 0", got)
	}
	if r.AllReadsWithinBounds() {
		t.Fatal("out-of-bounds read not flagged")
	}
	// Flag stays latched.
	r2 := NewReader(nil)
	r2.ReadBits(1)
	if r2.AllReadsWithinBounds() {
		t.Fatal("read from empty buffer not flagged")
	}
}

func TestPeekAndSkip(t *testing.T) {
	w := NewWriter(0)
	w.WriteBits(0b101101, 6)
	r := NewReader(w.Finish())
	if got := r.PeekBits(3); got != 0b101 {
		t.Fatalf("PeekBits(3) = %#b, want 101", got)
	}
	if r.TotalBitsConsumed() != 0 {
		t.Fatal("peek consumed bits")
	}
	r.SkipBits(3)
	if got := r.ReadBits(3); got != 0b101 {
		t.Fatalf("after skip, ReadBits(3) = %#b, want 101", got)
	}
}
