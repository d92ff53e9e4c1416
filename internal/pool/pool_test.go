package pool

import "testing"

func TestGetInt32Sizes(t *testing.T) {
	for _, n := range []int{1, 64, 65, 1000, 5000, 300000} {
		b := GetInt32(n)
		if len(b) != n {
			t.Fatalf("GetInt32(%d) len = %d", n, len(b))
		}
		for i := range b {
			if b[i] != 0 {
				t.Fatalf("GetInt32(%d)[%d] = %d, want 0", n, i, b[i])
			}
		}
		PutInt32(b)
	}
}

func TestReuseIsZeroed(t *testing.T) {
	b := GetInt32(128)
	for i := range b {
		b[i] = int32(i) + 1
	}
	PutInt32(b)
	c := GetInt32(128)
	for i := range c {
		if c[i] != 0 {
			t.Fatalf("reused buffer not zeroed at %d: %d", i, c[i])
		}
	}
	PutInt32(c)
}

func TestBucketIndex(t *testing.T) {
	cases := []struct{ n, want int }{
		{1, 0}, {64, 0}, {65, 1}, {256, 1}, {1024, 2}, {4096, 3},
		{16384, 4}, {65536, 5}, {65537, 6},
	}
	for _, c := range cases {
		if got := bucketIndex(c.n); got != c.want {
			t.Errorf("bucketIndex(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}
