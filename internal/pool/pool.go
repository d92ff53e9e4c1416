// Package pool provides bucketed sync.Pool instances for reducing allocations
// in hot paths. The modular coder allocates per-row int32 scratch buffers
// (property vectors, reference rows, predictor error rows) for every channel
// traversal; pooling them keeps the per-channel setup cost flat.
package pool

import "sync"

// Size classes for bucketed pools, in int32 elements.
const (
	Size64   = 64
	Size256  = 256
	Size1K   = 1024
	Size4K   = 4096
	Size16K  = 16384
	Size64K  = 65536
	Size256K = 262144
)

var sizes = [7]int{Size64, Size256, Size1K, Size4K, Size16K, Size64K, Size256K}

// bucketIndex returns the pool index for a given element count.
func bucketIndex(n int) int {
	switch {
	case n <= Size64:
		return 0
	case n <= Size256:
		return 1
	case n <= Size1K:
		return 2
	case n <= Size4K:
		return 3
	case n <= Size16K:
		return 4
	case n <= Size64K:
		return 5
	default:
		return 6
	}
}

var pools [7]sync.Pool

func init() {
	for i := range pools {
		sz := sizes[i]
		pools[i] = sync.Pool{
			New: func() any {
				b := make([]int32, sz)
				return &b
			},
		}
	}
}

// GetInt32 returns a zeroed int32 slice of exactly the requested length
// from the pool. The caller must call PutInt32 when done.
func GetInt32(n int) []int32 {
	idx := bucketIndex(n)
	bp := pools[idx].Get().(*[]int32)
	b := *bp
	if cap(b) < n {
		b = make([]int32, n)
		*bp = b
	}
	b = b[:n]
	for i := range b {
		b[i] = 0
	}
	return b
}

// PutInt32 returns a slice to the pool. The slice must have been
// obtained from GetInt32. Slices smaller than the smallest size class
// are not pooled.
func PutInt32(b []int32) {
	c := cap(b)
	if c < Size64 {
		return
	}
	idx := bucketIndex(c)
	b = b[:c]
	pools[idx].Put(&b)
}
