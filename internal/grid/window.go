package grid

import (
	"context"
	"fmt"
)

// Window restricts one dimension of arr to the half-open index range
// [lo, hi). Reads are translated to the underlying array.
func Window(arr Array, dim string, lo, hi int) (Array, error) {
	dims, shape := arr.Dims(), arr.Shape()
	for i, d := range dims {
		if d != dim {
			continue
		}
		if lo < 0 || hi > shape[i] || lo >= hi {
			return nil, fmt.Errorf("window [%d, %d) out of range for %q of length %d", lo, hi, dim, shape[i])
		}
		return &window{Array: arr, dim: i, lo: lo, hi: hi}, nil
	}
	return nil, fmt.Errorf("window: %q is not a dimension", dim)
}

type window struct {
	Array
	dim    int
	lo, hi int
}

func (w *window) Shape() []int {
	s := append([]int(nil), w.Array.Shape()...)
	s[w.dim] = w.hi - w.lo
	return s
}

func (w *window) Read(ctx context.Context, idx [][]int) ([]float64, error) {
	if len(idx) != len(w.Array.Dims()) {
		return nil, fmt.Errorf("window: selection rank %d", len(idx))
	}
	moved := make([][]int, len(idx))
	copy(moved, idx)
	src := idx[w.dim]
	if src == nil {
		src = span(w.hi - w.lo)
	}
	out := make([]int, len(src))
	for k, v := range src {
		if v < 0 || v >= w.hi-w.lo {
			return nil, fmt.Errorf("window: index %d out of range", v)
		}
		out[k] = v + w.lo
	}
	moved[w.dim] = out
	return w.Array.Read(ctx, moved)
}
