package grid

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Coord labels one dimension of a Dense array. Time dimensions carry Times,
// all others Values.
type Coord struct {
	Name   string
	Role   Role
	Values []float64
	Times  []time.Time
}

func (c Coord) Len() int {
	if c.Role == RoleTime {
		return len(c.Times)
	}
	return len(c.Values)
}

// Dense is a materialized array in C order.
type Dense struct {
	Coords []Coord
	Values []float64
}

func (d *Dense) Dims() []string {
	out := make([]string, len(d.Coords))
	for i, c := range d.Coords {
		out[i] = c.Name
	}
	return out
}

func (d *Dense) Shape() []int {
	out := make([]int, len(d.Coords))
	for i, c := range d.Coords {
		out[i] = c.Len()
	}
	return out
}

func (d *Dense) Strides() []int { return stridesOf(d.Shape()) }

// DimOf returns the position of the first dimension with role r, or -1.
func (d *Dense) DimOf(r Role) int {
	for i, c := range d.Coords {
		if c.Role == r {
			return i
		}
	}
	return -1
}

func (d *Dense) At(pos ...int) float64 {
	st := d.Strides()
	k := 0
	for i, p := range pos {
		k += p * st[i]
	}
	return d.Values[k]
}

// AllMissing reports whether every value is NaN.
func (d *Dense) AllMissing() bool {
	for _, v := range d.Values {
		if !math.IsNaN(v) {
			return false
		}
	}
	return true
}

// MemArray is an in-memory Array.
type MemArray struct {
	dims   []string
	shape  []int
	values []float64
}

func NewMemArray(dims []string, shape []int, values []float64) (*MemArray, error) {
	if len(dims) != len(shape) {
		return nil, fmt.Errorf("mem array: %d dims, %d shape entries", len(dims), len(shape))
	}
	n := 1
	for _, s := range shape {
		n *= s
	}
	if n != len(values) {
		return nil, fmt.Errorf("mem array: shape %v needs %d values, got %d", shape, n, len(values))
	}
	return &MemArray{dims: dims, shape: shape, values: values}, nil
}

func (m *MemArray) Dims() []string { return m.dims }
func (m *MemArray) Shape() []int   { return m.shape }

func (m *MemArray) Read(ctx context.Context, idx [][]int) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(idx) != len(m.shape) {
		return nil, fmt.Errorf("mem array: selection has %d dims, array has %d", len(idx), len(m.shape))
	}
	sel := make([][]int, len(idx))
	total := 1
	for d := range idx {
		sel[d] = idx[d]
		if sel[d] == nil {
			sel[d] = span(m.shape[d])
		}
		for _, i := range sel[d] {
			if i < 0 || i >= m.shape[d] {
				return nil, fmt.Errorf("mem array: index %d out of range for dim %q", i, m.dims[d])
			}
		}
		total *= len(sel[d])
	}
	st := stridesOf(m.shape)
	out := make([]float64, 0, total)
	if total == 0 {
		return out, nil
	}
	pos := make([]int, len(sel))
	for {
		k := 0
		for d, p := range pos {
			k += sel[d][p] * st[d]
		}
		out = append(out, m.values[k])
		d := len(pos) - 1
		for ; d >= 0; d-- {
			pos[d]++
			if pos[d] < len(sel[d]) {
				break
			}
			pos[d] = 0
		}
		if d < 0 {
			return out, nil
		}
	}
}
