package grid

import (
	"context"
	"math"
	"time"
)

// Subset is a lazy selection over a dataset: index lists per axis plus an
// optional spatial mask. Nothing is read until Materialize.
type Subset struct {
	Dataset *Dataset

	// LatIdx and LonIdx are sorted; nil selects the whole axis.
	LatIdx []int
	LonIdx []int
	// Mask is row-major over LatIdx × LonIdx; nil selects every cell.
	Mask []bool

	TimeIdx []int
}

func (s *Subset) latIdx() []int {
	if s.LatIdx == nil && s.Dataset.Lat != nil {
		return span(s.Dataset.Lat.Len())
	}
	return s.LatIdx
}

func (s *Subset) lonIdx() []int {
	if s.LonIdx == nil && s.Dataset.Lon != nil {
		return span(s.Dataset.Lon.Len())
	}
	return s.LonIdx
}

func (s *Subset) timeIdx() []int {
	if s.TimeIdx == nil && s.Dataset.Time != nil {
		return span(s.Dataset.Time.Len())
	}
	return s.TimeIdx
}

// SpatialCells counts selected lat/lon cells; 1 for datasets without a grid.
func (s *Subset) SpatialCells() int64 {
	if s.Mask != nil {
		var n int64
		for _, ok := range s.Mask {
			if ok {
				n++
			}
		}
		return n
	}
	n := int64(1)
	if s.Dataset.Lat != nil {
		n *= int64(len(s.latIdx()))
	}
	if s.Dataset.Lon != nil {
		n *= int64(len(s.lonIdx()))
	}
	return n
}

// TimeSteps counts selected time steps; 1 for datasets without time.
func (s *Subset) TimeSteps() int64 {
	if s.Dataset.Time == nil {
		return 1
	}
	return int64(len(s.timeIdx()))
}

// OtherPoints is the product of the remaining, unpinned dimension sizes.
func (s *Subset) OtherPoints() int64 {
	ds := s.Dataset
	n := int64(1)
	shape := ds.Array.Shape()
	for i, dim := range ds.Array.Dims() {
		if _, fixed := ds.Fixed[dim]; fixed {
			continue
		}
		if ds.Role(dim) == RoleOther {
			n *= int64(shape[i])
		}
	}
	return n
}

// Materialize performs the single bulk read of the subset. Cells outside
// the mask are NaN and pinned dimensions are dropped.
func (s *Subset) Materialize(ctx context.Context) (*Dense, error) {
	ds := s.Dataset
	dims, shape := ds.Array.Dims(), ds.Array.Shape()

	idx := make([][]int, len(dims))
	var coords []Coord
	latD, lonD := -1, -1
	for d, name := range dims {
		if i, fixed := ds.Fixed[name]; fixed {
			idx[d] = []int{i}
			continue
		}
		c := Coord{Name: name, Role: ds.Role(name)}
		switch c.Role {
		case RoleLat:
			idx[d] = s.latIdx()
			c.Values = pick(ds.Lat.Values, idx[d])
			latD = d
		case RoleLon:
			idx[d] = s.lonIdx()
			c.Values = pick(ds.Lon.Values, idx[d])
			lonD = d
		case RoleTime:
			idx[d] = s.timeIdx()
			c.Times = make([]time.Time, len(idx[d]))
			for k, i := range idx[d] {
				c.Times[k] = ds.Time.Values[i]
			}
		default:
			idx[d] = span(shape[d])
			if labels, ok := ds.Labels[name]; ok && len(labels) == shape[d] {
				c.Values = append([]float64(nil), labels...)
			} else {
				c.Values = make([]float64, shape[d])
				for i := range c.Values {
					c.Values[i] = float64(i)
				}
			}
		}
		coords = append(coords, c)
	}

	values, err := ds.Array.Read(ctx, idx)
	if err != nil {
		return nil, err
	}

	if s.Mask != nil && latD >= 0 && lonD >= 0 {
		sizes := make([]int, len(idx))
		for d := range idx {
			sizes[d] = len(idx[d])
		}
		strides := stridesOf(sizes)
		nLon := sizes[lonD]
		for k := range values {
			li := (k / strides[latD]) % sizes[latD]
			lj := (k / strides[lonD]) % sizes[lonD]
			if !s.Mask[li*nLon+lj] {
				values[k] = math.NaN()
			}
		}
	}
	return &Dense{Coords: coords, Values: values}, nil
}

func span(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func pick(vals []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for k, i := range idx {
		out[k] = vals[i]
	}
	return out
}

func stridesOf(shape []int) []int {
	st := make([]int, len(shape))
	acc := 1
	for d := len(shape) - 1; d >= 0; d-- {
		st[d] = acc
		acc *= shape[d]
	}
	return st
}
