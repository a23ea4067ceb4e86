// Package aggregate reduces materialized arrays over space and time with
// missing-data-aware kernels.
package aggregate

import (
	"math"
	"time"

	"github.com/mohammed-shakir/geotemporal-query/internal/core/geoerr"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/model"
	"github.com/mohammed-shakir/geotemporal-query/internal/grid"
)

// Validate checks an aggregation against the dataset shape before any data is read.
func Validate(agg model.AggregationSpec, hasTime bool, kind model.SpatialKind) error {
	for _, d := range agg.Dims {
		if d != model.AggSpatial && d != model.AggTemporal {
			return geoerr.Configuration("aggregation.dims", "unknown aggregation dimension %q", d)
		}
	}
	if len(agg.Dims) > 0 {
		if _, err := Lookup(agg.Method); err != nil {
			return err
		}
	}
	if agg.Has(model.AggSpatial) && kind == model.KindPoint {
		return geoerr.Configuration("aggregation.dims", "spatial aggregation needs a rectangle, circle or polygon selection")
	}
	if agg.Frequency != "" && !agg.Has(model.AggTemporal) {
		return geoerr.Configuration("aggregation.frequency", "frequency %q given without temporal aggregation", agg.Frequency)
	}
	if _, err := ParseFrequency(agg.Frequency); err != nil {
		return err
	}
	if agg.Unit < 0 {
		return geoerr.Configuration("aggregation.unit", "unit must be >= 1, got %d", agg.Unit)
	}
	if (agg.Has(model.AggTemporal) || agg.Rolling != nil) && !hasTime {
		return geoerr.Configuration("aggregation.dims", "temporal aggregation requested but the dataset has no time axis")
	}
	if r := agg.Rolling; r != nil {
		if agg.Has(model.AggTemporal) {
			return geoerr.Configuration("aggregation.rolling", "rolling and temporal aggregation are mutually exclusive")
		}
		if r.Window < 1 {
			return geoerr.Configuration("aggregation.rolling.window", "window must be >= 1, got %d", r.Window)
		}
		if _, err := Lookup(rollingMethod(agg)); err != nil {
			return err
		}
	}
	return nil
}

func rollingMethod(agg model.AggregationSpec) string {
	if agg.Rolling != nil && agg.Rolling.Method != "" {
		return agg.Rolling.Method
	}
	return agg.Method
}

// Apply runs spatial reduction first, then temporal resampling or rolling.
func Apply(d *grid.Dense, agg model.AggregationSpec) (*grid.Dense, error) {
	out := d
	if agg.Has(model.AggSpatial) {
		k, err := Lookup(agg.Method)
		if err != nil {
			return nil, err
		}
		if out, err = Spatial(out, k); err != nil {
			return nil, err
		}
	}
	switch {
	case agg.Rolling != nil:
		k, err := Lookup(rollingMethod(agg))
		if err != nil {
			return nil, err
		}
		out, err = Rolling(out, agg.Rolling.Window, k)
		if err != nil {
			return nil, err
		}
	case agg.Has(model.AggTemporal):
		k, err := Lookup(agg.Method)
		if err != nil {
			return nil, err
		}
		f, err := ParseFrequency(agg.Frequency)
		if err != nil {
			return nil, err
		}
		out, err = Resample(out, f, agg.Unit, k)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Spatial collapses the latitude and longitude dimensions.
func Spatial(d *grid.Dense, k Kernel) (*grid.Dense, error) {
	lat, lon := d.DimOf(grid.RoleLat), d.DimOf(grid.RoleLon)
	if lat < 0 || lon < 0 {
		return nil, geoerr.Configuration("aggregation.dims", "spatial aggregation needs latitude and longitude dimensions")
	}
	return collapse(d, map[int]bool{lat: true, lon: true}, k), nil
}

// Resample reduces each calendar group of the time dimension.
func Resample(d *grid.Dense, f Frequency, unit int, k Kernel) (*grid.Dense, error) {
	td := d.DimOf(grid.RoleTime)
	if td < 0 {
		return nil, geoerr.MissingAxis("time")
	}
	labels, groups := Groups(d.Coords[td].Times, f, unit)
	return along(d, td, labels, groups, k), nil
}

// Rolling reduces a trailing window of size steps ending at each time step;
// the first size-1 steps have no complete window and are dropped.
func Rolling(d *grid.Dense, size int, k Kernel) (*grid.Dense, error) {
	td := d.DimOf(grid.RoleTime)
	if td < 0 {
		return nil, geoerr.MissingAxis("time")
	}
	times := d.Coords[td].Times
	if size < 1 || size > len(times) {
		return nil, geoerr.Configuration("aggregation.rolling.window", "window %d must be between 1 and the %d selected time steps", size, len(times))
	}
	labels := make([]time.Time, 0, len(times)-size+1)
	groups := make([][]int, 0, len(times)-size+1)
	for end := size - 1; end < len(times); end++ {
		g := make([]int, size)
		for i := range g {
			g[i] = end - size + 1 + i
		}
		labels = append(labels, times[end])
		groups = append(groups, g)
	}
	return along(d, td, labels, groups, k), nil
}

func valid(buf, vals []float64) []float64 {
	buf = buf[:0]
	for _, v := range vals {
		if !math.IsNaN(v) {
			buf = append(buf, v)
		}
	}
	return buf
}

// collapse removes the dims in drop, reducing over them.
func collapse(d *grid.Dense, drop map[int]bool, k Kernel) *grid.Dense {
	shape, strides := d.Shape(), d.Strides()
	var coords []grid.Coord
	var keptShape []int
	for i, c := range d.Coords {
		if !drop[i] {
			coords = append(coords, c)
			keptShape = append(keptShape, shape[i])
		}
	}
	keptStrides := make([]int, len(keptShape))
	acc := 1
	for i := len(keptShape) - 1; i >= 0; i-- {
		keptStrides[i] = acc
		acc *= keptShape[i]
	}
	buckets := make([][]float64, acc)
	for flat, v := range d.Values {
		o, kd := 0, 0
		for i := range shape {
			if drop[i] {
				continue
			}
			o += ((flat / strides[i]) % shape[i]) * keptStrides[kd]
			kd++
		}
		buckets[o] = append(buckets[o], v)
	}
	out := &grid.Dense{Coords: coords, Values: make([]float64, acc)}
	var buf []float64
	for o, b := range buckets {
		buf = valid(buf, b)
		out.Values[o] = k(buf)
	}
	return out
}

// along reduces dimension dim by groups of positions, relabelling its times.
func along(d *grid.Dense, dim int, labels []time.Time, groups [][]int, k Kernel) *grid.Dense {
	shape, strides := d.Shape(), d.Strides()
	outShape := append([]int(nil), shape...)
	outShape[dim] = len(groups)
	coords := append([]grid.Coord(nil), d.Coords...)
	coords[dim] = grid.Coord{Name: d.Coords[dim].Name, Role: d.Coords[dim].Role, Times: labels}
	out := &grid.Dense{Coords: coords}
	outStrides := out.Strides()
	n := 1
	for _, s := range outShape {
		n *= s
	}
	out.Values = make([]float64, n)

	var gather, buf []float64
	for o := range out.Values {
		base := 0
		for i := range outShape {
			if i == dim {
				continue
			}
			base += ((o / outStrides[i]) % outShape[i]) * strides[i]
		}
		g := groups[(o/outStrides[dim])%outShape[dim]]
		gather = gather[:0]
		for _, t := range g {
			gather = append(gather, d.Values[base+t*strides[dim]])
		}
		buf = valid(buf, gather)
		out.Values[o] = k(buf)
	}
	return out
}
