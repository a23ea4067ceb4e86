// Package grid holds the gridded dataset handle, lazy subsets over it and
// the dense arrays produced by materializing a subset.
package grid

import (
	"context"
	"fmt"
	"time"
)

// Array is a lazily read N-dimensional array.
type Array interface {
	Dims() []string
	Shape() []int
	// Read returns the orthogonal selection idx (one sorted index list per
	// dimension, nil meaning the whole dimension) in C order.
	Read(ctx context.Context, idx [][]int) ([]float64, error)
}

type Axis struct {
	Name   string
	Values []float64
}

func (a *Axis) Len() int { return len(a.Values) }

type TimeAxis struct {
	Name   string
	Values []time.Time
}

func (a *TimeAxis) Len() int { return len(a.Values) }

type Dataset struct {
	Name     string
	Variable string
	Attrs    map[string]any
	Array    Array

	Lat  *Axis
	Lon  *Axis
	Time *TimeAxis

	// Labels holds coordinate values for the remaining dimensions, if known.
	Labels map[string][]float64
	// Fixed pins dimensions to a single index; they are dropped on materialize.
	Fixed map[string]int

	Forecast *Forecast
}

// Forecast describes datasets indexed by reference time and lead time
// instead of a plain time axis.
type Forecast struct {
	RefDim   string
	RefTimes []time.Time
	StepDim  string
	Steps    []time.Duration
}

// AtReferenceTime pins the reference time and exposes reference+step as
// the time axis. ok is false when ref is not a reference time.
func (d *Dataset) AtReferenceTime(ref time.Time) (*Dataset, bool) {
	f := d.Forecast
	for i, t := range f.RefTimes {
		if !t.Equal(ref) {
			continue
		}
		times := make([]time.Time, len(f.Steps))
		for k, s := range f.Steps {
			times[k] = t.Add(s).UTC()
		}
		cp := d.WithFixed(f.RefDim, i, &TimeAxis{Name: f.StepDim, Values: times})
		cp.Forecast = nil
		return cp, true
	}
	return nil, false
}

type Role int

const (
	RoleOther Role = iota
	RoleLat
	RoleLon
	RoleTime
)

func (d *Dataset) Role(dim string) Role {
	switch {
	case d.Lat != nil && dim == d.Lat.Name:
		return RoleLat
	case d.Lon != nil && dim == d.Lon.Name:
		return RoleLon
	case d.Time != nil && dim == d.Time.Name:
		return RoleTime
	}
	return RoleOther
}

// Validate checks that every axis names an array dimension of matching length.
func (d *Dataset) Validate() error {
	if d.Array == nil {
		return fmt.Errorf("dataset %q: no array", d.Name)
	}
	dims, shape := d.Array.Dims(), d.Array.Shape()
	if len(dims) != len(shape) {
		return fmt.Errorf("dataset %q: %d dims but shape has %d entries", d.Name, len(dims), len(shape))
	}
	check := func(name string, n int) error {
		for i, dim := range dims {
			if dim == name {
				if shape[i] != n {
					return fmt.Errorf("dataset %q: axis %q has %d values, dimension has %d", d.Name, name, n, shape[i])
				}
				return nil
			}
		}
		return fmt.Errorf("dataset %q: axis %q is not an array dimension", d.Name, name)
	}
	if d.Lat != nil {
		if err := check(d.Lat.Name, d.Lat.Len()); err != nil {
			return err
		}
	}
	if d.Lon != nil {
		if err := check(d.Lon.Name, d.Lon.Len()); err != nil {
			return err
		}
	}
	if d.Time != nil {
		if err := check(d.Time.Name, d.Time.Len()); err != nil {
			return err
		}
	}
	for name, i := range d.Fixed {
		found := false
		for k, dim := range dims {
			if dim == name {
				found = true
				if i < 0 || i >= shape[k] {
					return fmt.Errorf("dataset %q: fixed index %d out of range for %q", d.Name, i, name)
				}
			}
		}
		if !found {
			return fmt.Errorf("dataset %q: fixed dimension %q is not an array dimension", d.Name, name)
		}
	}
	return nil
}

// All returns a subset covering the whole dataset.
func (d *Dataset) All() *Subset { return &Subset{Dataset: d} }

// WithFixed returns a shallow copy of d with dim pinned to index i and the
// time axis replaced.
func (d *Dataset) WithFixed(dim string, i int, timeAxis *TimeAxis) *Dataset {
	cp := *d
	cp.Fixed = make(map[string]int, len(d.Fixed)+1)
	for k, v := range d.Fixed {
		cp.Fixed[k] = v
	}
	cp.Fixed[dim] = i
	cp.Time = timeAxis
	return &cp
}

// Attr returns a string attribute or "".
func (d *Dataset) Attr(key string) string {
	if v, ok := d.Attrs[key].(string); ok {
		return v
	}
	return ""
}
