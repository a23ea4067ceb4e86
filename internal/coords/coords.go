// Package coords indexes the latitude, longitude and time axes of a dataset.
package coords

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mohammed-shakir/geotemporal-query/internal/core/geoerr"
	"github.com/mohammed-shakir/geotemporal-query/internal/grid"
)

// Eps absorbs float noise in inclusive boundary comparisons.
const Eps = 1e-9

type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "descending"
	}
	return "ascending"
}

// Axis is a monotonic numeric axis.
type Axis struct {
	Name   string
	Values []float64
	Dir    Direction
}

type Index struct {
	Lat  *Axis
	Lon  *Axis
	Time *grid.TimeAxis
	// Resolution is the dataset's declared spatial resolution, 0 if absent.
	Resolution float64
}

func New(ds *grid.Dataset) (*Index, error) {
	ix := &Index{Time: ds.Time}
	var err error
	if ds.Lat != nil {
		if ix.Lat, err = newAxis(ds.Lat); err != nil {
			return nil, err
		}
	}
	if ds.Lon != nil {
		if ix.Lon, err = newAxis(ds.Lon); err != nil {
			return nil, err
		}
	}
	if ds.Time != nil {
		for i := 1; i < len(ds.Time.Values); i++ {
			if !ds.Time.Values[i].After(ds.Time.Values[i-1]) {
				return nil, geoerr.Configuration(ds.Time.Name, "time axis is not strictly increasing at index %d", i)
			}
		}
	}
	switch v := ds.Attrs["spatial resolution"].(type) {
	case float64:
		ix.Resolution = math.Abs(v)
	case int:
		ix.Resolution = math.Abs(float64(v))
	}
	return ix, nil
}

func newAxis(a *grid.Axis) (*Axis, error) {
	out := &Axis{Name: a.Name, Values: a.Values}
	if len(a.Values) == 0 {
		return nil, geoerr.Configuration(a.Name, "axis is empty")
	}
	if len(a.Values) > 1 && a.Values[1] < a.Values[0] {
		out.Dir = Descending
	}
	for i := 1; i < len(a.Values); i++ {
		prev, cur := a.Values[i-1], a.Values[i]
		if (out.Dir == Ascending && cur <= prev) || (out.Dir == Descending && cur >= prev) {
			return nil, geoerr.Configuration(a.Name, "axis is not strictly monotonic at index %d", i)
		}
	}
	return out, nil
}

// Require fails with a missing-axis error when the dataset lacks what a
// query needs.
func (ix *Index) Require(spatial, temporal bool) error {
	if spatial {
		if ix.Lat == nil {
			return geoerr.MissingAxis("latitude")
		}
		if ix.Lon == nil {
			return geoerr.MissingAxis("longitude")
		}
	}
	if temporal && ix.Time == nil {
		return geoerr.MissingAxis("time")
	}
	return nil
}

func (a *Axis) Len() int { return len(a.Values) }

func (a *Axis) Min() float64 {
	if a.Dir == Ascending {
		return a.Values[0]
	}
	return a.Values[len(a.Values)-1]
}

func (a *Axis) Max() float64 {
	if a.Dir == Ascending {
		return a.Values[len(a.Values)-1]
	}
	return a.Values[0]
}

// Step is the cell width, or fallback for single-value axes.
func (a *Axis) Step(fallback float64) float64 {
	if len(a.Values) < 2 {
		return fallback
	}
	return math.Abs(a.Values[1] - a.Values[0])
}

// lowerBound returns the first storage index whose value is >= v (ascending)
// or <= v (descending).
func (a *Axis) lowerBound(v float64) int {
	if a.Dir == Ascending {
		return sort.SearchFloat64s(a.Values, v)
	}
	return sort.Search(len(a.Values), func(i int) bool { return a.Values[i] <= v })
}

// Nearest returns the index of the value closest to v; ties resolve to the
// lower index.
func (a *Axis) Nearest(v float64) (int, float64) {
	i := a.lowerBound(v)
	best, bestDist := -1, math.Inf(1)
	for _, k := range []int{i - 1, i} {
		if k < 0 || k >= len(a.Values) {
			continue
		}
		d := math.Abs(a.Values[k] - v)
		if d < bestDist || (d == bestDist && k < best) {
			best, bestDist = k, d
		}
	}
	return best, bestDist
}

// Range returns the contiguous, sorted storage indices whose values fall in
// [lo, hi], regardless of axis direction.
func (a *Axis) Range(lo, hi float64) []int {
	if lo > hi {
		return nil
	}
	var first, last int
	if a.Dir == Ascending {
		first = sort.SearchFloat64s(a.Values, lo-Eps)
		last = sort.Search(len(a.Values), func(i int) bool { return a.Values[i] > hi+Eps }) - 1
	} else {
		first = sort.Search(len(a.Values), func(i int) bool { return a.Values[i] <= hi+Eps })
		last = sort.Search(len(a.Values), func(i int) bool { return a.Values[i] < lo-Eps }) - 1
	}
	if first > last {
		return nil
	}
	out := make([]int, 0, last-first+1)
	for i := first; i <= last; i++ {
		out = append(out, i)
	}
	return out
}

// TimeRange returns indices of timestamps in [start, end].
func (ix *Index) TimeRange(start, end time.Time) []int {
	vals := ix.Time.Values
	first := sort.Search(len(vals), func(i int) bool { return !vals[i].Before(start) })
	var out []int
	for i := first; i < len(vals) && !vals[i].After(end); i++ {
		out = append(out, i)
	}
	return out
}

// TimeIndex returns the index of an exact timestamp.
func (ix *Index) TimeIndex(ts time.Time) (int, bool) {
	vals := ix.Time.Values
	i := sort.Search(len(vals), func(i int) bool { return !vals[i].Before(ts) })
	if i < len(vals) && vals[i].Equal(ts) {
		return i, true
	}
	return -1, false
}

func (a *Axis) String() string {
	return fmt.Sprintf("%s[%d, %s, %g..%g]", a.Name, len(a.Values), a.Dir, a.Min(), a.Max())
}
