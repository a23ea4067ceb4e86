// Package gridtest builds small in-memory datasets for tests.
package gridtest

import (
	"time"

	"github.com/mohammed-shakir/geotemporal-query/internal/grid"
)

// New builds a dataset with dims (time, latitude, longitude) whose value at
// (t, i, j) is fn(t, i, j). A nil times slice yields (latitude, longitude).
func New(name string, lats, lons []float64, times []time.Time, fn func(t, i, j int) float64) *grid.Dataset {
	nt := len(times)
	if times == nil {
		nt = 1
	}
	values := make([]float64, 0, nt*len(lats)*len(lons))
	for t := 0; t < nt; t++ {
		for i := range lats {
			for j := range lons {
				values = append(values, fn(t, i, j))
			}
		}
	}
	ds := &grid.Dataset{
		Name:     name,
		Variable: "value",
		Attrs:    map[string]any{"unit of measurement": "unit"},
		Lat:      &grid.Axis{Name: "latitude", Values: lats},
		Lon:      &grid.Axis{Name: "longitude", Values: lons},
	}
	var err error
	if times == nil {
		ds.Array, err = grid.NewMemArray([]string{"latitude", "longitude"}, []int{len(lats), len(lons)}, values)
	} else {
		ds.Time = &grid.TimeAxis{Name: "time", Values: times}
		ds.Array, err = grid.NewMemArray([]string{"time", "latitude", "longitude"}, []int{len(times), len(lats), len(lons)}, values)
	}
	if err != nil {
		panic(err)
	}
	return ds
}

// Ensemble builds a dataset with dims (member, time, latitude, longitude)
// whose value at (m, t, i, j) is fn(m, t, i, j). Members are labelled 1..members.
func Ensemble(name string, members int, lats, lons []float64, times []time.Time, fn func(m, t, i, j int) float64) *grid.Dataset {
	values := make([]float64, 0, members*len(times)*len(lats)*len(lons))
	for m := 0; m < members; m++ {
		for t := range times {
			for i := range lats {
				for j := range lons {
					values = append(values, fn(m, t, i, j))
				}
			}
		}
	}
	arr, err := grid.NewMemArray(
		[]string{"member", "time", "latitude", "longitude"},
		[]int{members, len(times), len(lats), len(lons)},
		values,
	)
	if err != nil {
		panic(err)
	}
	return &grid.Dataset{
		Name:     name,
		Variable: "value",
		Attrs:    map[string]any{"unit of measurement": "unit"},
		Array:    arr,
		Lat:      &grid.Axis{Name: "latitude", Values: lats},
		Lon:      &grid.Axis{Name: "longitude", Values: lons},
		Time:     &grid.TimeAxis{Name: "time", Values: times},
		Labels:   map[string][]float64{"member": Steps(1, 1, members)},
	}
}

// Steps returns n evenly spaced values starting at from.
func Steps(from, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = from + float64(i)*step
	}
	return out
}

// Times returns n timestamps spaced by step.
func Times(start time.Time, step time.Duration, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.Add(time.Duration(i) * step)
	}
	return out
}

func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
