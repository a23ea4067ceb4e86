package aggregate

import (
	"math"
	"sort"

	"github.com/mohammed-shakir/geotemporal-query/internal/core/geoerr"
)

// Kernel reduces the valid (non-NaN) values of a group.
type Kernel func(valid []float64) float64

var kernels = map[string]Kernel{
	"mean":   mean,
	"sum":    sum,
	"min":    minimum,
	"max":    maximum,
	"std":    std,
	"median": median,
}

// Methods lists supported reduction names.
func Methods() []string {
	out := make([]string, 0, len(kernels))
	for k := range kernels {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func Lookup(method string) (Kernel, error) {
	k, ok := kernels[method]
	if !ok {
		return nil, geoerr.UnsupportedMethod("method", method)
	}
	return k, nil
}

// empty groups reduce to 0 for sum and NaN otherwise

func sum(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	return sum(v) / float64(len(v))
}

func minimum(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	m := v[0]
	for _, x := range v[1:] {
		m = math.Min(m, x)
	}
	return m
}

func maximum(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	m := v[0]
	for _, x := range v[1:] {
		m = math.Max(m, x)
	}
	return m
}

// std is the population standard deviation.
func std(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	mu := mean(v)
	ss := 0.0
	for _, x := range v {
		d := x - mu
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(v)))
}

func median(v []float64) float64 {
	n := len(v)
	if n == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
