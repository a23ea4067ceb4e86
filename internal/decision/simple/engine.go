package simple

import (
	"github.com/mohammed-shakir/geotemporal-query/internal/decision"
	"github.com/mohammed-shakir/geotemporal-query/internal/hotness"
)

// Engine admits a result once any cell of its footprint is requested
// often enough. A footprint without cells counts under hotness.WideCell.
type Engine struct {
	Hot       hotness.Interface
	Threshold float64
}

var _ decision.Interface = (*Engine)(nil)

func (e *Engine) Admit(dataset string, cells []string) bool {
	if e.Hot == nil || e.Threshold <= 0 {
		return true
	}
	if len(cells) == 0 {
		cells = []string{hotness.WideCell}
	}
	hot := false
	for _, c := range cells {
		e.Hot.Inc(dataset, c)
		if e.Hot.Score(dataset, c) >= e.Threshold {
			hot = true
		}
	}
	return hot
}
