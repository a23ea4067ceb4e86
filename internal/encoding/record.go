// Package encoding serializes query results: a JSON-ready record and
// NetCDF classic bytes.
package encoding

import (
	"math"
	"time"

	"github.com/mohammed-shakir/geotemporal-query/internal/catalog"
	"github.com/mohammed-shakir/geotemporal-query/internal/grid"
	"github.com/mohammed-shakir/geotemporal-query/internal/pipeline"
)

// TimeLayout formats record timestamps at second precision without a zone.
const TimeLayout = "2006-01-02T15:04:05"

const (
	unitAttr        = "unit of measurement"
	updateRangeAttr = "update_date_range"
)

// Record lays out a result as "times", one "<dim>s" list per other
// dimension, nested "data" with null for missing values and the order of
// the nesting in "dimensions_order".
func Record(res *pipeline.Result) map[string]any {
	d := res.Data
	out := map[string]any{
		unitAttr:   res.Attrs[unitAttr],
		"dataset":  res.Dataset,
		"variable": res.Variable,
	}
	order := make([]string, 0, len(d.Coords))
	for _, c := range d.Coords {
		if c.Role == grid.RoleTime {
			times := make([]string, len(c.Times))
			for i, t := range c.Times {
				times[i] = t.UTC().Format(TimeLayout)
			}
			out["times"] = times
			order = append(order, "time")
			continue
		}
		vals := make([]any, len(c.Values))
		for i, v := range c.Values {
			vals[i] = finite(v)
		}
		out[c.Name+"s"] = vals
		order = append(order, c.Name)
	}
	out["dimensions_order"] = order
	out["data"] = nest(d.Values, d.Shape())
	if catalog.UpdateInProgress(res.Attrs) {
		if r, ok := res.Attrs[updateRangeAttr]; ok {
			out[updateRangeAttr] = r
		}
	}
	out["provenance"] = provenance(res.Provenance)
	return out
}

func finite(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// nest reshapes C-ordered values into nested lists.
func nest(vals []float64, shape []int) any {
	if len(shape) == 0 {
		if len(vals) == 0 {
			return nil
		}
		return finite(vals[0])
	}
	n := shape[0]
	out := make([]any, n)
	if n == 0 {
		return out
	}
	step := len(vals) / n
	for i := range out {
		out[i] = nest(vals[i*step:(i+1)*step], shape[1:])
	}
	return out
}

func provenance(p pipeline.Provenance) map[string]any {
	stages := make([]string, len(p.Stages))
	for i, s := range p.Stages {
		stages[i] = s.String()
	}
	out := map[string]any{
		"id":            p.ID,
		"spatial":       p.Spatial,
		"spatial_cells": p.SpatialCells,
		"time_steps":    p.TimeSteps,
		"points":        p.Points,
		"aggregated":    p.Aggregated,
		"stages":        stages,
	}
	if p.Temporal != "" {
		out["temporal"] = p.Temporal
	}
	if p.Aggregation != "" {
		out["aggregation"] = p.Aggregation
	}
	if p.ForecastReferenceTime != nil {
		out["forecast_reference_time"] = p.ForecastReferenceTime.UTC().Format(time.RFC3339)
	}
	return out
}
