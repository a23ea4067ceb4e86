// Package spatial turns point, rectangle, circle and polygon queries into
// index selections over a dataset's latitude/longitude grid.
package spatial

import (
	"math"

	"github.com/mohammed-shakir/geotemporal-query/internal/coords"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/geoerr"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/model"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0088

// ExactTolerance is how far (in degrees) an exact point lookup may be from
// a grid coordinate.
const ExactTolerance = 1e-4

// Selection holds sorted lat/lon storage indices and an optional row-major
// mask over their cross product.
type Selection struct {
	LatIdx []int
	LonIdx []int
	Mask   []bool
	Cells  int64
}

// Select dispatches on the query kind.
func Select(ix *coords.Index, q model.SpatialQuery) (*Selection, error) {
	if err := ix.Require(true, false); err != nil {
		return nil, err
	}
	var (
		sel *Selection
		err error
	)
	switch q.Kind {
	case model.KindPoint:
		if q.Point == nil {
			return nil, geoerr.Configuration("point", "point query has no coordinates")
		}
		sel, err = selectPoint(ix, *q.Point)
	case model.KindRectangle:
		if q.Rectangle == nil {
			return nil, geoerr.Configuration("rectangle", "rectangle query has no bounds")
		}
		sel, err = selectRectangle(ix, *q.Rectangle)
	case model.KindCircle:
		if q.Circle == nil {
			return nil, geoerr.Configuration("circle", "circle query has no center")
		}
		sel, err = selectCircle(ix, *q.Circle)
	case model.KindPolygon:
		if q.Polygon == nil {
			return nil, geoerr.Configuration("polygon", "polygon query has no vertices")
		}
		sel, err = selectPolygon(ix, *q.Polygon)
	default:
		return nil, geoerr.Configuration("spatial", "unknown spatial query kind %q", q.Kind)
	}
	if err != nil {
		return nil, err
	}
	if sel.Cells == 0 {
		return nil, geoerr.EmptySelection(string(q.Kind), "no grid cells fall inside %s", q.String())
	}
	return sel, nil
}

func selectPoint(ix *coords.Index, p model.Point) (*Selection, error) {
	if err := checkLatLon("point", p.Lat, p.Lon); err != nil {
		return nil, err
	}
	i, err := nearest(ix.Lat, "latitude", p.Lat, p.Exact, ix.Resolution)
	if err != nil {
		return nil, err
	}
	j, err := nearest(ix.Lon, "longitude", p.Lon, p.Exact, ix.Resolution)
	if err != nil {
		return nil, err
	}
	return &Selection{LatIdx: []int{i}, LonIdx: []int{j}, Cells: 1}, nil
}

func nearest(a *coords.Axis, param string, v float64, exact bool, resolution float64) (int, error) {
	i, dist := a.Nearest(v)
	if exact {
		if dist > ExactTolerance {
			return 0, geoerr.CoordinateNotFound(param, "no grid coordinate at %g (closest is %g)", v, a.Values[i])
		}
		return i, nil
	}
	width := a.Step(resolution)
	if width == 0 {
		// single-value axis with no declared resolution: always snap
		return i, nil
	}
	if v < a.Min()-width-coords.Eps || v > a.Max()+width+coords.Eps {
		return 0, geoerr.CoordinateNotFound(param, "%g is more than one cell (%g) outside the axis range [%g, %g]", v, width, a.Min(), a.Max())
	}
	return i, nil
}

func selectRectangle(ix *coords.Index, r model.Rectangle) (*Selection, error) {
	if r.MinLat > r.MaxLat {
		return nil, geoerr.Configuration("rectangle", "min_lat %g > max_lat %g", r.MinLat, r.MaxLat)
	}
	if r.MinLon > r.MaxLon {
		return nil, geoerr.Configuration("rectangle", "min_lon %g > max_lon %g", r.MinLon, r.MaxLon)
	}
	lat := ix.Lat.Range(r.MinLat, r.MaxLat)
	lon := ix.Lon.Range(r.MinLon, r.MaxLon)
	return &Selection{LatIdx: lat, LonIdx: lon, Cells: int64(len(lat) * len(lon))}, nil
}

func checkLatLon(param string, lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return geoerr.Configuration(param, "coordinates must be finite, got (%g, %g)", lat, lon)
	}
	if lat < -90 || lat > 90 {
		return geoerr.Configuration(param, "latitude %g outside [-90, 90]", lat)
	}
	return nil
}

// masked builds a selection from candidate index lists and an inclusion
// predicate, trimming rows and columns with no selected cell.
func masked(latIdx, lonIdx []int, inside func(i, j int) bool) *Selection {
	full := make([]bool, len(latIdx)*len(lonIdx))
	rowHit := make([]bool, len(latIdx))
	colHit := make([]bool, len(lonIdx))
	for r, i := range latIdx {
		for c, j := range lonIdx {
			if inside(i, j) {
				full[r*len(lonIdx)+c] = true
				rowHit[r], colHit[c] = true, true
			}
		}
	}
	sel := &Selection{}
	var rows, cols []int
	for r, hit := range rowHit {
		if hit {
			rows = append(rows, r)
			sel.LatIdx = append(sel.LatIdx, latIdx[r])
		}
	}
	for c, hit := range colHit {
		if hit {
			cols = append(cols, c)
			sel.LonIdx = append(sel.LonIdx, lonIdx[c])
		}
	}
	sel.Mask = make([]bool, len(rows)*len(cols))
	for a, r := range rows {
		for b, c := range cols {
			if full[r*len(lonIdx)+c] {
				sel.Mask[a*len(cols)+b] = true
				sel.Cells++
			}
		}
	}
	return sel
}
