package h3mapper

import (
	"errors"
	"fmt"
	"math"
	"sort"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/geotemporal-query/internal/core/model"
	"github.com/mohammed-shakir/geotemporal-query/internal/mapper"
)

type Mapper struct{}

var _ mapper.Interface = (*Mapper)(nil)

func New() *Mapper { return &Mapper{} }

// average hexagon edge length in km by resolution
var edgeKm = [16]float64{
	1281.256, 483.057, 182.513, 68.979, 26.072, 9.854, 3.725, 1.406,
	0.531, 0.201, 0.076, 0.029, 0.011, 0.004, 0.0015, 0.00058,
}

const kmPerDegree = 111.32

// CellsForBBox samples bb on a grid finer than the cells and widens the
// sampled cells by one ring, so every cell touching bb is included.
// Boxes with MinLon > MaxLon cross the antimeridian.
func (m *Mapper) CellsForBBox(bb model.BBox, res, maxCells int) (mapper.Cells, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	if bb.MinLat > bb.MaxLat {
		return nil, fmt.Errorf("bbox min lat %g > max lat %g", bb.MinLat, bb.MaxLat)
	}
	minLat, maxLat := math.Max(bb.MinLat, -90), math.Min(bb.MaxLat, 90)

	// half the average edge covers the size spread of cells at one resolution
	step := edgeKm[res] / 2 / kmPerDegree
	latSteps := int(math.Ceil((maxLat-minLat)/step)) + 1

	maxAbs := math.Max(math.Abs(minLat), math.Abs(maxLat))
	lonStep := 360.0
	if c := math.Cos(maxAbs * math.Pi / 180); c > 1e-3 {
		lonStep = math.Min(step/c, 360)
	}
	width := bb.MaxLon - bb.MinLon
	if width < 0 {
		width += 360
	}
	width = math.Min(width, 360)
	lonSteps := int(math.Ceil(width/lonStep)) + 1

	if maxCells > 0 && latSteps*lonSteps > 64*maxCells {
		return nil, mapper.ErrTooManyCells
	}

	sampled := make(map[h3.Cell]struct{})
	for i := range latSteps {
		lat := math.Min(minLat+float64(i)*step, maxLat)
		for j := range lonSteps {
			lon := wrapLon(bb.MinLon + math.Min(float64(j)*lonStep, width))
			c, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lon}, res)
			if err != nil {
				return nil, fmt.Errorf("h3 cell at (%g, %g): %w", lat, lon, err)
			}
			sampled[c] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(sampled)*3)
	for c := range sampled {
		ring, err := h3.GridDisk(c, 1)
		if err != nil {
			return nil, fmt.Errorf("h3 grid disk: %w", err)
		}
		for _, n := range ring {
			seen[n.String()] = struct{}{}
		}
		if maxCells > 0 && len(seen) > maxCells {
			return nil, mapper.ErrTooManyCells
		}
	}
	return sorted(seen), nil
}

// Footprint covers the envelope of q.
func (m *Mapper) Footprint(q model.SpatialQuery, res, maxCells int) (mapper.Cells, bool, error) {
	bb, ok := q.Bounds()
	if !ok {
		return nil, false, fmt.Errorf("query %s has no bounds", q)
	}
	if bb.MaxLon-bb.MinLon >= 360 {
		return nil, false, nil
	}
	cells, err := m.CellsForBBox(bb, res, maxCells)
	if errors.Is(err, mapper.ErrTooManyCells) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cells, true, nil
}

// Normalize maps each cell to res: parents for finer cells, children for
// coarser ones.
func (m *Mapper) Normalize(cells []string, res int) (mapper.Cells, error) {
	seen := make(map[string]struct{}, len(cells))
	for _, cell := range cells {
		r, err := resolution(cell)
		if err != nil {
			return nil, err
		}
		if r >= res {
			p, err := m.ToParent(cell, res)
			if err != nil {
				return nil, err
			}
			seen[p] = struct{}{}
			continue
		}
		kids, err := m.ToChildren(cell, res)
		if err != nil {
			return nil, err
		}
		for _, k := range kids {
			seen[k] = struct{}{}
		}
	}
	return sorted(seen), nil
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

func wrapLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

func sorted(set map[string]struct{}) mapper.Cells {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
