// Package mapper converts query footprints to H3 cells.
package mapper

import (
	"errors"

	"github.com/mohammed-shakir/geotemporal-query/internal/core/model"
)

// ErrTooManyCells is returned when a cover would exceed its cell limit.
var ErrTooManyCells = errors.New("too many cells")

// Cells is a sorted, de-duplicated list of H3 cell strings.
type Cells []string

type Interface interface {
	// CellsForBBox returns every cell intersecting bb. maxCells <= 0 means
	// no limit.
	CellsForBBox(bb model.BBox, res, maxCells int) (Cells, error)
	// Footprint covers the area a spatial query reads. ok is false when
	// the cover would exceed maxCells.
	Footprint(q model.SpatialQuery, res, maxCells int) (cells Cells, ok bool, err error)
	// Normalize maps cells of any resolution to res.
	Normalize(cells []string, res int) (Cells, error)
}
