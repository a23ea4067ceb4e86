// Package budget rejects selections that would read too many points.
package budget

import (
	"math"

	"github.com/mohammed-shakir/geotemporal-query/internal/core/geoerr"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/model"
	"github.com/mohammed-shakir/geotemporal-query/internal/grid"
)

// DefaultPointLimit matches 40x40 cells over 50,000 time steps.
const DefaultPointLimit int64 = 40 * 40 * 50_000

// Estimate is spatial cells × time steps × remaining dimension sizes,
// saturating at MaxInt64.
func Estimate(s *grid.Subset) int64 {
	n := s.SpatialCells()
	for _, f := range []int64{s.TimeSteps(), s.OtherPoints()} {
		if f != 0 && n > math.MaxInt64/f {
			return math.MaxInt64
		}
		n *= f
	}
	return n
}

// Check returns the estimate, or a TooManyPointsError when it exceeds the
// budget. A zero MaxPoints falls back to defaultLimit.
func Check(s *grid.Subset, b model.PointBudget, defaultLimit int64) (int64, error) {
	est := Estimate(s)
	if b.Override {
		return est, nil
	}
	limit := b.MaxPoints
	if limit == 0 {
		limit = defaultLimit
	}
	if limit <= 0 {
		return est, geoerr.Configuration("max_points", "point limit must be > 0 unless override is set, got %d", limit)
	}
	if est > limit {
		return est, &geoerr.TooManyPointsError{Estimated: est, Limit: limit}
	}
	return est, nil
}
