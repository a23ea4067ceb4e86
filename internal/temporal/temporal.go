// Package temporal selects time steps by inclusive range or explicit set.
package temporal

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/mohammed-shakir/geotemporal-query/internal/coords"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/geoerr"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/model"
)

type Options struct {
	// SkipMissing drops unknown timestamps from an explicit set instead of
	// failing; each skip is logged at warn level.
	SkipMissing bool
	Logger      *slog.Logger
}

// Select returns sorted time indices for q.
func Select(ctx context.Context, ix *coords.Index, q model.TemporalQuery, opts Options) ([]int, error) {
	if err := ix.Require(false, true); err != nil {
		return nil, err
	}
	if q.IsSet() {
		return selectSet(ctx, ix, q.Timestamps, opts)
	}
	return selectRange(ix, q.Start, q.End)
}

func selectRange(ix *coords.Index, start, end time.Time) ([]int, error) {
	if start.IsZero() || end.IsZero() {
		return nil, geoerr.InvalidRange("time_range", "both start and end are required")
	}
	if start.After(end) {
		return nil, geoerr.InvalidRange("time_range", "start %s is after end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	idx := ix.TimeRange(start, end)
	if len(idx) == 0 {
		vals := ix.Time.Values
		return nil, geoerr.InvalidRange("time_range", "[%s, %s] does not intersect the time axis [%s, %s]",
			start.Format(time.RFC3339), end.Format(time.RFC3339),
			vals[0].Format(time.RFC3339), vals[len(vals)-1].Format(time.RFC3339))
	}
	return idx, nil
}

func selectSet(ctx context.Context, ix *coords.Index, stamps []time.Time, opts Options) ([]int, error) {
	seen := make(map[int]bool, len(stamps))
	out := make([]int, 0, len(stamps))
	for _, ts := range stamps {
		i, ok := ix.TimeIndex(ts)
		if !ok {
			if !opts.SkipMissing {
				return nil, geoerr.CoordinateNotFound("timestamps", "%s is not on the time axis", ts.UTC().Format(time.RFC3339))
			}
			if opts.Logger != nil {
				opts.Logger.WarnContext(ctx, "timestamp not on time axis, skipping", "timestamp", ts.UTC())
			}
			continue
		}
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	if len(out) == 0 {
		return nil, geoerr.InvalidRange("timestamps", "none of the %d requested timestamps are on the time axis", len(stamps))
	}
	sort.Ints(out)
	return out, nil
}
