package catalog

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mohammed-shakir/geotemporal-query/internal/zarr"
)

var epoch = time.Unix(0, 0).UTC()

// CF unit names, singular and plural.
var cfUnits = map[string]time.Duration{
	"nanosecond":  time.Nanosecond,
	"microsecond": time.Microsecond,
	"millisecond": time.Millisecond,
	"second":      time.Second,
	"sec":         time.Second,
	"minute":      time.Minute,
	"min":         time.Minute,
	"hour":        time.Hour,
	"hr":          time.Hour,
	"day":         24 * time.Hour,
}

// numpy datetime64/timedelta64 unit codes.
var npUnits = map[string]time.Duration{
	"ns": time.Nanosecond,
	"us": time.Microsecond,
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"D":  24 * time.Hour,
}

var refLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05 Z07:00",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
	"2006-1-2 15:4:5",
	"2006-1-2",
}

func unitDuration(s string) (time.Duration, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if d, ok := cfUnits[s]; ok {
		return d, true
	}
	d, ok := cfUnits[strings.TrimSuffix(s, "s")]
	return d, ok
}

// cfEncoding is a parsed "<unit> since <reference>" units attribute.
type cfEncoding struct {
	unit time.Duration
	ref  time.Time
}

func parseCFUnits(s string) (cfEncoding, error) {
	unit, ref, ok := strings.Cut(strings.TrimSpace(s), " since ")
	if !ok {
		return cfEncoding{}, fmt.Errorf("time units %q: want \"<unit> since <reference>\"", s)
	}
	d, ok := unitDuration(unit)
	if !ok {
		return cfEncoding{}, fmt.Errorf("time units %q: unknown unit %q", s, unit)
	}
	ref = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(ref), "UTC"))
	for _, layout := range refLayouts {
		if t, err := time.Parse(layout, ref); err == nil {
			return cfEncoding{unit: d, ref: t.UTC()}, nil
		}
	}
	return cfEncoding{}, fmt.Errorf("time units %q: unparseable reference %q", s, ref)
}

func checkCalendar(a *zarr.Array) error {
	cal, _ := a.Attrs()["calendar"].(string)
	switch strings.ToLower(cal) {
	case "", "standard", "gregorian", "proleptic_gregorian":
		return nil
	}
	return fmt.Errorf("array %q: calendar %q is not supported", a.Name(), cal)
}

// mulDuration returns n*unit, failing instead of overflowing.
func mulDuration(n int64, unit time.Duration) (time.Duration, error) {
	if unit != 0 && (n > math.MaxInt64/int64(unit) || n < math.MinInt64/int64(unit)) {
		return 0, fmt.Errorf("offset %d %s overflows", n, unit)
	}
	return time.Duration(n) * unit, nil
}

// decodeTimes decodes a CF or datetime64 encoded time coordinate into UTC
// times. Integer encodings are decoded exactly.
func decodeTimes(ctx context.Context, a *zarr.Array) ([]time.Time, error) {
	dt := a.Meta().Dtype
	if dt.BasicType == zarr.BTDatetime {
		unit, ok := npUnits[dt.Units]
		if !ok {
			return nil, fmt.Errorf("array %q: datetime unit %q", a.Name(), dt.Units)
		}
		return offsetsFrom(ctx, a, epoch, unit)
	}
	if err := checkCalendar(a); err != nil {
		return nil, err
	}
	units, _ := a.Attrs()["units"].(string)
	enc, err := parseCFUnits(units)
	if err != nil {
		return nil, fmt.Errorf("array %q: %w", a.Name(), err)
	}
	return offsetsFrom(ctx, a, enc.ref, enc.unit)
}

func offsetsFrom(ctx context.Context, a *zarr.Array, ref time.Time, unit time.Duration) ([]time.Time, error) {
	ds, err := durations(ctx, a, unit)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, len(ds))
	for i, d := range ds {
		out[i] = ref.Add(d)
	}
	return out, nil
}

// decodeSteps decodes a lead time coordinate: timedelta64 or a plain
// number with a units attribute such as "hours".
func decodeSteps(ctx context.Context, a *zarr.Array) ([]time.Duration, error) {
	dt := a.Meta().Dtype
	if dt.BasicType == zarr.BTTimedelta {
		unit, ok := npUnits[dt.Units]
		if !ok {
			return nil, fmt.Errorf("array %q: timedelta unit %q", a.Name(), dt.Units)
		}
		return durations(ctx, a, unit)
	}
	units, _ := a.Attrs()["units"].(string)
	unit, ok := unitDuration(units)
	if !ok {
		return nil, fmt.Errorf("array %q: step units %q", a.Name(), units)
	}
	return durations(ctx, a, unit)
}

func durations(ctx context.Context, a *zarr.Array, unit time.Duration) ([]time.Duration, error) {
	if a.Meta().Dtype.Integral() {
		raw, err := a.ReadInt64(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]time.Duration, len(raw))
		for i, n := range raw {
			if out[i], err = mulDuration(n, unit); err != nil {
				return nil, fmt.Errorf("array %q: %w", a.Name(), err)
			}
		}
		return out, nil
	}
	raw, err := a.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]time.Duration, len(raw))
	for i, v := range raw {
		ns := math.Round(v * float64(unit))
		if math.IsNaN(ns) || math.Abs(ns) > math.MaxInt64 {
			return nil, fmt.Errorf("array %q: value %v at %d is not a valid offset", a.Name(), v, i)
		}
		out[i] = time.Duration(ns)
	}
	return out, nil
}
