package aggregate

import (
	"sort"
	"strings"
	"time"

	"github.com/mohammed-shakir/geotemporal-query/internal/core/geoerr"
)

type Frequency string

const (
	Hour    Frequency = "hour"
	Day     Frequency = "day"
	Week    Frequency = "week"
	Month   Frequency = "month"
	Quarter Frequency = "quarter"
	Year    Frequency = "year"
	All     Frequency = "all"
)

var frequencyNames = map[string]Frequency{
	"":          All,
	"all":       All,
	"hour":      Hour,
	"hourly":    Hour,
	"day":       Day,
	"daily":     Day,
	"week":      Week,
	"weekly":    Week,
	"month":     Month,
	"monthly":   Month,
	"quarter":   Quarter,
	"quarterly": Quarter,
	"year":      Year,
	"yearly":    Year,
	"annual":    Year,
}

// offset codes are case sensitive: "m" and "min" would be minutes
var frequencyCodes = map[string]Frequency{
	"h":  Hour,
	"H":  Hour,
	"D":  Day,
	"W":  Week,
	"M":  Month,
	"ME": Month,
	"MS": Month,
	"Q":  Quarter,
	"QE": Quarter,
	"QS": Quarter,
	"Y":  Year,
	"YE": Year,
	"YS": Year,
	"A":  Year,
}

// ParseFrequency accepts period names in any case and pandas style offset
// codes; empty means the whole range.
func ParseFrequency(s string) (Frequency, error) {
	s = strings.TrimSpace(s)
	if f, ok := frequencyCodes[s]; ok {
		return f, nil
	}
	if f, ok := frequencyNames[strings.ToLower(s)]; ok {
		return f, nil
	}
	return "", geoerr.Configuration("frequency", "unknown resampling frequency %q", s)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// epoch day 0 (1970-01-01) is a Thursday; weeks start on Monday
const weekShift = 3

func periodIndex(f Frequency, t time.Time) int64 {
	t = t.UTC()
	switch f {
	case Hour:
		return floorDiv(t.Unix(), 3600)
	case Day:
		return floorDiv(t.Unix(), 86400)
	case Week:
		return floorDiv(floorDiv(t.Unix(), 86400)+weekShift, 7)
	case Month:
		return int64(t.Year())*12 + int64(t.Month()) - 1
	case Quarter:
		return int64(t.Year())*4 + int64(t.Month()-1)/3
	case Year:
		return int64(t.Year())
	}
	return 0
}

func periodStart(f Frequency, idx int64) time.Time {
	switch f {
	case Hour:
		return time.Unix(idx*3600, 0).UTC()
	case Day:
		return time.Unix(idx*86400, 0).UTC()
	case Week:
		return time.Unix((idx*7-weekShift)*86400, 0).UTC()
	case Month:
		return time.Date(int(floorDiv(idx, 12)), time.Month(idx-floorDiv(idx, 12)*12+1), 1, 0, 0, 0, 0, time.UTC)
	case Quarter:
		y := floorDiv(idx, 4)
		return time.Date(int(y), time.Month((idx-y*4)*3+1), 1, 0, 0, 0, 0, time.UTC)
	case Year:
		return time.Date(int(idx), 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Time{}
}

// Groups buckets times into consecutive runs of unit periods anchored at
// the earliest timestamp's period. Labels are period starts, ascending;
// periods without timestamps produce no group.
func Groups(times []time.Time, f Frequency, unit int) ([]time.Time, [][]int) {
	if len(times) == 0 {
		return nil, nil
	}
	if unit < 1 {
		unit = 1
	}
	if f == All {
		first := times[0]
		all := make([]int, len(times))
		for i, t := range times {
			all[i] = i
			if t.Before(first) {
				first = t
			}
		}
		return []time.Time{first}, [][]int{all}
	}
	idx := make([]int64, len(times))
	anchor := periodIndex(f, times[0])
	for i, t := range times {
		idx[i] = periodIndex(f, t)
		anchor = min(anchor, idx[i])
	}
	bins := map[int64][]int{}
	for i, p := range idx {
		b := (p - anchor) / int64(unit)
		bins[b] = append(bins[b], i)
	}
	keys := make([]int64, 0, len(bins))
	for b := range bins {
		keys = append(keys, b)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	labels := make([]time.Time, len(keys))
	groups := make([][]int, len(keys))
	for k, b := range keys {
		labels[k] = periodStart(f, anchor+b*int64(unit))
		groups[k] = bins[b]
	}
	return labels, groups
}
