// Package model defines the query types shared across the service.
package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type SpatialKind string

const (
	KindPoint     SpatialKind = "point"
	KindRectangle SpatialKind = "rectangle"
	KindCircle    SpatialKind = "circle"
	KindPolygon   SpatialKind = "polygon"
)

type Point struct {
	Lat, Lon float64
	// Exact requires a grid coordinate at the requested location instead of
	// snapping to the nearest cell.
	Exact bool
}

type Rectangle struct {
	MinLat, MinLon float64
	MaxLat, MaxLon float64
}

type Circle struct {
	CenterLat, CenterLon float64
	RadiusKm             float64
}

// Polygon vertices are (lat, lon) pairs; the ring is implicitly closed.
type Polygon struct {
	Vertices [][2]float64
}

// SpatialQuery is a closed union: exactly one variant matching Kind is set.
type SpatialQuery struct {
	Kind      SpatialKind
	Point     *Point
	Rectangle *Rectangle
	Circle    *Circle
	Polygon   *Polygon
}

func PointQuery(lat, lon float64) SpatialQuery {
	return SpatialQuery{Kind: KindPoint, Point: &Point{Lat: lat, Lon: lon}}
}

func RectangleQuery(minLat, minLon, maxLat, maxLon float64) SpatialQuery {
	return SpatialQuery{Kind: KindRectangle, Rectangle: &Rectangle{MinLat: minLat, MinLon: minLon, MaxLat: maxLat, MaxLon: maxLon}}
}

func CircleQuery(lat, lon, radiusKm float64) SpatialQuery {
	return SpatialQuery{Kind: KindCircle, Circle: &Circle{CenterLat: lat, CenterLon: lon, RadiusKm: radiusKm}}
}

func PolygonQuery(vertices [][2]float64) SpatialQuery {
	return SpatialQuery{Kind: KindPolygon, Polygon: &Polygon{Vertices: vertices}}
}

// Bounds returns the lat/lon envelope of the query; circles use a
// conservative envelope derived from the radius.
func (q SpatialQuery) Bounds() (BBox, bool) {
	switch q.Kind {
	case KindPoint:
		if q.Point == nil {
			return BBox{}, false
		}
		return BBox{MinLat: q.Point.Lat, MinLon: q.Point.Lon, MaxLat: q.Point.Lat, MaxLon: q.Point.Lon}, true
	case KindRectangle:
		if q.Rectangle == nil {
			return BBox{}, false
		}
		r := q.Rectangle
		return BBox{MinLat: r.MinLat, MinLon: r.MinLon, MaxLat: r.MaxLat, MaxLon: r.MaxLon}, true
	case KindCircle:
		if q.Circle == nil {
			return BBox{}, false
		}
		c := q.Circle
		dLat := c.RadiusKm / 111.0
		dLon := 180.0
		if cos := math.Cos(c.CenterLat * math.Pi / 180); cos > 1e-6 {
			dLon = min(dLat/cos, 180)
		}
		return BBox{
			MinLat: max(c.CenterLat-dLat, -90), MinLon: c.CenterLon - dLon,
			MaxLat: min(c.CenterLat+dLat, 90), MaxLon: c.CenterLon + dLon,
		}, true
	case KindPolygon:
		if q.Polygon == nil || len(q.Polygon.Vertices) == 0 {
			return BBox{}, false
		}
		v := q.Polygon.Vertices
		b := BBox{MinLat: v[0][0], MinLon: v[0][1], MaxLat: v[0][0], MaxLon: v[0][1]}
		for _, p := range v[1:] {
			b.MinLat, b.MaxLat = min(b.MinLat, p[0]), max(b.MaxLat, p[0])
			b.MinLon, b.MaxLon = min(b.MinLon, p[1]), max(b.MaxLon, p[1])
		}
		return b, true
	}
	return BBox{}, false
}

// String is a canonical form used in cache keys and provenance.
func (q SpatialQuery) String() string {
	switch q.Kind {
	case KindPoint:
		if q.Point != nil {
			return fmt.Sprintf("point(%g,%g,exact=%t)", q.Point.Lat, q.Point.Lon, q.Point.Exact)
		}
	case KindRectangle:
		if r := q.Rectangle; r != nil {
			return fmt.Sprintf("rectangle(%g,%g,%g,%g)", r.MinLat, r.MinLon, r.MaxLat, r.MaxLon)
		}
	case KindCircle:
		if c := q.Circle; c != nil {
			return fmt.Sprintf("circle(%g,%g,%gkm)", c.CenterLat, c.CenterLon, c.RadiusKm)
		}
	case KindPolygon:
		if p := q.Polygon; p != nil {
			parts := make([]string, len(p.Vertices))
			for i, v := range p.Vertices {
				parts[i] = fmt.Sprintf("%g %g", v[0], v[1])
			}
			return "polygon(" + strings.Join(parts, ",") + ")"
		}
	}
	return string(q.Kind)
}

// BBox is a lat/lon envelope in degrees.
type BBox struct {
	MinLat, MinLon float64
	MaxLat, MaxLon float64
}

func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

// TemporalQuery selects either an inclusive range or an explicit set of
// timestamps. Timestamps takes precedence when non-empty.
type TemporalQuery struct {
	Start, End time.Time
	Timestamps []time.Time
}

func TimeRange(start, end time.Time) *TemporalQuery {
	return &TemporalQuery{Start: start, End: end}
}

func (t TemporalQuery) IsSet() bool { return len(t.Timestamps) > 0 }

func (t TemporalQuery) String() string {
	if t.IsSet() {
		parts := make([]string, len(t.Timestamps))
		for i, ts := range t.Timestamps {
			parts[i] = ts.UTC().Format(time.RFC3339Nano)
		}
		return "timestamps(" + strings.Join(parts, ",") + ")"
	}
	return "range(" + t.Start.UTC().Format(time.RFC3339Nano) + "," + t.End.UTC().Format(time.RFC3339Nano) + ")"
}

type AggDim string

const (
	AggSpatial  AggDim = "spatial"
	AggTemporal AggDim = "temporal"
)

type Rolling struct {
	Window int
	Method string
}

type AggregationSpec struct {
	Dims      []AggDim
	Method    string
	Frequency string
	Unit      int
	Rolling   *Rolling
}

func (a AggregationSpec) Has(d AggDim) bool {
	for _, x := range a.Dims {
		if x == d {
			return true
		}
	}
	return false
}

func (a AggregationSpec) String() string {
	dims := make([]string, len(a.Dims))
	for i, d := range a.Dims {
		dims[i] = string(d)
	}
	s := fmt.Sprintf("agg(%s,%s,%s,%d)", strings.Join(dims, "+"), a.Method, a.Frequency, a.Unit)
	if a.Rolling != nil {
		s += fmt.Sprintf(";rolling(%d,%s)", a.Rolling.Window, a.Rolling.Method)
	}
	return s
}

type PointBudget struct {
	MaxPoints int64
	Override  bool
}

type OutputFormat string

const (
	FormatArray  OutputFormat = "array"
	FormatNetCDF OutputFormat = "netcdf"
)

// Query is a complete request against one dataset variable.
type Query struct {
	Dataset  string
	Variable string
	Spatial  SpatialQuery
	Temporal *TemporalQuery
	Agg      *AggregationSpec
	Budget   PointBudget
	// ForecastReferenceTime pins the reference time of forecast datasets.
	ForecastReferenceTime *time.Time
	Format                OutputFormat
}

// CanonicalString is stable for equal queries and feeds cache keys.
func (q Query) CanonicalString() string {
	var b strings.Builder
	b.WriteString(q.Variable)
	b.WriteByte('|')
	b.WriteString(q.Spatial.String())
	b.WriteByte('|')
	if q.Temporal != nil {
		b.WriteString(q.Temporal.String())
	}
	b.WriteByte('|')
	if q.Agg != nil {
		b.WriteString(q.Agg.String())
	}
	b.WriteByte('|')
	fmt.Fprintf(&b, "%d,%t", q.Budget.MaxPoints, q.Budget.Override)
	b.WriteByte('|')
	if q.ForecastReferenceTime != nil {
		b.WriteString(q.ForecastReferenceTime.UTC().Format(time.RFC3339Nano))
	}
	b.WriteByte('|')
	b.WriteString(string(q.Format))
	return b.String()
}
