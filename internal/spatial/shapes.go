package spatial

import (
	"math"

	"github.com/mohammed-shakir/geotemporal-query/internal/coords"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/geoerr"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/model"
)

const deg = math.Pi / 180

// Haversine returns the great-circle distance in km between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * deg
	dLon := (lon2 - lon1) * deg
	s1, s2 := math.Sin(dLat/2), math.Sin(dLon/2)
	a := s1*s1 + math.Cos(lat1*deg)*math.Cos(lat2*deg)*s2*s2
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(min(1, a)))
}

// lonDelta is the absolute angular difference in degrees, in [0, 180].
func lonDelta(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}

func selectCircle(ix *coords.Index, c model.Circle) (*Selection, error) {
	if err := checkLatLon("circle", c.CenterLat, c.CenterLon); err != nil {
		return nil, err
	}
	if math.IsNaN(c.RadiusKm) || math.IsInf(c.RadiusKm, 0) || c.RadiusKm < 0 {
		return nil, geoerr.Configuration("radius_km", "radius must be a finite value >= 0, got %g", c.RadiusKm)
	}
	if c.RadiusKm == 0 {
		return selectPoint(ix, model.Point{Lat: c.CenterLat, Lon: c.CenterLon})
	}

	ang := c.RadiusKm / EarthRadiusKm
	dLat := ang / deg
	latIdx := ix.Lat.Range(c.CenterLat-dLat, c.CenterLat+dLat)

	allLon := true
	dLon := 180.0
	if ang < math.Pi/2 {
		if s := math.Sin(ang) / math.Cos(c.CenterLat*deg); s < 1 && math.Abs(c.CenterLat)+dLat < 90 {
			dLon = math.Asin(s) / deg
			allLon = false
		}
	}
	var lonIdx []int
	for j, v := range ix.Lon.Values {
		if allLon || lonDelta(v, c.CenterLon) <= dLon+coords.Eps {
			lonIdx = append(lonIdx, j)
		}
	}

	lat, lon := ix.Lat.Values, ix.Lon.Values
	return masked(latIdx, lonIdx, func(i, j int) bool {
		return Haversine(c.CenterLat, c.CenterLon, lat[i], lon[j]) <= c.RadiusKm+1e-9
	}), nil
}

func selectPolygon(ix *coords.Index, p model.Polygon) (*Selection, error) {
	ring := closeRing(p.Vertices)
	if len(ring) < 3 {
		return nil, geoerr.Configuration("polygon", "polygon needs at least 3 distinct vertices, got %d", len(ring))
	}
	for _, v := range ring {
		if err := checkLatLon("polygon", v[0], v[1]); err != nil {
			return nil, err
		}
	}
	bounds, _ := model.PolygonQuery(ring).Bounds()
	latIdx := ix.Lat.Range(bounds.MinLat, bounds.MaxLat)
	lonIdx := ix.Lon.Range(bounds.MinLon, bounds.MaxLon)

	lat, lon := ix.Lat.Values, ix.Lon.Values
	return masked(latIdx, lonIdx, func(i, j int) bool {
		return Contains(ring, lat[i], lon[j])
	}), nil
}

// closeRing drops a trailing vertex equal to the first one.
func closeRing(v [][2]float64) [][2]float64 {
	if n := len(v); n > 1 && v[0] == v[n-1] {
		return v[:n-1]
	}
	return v
}

// Contains reports whether (lat, lon) lies inside or on the boundary of
// the ring, using ray casting in the lon/lat plane.
func Contains(ring [][2]float64, lat, lon float64) bool {
	n := len(ring)
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		yi, xi := ring[i][0], ring[i][1]
		yj, xj := ring[j][0], ring[j][1]
		if onSegment(xi, yi, xj, yj, lon, lat) {
			return true
		}
		if (yi > lat) != (yj > lat) {
			x := (xj-xi)*(lat-yi)/(yj-yi) + xi
			if lon < x {
				inside = !inside
			}
		}
	}
	return inside
}

func onSegment(x1, y1, x2, y2, px, py float64) bool {
	const eps = 1e-9
	cross := (x2-x1)*(py-y1) - (y2-y1)*(px-x1)
	if math.Abs(cross) > eps*math.Max(1, math.Hypot(x2-x1, y2-y1)) {
		return false
	}
	return px >= math.Min(x1, x2)-eps && px <= math.Max(x1, x2)+eps &&
		py >= math.Min(y1, y2)-eps && py <= math.Max(y1, y2)+eps
}
