package spatial

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/mohammed-shakir/geotemporal-query/internal/coords"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/geoerr"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/model"
	"github.com/mohammed-shakir/geotemporal-query/internal/grid/gridtest"
)

func index(t *testing.T, lats, lons []float64) *coords.Index {
	t.Helper()
	ds := gridtest.New("t", lats, lons, nil, func(_, _, _ int) float64 { return 0 })
	ix, err := coords.New(ds)
	if err != nil {
		t.Fatal(err)
	}
	return ix
}

// cellSet lists (lat, lon) values of every selected cell.
func cellSet(ix *coords.Index, s *Selection) map[[2]float64]bool {
	out := map[[2]float64]bool{}
	for r, i := range s.LatIdx {
		for c, j := range s.LonIdx {
			if s.Mask == nil || s.Mask[r*len(s.LonIdx)+c] {
				out[[2]float64{ix.Lat.Values[i], ix.Lon.Values[j]}] = true
			}
		}
	}
	return out
}

func TestRectangleBoundsInclusive(t *testing.T) {
	ix := index(t, gridtest.Steps(0, 1, 11), gridtest.Steps(0, 1, 11))
	sel, err := Select(ix, model.RectangleQuery(2, 4, 3, 6))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sel.LatIdx, []int{2, 3}) || !reflect.DeepEqual(sel.LonIdx, []int{4, 5, 6}) {
		t.Fatalf("lat=%v lon=%v", sel.LatIdx, sel.LonIdx)
	}
	if sel.Cells != 6 || sel.Mask != nil {
		t.Fatalf("cells=%d mask=%v", sel.Cells, sel.Mask)
	}
}

func TestRectangleDescendingAxis(t *testing.T) {
	ix := index(t, gridtest.Steps(10, -1, 11), gridtest.Steps(0, 1, 11))
	sel, err := Select(ix, model.RectangleQuery(2, 4, 3, 6))
	if err != nil {
		t.Fatal(err)
	}
	got := cellSet(ix, sel)
	for _, lat := range []float64{2, 3} {
		for _, lon := range []float64{4, 5, 6} {
			if !got[[2]float64{lat, lon}] {
				t.Fatalf("missing cell (%v,%v) in %v", lat, lon, got)
			}
		}
	}
	if len(got) != 6 {
		t.Fatalf("got %d cells", len(got))
	}
}

func TestRectangleInvertedBounds(t *testing.T) {
	ix := index(t, gridtest.Steps(0, 1, 5), gridtest.Steps(0, 1, 5))
	_, err := Select(ix, model.RectangleQuery(3, 0, 1, 2))
	if !errors.Is(err, geoerr.ErrConfiguration) {
		t.Fatalf("want configuration error, got %v", err)
	}
}

func TestRectangleOutsideGridIsEmpty(t *testing.T) {
	ix := index(t, gridtest.Steps(0, 1, 5), gridtest.Steps(0, 1, 5))
	_, err := Select(ix, model.RectangleQuery(50, 50, 60, 60))
	if !errors.Is(err, geoerr.ErrEmptySelection) {
		t.Fatalf("want empty selection, got %v", err)
	}
}

func TestPointNearestAndExtrapolation(t *testing.T) {
	ix := index(t, gridtest.Steps(0, 0.25, 9), gridtest.Steps(10, 0.25, 9))
	cases := []struct {
		name     string
		lat, lon float64
		wantLat  int
		wantLon  int
		wantErr  error
	}{
		{"on grid", 1, 10.5, 4, 2, nil},
		{"snaps", 0.3, 10.6, 1, 2, nil},
		{"tie goes low", 0.125, 10.125, 0, 0, nil},
		{"within one cell outside", -0.2, 12.2, 0, 8, nil},
		{"beyond one cell", -0.3, 10, 0, 0, geoerr.ErrCoordinateNotFound},
		{"beyond lon", 1, 13, 0, 0, geoerr.ErrCoordinateNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sel, err := Select(ix, model.PointQuery(tc.lat, tc.lon))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("want %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if sel.LatIdx[0] != tc.wantLat || sel.LonIdx[0] != tc.wantLon || sel.Cells != 1 {
				t.Fatalf("got (%d,%d) cells=%d", sel.LatIdx[0], sel.LonIdx[0], sel.Cells)
			}
		})
	}
}

func TestPointExact(t *testing.T) {
	ix := index(t, gridtest.Steps(0, 0.25, 9), gridtest.Steps(0, 0.25, 9))
	q := model.SpatialQuery{Kind: model.KindPoint, Point: &model.Point{Lat: 0.5, Lon: 0.75, Exact: true}}
	if _, err := Select(ix, q); err != nil {
		t.Fatalf("exact on-grid point: %v", err)
	}
	q.Point.Lat = 0.6
	if _, err := Select(ix, q); !errors.Is(err, geoerr.ErrCoordinateNotFound) {
		t.Fatalf("want coordinate not found, got %v", err)
	}
}

func TestCircleZeroRadiusEqualsPoint(t *testing.T) {
	ix := index(t, gridtest.Steps(-10, 0.5, 41), gridtest.Steps(20, 0.5, 41))
	c, err := Select(ix, model.CircleQuery(1.3, 27.1, 0))
	if err != nil {
		t.Fatal(err)
	}
	p, err := Select(ix, model.PointQuery(1.3, 27.1))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(c, p) {
		t.Fatalf("circle=%+v point=%+v", c, p)
	}
}

func TestCircleMatchesBruteForce(t *testing.T) {
	cases := []struct {
		name             string
		lat, lon, radius float64
	}{
		{"mid latitude", 45, 10, 300},
		{"equator", 0, 0, 150},
		{"near pole", 88, 0, 500},
		{"antimeridian", 10, 179, 400},
	}
	ix := index(t, gridtest.Steps(-90, 1, 181), gridtest.Steps(-180, 1, 360))
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sel, err := Select(ix, model.CircleQuery(tc.lat, tc.lon, tc.radius))
			if err != nil {
				t.Fatal(err)
			}
			got := cellSet(ix, sel)
			want := map[[2]float64]bool{}
			for _, la := range ix.Lat.Values {
				for _, lo := range ix.Lon.Values {
					if Haversine(tc.lat, tc.lon, la, lo) <= tc.radius {
						want[[2]float64{la, lo}] = true
					}
				}
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("circle selected %d cells, brute force %d", len(got), len(want))
			}
			if sel.Cells != int64(len(want)) {
				t.Fatalf("Cells=%d want %d", sel.Cells, len(want))
			}
		})
	}
}

func TestCircleNegativeRadius(t *testing.T) {
	ix := index(t, gridtest.Steps(0, 1, 5), gridtest.Steps(0, 1, 5))
	if _, err := Select(ix, model.CircleQuery(1, 1, -1)); !errors.Is(err, geoerr.ErrConfiguration) {
		t.Fatalf("want configuration error, got %v", err)
	}
}

func TestPolygonEqualsRectangle(t *testing.T) {
	ix := index(t, gridtest.Steps(0, 1, 11), gridtest.Steps(0, 1, 11))
	rect, err := Select(ix, model.RectangleQuery(2, 3, 6, 8))
	if err != nil {
		t.Fatal(err)
	}
	poly, err := Select(ix, model.PolygonQuery([][2]float64{{2, 3}, {2, 8}, {6, 8}, {6, 3}, {2, 3}}))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cellSet(ix, rect), cellSet(ix, poly)) {
		t.Fatalf("rect=%v poly=%v", cellSet(ix, rect), cellSet(ix, poly))
	}
	if poly.Cells != rect.Cells {
		t.Fatalf("cells %d vs %d", poly.Cells, rect.Cells)
	}
}

func TestPolygonTriangleTrimsEmptyRows(t *testing.T) {
	ix := index(t, gridtest.Steps(0, 1, 11), gridtest.Steps(0, 1, 11))
	sel, err := Select(ix, model.PolygonQuery([][2]float64{{0, 0}, {0, 4}, {4, 0}}))
	if err != nil {
		t.Fatal(err)
	}
	got := cellSet(ix, sel)
	// lat + lon <= 4
	if len(got) != 15 || sel.Cells != 15 {
		t.Fatalf("got %d cells (%d)", len(got), sel.Cells)
	}
	if got[[2]float64{3, 2}] || !got[[2]float64{2, 2}] {
		t.Fatalf("unexpected membership: %v", got)
	}
	if len(sel.Mask) != len(sel.LatIdx)*len(sel.LonIdx) {
		t.Fatalf("mask size %d", len(sel.Mask))
	}
}

func TestPolygonTooFewVertices(t *testing.T) {
	ix := index(t, gridtest.Steps(0, 1, 5), gridtest.Steps(0, 1, 5))
	_, err := Select(ix, model.PolygonQuery([][2]float64{{0, 0}, {1, 1}, {0, 0}}))
	if !errors.Is(err, geoerr.ErrConfiguration) {
		t.Fatalf("want configuration error, got %v", err)
	}
}

func TestContains(t *testing.T) {
	sq := [][2]float64{{0, 0}, {0, 2}, {2, 2}, {2, 0}}
	cases := []struct {
		lat, lon float64
		want     bool
	}{
		{1, 1, true},
		{0, 1, true},
		{2, 2, true},
		{3, 1, false},
		{1, -0.001, false},
	}
	for _, tc := range cases {
		if got := Contains(sq, tc.lat, tc.lon); got != tc.want {
			t.Errorf("Contains(%v,%v)=%v want %v", tc.lat, tc.lon, got, tc.want)
		}
	}
}

func TestHaversine(t *testing.T) {
	d := Haversine(0, 0, 0, 1)
	want := 2 * math.Pi * EarthRadiusKm / 360
	if math.Abs(d-want) > 1e-6 {
		t.Fatalf("one degree at equator=%v want %v", d, want)
	}
	if Haversine(10, 179.5, 10, -179.5) > 110 {
		t.Fatalf("distance across antimeridian too large")
	}
}
