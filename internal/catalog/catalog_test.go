package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammed-shakir/geotemporal-query/internal/core/geoerr"
	"github.com/mohammed-shakir/geotemporal-query/internal/store"
	"github.com/mohammed-shakir/geotemporal-query/internal/zarr"
	"github.com/mohammed-shakir/geotemporal-query/internal/zarr/zarrtest"
)

type fakeOpener struct {
	stores map[string]zarr.Store
	opens  atomic.Int32
}

func (o *fakeOpener) Backend() string { return "fake" }

func (o *fakeOpener) Open(_ context.Context, name string) (zarr.Store, error) {
	o.opens.Add(1)
	s, ok := o.stores[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", store.ErrDatasetNotFound, name)
	}
	return s, nil
}

var t0 = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func hourly(n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = t0.Add(time.Duration(i) * time.Hour)
	}
	return out
}

func climate(t *testing.T, mutate func(g *zarrtest.Group)) *zarr.MemoryStore {
	t.Helper()
	g := zarrtest.Climate("precip", []float64{10, 20}, []float64{0, 1, 2}, hourly(3), func(ti, i, j int) float64 {
		return float64(100*ti + 10*i + j)
	})
	if mutate != nil {
		mutate(g)
	}
	s, err := zarrtest.Memory(g)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newCatalog(t *testing.T, stores map[string]zarr.Store) (*Catalog, *fakeOpener) {
	t.Helper()
	op := &fakeOpener{stores: stores}
	c, err := New(op, Options{Size: 4})
	if err != nil {
		t.Fatal(err)
	}
	return c, op
}

func TestDatasetDecodesCoordinates(t *testing.T) {
	c, _ := newCatalog(t, map[string]zarr.Store{"cpc": climate(t, nil)})
	ds, err := c.Dataset(context.Background(), "cpc", "")
	if err != nil {
		t.Fatal(err)
	}
	if ds.Variable != "precip" || ds.Lat.Name != "latitude" || ds.Lon.Len() != 3 {
		t.Fatalf("ds=%+v", ds)
	}
	if ds.Time.Len() != 3 || !ds.Time.Values[2].Equal(t0.Add(2*time.Hour)) {
		t.Fatalf("times=%v", ds.Time.Values)
	}
	if ds.Attr("unit of measurement") != "mm" {
		t.Fatalf("attrs=%v", ds.Attrs)
	}
	got, err := ds.Array.Read(context.Background(), [][]int{{2}, {1}, {0, 2}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != 210 || got[1] != 212 {
		t.Fatalf("got %v", got)
	}
}

func TestDatasetIsCachedUntilInvalidated(t *testing.T) {
	c, op := newCatalog(t, map[string]zarr.Store{"cpc": climate(t, nil)})
	ctx := context.Background()
	a, err := c.Dataset(ctx, "cpc", "precip")
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Dataset(ctx, "cpc", "precip")
	if err != nil {
		t.Fatal(err)
	}
	if a != b || op.opens.Load() != 1 || c.Len() != 1 {
		t.Fatalf("opens=%d len=%d same=%t", op.opens.Load(), c.Len(), a == b)
	}
	if !c.Invalidate("cpc") {
		t.Fatal("invalidate reported no entry")
	}
	if _, err := c.Dataset(ctx, "cpc", "precip"); err != nil {
		t.Fatal(err)
	}
	if op.opens.Load() != 2 {
		t.Fatalf("opens=%d after invalidate", op.opens.Load())
	}
	c.Purge()
	if c.Len() != 0 {
		t.Fatalf("len=%d after purge", c.Len())
	}
}

// gateOpener holds every Open until release is closed.
type gateOpener struct {
	fakeOpener
	started chan struct{}
	release chan struct{}
}

func (o *gateOpener) Open(ctx context.Context, name string) (zarr.Store, error) {
	o.started <- struct{}{}
	<-o.release
	return o.fakeOpener.Open(ctx, name)
}

func TestInvalidateDuringOpenIsNotLost(t *testing.T) {
	op := &gateOpener{
		fakeOpener: fakeOpener{stores: map[string]zarr.Store{"cpc": climate(t, nil)}},
		started:    make(chan struct{}, 2),
		release:    make(chan struct{}),
	}
	c, err := New(op, Options{Size: 4})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := c.Dataset(ctx, "cpc", "precip")
		done <- err
	}()
	<-op.started
	c.Invalidate("cpc")
	close(op.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if c.Len() != 0 {
		t.Fatalf("group opened before the invalidation was cached: len=%d", c.Len())
	}

	if _, err := c.Dataset(ctx, "cpc", "precip"); err != nil {
		t.Fatal(err)
	}
	if op.opens.Load() != 2 || c.Len() != 1 {
		t.Fatalf("opens=%d len=%d", op.opens.Load(), c.Len())
	}
}

func TestDatasetExpiresAfterTTL(t *testing.T) {
	op := &fakeOpener{stores: map[string]zarr.Store{"cpc": climate(t, nil)}}
	c, err := New(op, Options{Size: 4, TTL: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := c.Dataset(ctx, "cpc", "precip"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Dataset(ctx, "cpc", "precip"); err != nil {
		t.Fatal(err)
	}
	if op.opens.Load() != 1 {
		t.Fatalf("opens=%d within ttl", op.opens.Load())
	}
	time.Sleep(60 * time.Millisecond)
	if _, err := c.Dataset(ctx, "cpc", "precip"); err != nil {
		t.Fatal(err)
	}
	if op.opens.Load() != 2 {
		t.Fatalf("opens=%d after ttl", op.opens.Load())
	}
}

func TestNegativeTTLIsRejected(t *testing.T) {
	if _, err := New(&fakeOpener{}, Options{TTL: -time.Second}); err == nil {
		t.Fatal("expected error")
	}
}

func TestUnknownDatasetIsUnavailable(t *testing.T) {
	c, _ := newCatalog(t, nil)
	_, err := c.Dataset(context.Background(), "nope", "")
	if !errors.Is(err, geoerr.ErrDataUnavailable) || !errors.Is(err, store.ErrDatasetNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestVariableSelection(t *testing.T) {
	s := climate(t, func(g *zarrtest.Group) {
		extra := g.Arrays[len(g.Arrays)-1]
		extra.Name = "tmax"
		extra.Attrs = map[string]any{"units": "degC"}
		g.Arrays = append(g.Arrays, extra)
		delete(g.Attrs, "unit of measurement")
	})
	c, _ := newCatalog(t, map[string]zarr.Store{"multi": s})
	ctx := context.Background()

	if _, err := c.Dataset(ctx, "multi", ""); !errors.Is(err, geoerr.ErrConfiguration) {
		t.Fatalf("ambiguous variable: err=%v", err)
	}
	if _, err := c.Dataset(ctx, "multi", "rain"); !errors.Is(err, geoerr.ErrConfiguration) {
		t.Fatalf("unknown variable: err=%v", err)
	}
	ds, err := c.Dataset(ctx, "multi", "tmax")
	if err != nil {
		t.Fatal(err)
	}
	if ds.Attr("unit of measurement") != "degC" {
		t.Fatalf("unit=%q", ds.Attr("unit of measurement"))
	}
}

func TestUpdateInProgressClampsTime(t *testing.T) {
	cases := []struct {
		name  string
		attrs map[string]any
		steps int
	}{
		{"full rewrite", map[string]any{"update_in_progress": true, "date range": []any{"2020010100", "2020010101"}}, 2},
		{"append only", map[string]any{
			"update_in_progress": true, "update_is_append_only": true,
			"date range": []any{"2020010100", "2020010102"}, "update_previous_end_date": "2020010100",
		}, 1},
		{"not updating", map[string]any{"update_in_progress": false, "date range": []any{"2020010100", "2020010100"}}, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := climate(t, func(g *zarrtest.Group) {
				for k, v := range tc.attrs {
					g.Attrs[k] = v
				}
			})
			c, _ := newCatalog(t, map[string]zarr.Store{"cpc": s})
			ds, err := c.Dataset(context.Background(), "cpc", "")
			if err != nil {
				t.Fatal(err)
			}
			if ds.Time.Len() != tc.steps || ds.Array.Shape()[0] != tc.steps {
				t.Fatalf("steps=%d shape=%v", ds.Time.Len(), ds.Array.Shape())
			}
			last := tc.steps - 1
			got, err := ds.Array.Read(context.Background(), [][]int{{last}, {0}, {0}})
			if err != nil {
				t.Fatal(err)
			}
			if got[0] != float64(100*last) {
				t.Fatalf("value at last step=%v", got[0])
			}
		})
	}
}

func TestInitialParseIsUnavailable(t *testing.T) {
	s := climate(t, func(g *zarrtest.Group) {
		g.Attrs["update_in_progress"] = true
		g.Attrs["date range"] = []any{"2020010100", nil}
	})
	c, _ := newCatalog(t, map[string]zarr.Store{"cpc": s})
	if _, err := c.Dataset(context.Background(), "cpc", ""); !errors.Is(err, geoerr.ErrDataUnavailable) {
		t.Fatalf("err=%v", err)
	}
}

func TestUnsupportedCalendar(t *testing.T) {
	s := climate(t, func(g *zarrtest.Group) {
		for i := range g.Arrays {
			if g.Arrays[i].Name == "time" {
				g.Arrays[i].Attrs = map[string]any{"units": "hours since 1970-01-01", "calendar": "noleap"}
			}
		}
	})
	c, _ := newCatalog(t, map[string]zarr.Store{"cpc": s})
	if _, err := c.Dataset(context.Background(), "cpc", ""); !errors.Is(err, geoerr.ErrDataUnavailable) {
		t.Fatalf("err=%v", err)
	}
}

func TestStaticDatasetHasNoTime(t *testing.T) {
	g := zarrtest.Climate("elevation", []float64{1, 2}, []float64{3, 4}, nil, func(_, i, j int) float64 { return float64(i + j) })
	s, err := zarrtest.Memory(g)
	if err != nil {
		t.Fatal(err)
	}
	c, _ := newCatalog(t, map[string]zarr.Store{"dem": s})
	ds, err := c.Dataset(context.Background(), "dem", "")
	if err != nil {
		t.Fatal(err)
	}
	if ds.Time != nil || ds.Lat.Len() != 2 {
		t.Fatalf("ds=%+v", ds)
	}
}

func TestForecastDataset(t *testing.T) {
	lats, lons := []float64{0, 1}, []float64{0, 1}
	vals := make([]float64, 2*2*2*2)
	for i := range vals {
		vals[i] = float64(i)
	}
	g := &zarrtest.Group{
		Attrs: map[string]any{"unit of measurement": "K"},
		Arrays: []zarrtest.Array{
			{Name: "latitude", Dims: []string{"latitude"}, Shape: []int{2}, Dtype: "<f8", Floats: lats},
			{Name: "longitude", Dims: []string{"longitude"}, Shape: []int{2}, Dtype: "<f8", Floats: lons},
			{
				Name: "forecast_reference_time", Dims: []string{"forecast_reference_time"}, Shape: []int{2}, Dtype: "<i8",
				Ints: []int64{0, 24}, Attrs: map[string]any{"units": "hours since 2020-01-01 00:00:00"},
			},
			{
				Name: "step", Dims: []string{"step"}, Shape: []int{2}, Dtype: "<m8[ns]",
				Ints: []int64{0, int64(6 * time.Hour)},
			},
			{
				Name: "t2m", Dims: []string{"forecast_reference_time", "step", "latitude", "longitude"},
				Shape: []int{2, 2, 2, 2}, Dtype: "<f4", Fill: "NaN", Floats: vals,
			},
		},
	}
	s, err := zarrtest.Memory(g)
	if err != nil {
		t.Fatal(err)
	}
	c, _ := newCatalog(t, map[string]zarr.Store{"gfs": s})
	ds, err := c.Dataset(context.Background(), "gfs", "")
	if err != nil {
		t.Fatal(err)
	}
	f := ds.Forecast
	if f == nil || ds.Time != nil {
		t.Fatalf("ds=%+v", ds)
	}
	if !f.RefTimes[1].Equal(t0.Add(24*time.Hour)) || f.Steps[1] != 6*time.Hour {
		t.Fatalf("forecast=%+v", f)
	}
	pinned, ok := ds.AtReferenceTime(t0.Add(24 * time.Hour))
	if !ok || !pinned.Time.Values[1].Equal(t0.Add(30*time.Hour)) {
		t.Fatalf("pinned=%+v ok=%t", pinned, ok)
	}
}

func TestParseCFUnits(t *testing.T) {
	cases := []struct {
		in   string
		unit time.Duration
		ref  time.Time
	}{
		{"days since 2000-01-01", 24 * time.Hour, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"hours since 1970-01-01 00:00:00", time.Hour, time.Unix(0, 0).UTC()},
		{"seconds since 1980-06-01T12:00:00Z", time.Second, time.Date(1980, 6, 1, 12, 0, 0, 0, time.UTC)},
		{"minute since 1900-1-1", time.Minute, time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"hours since 1970-01-01 00:00:00 UTC", time.Hour, time.Unix(0, 0).UTC()},
	}
	for _, tc := range cases {
		enc, err := parseCFUnits(tc.in)
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if enc.unit != tc.unit || !enc.ref.Equal(tc.ref) {
			t.Fatalf("%q: got %v %v", tc.in, enc.unit, enc.ref)
		}
	}
	for _, bad := range []string{"", "days", "fortnights since 2000-01-01", "days since yesterday"} {
		if _, err := parseCFUnits(bad); err == nil {
			t.Fatalf("%q accepted", bad)
		}
	}
}

func TestUpdateWindow(t *testing.T) {
	start, end, ok, err := UpdateWindow(map[string]any{
		"update_in_progress": true,
		"date range":         []any{"2021030100", "2021033123"},
	})
	if err != nil || !ok {
		t.Fatalf("ok=%t err=%v", ok, err)
	}
	if !start.Equal(time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)) || end.Hour() != 23 {
		t.Fatalf("start=%v end=%v", start, end)
	}
	if _, _, ok, _ := UpdateWindow(map[string]any{}); ok {
		t.Fatal("window reported without update")
	}
	if !UpdateInProgress(map[string]any{"update_in_progress": true}) {
		t.Fatal("expected update in progress")
	}
}
