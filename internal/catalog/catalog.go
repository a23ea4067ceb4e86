// Package catalog opens datasets by name and turns their zarr groups into
// grid datasets: coordinate detection, time decoding and update clamping.
// Opened groups and decoded coordinates are kept in an LRU until the
// dataset is invalidated or its TTL runs out.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/geotemporal-query/internal/core/geoerr"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/observability"
	"github.com/mohammed-shakir/geotemporal-query/internal/grid"
	"github.com/mohammed-shakir/geotemporal-query/internal/store"
	"github.com/mohammed-shakir/geotemporal-query/internal/zarr"
)

const DefaultSize = 32

var (
	latNames  = []string{"latitude", "lat"}
	lonNames  = []string{"longitude", "lon"}
	timeNames = []string{"time"}
)

const (
	refTimeDim = "forecast_reference_time"
	stepDim    = "step"
)

type Options struct {
	Size int
	// TTL bounds how long an opened group is served before the dataset is
	// resolved and opened again. Zero keeps groups until invalidated.
	TTL    time.Duration
	Codec  zarr.CodecOptions
	Logger *slog.Logger
}

type entry struct {
	group *zarr.Group

	mu       sync.Mutex
	datasets map[string]*grid.Dataset
}

type Catalog struct {
	opener store.Opener
	codec  zarr.CodecOptions
	logger *slog.Logger
	lru    *expirable.LRU[string, *entry]
	sf     singleflight.Group

	genMu sync.Mutex
	gen   map[string]uint64
}

func New(opener store.Opener, opts Options) (*Catalog, error) {
	size := opts.Size
	if size <= 0 {
		size = DefaultSize
	}
	if opts.TTL < 0 {
		return nil, fmt.Errorf("catalog ttl must be >= 0, got %s", opts.TTL)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		opener: opener,
		codec:  opts.Codec,
		logger: logger,
		lru:    expirable.NewLRU[string, *entry](size, nil, opts.TTL),
		gen:    map[string]uint64{},
	}, nil
}

func (c *Catalog) generation(name string) uint64 {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	return c.gen[name]
}

func (c *Catalog) entry(ctx context.Context, name string) (*entry, error) {
	if e, ok := c.lru.Get(name); ok {
		observability.IncCatalogLookup(true)
		return e, nil
	}
	observability.IncCatalogLookup(false)
	gen := c.generation(name)
	v, err, _ := c.sf.Do(name, func() (any, error) {
		st, err := c.opener.Open(ctx, name)
		if err != nil {
			return nil, err
		}
		g, err := zarr.OpenGroup(ctx, st, c.codec)
		if err != nil {
			return nil, err
		}
		e := &entry{group: g, datasets: map[string]*grid.Dataset{}}
		// an invalidation during the open means g may predate the change
		c.genMu.Lock()
		if c.gen[name] == gen {
			c.lru.Add(name, e)
		}
		c.genMu.Unlock()
		c.logger.InfoContext(ctx, "dataset opened", "dataset", name, "arrays", len(g.Arrays), "backend", c.opener.Backend())
		return e, nil
	})
	if err != nil {
		return nil, geoerr.DataUnavailable(name, err)
	}
	return v.(*entry), nil
}

// Group returns the opened zarr group of a dataset.
func (c *Catalog) Group(ctx context.Context, name string) (*zarr.Group, error) {
	e, err := c.entry(ctx, name)
	if err != nil {
		return nil, err
	}
	return e.group, nil
}

// Dataset returns the grid dataset of one variable. An empty variable
// selects the only data variable of the group.
func (c *Catalog) Dataset(ctx context.Context, name, variable string) (*grid.Dataset, error) {
	e, err := c.entry(ctx, name)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if ds, ok := e.datasets[variable]; ok {
		return ds, nil
	}
	ds, err := Build(ctx, name, e.group, variable)
	if err != nil {
		return nil, err
	}
	e.datasets[variable] = ds
	return ds, nil
}

// Invalidate drops a dataset so the next lookup reopens it.
func (c *Catalog) Invalidate(name string) bool {
	c.genMu.Lock()
	c.gen[name]++
	removed := c.lru.Remove(name)
	c.genMu.Unlock()
	c.sf.Forget(name)
	return removed
}

func (c *Catalog) Purge()   { c.lru.Purge() }
func (c *Catalog) Len() int { return c.lru.Len() }

// DataVariables lists arrays that are neither coordinates nor scalars.
func DataVariables(g *zarr.Group) []string {
	dims := map[string]bool{}
	for _, a := range g.Arrays {
		for _, d := range a.Dims() {
			dims[d] = true
		}
	}
	var out []string
	for _, n := range g.Names() {
		if !dims[n] && len(g.Arrays[n].Shape()) > 0 {
			out = append(out, n)
		}
	}
	return out
}

// Build decodes the coordinates of variable and binds them to its array.
func Build(ctx context.Context, name string, g *zarr.Group, variable string) (*grid.Dataset, error) {
	vars := DataVariables(g)
	if variable == "" {
		switch len(vars) {
		case 0:
			return nil, geoerr.Configuration("variable", "dataset %q has no data variables", name)
		case 1:
			variable = vars[0]
		default:
			return nil, geoerr.Configuration("variable", "dataset %q has several data variables %v; name one", name, vars)
		}
	} else if !slices.Contains(vars, variable) {
		return nil, geoerr.Configuration("variable", "dataset %q has no data variable %q (have %v)", name, variable, vars)
	}

	arr := g.Arrays[variable]
	ds := &grid.Dataset{
		Name:     name,
		Variable: variable,
		Attrs:    attrsOf(g, arr),
		Array:    arr,
	}
	coord := func(dim string) *zarr.Array {
		a, ok := g.Arrays[dim]
		if !ok || len(a.Shape()) != 1 {
			return nil
		}
		return a
	}
	unavailable := func(err error) error { return geoerr.DataUnavailable(name, err) }

	dims := arr.Dims()
	for _, dim := range dims {
		a := coord(dim)
		switch {
		case a == nil:
			continue
		case slices.Contains(latNames, dim) && ds.Lat == nil:
			vals, err := a.ReadAll(ctx)
			if err != nil {
				return nil, unavailable(err)
			}
			ds.Lat = &grid.Axis{Name: dim, Values: vals}
		case slices.Contains(lonNames, dim) && ds.Lon == nil:
			vals, err := a.ReadAll(ctx)
			if err != nil {
				return nil, unavailable(err)
			}
			ds.Lon = &grid.Axis{Name: dim, Values: vals}
		case slices.Contains(timeNames, dim):
			ts, err := decodeTimes(ctx, a)
			if err != nil {
				return nil, unavailable(err)
			}
			ds.Time = &grid.TimeAxis{Name: dim, Values: ts}
		case dim == refTimeDim || dim == stepDim:
			// forecast axes are bound below
		default:
			if !a.Meta().Dtype.Integral() && a.Meta().Dtype.BasicType != zarr.BTFloatingPoint {
				continue
			}
			vals, err := a.ReadAll(ctx)
			if err != nil {
				return nil, unavailable(err)
			}
			if ds.Labels == nil {
				ds.Labels = map[string][]float64{}
			}
			ds.Labels[dim] = vals
		}
	}

	if slices.Contains(dims, refTimeDim) && slices.Contains(dims, stepDim) && ds.Time == nil {
		ref, step := coord(refTimeDim), coord(stepDim)
		if ref == nil || step == nil {
			return nil, geoerr.Configuration("variable", "forecast variable %q lacks %s or %s coordinates", variable, refTimeDim, stepDim)
		}
		refs, err := decodeTimes(ctx, ref)
		if err != nil {
			return nil, unavailable(err)
		}
		steps, err := decodeSteps(ctx, step)
		if err != nil {
			return nil, unavailable(err)
		}
		ds.Forecast = &grid.Forecast{RefDim: refTimeDim, RefTimes: refs, StepDim: stepDim, Steps: steps}
	}

	if err := clampUpdate(ds, g.Attrs); err != nil {
		return nil, err
	}
	if err := ds.Validate(); err != nil {
		return nil, geoerr.Configuration("dataset", "%v", err)
	}
	return ds, nil
}

// attrsOf copies the root attributes, filling the unit from the variable.
func attrsOf(g *zarr.Group, arr *zarr.Array) map[string]any {
	out := maps.Clone(map[string]any(g.Attrs))
	if out == nil {
		out = map[string]any{}
	}
	if _, ok := out["unit of measurement"]; !ok {
		if u, ok := arr.Attrs()["units"].(string); ok {
			out["unit of measurement"] = u
		}
	}
	return out
}

// update attributes written by the dataset publisher
const (
	attrUpdating     = "update_in_progress"
	attrAppendOnly   = "update_is_append_only"
	attrDateRange    = "date range"
	attrPrevEnd      = "update_previous_end_date"
	updateTimeLayout = "2006010215"
)

// UpdateWindow returns the time range that is safe to read while the
// publisher is rewriting a dataset. ok is false when no update runs.
func UpdateWindow(attrs map[string]any) (start, end time.Time, ok bool, err error) {
	if updating, _ := attrs[attrUpdating].(bool); !updating {
		return start, end, false, nil
	}
	rng, _ := attrs[attrDateRange].([]any)
	if len(rng) != 2 {
		return start, end, true, fmt.Errorf("attribute %q: want [start, end], have %v", attrDateRange, attrs[attrDateRange])
	}
	startS, _ := rng[0].(string)
	endS, _ := rng[1].(string)
	if appendOnly, _ := attrs[attrAppendOnly].(bool); appendOnly {
		endS, _ = attrs[attrPrevEnd].(string)
	}
	if endS == "" {
		return start, end, true, fmt.Errorf("dataset is undergoing its initial parse, retry later")
	}
	if start, err = time.Parse(updateTimeLayout, startS); err != nil {
		return start, end, true, fmt.Errorf("attribute %q: %w", attrDateRange, err)
	}
	if end, err = time.Parse(updateTimeLayout, endS); err != nil {
		return start, end, true, fmt.Errorf("update end date: %w", err)
	}
	return start, end, true, nil
}

// clampUpdate restricts the time axis to the readable range of a dataset
// under update.
func clampUpdate(ds *grid.Dataset, attrs map[string]any) error {
	start, end, ok, err := UpdateWindow(attrs)
	if !ok {
		return nil
	}
	if err != nil {
		return geoerr.DataUnavailable(ds.Name, err)
	}
	if ds.Time == nil {
		return nil
	}
	ts := ds.Time.Values
	lo, _ := slices.BinarySearchFunc(ts, start, func(a, b time.Time) int { return a.Compare(b) })
	hi, found := slices.BinarySearchFunc(ts, end, func(a, b time.Time) int { return a.Compare(b) })
	if found {
		hi++
	}
	if lo >= hi {
		return geoerr.DataUnavailable(ds.Name, fmt.Errorf("no time steps readable between %s and %s during update", start.Format(time.RFC3339), end.Format(time.RFC3339)))
	}
	if lo == 0 && hi == len(ts) {
		return nil
	}
	arr, err := grid.Window(ds.Array, ds.Time.Name, lo, hi)
	if err != nil {
		return geoerr.DataUnavailable(ds.Name, err)
	}
	ds.Array = arr
	ds.Time = &grid.TimeAxis{Name: ds.Time.Name, Values: ts[lo:hi]}
	return nil
}

// UpdateInProgress reports whether results of the dataset may change
// outside of appended time steps.
func UpdateInProgress(attrs map[string]any) bool {
	updating, _ := attrs[attrUpdating].(bool)
	appendOnly, _ := attrs[attrAppendOnly].(bool)
	return updating && !appendOnly
}
