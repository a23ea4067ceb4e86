// Package pipeline runs a query against a dataset: validate, select in
// space, select in time, check the point budget, then read and aggregate.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/geotemporal-query/internal/aggregate"
	"github.com/mohammed-shakir/geotemporal-query/internal/budget"
	"github.com/mohammed-shakir/geotemporal-query/internal/coords"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/geoerr"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/model"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/observability"
	"github.com/mohammed-shakir/geotemporal-query/internal/grid"
	"github.com/mohammed-shakir/geotemporal-query/internal/logger"
	"github.com/mohammed-shakir/geotemporal-query/internal/spatial"
	"github.com/mohammed-shakir/geotemporal-query/internal/temporal"
)

type State int

const (
	Validating State = iota
	SpatiallyFiltering
	TemporallyFiltering
	BudgetChecking
	Aggregating
	Done
	Failed
)

var stateNames = [...]string{"Validating", "SpatiallyFiltering", "TemporallyFiltering", "BudgetChecking", "Aggregating", "Done", "Failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Config struct {
	// DefaultPointLimit applies when a query leaves MaxPoints at zero.
	DefaultPointLimit int64
	// SkipMissingTimestamps drops unknown timestamps of an explicit set.
	SkipMissingTimestamps bool
	// RequireData fails queries whose materialized values are all missing.
	RequireData bool
}

// StageError records the stage a run failed in.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string { return e.Stage.String() + ": " + e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage err was raised in.
func FailedStage(err error) (State, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return Failed, false
}

// resultNamespace scopes name-based result ids.
var resultNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("geoquery/result"))

// ResultID names the result of q on a dataset. Equal queries on the same
// dataset get the same id.
func ResultID(dataset string, q model.Query) string {
	return uuid.NewSHA1(resultNamespace, []byte(dataset+"|"+q.CanonicalString())).String()
}

type Provenance struct {
	ID                    string
	Spatial               string
	Temporal              string
	ForecastReferenceTime *time.Time
	SpatialCells          int64
	TimeSteps             int64
	Points                int64
	Aggregated            bool
	Aggregation           string
	Stages                []State
}

// Result is immutable once returned.
type Result struct {
	Dataset    string
	Variable   string
	Attrs      map[string]any
	Data       *grid.Dense
	Provenance Provenance
}

type Pipeline struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.DefaultPointLimit == 0 {
		cfg.DefaultPointLimit = budget.DefaultPointLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, logger: logger}
}

type run struct {
	p      *Pipeline
	ctx    context.Context
	q      model.Query
	ds     *grid.Dataset
	ix     *coords.Index
	subset *grid.Subset
	dense  *grid.Dense
	prov   Provenance
}

// Run executes q against ds. On failure no partial result is returned and
// the error is a *StageError wrapping a geoerr kind.
func (p *Pipeline) Run(ctx context.Context, ds *grid.Dataset, q model.Query) (*Result, error) {
	r := &run{p: p, ctx: ctx, q: q, ds: ds}
	r.prov.ID = ResultID(ds.Name, q)
	r.prov.Spatial = q.Spatial.String()
	if q.Temporal != nil {
		r.prov.Temporal = q.Temporal.String()
	}

	stages := []struct {
		state State
		fn    func() error
	}{
		{Validating, r.validate},
		{SpatiallyFiltering, r.selectSpace},
		{TemporallyFiltering, r.selectTime},
		{BudgetChecking, r.checkBudget},
		{Aggregating, r.materialize},
	}
	for _, st := range stages {
		if err := r.step(st.state, st.fn); err != nil {
			return nil, err
		}
	}
	r.prov.Stages = append(r.prov.Stages, Done)
	return &Result{
		Dataset:    r.ds.Name,
		Variable:   r.ds.Variable,
		Attrs:      r.ds.Attrs,
		Data:       r.dense,
		Provenance: r.prov,
	}, nil
}

func (r *run) step(st State, fn func() error) error {
	ctx := logger.WithStage(r.ctx, st.String())
	if err := r.ctx.Err(); err != nil {
		return r.fail(ctx, st, err)
	}
	r.prov.Stages = append(r.prov.Stages, st)
	start := time.Now()
	err := fn()
	observability.ObserveStage(st.String(), time.Since(start).Seconds())
	if err != nil {
		return r.fail(ctx, st, err)
	}
	r.p.logger.DebugContext(ctx, "stage complete", "dur_ms", time.Since(start).Milliseconds())
	return nil
}

func (r *run) fail(ctx context.Context, st State, err error) error {
	kind := geoerr.KindOf(err)
	observability.IncQueryFailure(st.String(), kind)
	r.p.logger.InfoContext(ctx, "query failed", "kind", kind, "err", err)
	return &StageError{Stage: st, Err: err}
}

func (r *run) validate() error {
	if err := r.ds.Validate(); err != nil {
		return geoerr.Configuration("dataset", "%v", err)
	}
	switch frt := r.q.ForecastReferenceTime; {
	case r.ds.Forecast != nil && frt == nil:
		return geoerr.Configuration("forecast_reference_time", "dataset %q is a forecast; a reference time is required", r.ds.Name)
	case r.ds.Forecast == nil && frt != nil:
		return geoerr.MissingAxis("forecast_reference_time")
	case frt != nil:
		pinned, ok := r.ds.AtReferenceTime(*frt)
		if !ok {
			return geoerr.CoordinateNotFound("forecast_reference_time", "%s is not a reference time of %q", frt.UTC().Format(time.RFC3339), r.ds.Name)
		}
		r.ds = pinned
		r.prov.ForecastReferenceTime = frt
	}

	ix, err := coords.New(r.ds)
	if err != nil {
		return err
	}
	r.ix = ix
	if err := ix.Require(true, r.q.Temporal != nil); err != nil {
		return err
	}
	if r.q.Agg != nil {
		if err := aggregate.Validate(*r.q.Agg, ix.Time != nil, r.q.Spatial.Kind); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) selectSpace() error {
	sel, err := spatial.Select(r.ix, r.q.Spatial)
	if err != nil {
		return err
	}
	r.subset = &grid.Subset{Dataset: r.ds, LatIdx: sel.LatIdx, LonIdx: sel.LonIdx, Mask: sel.Mask}
	r.prov.SpatialCells = sel.Cells
	return nil
}

func (r *run) selectTime() error {
	if r.q.Temporal == nil {
		r.prov.TimeSteps = r.subset.TimeSteps()
		return nil
	}
	idx, err := temporal.Select(r.ctx, r.ix, *r.q.Temporal, temporal.Options{
		SkipMissing: r.p.cfg.SkipMissingTimestamps,
		Logger:      r.p.logger,
	})
	if err != nil {
		return err
	}
	r.subset.TimeIdx = idx
	r.prov.TimeSteps = int64(len(idx))
	return nil
}

func (r *run) checkBudget() error {
	est, err := budget.Check(r.subset, r.q.Budget, r.p.cfg.DefaultPointLimit)
	r.prov.Points = est
	observability.ObserveSelectedPoints(est)
	return err
}

func (r *run) materialize() error {
	dense, err := r.subset.Materialize(r.ctx)
	if err != nil {
		if ctxErr := r.ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, geoerr.ErrDataUnavailable) {
			return err
		}
		return geoerr.DataUnavailable(r.ds.Name, err)
	}
	if r.p.cfg.RequireData && dense.AllMissing() {
		return geoerr.EmptySelection(r.ds.Variable, "every selected value is missing")
	}
	if agg := r.q.Agg; agg != nil && (len(agg.Dims) > 0 || agg.Rolling != nil) {
		if dense, err = aggregate.Apply(dense, *agg); err != nil {
			return err
		}
		r.prov.Aggregated = true
		r.prov.Aggregation = agg.String()
	}
	r.dense = dense
	return nil
}
