package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/geotemporal-query/internal/core/config"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/geoerr"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/model"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/observability"
	"github.com/mohammed-shakir/geotemporal-query/internal/service"
	"github.com/mohammed-shakir/geotemporal-query/internal/store"
)

const (
	QueryRoute   = "/v1/datasets/{name}/query"
	maxBodyBytes = 1 << 20
)

// QueryService answers parsed queries.
type QueryService interface {
	Query(ctx context.Context, q model.Query) (*service.Response, error)
}

// HandleQuery parses the JSON body posted for a dataset and writes the
// encoded result, or a JSON error naming the failure kind.
func HandleQuery(logger *slog.Logger, _ config.Config, svc QueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, QueryRoute, sw.code, time.Since(start).Seconds())
		}()

		name := strings.TrimSpace(chi.URLParam(r, "name"))
		q, err := ParseQueryRequest(name, http.MaxBytesReader(sw, r.Body, maxBodyBytes))
		if err != nil {
			WriteError(sw, logger, r, err)
			return
		}

		resp, err := svc.Query(r.Context(), q)
		if err != nil {
			WriteError(sw, logger, r, err)
			return
		}

		sw.Header().Set("Content-Type", resp.ContentType)
		if resp.Cached {
			sw.Header().Set("X-Cache", "HIT")
		} else {
			sw.Header().Set("X-Cache", "MISS")
		}
		if q.Format == model.FormatNetCDF {
			sw.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".nc"))
		}
		sw.WriteHeader(http.StatusOK)
		if _, err := sw.Write(resp.Body); err != nil {
			logger.WarnContext(r.Context(), "write response", "err", err)
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Estimated int64  `json:"estimated_points,omitempty"`
	Limit     int64  `json:"point_limit,omitempty"`
}

// Status maps an error to its HTTP status.
func Status(err error) int {
	switch {
	case errors.Is(err, store.ErrDatasetNotFound):
		return http.StatusNotFound
	case errors.Is(err, geoerr.ErrTooManyPoints):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, geoerr.ErrEmptySelection):
		return http.StatusNotFound
	case errors.Is(err, geoerr.ErrDataUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, geoerr.ErrConfiguration),
		errors.Is(err, geoerr.ErrInvalidRange),
		errors.Is(err, geoerr.ErrUnsupportedMethod),
		errors.Is(err, geoerr.ErrCoordinateNotFound),
		errors.Is(err, geoerr.ErrMissingAxis):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func WriteError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	code := Status(err)
	body := errorBody{Error: geoerr.KindOf(err), Message: err.Error()}
	if errors.Is(err, store.ErrDatasetNotFound) {
		body.Error = "dataset_not_found"
	}
	var tm *geoerr.TooManyPointsError
	if errors.As(err, &tm) {
		body.Estimated, body.Limit = tm.Estimated, tm.Limit
	}
	if code >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "query failed", "status", code, "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

type pointReq struct {
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
	Exact bool     `json:"exact"`
}

type rectangleReq struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

type circleReq struct {
	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
	RadiusKm float64  `json:"radius_km"`
}

type timeRangeReq struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type aggregationReq struct {
	Dims      []string    `json:"dims"`
	Method    string      `json:"method"`
	Frequency string      `json:"frequency"`
	Unit      int         `json:"unit"`
	Rolling   *rollingReq `json:"rolling"`
}

type rollingReq struct {
	Window int    `json:"window"`
	Method string `json:"method"`
}

// QueryRequest is the JSON body of a query.
type QueryRequest struct {
	Variable string `json:"variable"`

	Point     *pointReq     `json:"point"`
	Rectangle *rectangleReq `json:"rectangle"`
	Circle    *circleReq    `json:"circle"`
	// Polygon is a ring of [lat, lon] vertices.
	Polygon [][2]float64 `json:"polygon"`

	TimeRange  *timeRangeReq `json:"time_range"`
	Timestamps []string      `json:"timestamps"`

	Aggregation *aggregationReq `json:"aggregation"`

	PointLimit         int64 `json:"point_limit"`
	OverridePointLimit bool  `json:"override_point_limit"`

	ForecastReferenceTime string `json:"forecast_reference_time"`
	OutputFormat          string `json:"output_format"`
}

// ParseQueryRequest decodes and checks a query body. Every failure is a
// configuration error naming the offending field.
func ParseQueryRequest(dataset string, body io.Reader) (model.Query, error) {
	if dataset == "" {
		return model.Query{}, geoerr.Configuration("dataset", "dataset name is required")
	}
	var req QueryRequest
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return model.Query{}, geoerr.Configuration("body", "invalid JSON body: %v", err)
	}

	q := model.Query{
		Dataset:  dataset,
		Variable: strings.TrimSpace(req.Variable),
		Budget:   model.PointBudget{MaxPoints: req.PointLimit, Override: req.OverridePointLimit},
	}
	if req.PointLimit < 0 {
		return model.Query{}, geoerr.Configuration("point_limit", "must be >= 0, got %d", req.PointLimit)
	}

	sq, err := parseSpatial(req)
	if err != nil {
		return model.Query{}, err
	}
	q.Spatial = sq

	if q.Temporal, err = parseTemporal(req); err != nil {
		return model.Query{}, err
	}

	if a := req.Aggregation; a != nil {
		agg := model.AggregationSpec{Method: a.Method, Frequency: a.Frequency, Unit: a.Unit}
		for _, d := range a.Dims {
			agg.Dims = append(agg.Dims, model.AggDim(strings.ToLower(strings.TrimSpace(d))))
		}
		if a.Rolling != nil {
			agg.Rolling = &model.Rolling{Window: a.Rolling.Window, Method: a.Rolling.Method}
		}
		q.Agg = &agg
	}

	if s := strings.TrimSpace(req.ForecastReferenceTime); s != "" {
		t, err := parseTime("forecast_reference_time", s)
		if err != nil {
			return model.Query{}, err
		}
		q.ForecastReferenceTime = &t
	}

	switch f := model.OutputFormat(strings.ToLower(strings.TrimSpace(req.OutputFormat))); f {
	case "", model.FormatArray:
		q.Format = model.FormatArray
	case model.FormatNetCDF:
		q.Format = f
	default:
		return model.Query{}, geoerr.Configuration("output_format", "must be array or netcdf, got %q", req.OutputFormat)
	}
	return q, nil
}

func parseSpatial(req QueryRequest) (model.SpatialQuery, error) {
	var out []model.SpatialQuery
	if p := req.Point; p != nil {
		if p.Lat == nil || p.Lon == nil {
			return model.SpatialQuery{}, geoerr.Configuration("point", "lat and lon are required")
		}
		sq := model.PointQuery(*p.Lat, *p.Lon)
		sq.Point.Exact = p.Exact
		out = append(out, sq)
	}
	if r := req.Rectangle; r != nil {
		out = append(out, model.RectangleQuery(r.MinLat, r.MinLon, r.MaxLat, r.MaxLon))
	}
	if c := req.Circle; c != nil {
		if c.Lat == nil || c.Lon == nil {
			return model.SpatialQuery{}, geoerr.Configuration("circle", "lat and lon are required")
		}
		out = append(out, model.CircleQuery(*c.Lat, *c.Lon, c.RadiusKm))
	}
	if req.Polygon != nil {
		out = append(out, model.PolygonQuery(req.Polygon))
	}
	if len(out) != 1 {
		return model.SpatialQuery{}, geoerr.Configuration("spatial",
			"exactly one of point, rectangle, circle or polygon is required, got %d", len(out))
	}
	return out[0], nil
}

func parseTemporal(req QueryRequest) (*model.TemporalQuery, error) {
	switch {
	case req.TimeRange != nil && len(req.Timestamps) > 0:
		return nil, geoerr.Configuration("time_range", "time_range and timestamps are mutually exclusive")
	case req.TimeRange != nil:
		start, err := parseTime("time_range.start", req.TimeRange.Start)
		if err != nil {
			return nil, err
		}
		end, err := parseTime("time_range.end", req.TimeRange.End)
		if err != nil {
			return nil, err
		}
		return model.TimeRange(start, end), nil
	case len(req.Timestamps) > 0:
		ts := make([]time.Time, len(req.Timestamps))
		for i, s := range req.Timestamps {
			t, err := parseTime(fmt.Sprintf("timestamps[%d]", i), s)
			if err != nil {
				return nil, err
			}
			ts[i] = t
		}
		return &model.TemporalQuery{Timestamps: ts}, nil
	}
	return nil, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02T15",
	"2006-01-02",
}

// parseTime reads RFC 3339 or a zone-less ISO prefix, taken as UTC.
func parseTime(param, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, geoerr.Configuration(param, "cannot parse time %q", s)
}
