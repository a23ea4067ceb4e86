// Package service answers queries: cached result, else catalog lookup,
// pipeline run and encoding.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mohammed-shakir/geotemporal-query/internal/cache"
	"github.com/mohammed-shakir/geotemporal-query/internal/catalog"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/model"
	"github.com/mohammed-shakir/geotemporal-query/internal/encoding"
	"github.com/mohammed-shakir/geotemporal-query/internal/grid"
	"github.com/mohammed-shakir/geotemporal-query/internal/logger"
	"github.com/mohammed-shakir/geotemporal-query/internal/pipeline"
)

const (
	ContentTypeJSON   = "application/json"
	ContentTypeNetCDF = "application/x-netcdf"
)

// Catalog resolves a dataset variable to a grid.
type Catalog interface {
	Dataset(ctx context.Context, name, variable string) (*grid.Dataset, error)
}

type Response struct {
	ContentType string
	Body        []byte
	Cached      bool
}

type Service struct {
	catalog Catalog
	pipe    *pipeline.Pipeline
	cache   cache.Interface
	logger  *slog.Logger
}

func New(cat Catalog, p *pipeline.Pipeline, c cache.Interface, logger *slog.Logger) *Service {
	if c == nil {
		c = cache.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{catalog: cat, pipe: p, cache: c, logger: logger}
}

// Query answers q. Cache failures are logged and never fail the query.
func (s *Service) Query(ctx context.Context, q model.Query) (*Response, error) {
	if q.Format == "" {
		q.Format = model.FormatArray
	}
	ctx = logger.WithDataset(ctx, q.Dataset)

	body, ok, err := s.cache.Get(ctx, q)
	switch {
	case err != nil:
		s.logger.WarnContext(ctx, "result cache get failed, computing", "err", err)
	case ok:
		s.logger.DebugContext(ctx, "result cache hit", "bytes", len(body))
		return &Response{ContentType: contentType(q.Format), Body: body, Cached: true}, nil
	}

	ds, err := s.catalog.Dataset(ctx, q.Dataset, q.Variable)
	if err != nil {
		return nil, err
	}
	res, err := s.pipe.Run(ctx, ds, q)
	if err != nil {
		return nil, err
	}
	body, err = Encode(res, q.Format)
	if err != nil {
		return nil, err
	}

	// values under an in-progress update are clamped and will move
	if catalog.UpdateInProgress(res.Attrs) {
		s.logger.DebugContext(ctx, "update in progress, result not cached")
	} else if err := s.cache.Put(ctx, q, body); err != nil {
		s.logger.WarnContext(ctx, "result cache put failed", "err", err)
	}
	return &Response{ContentType: contentType(q.Format), Body: body}, nil
}

// Encode serializes res in the requested output format.
func Encode(res *pipeline.Result, f model.OutputFormat) ([]byte, error) {
	switch f {
	case model.FormatNetCDF:
		b, err := encoding.NetCDF(res)
		if err != nil {
			return nil, fmt.Errorf("encode netcdf: %w", err)
		}
		return b, nil
	default:
		b, err := json.Marshal(encoding.Record(res))
		if err != nil {
			return nil, fmt.Errorf("encode record: %w", err)
		}
		return b, nil
	}
}

func contentType(f model.OutputFormat) string {
	if f == model.FormatNetCDF {
		return ContentTypeNetCDF
	}
	return ContentTypeJSON
}
