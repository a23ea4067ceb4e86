// Package results caches encoded query results in Redis and indexes them
// by the H3 cells of the area each query reads, so that a change to part
// of a dataset only drops the results that read it.
package results

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/geotemporal-query/internal/cache"
	"github.com/mohammed-shakir/geotemporal-query/internal/cache/cellindex"
	"github.com/mohammed-shakir/geotemporal-query/internal/cache/keys"
	"github.com/mohammed-shakir/geotemporal-query/internal/cache/redisstore"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/model"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/observability"
	"github.com/mohammed-shakir/geotemporal-query/internal/decision"
	"github.com/mohammed-shakir/geotemporal-query/internal/mapper"
)

type Config struct {
	// FootprintRes is the H3 resolution of the footprint index.
	FootprintRes int
	// MaxCells caps a footprint; larger ones are indexed as wide.
	MaxCells     int
	DefaultTTL   time.Duration
	TTLOverrides map[string]time.Duration
	// OpTimeout bounds every Redis round trip; zero means the caller's
	// context alone.
	OpTimeout time.Duration
	// Admission picks which results are stored; nil stores all of them.
	Admission decision.Interface
}

type Cache struct {
	cli    *redisstore.Client
	idx    cellindex.CellIndex
	mapper mapper.Interface
	cfg    Config
	logger *slog.Logger
}

var _ cache.Interface = (*Cache)(nil)

func New(cli *redisstore.Client, m mapper.Interface, cfg Config, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 10 * time.Minute
	}
	if cfg.Admission == nil {
		cfg.Admission = decision.Always{}
	}
	return &Cache{
		cli:    cli,
		idx:    cellindex.NewRedisIndex(cli),
		mapper: m,
		cfg:    cfg,
		logger: logger,
	}
}

func (c *Cache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.OpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.OpTimeout)
}

func (c *Cache) ttl(dataset string) time.Duration {
	if d, ok := c.cfg.TTLOverrides[dataset]; ok && d > 0 {
		return d
	}
	return c.cfg.DefaultTTL
}

// Key is the Redis key of the cached result of q.
func Key(q model.Query) string {
	return keys.Result(q.Dataset, q.CanonicalString())
}

func (c *Cache) Get(ctx context.Context, q model.Query) ([]byte, bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	key := Key(q)
	found, err := c.cli.MGet(ctx, []string{key})
	if err != nil {
		return nil, false, fmt.Errorf("result cache get: %w", err)
	}
	v, ok := found[key]
	if !ok {
		observability.IncCacheMiss()
		return nil, false, nil
	}
	observability.IncCacheHit()
	return v, true, nil
}

func (c *Cache) Put(ctx context.Context, q model.Query, payload []byte) error {
	fp, err := c.footprint(q.Spatial)
	if err != nil {
		return fmt.Errorf("result cache footprint: %w", err)
	}
	if !c.cfg.Admission.Admit(q.Dataset, fp.Cells) {
		observability.IncCacheAdmission(false)
		c.logger.Debug("result not admitted", "dataset", q.Dataset, "cells", len(fp.Cells))
		return nil
	}
	observability.IncCacheAdmission(true)

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	key := Key(q)
	if err := c.idx.Put(ctx, q.Dataset, key, payload, c.ttl(q.Dataset), fp); err != nil {
		return fmt.Errorf("result cache put: %w", err)
	}
	c.logger.Debug("result cached",
		"key", key,
		"bytes", len(payload),
		"cells", len(fp.Cells),
		"wide", fp.Wide,
	)
	return nil
}

func (c *Cache) footprint(q model.SpatialQuery) (cellindex.Footprint, error) {
	cells, ok, err := c.mapper.Footprint(q, c.cfg.FootprintRes, c.cfg.MaxCells)
	if err != nil {
		return cellindex.Footprint{}, err
	}
	if !ok {
		return cellindex.Footprint{Wide: true}, nil
	}
	return cellindex.Footprint{Res: c.cfg.FootprintRes, Cells: cells}, nil
}

func (c *Cache) InvalidateDataset(ctx context.Context, dataset string) (int, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	ks, err := c.idx.All(ctx, dataset)
	if err != nil {
		return 0, fmt.Errorf("invalidate dataset %q: %w", dataset, err)
	}
	// index sets are dropped with the results; later puts rebuild them
	ks = append(ks, keys.Dataset(dataset), keys.Wide(dataset))
	if err := c.cli.Del(ctx, ks...); err != nil {
		return 0, fmt.Errorf("invalidate dataset %q: %w", dataset, err)
	}
	return len(ks) - 2, nil
}

func (c *Cache) InvalidateArea(ctx context.Context, dataset string, bb *model.BBox, cells []string) (int, error) {
	if bb == nil && len(cells) == 0 {
		return c.InvalidateDataset(ctx, dataset)
	}

	var touched mapper.Cells
	if bb != nil {
		bc, err := c.mapper.CellsForBBox(*bb, c.cfg.FootprintRes, c.cfg.MaxCells)
		switch {
		case errors.Is(err, mapper.ErrTooManyCells):
			c.logger.Info("invalidation area too large, dropping dataset", "dataset", dataset, "bbox", bb.String())
			return c.InvalidateDataset(ctx, dataset)
		case err != nil:
			return 0, fmt.Errorf("invalidate area: %w", err)
		}
		touched = append(touched, bc...)
	}
	if len(cells) > 0 {
		nc, err := c.mapper.Normalize(cells, c.cfg.FootprintRes)
		if err != nil {
			return 0, fmt.Errorf("invalidate area: %w", err)
		}
		touched = append(touched, nc...)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	ks, err := c.idx.Lookup(ctx, dataset, c.cfg.FootprintRes, touched)
	if err != nil {
		return 0, fmt.Errorf("invalidate area: %w", err)
	}
	if len(ks) == 0 {
		return 0, nil
	}
	if err := c.cli.Del(ctx, ks...); err != nil {
		return 0, fmt.Errorf("invalidate area: %w", err)
	}
	return len(ks), nil
}
