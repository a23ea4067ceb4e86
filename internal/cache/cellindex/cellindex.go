// Package cellindex keeps, per dataset, the Redis sets that map H3 cells to
// the cached result keys whose footprint covers them.
package cellindex

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammed-shakir/geotemporal-query/internal/cache/keys"
	"github.com/mohammed-shakir/geotemporal-query/internal/cache/redisstore"
)

// Footprint is where a cached result reads from. A wide footprint has no
// cells and is matched by every area lookup of its dataset.
type Footprint struct {
	Res   int
	Cells []string
	Wide  bool
}

type CellIndex interface {
	// Put stores val under key and indexes key by fp.
	Put(ctx context.Context, dataset, key string, val []byte, ttl time.Duration, fp Footprint) error

	// Lookup returns the keys indexed under any of cells (at res) together
	// with the wide keys of the dataset.
	Lookup(ctx context.Context, dataset string, res int, cells []string) ([]string, error)

	// All returns every key indexed for dataset.
	All(ctx context.Context, dataset string) ([]string, error)
}

type redisCellIndex struct {
	cli *redisstore.Client
}

func NewRedisIndex(cli *redisstore.Client) CellIndex {
	return &redisCellIndex{cli: cli}
}

func (ci *redisCellIndex) Put(
	ctx context.Context,
	dataset, key string,
	val []byte,
	ttl time.Duration,
	fp Footprint,
) error {
	sets := make([]string, 0, len(fp.Cells)+2)
	sets = append(sets, keys.Dataset(dataset))
	if fp.Wide {
		sets = append(sets, keys.Wide(dataset))
	} else {
		seen := make(map[string]struct{}, len(fp.Cells))
		for _, c := range fp.Cells {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			sets = append(sets, keys.Cell(dataset, fp.Res, c))
		}
	}
	if err := ci.cli.SetIndexed(ctx, key, val, ttl, sets...); err != nil {
		return fmt.Errorf("cellindex put %q: %w", key, err)
	}
	return nil
}

func (ci *redisCellIndex) Lookup(
	ctx context.Context,
	dataset string,
	res int,
	cells []string,
) ([]string, error) {
	sets := make([]string, 0, len(cells)+1)
	sets = append(sets, keys.Wide(dataset))
	for _, c := range cells {
		sets = append(sets, keys.Cell(dataset, res, c))
	}
	out, err := ci.cli.Members(ctx, sets...)
	if err != nil {
		return nil, fmt.Errorf("cellindex lookup %d cells: %w", len(cells), err)
	}
	return out, nil
}

func (ci *redisCellIndex) All(ctx context.Context, dataset string) ([]string, error) {
	out, err := ci.cli.Members(ctx, keys.Dataset(dataset))
	if err != nil {
		return nil, fmt.Errorf("cellindex all %q: %w", dataset, err)
	}
	return out, nil
}
