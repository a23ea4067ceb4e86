// Package cache defines the query result cache seen by the service.
package cache

import (
	"context"

	"github.com/mohammed-shakir/geotemporal-query/internal/core/model"
)

type Interface interface {
	// Get returns the encoded result of q, if cached.
	Get(ctx context.Context, q model.Query) ([]byte, bool, error)
	// Put caches the encoded result of q.
	Put(ctx context.Context, q model.Query, payload []byte) error
	// InvalidateDataset drops every cached result of a dataset.
	InvalidateDataset(ctx context.Context, dataset string) (int, error)
	// InvalidateArea drops the cached results of a dataset whose footprint
	// touches bb or any of cells. A nil bb with no cells drops the dataset.
	InvalidateArea(ctx context.Context, dataset string, bb *model.BBox, cells []string) (int, error)
}

// Noop caches nothing.
type Noop struct{}

func (Noop) Get(context.Context, model.Query) ([]byte, bool, error) { return nil, false, nil }
func (Noop) Put(context.Context, model.Query, []byte) error         { return nil }
func (Noop) InvalidateDataset(context.Context, string) (int, error) { return 0, nil }
func (Noop) InvalidateArea(context.Context, string, *model.BBox, []string) (int, error) {
	return 0, nil
}
