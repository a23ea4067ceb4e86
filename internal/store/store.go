// Package store resolves dataset names to zarr stores. Backends register a
// factory under a name and are picked by configuration.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mohammed-shakir/geotemporal-query/internal/core/config"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/observability"
	"github.com/mohammed-shakir/geotemporal-query/internal/zarr"
)

// ErrDatasetNotFound is returned by Open for names the backend does not know.
var ErrDatasetNotFound = errors.New("dataset not found")

// Opener resolves a dataset name to the root of its zarr group.
type Opener interface {
	Open(ctx context.Context, dataset string) (zarr.Store, error)
	Backend() string
}

type Factory func(cfg config.StoreCfg, logger *slog.Logger) (Opener, error)

var (
	mu  sync.RWMutex
	reg = map[string]Factory{}
)

func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	reg[name] = f
}

// Backends lists registered backend names.
func Backends() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(reg))
	for n := range reg {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func New(cfg config.StoreCfg, logger *slog.Logger) (Opener, error) {
	mu.RLock()
	f, ok := reg[cfg.Backend]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no store backend %q registered (have %v)", cfg.Backend, Backends())
	}
	o, err := f(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("store backend %q: %w", cfg.Backend, err)
	}
	return instrumentedOpener{o}, nil
}

type instrumentedOpener struct{ Opener }

func (o instrumentedOpener) Open(ctx context.Context, dataset string) (zarr.Store, error) {
	s, err := o.Opener.Open(ctx, dataset)
	if err != nil {
		return nil, err
	}
	return Instrument(s, o.Backend()), nil
}

// Instrument records read latency of s under the backend label.
func Instrument(s zarr.Store, backend string) zarr.Store {
	return instrumented{Store: s, backend: backend}
}

type instrumented struct {
	zarr.Store
	backend string
}

func (s instrumented) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	b, err := s.Store.Get(ctx, key)
	outcomeErr := err
	if errors.Is(err, zarr.ErrNotFound) {
		// absent chunks are a normal outcome
		outcomeErr = nil
	}
	observability.ObserveStoreRead(s.backend, outcomeErr, time.Since(start).Seconds())
	return b, err
}
