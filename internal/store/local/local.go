// Package local serves datasets from a directory holding one zarr group
// per dataset, named "<dataset>.zarr" or "<dataset>".
package local

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mohammed-shakir/geotemporal-query/internal/core/config"
	"github.com/mohammed-shakir/geotemporal-query/internal/store"
	"github.com/mohammed-shakir/geotemporal-query/internal/zarr"
)

const Backend = "local"

func init() {
	store.Register(Backend, func(cfg config.StoreCfg, logger *slog.Logger) (store.Opener, error) {
		return New(cfg.LocalRoot, logger)
	})
}

type Opener struct {
	root   string
	logger *slog.Logger
}

func New(root string, logger *slog.Logger) (*Opener, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("local root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Opener{root: abs, logger: logger}, nil
}

func (o *Opener) Backend() string { return Backend }

func (o *Opener) Open(ctx context.Context, dataset string) (zarr.Store, error) {
	if dataset == "" || strings.ContainsAny(dataset, `/\`) || strings.Contains(dataset, "..") {
		return nil, fmt.Errorf("%w: invalid name %q", store.ErrDatasetNotFound, dataset)
	}
	for _, name := range []string{dataset + ".zarr", dataset} {
		dir := filepath.Join(o.root, name)
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			continue
		}
		o.logger.DebugContext(ctx, "dataset resolved", "dataset", dataset, "dir", dir)
		return zarr.NewLocalStore(dir)
	}
	return nil, fmt.Errorf("%w: %q under %s", store.ErrDatasetNotFound, dataset, o.root)
}
