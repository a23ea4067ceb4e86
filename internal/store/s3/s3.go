// Package s3 serves datasets from an S3 compatible bucket laid out as
// "datasets/<dataset>.zarr/<key>".
package s3

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mohammed-shakir/geotemporal-query/internal/core/config"
	"github.com/mohammed-shakir/geotemporal-query/internal/store"
	"github.com/mohammed-shakir/geotemporal-query/internal/zarr"
)

const (
	Backend = "s3"
	prefix  = "datasets"
)

func init() {
	store.Register(Backend, func(cfg config.StoreCfg, logger *slog.Logger) (store.Opener, error) {
		return New(cfg, logger)
	})
}

type Opener struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

func New(cfg config.StoreCfg, logger *slog.Logger) (*Opener, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}
	opts := &minio.Options{Secure: cfg.S3UseSSL}
	if cfg.S3AccessKey != "" {
		opts.Creds = credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, "")
	} else {
		opts.Creds = credentials.NewEnvAWS()
	}
	client, err := minio.New(cfg.S3Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Opener{client: client, bucket: cfg.S3Bucket, logger: logger}, nil
}

func (o *Opener) Backend() string { return Backend }

// Root returns the object prefix of a dataset.
func Root(dataset string) string {
	return path.Join(prefix, dataset+".zarr")
}

func (o *Opener) Open(ctx context.Context, dataset string) (zarr.Store, error) {
	if dataset == "" || strings.Contains(dataset, "/") {
		return nil, fmt.Errorf("%w: invalid name %q", store.ErrDatasetNotFound, dataset)
	}
	root := Root(dataset)
	_, err := o.client.StatObject(ctx, o.bucket, path.Join(root, string(zarr.MTMetadata)), minio.StatObjectOptions{})
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: s3://%s/%s", store.ErrDatasetNotFound, o.bucket, root)
	}
	if err != nil {
		return nil, fmt.Errorf("stat s3://%s/%s: %w", o.bucket, root, err)
	}
	o.logger.DebugContext(ctx, "dataset resolved", "dataset", dataset, "bucket", o.bucket, "prefix", root)
	return &Store{client: o.client, bucket: o.bucket, root: root}, nil
}

// Store reads zarr keys below one dataset prefix.
type Store struct {
	client *minio.Client
	bucket string
	root   string
}

func (s *Store) Type() string { return Backend }

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	name := path.Join(s.root, key)
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(err, name)
	}
	defer obj.Close()
	b, err := io.ReadAll(obj)
	if err != nil {
		return nil, translate(err, name)
	}
	return b, nil
}

func translate(err error, name string) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", zarr.ErrNotFound, name)
	}
	return fmt.Errorf("get %s: %w", name, err)
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
