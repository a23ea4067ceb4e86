package s3

import (
	"errors"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/mohammed-shakir/geotemporal-query/internal/core/config"
	"github.com/mohammed-shakir/geotemporal-query/internal/zarr"
)

func TestRoot(t *testing.T) {
	if got := Root("era5_land_precip"); got != "datasets/era5_land_precip.zarr" {
		t.Fatalf("root=%q", got)
	}
}

func TestTranslateNotFound(t *testing.T) {
	err := translate(minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}, "datasets/x.zarr/v/0.0")
	if !errors.Is(err, zarr.ErrNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
	err = translate(minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}, "k")
	if errors.Is(err, zarr.ErrNotFound) {
		t.Fatalf("access denied mapped to not found")
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(config.StoreCfg{S3Endpoint: "localhost:9000"}, nil); err == nil {
		t.Fatal("expected error")
	}
	if _, err := New(config.StoreCfg{S3Endpoint: "localhost:9000", S3Bucket: "zarr-prod", S3AccessKey: "a", S3SecretKey: "b"}, nil); err != nil {
		t.Fatal(err)
	}
}
