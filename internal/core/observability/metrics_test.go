package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("metrics scrape: %v", err)
	}
	t.Cleanup(func() {
		if cerr := resp.Body.Close(); cerr != nil {
			t.Fatalf("close body: %v", cerr)
		}
	})
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	return string(b)
}

func TestInitRegistersAndExports(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, true)
	Init(reg, true)

	ObserveHTTP("POST", "/v1/datasets/{name}/query", 200, 0.01)
	ObserveStage("Aggregating", 0.002)
	IncQueryFailure("BudgetChecking", "too_many_points")
	ObserveStoreRead("s3", errors.New("boom"), 0.1)
	ObserveCacheOp("get", nil, 0.001)

	out := scrape(t, reg)
	for _, want := range []string{
		`http_requests_total{method="POST",route="/v1/datasets/{name}/query",status="200"}`,
		`query_stage_duration_seconds_bucket{stage="Aggregating"`,
		`query_failures_total{kind="too_many_points",stage="BudgetChecking"}`,
		`store_read_duration_seconds_count{backend="s3",outcome="error"}`,
		`redis_operation_duration_seconds_count{op="get",outcome="ok"}`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestDisabledInitExportsNothing(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, false)
	IncCacheHit()
	if n, err := testutil.GatherAndCount(reg); err != nil || n != 0 {
		t.Fatalf("GatherAndCount=%d,%v", n, err)
	}
}

func TestCatalogLookupCounter(t *testing.T) {
	before := testutil.ToFloat64(catalogLookups.WithLabelValues("hit"))
	IncCatalogLookup(true)
	IncCatalogLookup(false)
	if got := testutil.ToFloat64(catalogLookups.WithLabelValues("hit")); got != before+1 {
		t.Fatalf("hit counter=%v want %v", got, before+1)
	}
}
