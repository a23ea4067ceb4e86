package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/geotemporal-query/internal/core/observability"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for ln := range strings.SplitSeq(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok && (len(ln) > 0 && ln[len(ln)-1] >= '0' && ln[len(ln)-1] <= '9') {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func Test_AppMetrics_CustomRegistry_Smoke(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "test"}})
	observability.Init(p.Registerer(), true)
	// registering twice on the same registry is tolerated
	observability.Init(p.Registerer(), true)

	observability.ObserveHTTP(http.MethodPost, "/v1/datasets/{name}/query", http.StatusOK, 0.012)
	observability.ObserveStoreRead("s3", nil, 0.004)
	observability.ObserveStage("Aggregating", 0.001)
	observability.IncQueryFailure("BudgetChecking", "too_many_points")
	observability.ObserveSelectedPoints(1200)
	observability.IncCatalogLookup(false)
	observability.IncCacheHit()

	observability.AddCacheHits(3)
	observability.AddCacheMisses(1)
	observability.ObserveCacheOp("mget", errors.New("timeout"), 0.002)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	mustContain := []string{
		`http_request_duration_seconds_bucket`,
		`query_stage_duration_seconds_count{stage="Aggregating"}`,
		`query_selected_points_count`,
		`redis_keys_hit_total `,
		`redis_keys_missed_total `,
	}
	for _, s := range mustContain {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}

	assertHasMetricLine(t, body, "http_requests_total",
		`method="POST"`, `status="200"`)
	assertHasMetricLine(t, body, "query_failures_total",
		`kind="too_many_points"`, `stage="BudgetChecking"`)
	assertHasMetricLine(t, body, "store_read_duration_seconds_count",
		`backend="s3"`, `outcome="ok"`)
	assertHasMetricLine(t, body, "catalog_lookups_total", `outcome="miss"`)
	assertHasMetricLine(t, body, "result_cache_total", `outcome="hit"`)
	assertHasMetricLine(t, body, "redis_operation_duration_seconds_count",
		`op="mget"`, `outcome="error"`)
	assertHasMetricLine(t, body, "geoquery_build_info",
		`version="test"`)
}
