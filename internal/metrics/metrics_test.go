package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestProvider_RegistersStandardCollectors_AndBuildInfo(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "1.4.0", Revision: "abc123", Branch: "main", BuildDate: "2026-10-01"}})

	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "catalog_open_datasets", Help: "smoke"})
	p.Register(g)
	g.Set(3)
	if got := testutil.ToFloat64(g); got != 3 {
		t.Fatalf("gauge=%g want 3", got)
	}

	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()

	for _, want := range []string{
		"go_goroutines",
		"catalog_open_datasets 3",
		`geoquery_build_info{branch="main",build_date="2026-10-01",revision="abc123",version="1.4.0"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in payload; got:\n%s", want, body)
		}
	}
}

func TestProvider_DefaultsVersionAndPath(t *testing.T) {
	p := Init(Config{})
	if p.cfg.Path != "/metrics" {
		t.Fatalf("path=%q", p.cfg.Path)
	}
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), `version="dev"`) {
		t.Fatalf("missing dev version:\n%s", rr.Body.String())
	}
}
