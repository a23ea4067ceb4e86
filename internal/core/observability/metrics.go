// Package observability holds the service's Prometheus collectors and the
// helpers that update them.
package observability

import (
	"errors"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	storeReadSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_read_duration_seconds",
			Help:    "Latency of dataset store reads in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"backend", "outcome"},
	)

	stageSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "query_stage_duration_seconds",
			Help:    "Duration of query pipeline stages in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		},
		[]string{"stage"},
	)

	queryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "query_failures_total",
			Help: "Query pipeline failures by stage and error kind.",
		},
		[]string{"stage", "kind"},
	)

	selectedPoints = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "query_selected_points",
			Help:    "Estimated points selected per query before aggregation.",
			Buckets: prometheus.ExponentialBuckets(1, 10, 11),
		},
	)

	catalogLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_lookups_total",
			Help: "Dataset catalog lookups by outcome.",
		},
		[]string{"outcome"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "result_cache_total",
			Help: "Result cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	cacheAdmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "result_cache_admissions_total",
			Help: "Computed results offered to the cache by admission decision.",
		},
		[]string{"decision"},
	)

	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redis_keys_hit_total",
		Help: "Keys found by redis MGET.",
	})

	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redis_keys_missed_total",
		Help: "Keys not found by redis MGET.",
	})

	redisOpSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Latency of redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
		[]string{"op", "outcome"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds,
		storeReadSeconds,
		stageSeconds, queryFailures, selectedPoints,
		catalogLookups,
		cacheResults, cacheAdmissions, cacheHits, cacheMisses, redisOpSeconds,
	}
}

var initMu sync.Mutex

// Init registers the collectors on reg. Collectors are always updated;
// when enabled is false they are simply not exported. Registering on the
// same registry twice is a no-op.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	initMu.Lock()
	defer initMu.Unlock()
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveStoreRead(backend string, err error, durationSeconds float64) {
	storeReadSeconds.WithLabelValues(backend, outcome(err)).Observe(durationSeconds)
}

func ObserveStage(stage string, durationSeconds float64) {
	stageSeconds.WithLabelValues(stage).Observe(durationSeconds)
}

func IncQueryFailure(stage, kind string) {
	queryFailures.WithLabelValues(stage, kind).Inc()
}

func ObserveSelectedPoints(n int64) {
	selectedPoints.Observe(float64(n))
}

func IncCatalogLookup(hit bool) {
	if hit {
		catalogLookups.WithLabelValues("hit").Inc()
		return
	}
	catalogLookups.WithLabelValues("miss").Inc()
}

func IncCacheHit()  { cacheResults.WithLabelValues("hit").Inc() }
func IncCacheMiss() { cacheResults.WithLabelValues("miss").Inc() }

func IncCacheAdmission(admitted bool) {
	if admitted {
		cacheAdmissions.WithLabelValues("admit").Inc()
		return
	}
	cacheAdmissions.WithLabelValues("reject").Inc()
}

func AddCacheHits(n int)   { cacheHits.Add(float64(n)) }
func AddCacheMisses(n int) { cacheMisses.Add(float64(n)) }

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	redisOpSeconds.WithLabelValues(op, outcome(err)).Observe(durationSeconds)
}
