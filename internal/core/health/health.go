// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

// Component is a named dependency checked by the readiness probe.
type Component struct {
	Name     string
	Reporter ReadinessReporter
}

type readyResp struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
	Partitions []int32           `json:"partitions,omitempty"`
}

// Readiness answers 200 when every component is ready and 503 otherwise.
// Partitions are those held by ready components.
func Readiness(cs ...Component) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		out := readyResp{Status: "ready", Components: make(map[string]string, len(cs))}
		for _, c := range cs {
			ok, parts := c.Reporter.Readiness()
			if !ok {
				out.Status = "not_ready"
				out.Components[c.Name] = "not_ready"
				continue
			}
			out.Components[c.Name] = "ready"
			out.Partitions = append(out.Partitions, parts...)
		}
		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping reports ready while p answers within timeout.
func Ping(p Pinger, timeout time.Duration) ReadinessReporter {
	if timeout <= 0 {
		timeout = time.Second
	}
	return pingReporter{p: p, timeout: timeout}
}

type pingReporter struct {
	p       Pinger
	timeout time.Duration
}

func (r pingReporter) Readiness() (bool, []int32) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.p.Ping(ctx) == nil, nil
}
