// Package metrics exposes operational counters over Prometheus's text
// format. It is carried over from the teacher's go.mod dependency on
// prometheus/client_golang (present there but otherwise unwired) — wired
// here to the HTTP layer and the Scheduler's four loops rather than dropped.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPRequestsTotal counts every request the router handles, labeled by
// method and exact status code (e.g. "200", "404").
var HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pgam_http_requests_total",
	Help: "Total HTTP requests handled, labeled by method and status code.",
}, []string{"method", "status"})

// CycleResultsTotal counts per-target outcomes of each Scheduler loop
// (spec.md §4.7), labeled by loop name and outcome ("ok" or "failed").
var CycleResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pgam_cycle_results_total",
	Help: "Per-target Scheduler cycle outcomes, labeled by loop and outcome.",
}, []string{"loop", "outcome"})

// TargetsRegistered reports the current number of monitored targets, sampled
// at the start of each Scheduler cycle.
var TargetsRegistered = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "pgam_targets_registered",
	Help: "Number of targets currently in the Target Registry.",
})

// Handler serves the Prometheus text exposition format at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
