package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts requests by method, route pattern, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "route", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "route", "status"},
	)

	// AssignRuns counts bulk assignment runs by outcome (ok, no_workers, error).
	AssignRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fieldroute_assign_runs_total", Help: "Bulk assignment runs by outcome."},
		[]string{"outcome"},
	)
	// AssignJobs counts jobs per run result (assigned, unassigned).
	AssignJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fieldroute_assign_jobs_total", Help: "Jobs processed by bulk assignment, by result."},
		[]string{"result"},
	)
	AssignDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "fieldroute_assign_run_duration_seconds", Help: "Bulk assignment run duration in seconds.", Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}},
	)
	// WritebackFailures counts persistence failures by kind (assignment, route_plan).
	WritebackFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fieldroute_writeback_failures_total", Help: "Writeback failures by kind."},
		[]string{"kind"},
	)
	// WebhookDeliveries counts outbound webhook results (delivered, failed, dropped).
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fieldroute_webhook_deliveries_total", Help: "Outbound webhook deliveries by result."},
		[]string{"result"},
	)
	// OpDuration times store and service operations wrapped with Time.
	OpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "fieldroute_op_duration_seconds", Help: "Operation duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"op", "status"},
	)
)

// RegisterDefault registers all collectors on Registry. Safe to call more than once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests, HTTPDuration)
		Registry.MustRegister(AssignRuns, AssignJobs, AssignDuration, WritebackFailures, WebhookDeliveries, OpDuration)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
