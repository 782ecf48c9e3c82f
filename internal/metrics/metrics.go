// Package metrics exposes Prometheus collectors for the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rmeter_requests_total",
		Help: "Total number of HTTP requests dispatched by virtual users",
	}, []string{"thread_group"})

	RequestsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rmeter_requests_failed_total",
		Help: "Requests that failed at the transport level or on assertions",
	}, []string{"thread_group"})

	RequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rmeter_request_duration_seconds",
		Help:    "Response time distribution of dispatched requests",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms .. ~16s
	})

	ActiveVirtualUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rmeter_active_virtual_users",
		Help: "Virtual users currently running",
	})

	BytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rmeter_bytes_received_total",
		Help: "Total response bytes received",
	})

	RunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rmeter_runs_started_total",
		Help: "Test runs started by this process",
	})

	CsvExhaustedWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rmeter_csv_exhausted_total",
		Help: "Cursors that ran past the end of a non-recycling CSV source",
	}, []string{"source"})
)

// ObserveResult updates the per-request collectors.
func ObserveResult(threadGroup string, elapsedMs int64, failed bool, sizeBytes int64) {
	RequestsTotal.WithLabelValues(threadGroup).Inc()
	if failed {
		RequestsFailed.WithLabelValues(threadGroup).Inc()
	}
	RequestDuration.Observe(float64(elapsedMs) / 1000)
	if sizeBytes > 0 {
		BytesReceived.Add(float64(sizeBytes))
	}
}
