// Package metrics exposes Prometheus counters/gauges for the proxy's
// forwarding pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ForwardedTotal counts completed exchanges (forwarded, or answered with
	// a Redirect-disposition 302) by path and target service.
	ForwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sso_adapter",
			Name:      "forwarded_requests_total",
			Help:      "Total number of requests forwarded upstream, by path and target service.",
		},
		[]string{"path", "target"},
	)

	// ForwardDuration observes the wall-clock time of each completed
	// exchange, from request arrival to the final response write, by target
	// service.
	ForwardDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sso_adapter",
			Name:      "forward_duration_seconds",
			Help:      "Time spent forwarding a request to its upstream target.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"target"},
	)

	// SSEStreamsActive is the current count of in-flight SSE passthrough
	// exchanges.
	SSEStreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sso_adapter",
			Name:      "sse_streams_active",
			Help:      "Current number of in-flight SSE passthrough streams.",
		},
	)

	// ErrorsTotal counts pipeline failures by the proxyerr.Kind name that
	// aborted the request.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sso_adapter",
			Name:      "errors_total",
			Help:      "Total number of requests aborted by a pipeline error, by kind.",
		},
		[]string{"kind"},
	)
)

// RecordForward records a completed forward: the matched path, the target
// service, and how long it took.
func RecordForward(path, target string, seconds float64) {
	ForwardedTotal.WithLabelValues(path, target).Inc()
	ForwardDuration.WithLabelValues(target).Observe(seconds)
}

// RecordError increments the error counter for the given kind name.
func RecordError(kind string) {
	ErrorsTotal.WithLabelValues(kind).Inc()
}
