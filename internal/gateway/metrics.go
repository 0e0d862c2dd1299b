package gateway

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks served requests and upstream latency.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	upstreamDuration prometheus.Histogram
}

// NewMetrics registers the gateway collectors, reusing existing ones when the
// default registry has already seen them.
func NewMetrics() *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "octo",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Requests served, labelled by path class and response status.",
		}, []string{"class", "status"}),
		upstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "octo",
			Subsystem: "gateway",
			Name:      "upstream_duration_seconds",
			Help:      "Time spent fetching objects from the artifact CDN.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if err := prometheus.Register(m.requestsTotal); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.requestsTotal = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	if err := prometheus.Register(m.upstreamDuration); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.upstreamDuration = are.ExistingCollector.(prometheus.Histogram)
		}
	}
	return m
}

// ObserveRequest records one served request.
func (m *Metrics) ObserveRequest(class PathClass, status int, upstream time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(class.String(), strconv.Itoa(status)).Inc()
	m.upstreamDuration.Observe(upstream.Seconds())
}
