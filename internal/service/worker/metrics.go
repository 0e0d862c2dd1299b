package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks job outcomes and build durations.
type Metrics struct {
	jobsTotal     *prometheus.CounterVec
	buildDuration prometheus.Histogram
}

// NewMetrics registers worker collectors on the default registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "octo",
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Count of processed build jobs by result",
		}, []string{"result"}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "octo",
			Subsystem: "worker",
			Name:      "build_duration_seconds",
			Help:      "Wall-clock duration of successful builds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		}),
	}
	for _, collector := range []prometheus.Collector{m.jobsTotal, m.buildDuration} {
		if err := prometheus.Register(collector); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch v := are.ExistingCollector.(type) {
				case *prometheus.CounterVec:
					m.jobsTotal = v
				case prometheus.Histogram:
					m.buildDuration = v
				}
			}
		}
	}
	return m
}

// ObserveJob records one finished job. Duration is only observed for
// successful builds.
func (m *Metrics) ObserveJob(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(result).Inc()
	if result == "deployed" && duration > 0 {
		m.buildDuration.Observe(duration.Seconds())
	}
}
