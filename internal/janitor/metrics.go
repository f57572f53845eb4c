package janitor

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the janitor.
type Metrics struct {
	EntriesRemoved prometheus.Counter
	SweepErrors    prometheus.Counter
	SweepDuration  prometheus.Histogram
}

// NewMetrics creates and registers janitor metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		EntriesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fundi",
			Subsystem: "janitor",
			Name:      "entries_removed_total",
			Help:      "Total scratch entries removed by sweeps.",
		}),
		SweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fundi",
			Subsystem: "janitor",
			Name:      "sweep_errors_total",
			Help:      "Total sweep cycles that failed.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fundi",
			Subsystem: "janitor",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of each sweep cycle.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}

	reg.MustRegister(
		m.EntriesRemoved,
		m.SweepErrors,
		m.SweepDuration,
	)

	return m
}
