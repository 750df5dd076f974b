package quiesce

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records wait outcomes. A nil *Metrics is valid and records nothing.
type Metrics struct {
	settled  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	checks   *prometheus.CounterVec
}

// NewMetrics registers the quiescence collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		settled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quietpage",
			Name:      "settle_total",
			Help:      "Quiescence waits by outcome.",
		}, []string{"outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quietpage",
			Name:      "settle_duration_seconds",
			Help:      "Time from the start of a wait to its resolution.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"outcome"}),
		checks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quietpage",
			Name:      "readiness_checks_total",
			Help:      "Readiness checks run when the stability timer fired.",
		}, []string{"result"}),
	}
}

func (m *Metrics) observe(r Result) {
	if m == nil {
		return
	}
	outcome := r.Outcome.String()
	m.settled.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(r.Elapsed.Seconds())
}

func (m *Metrics) check(ready bool) {
	if m == nil {
		return
	}
	if ready {
		m.checks.WithLabelValues("ready").Inc()
	} else {
		m.checks.WithLabelValues("busy").Inc()
	}
}
