package events

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels.
const (
	outcomeIndexed   = "indexed"
	outcomeFailed    = "failed"
	outcomeMalformed = "malformed"
)

// Metrics counts worker outcomes in Prometheus form.
type Metrics struct {
	sections *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics creates the worker metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scribe",
			Subsystem: "worker",
			Name:      "sections_total",
			Help:      "Section save events handled, by outcome (indexed, failed, malformed).",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scribe",
			Subsystem: "worker",
			Name:      "index_duration_seconds",
			Help:      "Time spent indexing one section.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
	for _, c := range []prometheus.Collector{m.sections, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.sections.WithLabelValues(outcome).Inc()
	if outcome != outcomeMalformed {
		m.duration.Observe(took.Seconds())
	}
}
