package detector

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts verdicts the detector produces: one miss counter and one
// excused-by-check counter.
type Metrics struct {
	Misses  prometheus.Counter
	Excused *prometheus.CounterVec
}

// NewMetrics builds a Metrics ready to register and pass to a Detector.
func NewMetrics() *Metrics {
	return &Metrics{
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "missmonitor",
			Subsystem: "detector",
			Name:      "misses_total",
			Help:      "Number of candidate transactions that survived all eight exclusion checks.",
		}),
		Excused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "missmonitor",
			Subsystem: "detector",
			Name:      "excused_total",
			Help:      "Number of candidate transactions excused, by check.",
		}, []string{"check"}),
	}
}

// Collectors exposes this Metrics' collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.Misses, m.Excused}
}
