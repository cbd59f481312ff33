package tracker

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts state-machine transitions into RESETTING, by reason.
type Metrics struct {
	Resets *prometheus.CounterVec
}

// NewMetrics builds a Metrics ready to register and pass to a Tracker.
func NewMetrics() *Metrics {
	return &Metrics{
		Resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "missmonitor",
			Subsystem: "tracker",
			Name:      "resets_total",
			Help:      "Number of RESETTING transitions, by reason.",
		}, []string{"reason"}),
	}
}

// Collectors exposes this Metrics' collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.Resets}
}
