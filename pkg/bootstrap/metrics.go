package bootstrap

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the progress of a bootstrap run.
type Metrics struct {
	Attempts *prometheus.CounterVec // attempts per state
	State    prometheus.Gauge       // numeric value of the current State
	Duration prometheus.Gauge       // seconds from Run to Done (or Failed)
}

// NewMetrics registers the bootstrap metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consul_join",
			Name:      "attempts_total",
			Help:      "Attempts made per bootstrap state.",
		}, []string{"state"}),
		State: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "consul_join",
			Name:      "state",
			Help:      "Current bootstrap state (0 awaiting agent, 1 resolving peers, 2 joining, 3 done, 4 failed).",
		}),
		Duration: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "consul_join",
			Name:      "duration_seconds",
			Help:      "Time spent bootstrapping.",
		}),
	}
}
