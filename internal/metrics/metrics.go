// Package metrics exposes the coordinator's Prometheus collectors:
// counters for assignments and events produced by the engine, and a
// gauge for the current health of every tracked node. The coordinator
// does not set the health gauge, so it exports no series. Grounded on the
// teacher's prometheus/client_golang usage in
// internal/cnpi/plugin/client/metrics.go (custom Desc construction per
// collected series) though this package registers its own static
// collectors rather than relaying plugin-defined ones.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "pgfo"

// Collectors bundles every metric the coordinator exports.
type Collectors struct {
	Assignments *prometheus.CounterVec
	Events      *prometheus.CounterVec
	NodeHealth  *prometheus.GaugeVec
	Evaluations prometheus.Counter
	Errors      *prometheus.CounterVec
}

// New constructs a fresh, unregistered set of collectors.
func New() *Collectors {
	return &Collectors{
		Assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignments_total",
			Help:      "Number of goal-state assignments produced by the transition engine, by new state.",
		}, []string{"formation", "goal_state"}),

		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Number of events published, by channel kind.",
		}, []string{"kind"}),

		NodeHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_healthy",
			Help:      "1 if the node's last probe and heartbeat are within the configured timeouts, 0 otherwise.",
		}, []string{"formation", "group", "node"}),

		Evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_evaluations_total",
			Help:      "Number of times the transition engine was invoked, from a report or the background sweep.",
		}),

		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Number of errors encountered, by kind (inconsistent_snapshot, unknown_state).",
		}, []string{"kind"}),
	}
}

// MustRegister registers every collector against r, panicking on
// duplicate registration the way main-package setup commonly does.
func (c *Collectors) MustRegister(r prometheus.Registerer) {
	r.MustRegister(c.Assignments, c.Events, c.NodeHealth, c.Evaluations, c.Errors)
}
