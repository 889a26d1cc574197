package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Instruments holds the Prometheus collectors updated by the lifecycle
// services.
type Instruments struct {
	// Events counts emitted lifecycle events by name.
	Events *prometheus.CounterVec

	// HealthScore is the last computed health score per agent.
	HealthScore *prometheus.GaugeVec

	// Recoveries counts recovery attempts by outcome and reason.
	Recoveries *prometheus.CounterVec

	// Corruptions counts detected corruption by rule.
	Corruptions *prometheus.CounterVec

	// Shutdowns counts completed agent shutdowns, split by forced.
	Shutdowns *prometheus.CounterVec

	// PersistFailures counts failed writes by backend (cache or file).
	PersistFailures *prometheus.CounterVec

	// Agents is the number of registered agents per status, refreshed
	// whenever statistics are computed.
	Agents *prometheus.GaugeVec
}

// NewInstruments registers the collectors on reg. A nil registerer gets a
// private registry, which keeps tests and throwaway services from
// colliding on the default one.
func NewInstruments(reg prometheus.Registerer) *Instruments {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Instruments{
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_lifecycle_events_total",
			Help: "Lifecycle events emitted, by event name.",
		}, []string{"event"}),

		HealthScore: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agent_health_score",
			Help: "Last computed health score (0-100) per agent.",
		}, []string{"agent_id"}),

		Recoveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_recovery_attempts_total",
			Help: "Automatic recovery attempts by outcome and reason.",
		}, []string{"status", "reason"}),

		Corruptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_state_corruptions_total",
			Help: "Detected state corruption by rule.",
		}, []string{"reason"}),

		Shutdowns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_shutdowns_total",
			Help: "Completed agent shutdowns.",
		}, []string{"forced"}),

		PersistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_state_persist_failures_total",
			Help: "Failed agent state writes by backend.",
		}, []string{"backend"}),

		Agents: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agents",
			Help: "Registered agents by status.",
		}, []string{"status"}),
	}
}
