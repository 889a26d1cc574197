package lifecycle

import (
	"maps"
	"time"
)

// Metrics is the last set of operational metrics reported by an agent in
// a heartbeat. Keys are free-form; the health score reads
// "error_rate" (fraction of failed operations), "avg_response_time"
// (milliseconds), and "circuit_breaker_open" (bool).
type Metrics map[string]any

// Well-known metric keys.
const (
	MetricErrorRate          = "error_rate"
	MetricAvgResponseTime    = "avg_response_time"
	MetricCircuitBreakerOpen = "circuit_breaker_open"
)

// Float returns the numeric value stored under key. Integers of any width
// and float32 are widened; any other type reports false.
func (m Metrics) Float(key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Bool returns true only when key holds the boolean true.
func (m Metrics) Bool(key string) bool {
	b, ok := m[key].(bool)
	return ok && b
}

// AgentState is the persisted record of one agent. It is serialized as
// JSON with snake_case keys, both in the cache and in the durable state
// file, and timestamps are RFC 3339 in UTC.
//
// Optional timestamps are pointers; nil means "never happened". The
// record is a value type; [Registry] hands out deep copies so callers
// cannot mutate the canonical copy outside [Registry.UpdateAgentState].
type AgentState struct {
	AgentID string         `json:"agent_id"`
	Type    string         `json:"type"`
	Config  map[string]any `json:"config"`
	Status  Status         `json:"status"`

	RegisteredAt  time.Time `json:"registered_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`

	// PreviousHeartbeat is the heartbeat before LastHeartbeat. It feeds
	// the average heartbeat interval in [LifecycleStats].
	PreviousHeartbeat *time.Time `json:"previous_heartbeat,omitempty"`

	InitializedAt       *time.Time `json:"initialized_at,omitempty"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	PausedAt            *time.Time `json:"paused_at,omitempty"`
	ResumedAt           *time.Time `json:"resumed_at,omitempty"`
	FailedAt            *time.Time `json:"failed_at,omitempty"`
	RecoveredAt         *time.Time `json:"recovered_at,omitempty"`
	ShutdownInitiatedAt *time.Time `json:"shutdown_initiated_at,omitempty"`
	ShutdownCompletedAt *time.Time `json:"shutdown_completed_at,omitempty"`

	HealthScore   int `json:"health_score"`
	ErrorCount    int `json:"error_count"`
	RestartCount  int `json:"restart_count"`
	FailureCount  int `json:"failure_count"`
	RecoveryCount int `json:"recovery_count"`

	FailureReason string  `json:"failure_reason,omitempty"`
	LastError     string  `json:"last_error,omitempty"`
	Metrics       Metrics `json:"metrics,omitempty"`
}

// Clone returns a deep copy of s. Config and Metrics are copied one level
// deep; nested values inside them are shared.
func (s AgentState) Clone() AgentState {
	out := s
	out.Config = maps.Clone(s.Config)
	out.Metrics = maps.Clone(s.Metrics)
	for _, p := range []**time.Time{
		&out.PreviousHeartbeat, &out.InitializedAt, &out.StartedAt,
		&out.PausedAt, &out.ResumedAt, &out.FailedAt, &out.RecoveredAt,
		&out.ShutdownInitiatedAt, &out.ShutdownCompletedAt,
	} {
		if *p != nil {
			t := **p
			*p = &t
		}
	}
	return out
}

// clearFailure resets the failure fields. FailureCount is kept so the
// recovery ceiling survives re-initialization.
func (s *AgentState) clearFailure() {
	s.FailedAt = nil
	s.FailureReason = ""
}

// ptr returns a pointer to a copy of t.
func ptr(t time.Time) *time.Time {
	return &t
}
