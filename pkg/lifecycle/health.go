package lifecycle

import (
	"context"
	"maps"
	"math"
	"slices"
	"time"

	sserr "github.com/StricklySoft/agent-lifecycle/pkg/errors"
)

// Health score inputs.
const (
	maxHealthScore = 100

	errorRatePenaltyCap      = 50.0
	responseTimeBaselineMs   = 5000.0
	responseTimePenaltyPerMs = 10.0 / 1000.0
	responseTimePenaltyCap   = 30.0
	circuitBreakerPenalty    = 40.0
)

// CorruptionReason names a rule that found a record logically impossible.
type CorruptionReason string

const (
	ReasonHeartbeatBeforeRegistration CorruptionReason = "last_heartbeat_before_registration"
	ReasonInvalidTimestamp            CorruptionReason = "invalid_timestamp_format"
	ReasonLiveWithFailure             CorruptionReason = "healthy_status_with_failure_timestamp"
	ReasonFailedWithoutReason         CorruptionReason = "failed_status_without_reason"
	ReasonStaleHeartbeat              CorruptionReason = "stale_heartbeat_with_healthy_status"
)

// Failure reasons written by repairs.
const (
	FailureReasonUnknownDuringRepair = "unknown_failure_during_state_repair"
	FailureReasonMissedHeartbeat     = "missed_heartbeat_threshold_exceeded"
)

// OverallHealth summarizes the fleet.
type OverallHealth string

const (
	OverallHealthy   OverallHealth = "healthy"
	OverallDegraded  OverallHealth = "degraded"
	OverallUnhealthy OverallHealth = "unhealthy"
)

// AgentHealth is the per-agent entry of [FleetHealth].
type AgentHealth struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Status        Status    `json:"status"`
	HealthScore   int       `json:"health_score"`
	IsHealthy     bool      `json:"is_healthy"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Uptime        string    `json:"uptime"`
	ErrorCount    int       `json:"error_count"`
	RestartCount  int       `json:"restart_count"`
}

// FleetHealth is the result of [HealthMonitor.AgentHealthStatus].
// ActiveAgents counts both active and healthy agents.
type FleetHealth struct {
	OverallHealth OverallHealth          `json:"overall_health"`
	TotalAgents   int                    `json:"total_agents"`
	ActiveAgents  int                    `json:"active_agents"`
	PausedAgents  int                    `json:"paused_agents"`
	FailedAgents  int                    `json:"failed_agents"`
	Agents        map[string]AgentHealth `json:"agents"`
}

// HealthMonitor ingests heartbeats, scores agent health, and finds and
// repairs corrupted records. It changes records only through its
// [Registry].
type HealthMonitor struct {
	core
	registry *Registry
}

// NewHealthMonitor creates a HealthMonitor over registry. It inherits the
// registry's options; opts override them for this service only.
func NewHealthMonitor(registry *Registry, opts ...Option) *HealthMonitor {
	return &HealthMonitor{
		core:     registry.core.with(opts),
		registry: registry,
	}
}

// RecordHeartbeat stores a heartbeat for agentID: the previous heartbeat
// time moves to previous_heartbeat, last_heartbeat becomes now, and the
// metrics and their health score replace the old ones. It returns false
// for an unknown agent.
func (h *HealthMonitor) RecordHeartbeat(ctx context.Context, agentID string, metrics Metrics) bool {
	ctx, span := h.startSpan(ctx, "RecordHeartbeat", agentID)

	score := CalculateHealthScore(metrics)
	now := h.now()
	ok := h.registry.UpdateAgentState(ctx, agentID, func(s *AgentState) {
		if !s.LastHeartbeat.IsZero() {
			s.PreviousHeartbeat = ptr(s.LastHeartbeat)
		}
		s.LastHeartbeat = now
		s.Metrics = maps.Clone(metrics)
		s.HealthScore = score
	})
	if !ok {
		h.logger.DebugContext(ctx, "lifecycle: heartbeat for unknown agent ignored", "agent_id", agentID)
		finishSpan(span, false, nil)
		return false
	}

	h.instruments.HealthScore.WithLabelValues(agentID).Set(float64(score))
	finishSpan(span, true, nil)
	return true
}

// CalculateHealthScore derives a 0-100 score from reported metrics.
// Starting from 100 it subtracts:
//
//   - error_rate × 100, at most 50
//   - 10 per 1000 ms of avg_response_time above 5000 ms, at most 30
//   - 40 when circuit_breaker_open is true
//
// The result is truncated to an integer and floored at 0. Missing,
// non-numeric, negative, and NaN inputs subtract nothing.
func CalculateHealthScore(metrics Metrics) int {
	score := float64(maxHealthScore)

	if rate, ok := metrics.Float(MetricErrorRate); ok && rate > 0 {
		score -= math.Min(errorRatePenaltyCap, rate*100)
	}
	if rt, ok := metrics.Float(MetricAvgResponseTime); ok && rt > responseTimeBaselineMs {
		score -= math.Min(responseTimePenaltyCap, (rt-responseTimeBaselineMs)*responseTimePenaltyPerMs)
	}
	if metrics.Bool(MetricCircuitBreakerOpen) {
		score -= circuitBreakerPenalty
	}

	return int(math.Max(0, math.Min(maxHealthScore, score)))
}

// isAgentHealthy reports whether agentID is live, scores at least the
// minimum healthy score, and sent a heartbeat within the healthy window.
// Live means active or healthy, so an agent recovered by the scheduler
// counts even before it is re-initialized to active.
func (h *HealthMonitor) isAgentHealthy(agentID string) bool {
	s, ok := h.registry.AgentState(agentID)
	return ok && h.healthy(s, h.now())
}

func (h *HealthMonitor) healthy(s AgentState, now time.Time) bool {
	return s.Status.IsLive() &&
		s.HealthScore >= h.cfg.MinHealthyScore &&
		now.Sub(s.LastHeartbeat) <= h.cfg.HealthyHeartbeatWindow
}

// AgentHealthStatus summarizes every registered agent. OverallHealth is
// healthy unless some agent failed (degraded), or failed agents
// outnumber live ones (unhealthy).
func (h *HealthMonitor) AgentHealthStatus(ctx context.Context) FleetHealth {
	_, span := h.startSpan(ctx, "AgentHealthStatus", "")
	defer finishSpan(span, true, nil)

	states := h.registry.AgentStates()
	now := h.now()

	fleet := FleetHealth{
		OverallHealth: OverallHealthy,
		TotalAgents:   len(states),
		Agents:        make(map[string]AgentHealth, len(states)),
	}
	for id, s := range states {
		fleet.Agents[id] = AgentHealth{
			ID:            id,
			Type:          s.Type,
			Status:        s.Status,
			HealthScore:   s.HealthScore,
			IsHealthy:     h.healthy(s, now),
			LastHeartbeat: s.LastHeartbeat,
			Uptime:        uptimeSince(s.InitializedAt, now),
			ErrorCount:    s.ErrorCount,
			RestartCount:  s.RestartCount,
		}
		switch {
		case s.Status.IsLive():
			fleet.ActiveAgents++
		case s.Status == StatusPaused:
			fleet.PausedAgents++
		case s.Status == StatusFailed:
			fleet.FailedAgents++
		}
	}

	if fleet.FailedAgents > 0 {
		fleet.OverallHealth = OverallDegraded
	}
	if fleet.FailedAgents > fleet.ActiveAgents {
		fleet.OverallHealth = OverallUnhealthy
	}
	return fleet
}

func uptimeSince(start *time.Time, now time.Time) string {
	if start == nil || now.Before(*start) {
		return "0s"
	}
	return now.Sub(*start).Truncate(time.Second).String()
}

// MarkAgentAsFailed sets agentID to failed with the given reason, stamps
// failed_at, increments failure_count, and emits a "failed" event. An
// empty reason is recorded as "unknown". It returns false for an unknown
// agent.
func (h *HealthMonitor) MarkAgentAsFailed(ctx context.Context, agentID, reason string) bool {
	ctx, span := h.startSpan(ctx, "MarkAgentAsFailed", agentID)

	if reason == "" {
		reason = "unknown"
	}
	now := h.now()
	var previous Status
	var failures int
	ok := h.registry.UpdateAgentState(ctx, agentID, func(s *AgentState) {
		previous = s.Status
		s.Status = StatusFailed
		s.FailedAt = ptr(now)
		s.FailureReason = reason
		s.FailureCount++
		failures = s.FailureCount
	})
	if !ok {
		h.logger.WarnContext(ctx, "lifecycle: cannot mark unknown agent as failed",
			"agent_id", agentID,
			"reason", reason,
		)
		finishSpan(span, false, nil)
		return false
	}

	h.logger.ErrorContext(ctx, "lifecycle: agent marked as failed",
		"agent_id", agentID,
		"reason", reason,
		"failure_count", failures,
	)
	h.emit(ctx, agentID, EventFailed, previous, StatusFailed, map[string]any{
		"error":         reason,
		"failure_count": failures,
		"auto_recovery": true,
	})
	finishSpan(span, true, nil)
	return true
}

// DetectStateCorruption checks agentID against every corruption rule.
// When any rule matches it logs the reasons, emits
// "state_corruption_detected", and repairs the record with
// [HealthMonitor.RepairCorruptedState]. It returns whether corruption was
// found; an unknown agent is never corrupted.
func (h *HealthMonitor) DetectStateCorruption(ctx context.Context, agentID string) bool {
	ctx, span := h.startSpan(ctx, "DetectStateCorruption", agentID)
	defer finishSpan(span, true, nil)

	s, ok := h.registry.AgentState(agentID)
	if !ok {
		return false
	}
	now := h.now()
	reasons := h.corruptionReasons(s, now)
	if len(reasons) == 0 {
		return false
	}

	names := make([]string, len(reasons))
	for i, r := range reasons {
		names[i] = string(r)
		h.instruments.Corruptions.WithLabelValues(string(r)).Inc()
	}
	h.logger.ErrorContext(ctx, "lifecycle: state corruption detected",
		"agent_id", agentID,
		"corruption_reasons", names,
		"error", sserr.Newf(sserr.CodeCorruption, "lifecycle: agent %s state is inconsistent", agentID).
			WithDetail("reasons", names),
	)
	h.emit(ctx, agentID, EventStateCorruptionDetected, s.Status, StatusCorrupted, map[string]any{
		"corruption_reasons": names,
		"detected_at":        now,
		"auto_repair":        true,
	})

	h.RepairCorruptedState(ctx, agentID, reasons)
	return true
}

// corruptionReasons evaluates every rule independently. A zero
// registration or heartbeat time counts as an unparseable timestamp.
func (h *HealthMonitor) corruptionReasons(s AgentState, now time.Time) []CorruptionReason {
	var reasons []CorruptionReason

	timesValid := !s.RegisteredAt.IsZero() && !s.LastHeartbeat.IsZero()
	switch {
	case !timesValid:
		reasons = append(reasons, ReasonInvalidTimestamp)
	case s.LastHeartbeat.Before(s.RegisteredAt):
		reasons = append(reasons, ReasonHeartbeatBeforeRegistration)
	}
	if s.Status.IsLive() && s.FailedAt != nil {
		reasons = append(reasons, ReasonLiveWithFailure)
	}
	if s.Status == StatusFailed && s.FailureReason == "" {
		reasons = append(reasons, ReasonFailedWithoutReason)
	}
	if s.Status.IsLive() && !s.LastHeartbeat.IsZero() &&
		now.Sub(s.LastHeartbeat) > h.cfg.StaleHeartbeatThreshold {
		reasons = append(reasons, ReasonStaleHeartbeat)
	}
	return reasons
}

// RepairCorruptedState applies one fix per reason, in order, as a single
// update, then logs the actions and emits "state_repaired" with the
// resulting status. It returns the applied actions; nil for an unknown
// agent or no reasons.
//
// Fixes:
//
//	last_heartbeat_before_registration     last_heartbeat = registered_at
//	invalid_timestamp_format               last_heartbeat = now, registered_at = now if unset
//	healthy_status_with_failure_timestamp  clear failed_at, failure_reason, failure_count
//	failed_status_without_reason           synthesize failure_reason, failed_at = now
//	stale_heartbeat_with_healthy_status    status = failed, failure_reason, failed_at = now
func (h *HealthMonitor) RepairCorruptedState(ctx context.Context, agentID string, reasons []CorruptionReason) []string {
	if len(reasons) == 0 {
		return nil
	}
	ctx, span := h.startSpan(ctx, "RepairCorruptedState", agentID)

	now := h.now()
	var actions []string
	var result Status
	ok := h.registry.UpdateAgentState(ctx, agentID, func(s *AgentState) {
		for _, reason := range reasons {
			if action := repair(s, reason, now); action != "" {
				actions = append(actions, action)
			}
		}
		result = s.Status
	})
	if !ok {
		finishSpan(span, false, nil)
		return nil
	}

	h.logger.InfoContext(ctx, "lifecycle: state corruption repaired",
		"agent_id", agentID,
		"repair_actions", actions,
	)
	h.emit(ctx, agentID, EventStateRepaired, StatusCorrupted, result, map[string]any{
		"repair_actions": actions,
		"repaired_at":    now,
	})
	finishSpan(span, true, nil)
	return actions
}

func repair(s *AgentState, reason CorruptionReason, now time.Time) string {
	switch reason {
	case ReasonHeartbeatBeforeRegistration:
		s.LastHeartbeat = s.RegisteredAt
		return "fixed_heartbeat_timestamp"
	case ReasonInvalidTimestamp:
		if s.RegisteredAt.IsZero() {
			s.RegisteredAt = now
		}
		s.LastHeartbeat = now
		return "fixed_timestamp_format"
	case ReasonLiveWithFailure:
		s.clearFailure()
		s.FailureCount = 0
		return "removed_failure_data"
	case ReasonFailedWithoutReason:
		s.FailureReason = FailureReasonUnknownDuringRepair
		s.FailedAt = ptr(now)
		return "added_failure_reason"
	case ReasonStaleHeartbeat:
		s.Status = StatusFailed
		s.FailureReason = FailureReasonMissedHeartbeat
		s.FailedAt = ptr(now)
		return "marked_as_failed_due_to_stale_heartbeat"
	default:
		return ""
	}
}

// CheckHeartbeats emits "heartbeat_missed" for every live agent whose
// heartbeat is older than the healthy window but not yet stale, and
// returns their ids in sorted order. missed_count is the number of whole
// healthy windows elapsed.
func (h *HealthMonitor) CheckHeartbeats(ctx context.Context) []string {
	ctx, span := h.startSpan(ctx, "CheckHeartbeats", "")
	defer finishSpan(span, true, nil)

	now := h.now()
	states := h.registry.AgentStates()
	var missed []string
	for _, id := range slices.Sorted(maps.Keys(states)) {
		s := states[id]
		if !s.Status.IsLive() || s.LastHeartbeat.IsZero() {
			continue
		}
		age := now.Sub(s.LastHeartbeat)
		if age <= h.cfg.HealthyHeartbeatWindow || age > h.cfg.StaleHeartbeatThreshold {
			continue
		}
		missed = append(missed, id)
		h.emit(ctx, id, EventHeartbeatMissed, s.Status, s.Status, map[string]any{
			"missed_count":   int(age / h.cfg.HealthyHeartbeatWindow),
			"last_heartbeat": s.LastHeartbeat,
		})
	}
	return missed
}
