package lifecycle

import (
	"context"
	"fmt"

	sserr "github.com/StricklySoft/agent-lifecycle/pkg/errors"
)

// FailureReasonInitialization is recorded when an agent fails during
// [Executor.InitializeAgent].
const FailureReasonInitialization = "initialization_failed"

// auxiliaryCacheKeys are the per-agent cache entries written by the agents
// themselves, removed on cleanup.
var auxiliaryCacheKeys = []string{"ai_agent_state_", "ai_agent_heartbeat_", "ai_agent_metrics_"}

// Executor drives single-agent transitions. Every method reports success
// as a bool and absorbs failures; none of them panics outward.
type Executor struct {
	core
	registry *Registry
}

// NewExecutor creates an Executor over registry. It inherits the
// registry's options; opts override them for this service only.
func NewExecutor(registry *Registry, opts ...Option) *Executor {
	return &Executor{
		core:     registry.core.with(opts),
		registry: registry,
	}
}

// InitializeAgent brings a registered agent up: it restores any persisted
// state, then sets status active with initialized_at, started_at, and
// last_heartbeat set to now and the failure fields cleared, and emits
// "initialized" (unregistered → healthy). failure_count is kept so the
// recovery ceiling holds across restarts.
//
// It returns false for an unregistered agent. If the sequence panics or
// ctx is done, the agent is marked failed with last_error set and false is
// returned.
func (e *Executor) InitializeAgent(ctx context.Context, agentID string) bool {
	ctx, span := e.startSpan(ctx, "InitializeAgent", agentID)

	if _, ok := e.registry.AgentState(agentID); !ok {
		e.logger.ErrorContext(ctx, "lifecycle: cannot initialize unregistered agent", "agent_id", agentID)
		finishSpan(span, false, nil)
		return false
	}

	if err := e.initialize(ctx, agentID); err != nil {
		e.recordInitFailure(context.WithoutCancel(ctx), agentID, err)
		finishSpan(span, false, err)
		return false
	}

	e.logger.InfoContext(ctx, "lifecycle: agent initialized", "agent_id", agentID)
	finishSpan(span, true, nil)
	return true
}

func (e *Executor) initialize(ctx context.Context, agentID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = sserr.Newf(sserr.CodeInternal, "lifecycle: initialization panicked: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return sserr.Wrap(err, sserr.CodeTimeout, "lifecycle: initialization canceled")
	}
	e.registry.RestoreAgentState(ctx, agentID)
	if err := ctx.Err(); err != nil {
		return sserr.Wrap(err, sserr.CodeTimeout, "lifecycle: initialization canceled")
	}

	now := e.now()
	ok := e.registry.UpdateAgentState(ctx, agentID, func(s *AgentState) {
		s.Status = StatusActive
		s.InitializedAt = ptr(now)
		s.StartedAt = ptr(now)
		s.LastHeartbeat = now
		s.LastError = ""
		s.clearFailure()
	})
	if !ok {
		return sserr.AgentNotFound(agentID)
	}

	e.emit(ctx, agentID, EventInitialized, StatusUnregistered, StatusHealthy, map[string]any{
		"initialized_at": now,
	})
	return nil
}

// recordInitFailure marks agentID failed after an initialization error.
func (e *Executor) recordInitFailure(ctx context.Context, agentID string, cause error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "lifecycle: failed to record initialization failure",
				"agent_id", agentID,
				"panic", r,
			)
		}
	}()

	now := e.now()
	var previous Status
	var failures int
	ok := e.registry.UpdateAgentState(ctx, agentID, func(s *AgentState) {
		previous = s.Status
		s.Status = StatusFailed
		s.FailedAt = ptr(now)
		s.FailureReason = FailureReasonInitialization
		s.LastError = cause.Error()
		s.FailureCount++
		failures = s.FailureCount
	})

	e.logger.ErrorContext(ctx, "lifecycle: agent initialization failed",
		"agent_id", agentID,
		"error", cause,
	)
	if ok {
		e.emit(ctx, agentID, EventFailed, previous, StatusFailed, map[string]any{
			"error":         cause.Error(),
			"failure_count": failures,
			"auto_recovery": true,
		})
	}
}

// PauseAgent pauses an initializing, active, or healthy agent, stamps
// paused_at, and emits "paused" with reason manual. It returns false for
// an unknown agent or any other current status.
func (e *Executor) PauseAgent(ctx context.Context, agentID string) bool {
	ctx, span := e.startSpan(ctx, "PauseAgent", agentID)

	now := e.now()
	var previous Status
	ok := e.registry.UpdateAgentStateIf(ctx, agentID, func(s *AgentState) bool {
		previous = s.Status
		if !canPause[s.Status] {
			return false
		}
		s.Status = StatusPaused
		s.PausedAt = ptr(now)
		return true
	})
	if !ok {
		e.logRejected(ctx, agentID, previous, StatusPaused)
		finishSpan(span, false, nil)
		return false
	}

	e.logger.InfoContext(ctx, "lifecycle: agent paused", "agent_id", agentID, "previous_status", string(previous))
	e.emit(ctx, agentID, EventPaused, previous, StatusPaused, map[string]any{"reason": "manual"})
	finishSpan(span, true, nil)
	return true
}

// ResumeAgent resumes a paused agent: status becomes active, resumed_at is
// stamped, and "resumed" (paused → healthy) is emitted with reason manual.
// It returns false unless the agent is exactly paused.
func (e *Executor) ResumeAgent(ctx context.Context, agentID string) bool {
	ctx, span := e.startSpan(ctx, "ResumeAgent", agentID)

	now := e.now()
	var previous Status
	ok := e.registry.UpdateAgentStateIf(ctx, agentID, func(s *AgentState) bool {
		previous = s.Status
		if s.Status != StatusPaused {
			return false
		}
		s.Status = StatusActive
		s.ResumedAt = ptr(now)
		return true
	})
	if !ok {
		e.logRejected(ctx, agentID, previous, StatusActive)
		finishSpan(span, false, nil)
		return false
	}

	e.logger.InfoContext(ctx, "lifecycle: agent resumed", "agent_id", agentID)
	e.emit(ctx, agentID, EventResumed, StatusPaused, StatusHealthy, map[string]any{"reason": "manual"})
	finishSpan(span, true, nil)
	return true
}

// logRejected logs a refused transition. An empty from means the agent
// was not registered.
func (e *Executor) logRejected(ctx context.Context, agentID string, from, to Status) {
	if from == "" {
		e.logger.WarnContext(ctx, "lifecycle: transition on unknown agent ignored",
			"agent_id", agentID,
			"target", string(to),
		)
		return
	}
	e.logger.WarnContext(ctx, "lifecycle: transition rejected",
		"agent_id", agentID,
		"error", sserr.TransitionRejected(agentID, string(from), string(to)),
	)
}

// CleanupAgent unregisters agentID, which removes its record, cache entry,
// and state file, and clears the auxiliary per-agent cache keys. Any
// failure, including a panic, is logged and swallowed.
func (e *Executor) CleanupAgent(ctx context.Context, agentID string) {
	ctx, span := e.startSpan(ctx, "CleanupAgent", agentID)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			e.logger.ErrorContext(ctx, "lifecycle: agent cleanup failed",
				"agent_id", agentID,
				"error", err,
			)
			finishSpan(span, false, err)
		}
	}()

	e.registry.UnregisterAgent(ctx, agentID)

	keys := make([]string, len(auxiliaryCacheKeys))
	for i, prefix := range auxiliaryCacheKeys {
		keys[i] = prefix + agentID
	}
	e.registry.ForgetCacheKeys(ctx, keys...)

	e.logger.InfoContext(ctx, "lifecycle: agent cleaned up", "agent_id", agentID)
	finishSpan(span, true, nil)
}
