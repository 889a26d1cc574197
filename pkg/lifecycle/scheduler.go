package lifecycle

import (
	"context"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	sserr "github.com/StricklySoft/agent-lifecycle/pkg/errors"
)

// RecoveryStatus is the outcome of one automatic recovery attempt.
type RecoveryStatus string

const (
	RecoverySuccess RecoveryStatus = "success"
	RecoverySkipped RecoveryStatus = "skipped"
	RecoveryFailed  RecoveryStatus = "failed"
)

// Reasons reported with [RecoverySkipped].
const (
	RecoveryReasonAgentNotFound = "agent_not_found"
	RecoveryReasonMaxRetries    = "max_retries_exceeded"
	RecoveryReasonCooldown      = "recovery_interval_not_met"
	RecoveryReasonNotFailed     = "not_failed"
)

// Per-agent outcomes of [Scheduler.RecoverFailedAgents].
const (
	OutcomeRecovered = "recovered"
	OutcomeFailed    = "failed"
)

// Per-agent outcomes of [Scheduler.InitiateGracefulShutdown].
const (
	ShutdownInitiated = "initiated"
	ShutdownSkipped   = "skipped"
	ShutdownFailed    = "failed"
)

// shutdownHealthKeyPrefix names the per-agent health cache entries
// cleared after a process shutdown.
const shutdownHealthKeyPrefix = "agent_health:"

// RecoveryResult reports one [Scheduler.AttemptAgentRecovery] call.
type RecoveryResult struct {
	Status               RecoveryStatus `json:"status"`
	Reason               string         `json:"reason,omitempty"`
	RecoveryCount        int            `json:"recovery_count,omitempty"`
	PreviousFailureCount int            `json:"previous_failure_count,omitempty"`
	Error                string         `json:"error,omitempty"`
}

// SweepReport summarizes one maintenance pass of [Scheduler.Sweep].
type SweepReport struct {
	Corrupted        []string                  `json:"corrupted"`
	MissedHeartbeats []string                  `json:"missed_heartbeats"`
	Recovery         map[string]RecoveryResult `json:"recovery"`
}

// Scheduler runs fleet-wide operations: recovery sweeps, statistics, and
// coordinated graceful shutdown. [Scheduler.Run] ties it to the process:
// it sweeps periodically and turns SIGTERM, SIGINT, or context
// cancellation into exactly one graceful shutdown.
type Scheduler struct {
	core
	registry *Registry
	executor *Executor
	health   *HealthMonitor

	statsMu sync.Mutex
	stats   *LifecycleStats

	shutdownRequested atomic.Bool
	shutdownOnce      sync.Once

	// notify subscribes to OS signals; replaced in tests.
	notify func(c chan<- os.Signal, sig ...os.Signal)
}

// NewScheduler creates a Scheduler over the given services. It inherits
// the registry's options; opts override them for this service only.
func NewScheduler(registry *Registry, executor *Executor, health *HealthMonitor, opts ...Option) *Scheduler {
	return &Scheduler{
		core:     registry.core.with(opts),
		registry: registry,
		executor: executor,
		health:   health,
		notify:   signal.Notify,
	}
}

// RecoverFailedAgents re-initializes every failed agent through the
// [Executor] and increments restart_count on success. It returns
// "recovered" or "failed" per attempted agent.
func (s *Scheduler) RecoverFailedAgents(ctx context.Context) map[string]string {
	ctx, span := s.startSpan(ctx, "RecoverFailedAgents", "")
	defer finishSpan(span, true, nil)

	results := make(map[string]string)
	for _, id := range s.idsWithStatus(StatusFailed) {
		s.logger.InfoContext(ctx, "lifecycle: attempting to recover failed agent", "agent_id", id)
		if s.executor.InitializeAgent(ctx, id) {
			s.registry.UpdateAgentState(ctx, id, func(st *AgentState) { st.RestartCount++ })
			results[id] = OutcomeRecovered
		} else {
			results[id] = OutcomeFailed
		}
	}
	return results
}

// PerformAutomaticRecovery calls [Scheduler.AttemptAgentRecovery] for
// every failed agent. One agent's failure never stops the sweep.
func (s *Scheduler) PerformAutomaticRecovery(ctx context.Context) map[string]RecoveryResult {
	ctx, span := s.startSpan(ctx, "PerformAutomaticRecovery", "")
	defer finishSpan(span, true, nil)

	failed := s.idsWithStatus(StatusFailed)
	s.logger.InfoContext(ctx, "lifecycle: starting automatic recovery", "failed_agent_count", len(failed))

	results := make(map[string]RecoveryResult, len(failed))
	for _, id := range failed {
		results[id] = s.AttemptAgentRecovery(ctx, id)
	}
	return results
}

// AttemptAgentRecovery recovers one failed agent unless it is unknown,
// not failed, has reached the failure ceiling, or failed less than the
// cooldown ago. Eligibility is re-checked under the registry lock, so
// concurrent sweeps recover an agent at most once. A recovered agent
// becomes healthy with its failure fields cleared, recovered_at and
// last_heartbeat set to now, and recovery_count incremented, and a
// "recovered" event is emitted. A panic during the attempt is reported
// as [RecoveryFailed].
func (s *Scheduler) AttemptAgentRecovery(ctx context.Context, agentID string) (result RecoveryResult) {
	ctx, span := s.startSpan(ctx, "AttemptAgentRecovery", agentID)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("recovery panicked: %v", r)
			s.logger.ErrorContext(ctx, "lifecycle: agent recovery failed",
				"agent_id", agentID,
				"error", err,
			)
			result = RecoveryResult{Status: RecoveryFailed, Error: err.Error()}
		}
		s.instruments.Recoveries.WithLabelValues(string(result.Status), result.Reason).Inc()
		finishSpan(span, result.Status == RecoverySuccess, nil)
	}()

	if _, ok := s.registry.AgentState(agentID); !ok {
		return RecoveryResult{Status: RecoverySkipped, Reason: RecoveryReasonAgentNotFound}
	}

	s.logger.InfoContext(ctx, "lifecycle: attempting agent recovery", "agent_id", agentID)
	now := s.now()
	var (
		reason     string
		failedAt   *time.Time
		recoveries int
		failures   int
	)
	committed := s.registry.UpdateAgentStateIf(ctx, agentID, func(st *AgentState) bool {
		failures = st.FailureCount
		failedAt = st.FailedAt
		switch {
		case st.Status != StatusFailed:
			reason = RecoveryReasonNotFailed
			return false
		case st.FailureCount >= s.cfg.MaxRecoveryFailures:
			reason = RecoveryReasonMaxRetries
			return false
		case st.FailedAt != nil && now.Sub(*st.FailedAt) < s.cfg.RecoveryCooldown:
			reason = RecoveryReasonCooldown
			return false
		}
		st.Status = StatusHealthy
		st.LastHeartbeat = now
		st.RecoveredAt = ptr(now)
		st.RecoveryCount++
		st.clearFailure()
		recoveries = st.RecoveryCount
		return true
	})
	if !committed {
		if reason == "" {
			reason = RecoveryReasonAgentNotFound
		}
		s.logSkippedRecovery(ctx, agentID, reason, failures, failedAt, now)
		return RecoveryResult{Status: RecoverySkipped, Reason: reason}
	}

	s.emit(ctx, agentID, EventRecovered, StatusFailed, StatusHealthy, map[string]any{
		"recovery_attempt":       recoveries,
		"previous_failure_count": failures,
	})
	s.logger.InfoContext(ctx, "lifecycle: agent recovery successful", "agent_id", agentID)
	return RecoveryResult{
		Status:               RecoverySuccess,
		RecoveryCount:        recoveries,
		PreviousFailureCount: failures,
	}
}

func (s *Scheduler) logSkippedRecovery(ctx context.Context, agentID, reason string, failures int, failedAt *time.Time, now time.Time) {
	switch reason {
	case RecoveryReasonMaxRetries:
		s.logger.WarnContext(ctx, "lifecycle: agent recovery skipped, max retries exceeded",
			"agent_id", agentID,
			"failure_count", failures,
			"error", sserr.Newf(sserr.CodeRecoveryExhausted,
				"lifecycle: agent %s reached %d failures", agentID, failures),
		)
	case RecoveryReasonCooldown:
		s.logger.InfoContext(ctx, "lifecycle: agent recovery skipped, cooldown not met",
			"agent_id", agentID,
			"error", sserr.Newf(sserr.CodeRecoveryCooldown,
				"lifecycle: agent %s failed %s ago", agentID, now.Sub(*failedAt)),
		)
	default:
		s.logger.DebugContext(ctx, "lifecycle: agent recovery skipped",
			"agent_id", agentID,
			"reason", reason,
		)
	}
}

// idsWithStatus returns the sorted ids of agents currently in status.
func (s *Scheduler) idsWithStatus(status Status) []string {
	states := s.registry.AgentStates()
	var ids []string
	for _, id := range slices.Sorted(maps.Keys(states)) {
		if states[id].Status == status {
			ids = append(ids, id)
		}
	}
	return ids
}

// InitiateGracefulShutdown moves every active, healthy, or paused agent to
// shutting_down (emitting "shutdown_initiated") and then blocks until each
// shutting_down agent has completed. An agent completes once it has been
// shutting_down for the grace period; agents still pending when timeout
// elapses, or when ctx is done, are force-completed. A non-positive
// timeout uses the configured shutdown timeout.
//
// The result maps each agent to "initiated", "skipped" (not live), or
// "failed" (the transition panicked). Every initiated agent ends in
// status shutdown.
func (s *Scheduler) InitiateGracefulShutdown(ctx context.Context, timeout time.Duration) map[string]string {
	ctx, span := s.startSpan(ctx, "InitiateGracefulShutdown", "")
	defer finishSpan(span, true, nil)

	s.shutdownRequested.Store(true)
	if timeout <= 0 {
		timeout = s.cfg.ShutdownTimeout
	}

	states := s.registry.AgentStates()
	s.logger.InfoContext(ctx, "lifecycle: initiating graceful shutdown",
		"agent_count", len(states),
		"timeout", timeout,
	)

	results := make(map[string]string, len(states))
	for _, id := range slices.Sorted(maps.Keys(states)) {
		if !canShutdown[states[id].Status] {
			results[id] = ShutdownSkipped
			continue
		}
		results[id] = s.initiateAgentShutdown(ctx, id, timeout)
	}

	s.waitForShutdown(ctx, timeout)
	return results
}

func (s *Scheduler) initiateAgentShutdown(ctx context.Context, agentID string, timeout time.Duration) (outcome string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "lifecycle: failed to initiate shutdown for agent",
				"agent_id", agentID,
				"error", fmt.Sprint(r),
			)
			outcome = ShutdownFailed
		}
	}()

	now := s.now()
	var previous Status
	ok := s.registry.UpdateAgentStateIf(ctx, agentID, func(st *AgentState) bool {
		if !canShutdown[st.Status] {
			return false
		}
		previous = st.Status
		st.Status = StatusShuttingDown
		st.ShutdownInitiatedAt = ptr(now)
		return true
	})
	if !ok {
		return ShutdownSkipped
	}

	s.emit(ctx, agentID, EventShutdownInitiated, previous, StatusShuttingDown, map[string]any{
		"reason":   "graceful_shutdown",
		"graceful": true,
		"timeout":  timeout.Seconds(),
	})
	return ShutdownInitiated
}

// waitForShutdown completes shutting_down agents as their grace period
// elapses, polling at the configured interval, and forces the rest when
// timeout elapses or ctx is done.
func (s *Scheduler) waitForShutdown(ctx context.Context, timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(s.cfg.ShutdownPollInterval)
	defer poll.Stop()

	completed := make(map[string]bool)
wait:
	for !s.completeEligible(ctx, completed) {
		select {
		case <-poll.C:
		case <-deadline.C:
			break wait
		case <-ctx.Done():
			break wait
		}
	}

	for _, id := range s.idsWithStatus(StatusShuttingDown) {
		if completed[id] {
			continue
		}
		s.logger.WarnContext(ctx, "lifecycle: forcing agent shutdown", "agent_id", id)
		s.completeAgentShutdown(context.WithoutCancel(ctx), id, true)
	}
}

// completeEligible completes every shutting_down agent past its grace
// period and reports whether none is left waiting. Agents without a
// shutdown_initiated_at never become eligible and are left for forcing.
func (s *Scheduler) completeEligible(ctx context.Context, completed map[string]bool) bool {
	now := s.now()
	states := s.registry.AgentStates()
	done := true
	for _, id := range slices.Sorted(maps.Keys(states)) {
		st := states[id]
		if st.Status != StatusShuttingDown || completed[id] || st.ShutdownInitiatedAt == nil {
			continue
		}
		if now.Sub(*st.ShutdownInitiatedAt) >= s.cfg.ShutdownGracePeriod {
			s.completeAgentShutdown(ctx, id, false)
			completed[id] = true
			continue
		}
		done = false
	}
	return done
}

// completeAgentShutdown moves a shutting_down agent to shutdown, stamps
// shutdown_completed_at, and emits "shutdown_completed".
func (s *Scheduler) completeAgentShutdown(ctx context.Context, agentID string, forced bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "lifecycle: failed to complete agent shutdown",
				"agent_id", agentID,
				"forced", forced,
				"error", fmt.Sprint(r),
			)
		}
	}()

	now := s.now()
	var duration any
	ok := s.registry.UpdateAgentStateIf(ctx, agentID, func(st *AgentState) bool {
		if st.Status != StatusShuttingDown {
			return false
		}
		if st.ShutdownInitiatedAt != nil {
			duration = now.Sub(*st.ShutdownInitiatedAt).Seconds()
		}
		st.Status = StatusShutdown
		st.ShutdownCompletedAt = ptr(now)
		return true
	})
	if !ok {
		return
	}

	s.instruments.Shutdowns.WithLabelValues(strconv.FormatBool(forced)).Inc()
	s.emit(ctx, agentID, EventShutdownCompleted, StatusShuttingDown, StatusShutdown, map[string]any{
		"shutdown_duration": duration,
		"forced":            forced,
	})
	msg := "lifecycle: agent shutdown completed"
	if forced {
		msg = "lifecycle: agent shutdown forced"
	}
	s.logger.InfoContext(ctx, msg,
		"agent_id", agentID,
		"shutdown_duration", duration,
		"forced", forced,
	)
}

// ShutdownRequested reports whether a graceful shutdown has started.
func (s *Scheduler) ShutdownRequested() bool {
	return s.shutdownRequested.Load()
}

// HandleSignal runs the process shutdown sequence in response to sig.
// The sequence runs at most once per Scheduler.
func (s *Scheduler) HandleSignal(ctx context.Context, sig os.Signal) {
	s.logger.InfoContext(ctx, "lifecycle: graceful shutdown signal received", "signal", sig.String())
	s.shutdownRequested.Store(true)
	s.shutdown(ctx)
}

// HandleShutdown runs the process shutdown sequence on process exit,
// unless a graceful shutdown was already requested.
func (s *Scheduler) HandleShutdown(ctx context.Context) {
	if s.shutdownRequested.Load() {
		return
	}
	s.logger.InfoContext(ctx, "lifecycle: process shutdown detected")
	s.shutdownRequested.Store(true)
	s.shutdown(ctx)
}

// shutdown drains every live agent with the configured timeout and then
// drops the per-agent cache entries.
func (s *Scheduler) shutdown(ctx context.Context) {
	s.shutdownOnce.Do(func() {
		s.logger.InfoContext(ctx, "lifecycle: starting graceful shutdown of all agents")
		s.InitiateGracefulShutdown(ctx, s.cfg.ShutdownTimeout)

		for _, id := range s.registry.AgentIDs() {
			s.registry.ForgetCacheKeys(ctx, s.cfg.cacheKey(id), shutdownHealthKeyPrefix+id)
		}
		s.logger.InfoContext(ctx, "lifecycle: graceful shutdown completed")
	})
}

// Sweep runs one maintenance pass: corruption detection and repair for
// every agent, missed heartbeat detection, and automatic recovery.
func (s *Scheduler) Sweep(ctx context.Context) SweepReport {
	ctx, span := s.startSpan(ctx, "Sweep", "")
	defer finishSpan(span, true, nil)

	var report SweepReport
	for _, id := range s.registry.AgentIDs() {
		if s.health.DetectStateCorruption(ctx, id) {
			report.Corrupted = append(report.Corrupted, id)
		}
	}
	report.MissedHeartbeats = s.health.CheckHeartbeats(ctx)
	report.Recovery = s.PerformAutomaticRecovery(ctx)

	s.logger.DebugContext(ctx, "lifecycle: maintenance sweep finished",
		"corrupted", len(report.Corrupted),
		"missed_heartbeats", len(report.MissedHeartbeats),
		"recovery_attempts", len(report.Recovery),
	)
	return report
}

// Run binds the scheduler to the process until a shutdown happens. It
// sweeps every SweepInterval (never, when zero) and, on SIGTERM, SIGINT,
// or ctx cancellation, runs the graceful shutdown exactly once and
// returns. The shutdown itself is not cut short by the cancellation that
// triggered it.
func (s *Scheduler) Run(ctx context.Context) error {
	signals := make(chan os.Signal, 1)
	s.notify(signals, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(signals)

	var sweep <-chan time.Time
	if s.cfg.SweepInterval > 0 {
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	s.logger.InfoContext(ctx, "lifecycle: agent lifecycle hooks initialized",
		"sweep_interval", s.cfg.SweepInterval,
	)
	for {
		select {
		case sig := <-signals:
			s.HandleSignal(context.WithoutCancel(ctx), sig)
			return nil
		case <-ctx.Done():
			s.HandleShutdown(context.WithoutCancel(ctx))
			return nil
		case <-sweep:
			s.Sweep(ctx)
		}
	}
}
