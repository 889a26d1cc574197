// Package lifecycle tracks the lifecycle of long-running background agents
// (price scrapers, crawlers, sync workers) inside a single process. It does
// not run the agents' work; it records what they report and drives their
// state transitions.
//
// # Services
//
// Four services share one [Registry]:
//
//   - [Registry] owns the canonical in-memory record of every agent and is
//     the only writer to the cache and the durable file store.
//   - [HealthMonitor] ingests heartbeats, scores health, and detects and
//     repairs logically inconsistent state.
//   - [Executor] drives single-agent transitions: initialize, pause,
//     resume, and cleanup.
//   - [Scheduler] runs fleet-wide work: recovery sweeps, statistics, and
//     coordinated graceful shutdown.
//
// # Agent Lifecycle
//
// The per-agent state machine is:
//
//	unregistered → initializing → active ⇄ paused
//	active | paused → failed
//	failed → active | healthy              (recovery)
//	non-terminal → shutting_down → shutdown
//
// [StatusShutdown] is the only terminal status. A failed agent stays
// eligible for recovery until it reaches the failure ceiling.
//
// # Error Handling
//
// Public lifecycle methods never panic outward and never return storage
// errors. Unknown agents and rejected transitions are reported as false;
// persistence failures are logged, counted, and absorbed so that the
// in-memory record stays authoritative for the running process.
//
// # OpenTelemetry Integration
//
// Lifecycle operations create OpenTelemetry spans under the scope
// "github.com/StricklySoft/agent-lifecycle/pkg/lifecycle".
package lifecycle
