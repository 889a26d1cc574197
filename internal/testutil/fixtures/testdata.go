// Package fixtures provides shared test data for the agent lifecycle
// test suite.
package fixtures

import "time"

// Agent identities used across lifecycle, store, and CLI tests.
const (
	// AgentID is the default agent for unit tests.
	AgentID = "scraper-1"

	// AgentType is the default agent kind.
	AgentType = "price_scraper"

	// AltAgentID is a second agent for tests that need two.
	AltAgentID = "scraper-2"

	// ThirdAgentID is a third agent for fleet-level tests.
	ThirdAgentID = "monitor-1"

	// AltAgentType is a second agent kind.
	AltAgentType = "stock_monitor"
)

// Epoch is the fixed start time of fake clocks in tests.
var Epoch = time.Date(2025, time.March, 14, 9, 0, 0, 0, time.UTC)

// AgentConfig returns a fresh opaque agent configuration.
func AgentConfig() map[string]any {
	return map[string]any{
		"target_url": "https://shop.example.com/catalog",
		"interval":   "5m",
	}
}

// Standard configuration values used in config loader tests.
const (
	// TestEnvPrefix is the environment variable prefix for config tests.
	TestEnvPrefix = "AGENTCTL"

	// TestConfigYAML is a minimal lifecycle configuration in YAML.
	TestConfigYAML = `state_dir: fleet_states
max_recovery_failures: 5
recovery_cooldown: 2m
`

	// TestConfigJSON is the same configuration in JSON, where durations
	// are nanoseconds.
	TestConfigJSON = `{
  "state_dir": "fleet_states",
  "max_recovery_failures": 5,
  "recovery_cooldown": 120000000000
}
`
)

// ValidStateJSON is a complete persisted record for AgentID.
const ValidStateJSON = `{
  "agent_id": "scraper-1",
  "type": "price_scraper",
  "config": {"interval": "5m"},
  "status": "active",
  "registered_at": "2025-03-14T08:00:00Z",
  "last_heartbeat": "2025-03-14T08:59:30Z",
  "health_score": 90,
  "error_count": 2,
  "restart_count": 1,
  "failure_count": 0,
  "recovery_count": 0
}`
