package lifecycle

import (
	"time"

	sserr "github.com/StricklySoft/agent-lifecycle/pkg/errors"
)

// Config holds every threshold used by the lifecycle services. The struct
// tags make it loadable with pkg/config, either standalone or nested
// inside an application config.
//
// The zero value is not usable; start from [DefaultConfig].
type Config struct {
	// StateTTL is how long a cached agent record lives.
	StateTTL time.Duration `env:"STATE_TTL" envDefault:"24h" yaml:"state_ttl" json:"state_ttl"`

	// CacheKeyPrefix is prepended to the agent id to form the cache key.
	CacheKeyPrefix string `env:"CACHE_KEY_PREFIX" envDefault:"agent_state:" yaml:"cache_key_prefix" json:"cache_key_prefix"`

	// StateDir is the file store prefix holding one JSON file per agent.
	StateDir string `env:"STATE_DIR" envDefault:"agent_states" yaml:"state_dir" json:"state_dir"`

	// StaleHeartbeatThreshold is the heartbeat age past which a live
	// agent is considered corrupted and repaired to failed.
	StaleHeartbeatThreshold time.Duration `env:"STALE_HEARTBEAT_THRESHOLD" envDefault:"10m" yaml:"stale_heartbeat_threshold" json:"stale_heartbeat_threshold"`

	// HealthyHeartbeatWindow is the maximum heartbeat age of a healthy agent.
	HealthyHeartbeatWindow time.Duration `env:"HEALTHY_HEARTBEAT_WINDOW" envDefault:"5m" yaml:"healthy_heartbeat_window" json:"healthy_heartbeat_window"`

	// RecentHeartbeatWindow bounds "recent" heartbeats in statistics.
	RecentHeartbeatWindow time.Duration `env:"RECENT_HEARTBEAT_WINDOW" envDefault:"5m" yaml:"recent_heartbeat_window" json:"recent_heartbeat_window"`

	// MinHealthyScore is the lowest health score considered healthy.
	MinHealthyScore int `env:"MIN_HEALTHY_SCORE" envDefault:"50" yaml:"min_healthy_score" json:"min_healthy_score"`

	// MaxRecoveryFailures is the failure count at which automatic
	// recovery stops for an agent.
	MaxRecoveryFailures int `env:"MAX_RECOVERY_FAILURES" envDefault:"3" yaml:"max_recovery_failures" json:"max_recovery_failures"`

	// RecoveryCooldown is the minimum time since failed_at before an
	// automatic recovery attempt.
	RecoveryCooldown time.Duration `env:"RECOVERY_COOLDOWN" envDefault:"60s" yaml:"recovery_cooldown" json:"recovery_cooldown"`

	// StatsCacheTTL is how long computed lifecycle statistics are reused.
	StatsCacheTTL time.Duration `env:"STATS_CACHE_TTL" envDefault:"300s" yaml:"stats_cache_ttl" json:"stats_cache_ttl"`

	// ShutdownTimeout bounds the graceful shutdown wait when no explicit
	// timeout is given.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// ShutdownGracePeriod is how long an agent stays shutting_down before
	// it may complete.
	ShutdownGracePeriod time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"5s" yaml:"shutdown_grace_period" json:"shutdown_grace_period"`

	// ShutdownPollInterval is how often the shutdown wait re-checks agents.
	ShutdownPollInterval time.Duration `env:"SHUTDOWN_POLL_INTERVAL" envDefault:"1s" yaml:"shutdown_poll_interval" json:"shutdown_poll_interval"`

	// SweepInterval is the period of the maintenance sweep in [Scheduler.Run].
	// Zero disables the sweep.
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s" yaml:"sweep_interval" json:"sweep_interval"`
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		StateTTL:                24 * time.Hour,
		CacheKeyPrefix:          "agent_state:",
		StateDir:                "agent_states",
		StaleHeartbeatThreshold: 10 * time.Minute,
		HealthyHeartbeatWindow:  5 * time.Minute,
		RecentHeartbeatWindow:   5 * time.Minute,
		MinHealthyScore:         50,
		MaxRecoveryFailures:     3,
		RecoveryCooldown:        60 * time.Second,
		StatsCacheTTL:           300 * time.Second,
		ShutdownTimeout:         30 * time.Second,
		ShutdownGracePeriod:     5 * time.Second,
		ShutdownPollInterval:    time.Second,
		SweepInterval:           30 * time.Second,
	}
}

// Validate checks that the thresholds are usable. It implements the
// pkg/config Validator interface.
func (c *Config) Validate() error {
	switch {
	case c.StateDir == "":
		return sserr.New(sserr.CodeValidationRequired, "lifecycle: state dir is required")
	case c.StateTTL <= 0:
		return sserr.New(sserr.CodeValidation, "lifecycle: state ttl must be positive")
	case c.MinHealthyScore < 0 || c.MinHealthyScore > maxHealthScore:
		return sserr.Newf(sserr.CodeValidation,
			"lifecycle: min healthy score %d is out of range [0, %d]", c.MinHealthyScore, maxHealthScore)
	case c.MaxRecoveryFailures < 1:
		return sserr.New(sserr.CodeValidation, "lifecycle: max recovery failures must be at least 1")
	case c.ShutdownPollInterval <= 0:
		return sserr.New(sserr.CodeValidation, "lifecycle: shutdown poll interval must be positive")
	case c.ShutdownGracePeriod < 0 || c.ShutdownTimeout < 0:
		return sserr.New(sserr.CodeValidation, "lifecycle: shutdown durations must not be negative")
	case c.StaleHeartbeatThreshold < c.HealthyHeartbeatWindow:
		return sserr.Newf(sserr.CodeValidation,
			"lifecycle: stale heartbeat threshold %s is shorter than the healthy window %s",
			c.StaleHeartbeatThreshold, c.HealthyHeartbeatWindow)
	case c.SweepInterval < 0:
		return sserr.New(sserr.CodeValidation, "lifecycle: sweep interval must not be negative")
	}
	return nil
}

func (c Config) cacheKey(agentID string) string {
	return c.CacheKeyPrefix + agentID
}

func (c Config) statePath(agentID string) string {
	return c.StateDir + "/" + agentID + ".json"
}
