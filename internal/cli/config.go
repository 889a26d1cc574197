package cli

import (
	"log/slog"
	"slices"

	"github.com/StricklySoft/agent-lifecycle/pkg/clients/minio"
	"github.com/StricklySoft/agent-lifecycle/pkg/clients/postgres"
	"github.com/StricklySoft/agent-lifecycle/pkg/clients/redis"
	"github.com/StricklySoft/agent-lifecycle/pkg/config"
	sserr "github.com/StricklySoft/agent-lifecycle/pkg/errors"
	"github.com/StricklySoft/agent-lifecycle/pkg/lifecycle"
	"github.com/StricklySoft/agent-lifecycle/pkg/store/resilient"
)

// EnvPrefix prefixes every environment variable read by agentctl.
const EnvPrefix = "AGENTCTL"

// Backend names accepted by CacheBackend and StateBackend.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendDisk     = "disk"
	BackendMinIO    = "minio"
	BackendPostgres = "postgres"
)

var (
	cacheBackends = []string{BackendMemory, BackendRedis}
	stateBackends = []string{BackendMemory, BackendDisk, BackendMinIO, BackendPostgres}
)

// AppConfig is the agentctl configuration. Backend sections are only
// validated when their backend is selected.
type AppConfig struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" yaml:"log_level" json:"log_level"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text" yaml:"log_format" json:"log_format"`

	CacheBackend string `env:"CACHE_BACKEND" envDefault:"memory" yaml:"cache_backend" json:"cache_backend"`
	StateBackend string `env:"STATE_BACKEND" envDefault:"disk" yaml:"state_backend" json:"state_backend"`

	// StateRoot is the directory used by the disk backend.
	StateRoot string `env:"STATE_ROOT" envDefault:".agentctl" yaml:"state_root" json:"state_root"`

	// Resilient wraps both stores with retries and a circuit breaker.
	Resilient bool `env:"RESILIENT" envDefault:"true" yaml:"resilient" json:"resilient"`

	// MetricsAddr is the listen address of the ops endpoints in serve.
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090" yaml:"metrics_addr" json:"metrics_addr"`

	Lifecycle  lifecycle.Config `env:"LIFECYCLE" yaml:"lifecycle" json:"lifecycle"`
	Resilience resilient.Policy `env:"RESILIENCE" yaml:"resilience" json:"resilience"`

	Redis    redis.Config    `env:"REDIS" yaml:"redis" json:"redis" validate:"-"`
	MinIO    minio.Config    `env:"MINIO" yaml:"minio" json:"minio" validate:"-"`
	Postgres postgres.Config `env:"POSTGRES" yaml:"postgres" json:"postgres" validate:"-"`
}

// Validate implements config.Validator.
func (c *AppConfig) Validate() error {
	if !slices.Contains(cacheBackends, c.CacheBackend) {
		return sserr.Newf(sserr.CodeValidationFormat,
			"cli: cache backend %q is not one of %v", c.CacheBackend, cacheBackends)
	}
	if !slices.Contains(stateBackends, c.StateBackend) {
		return sserr.Newf(sserr.CodeValidationFormat,
			"cli: state backend %q is not one of %v", c.StateBackend, stateBackends)
	}
	if c.StateBackend == BackendDisk && c.StateRoot == "" {
		return sserr.New(sserr.CodeValidationRequired, "cli: state root is required for the disk backend")
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return sserr.Wrapf(err, sserr.CodeValidationFormat, "cli: log level %q is not valid", c.LogLevel)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return sserr.Newf(sserr.CodeValidationFormat, "cli: log format %q must be text or json", c.LogFormat)
	}
	return nil
}

// loadConfig resolves the configuration from defaults, the optional file,
// and AGENTCTL_* variables.
func (a *App) loadConfig(path string) (AppConfig, error) {
	var cfg AppConfig
	err := config.New().
		WithFs(a.Fs).
		WithLookup(a.Lookup).
		WithEnvPrefix(EnvPrefix).
		WithFile(path).
		Load(&cfg)
	return cfg, err
}
