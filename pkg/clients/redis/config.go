// Package redis is the Redis backend for agent lifecycle state. Its
// [Client] implements lifecycle.Cache (agent records with a TTL) and
// lifecycle.Publisher (event relay over PUBLISH).
//
// # Configuration
//
// [Config] carries env, yaml, and json tags for pkg/config. Nested under
// an application config field tagged `env:"REDIS"`, the host is read from
// PREFIX_REDIS_HOST:
//
//	cfg := redis.DefaultConfig()
//	cfg.Password = redis.Secret(os.Getenv("REDIS_PASSWORD"))
//	client, err := redis.NewClient(ctx, *cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// For tests, use [NewFromClient] with a mock [Cmdable].
//
// # OpenTelemetry Tracing
//
// Every command creates a client span with db.system, the database index,
// and a statement truncated to 100 characters. Values are never recorded.
package redis

import (
	"net/url"
	"time"

	sserr "github.com/StricklySoft/agent-lifecycle/pkg/errors"
)

// maxStatementTruncateLen bounds statements recorded in trace spans.
const maxStatementTruncateLen = 100

const (
	DefaultHost         = "localhost"
	DefaultPort         = 6379
	DefaultDB           = 0
	DefaultPoolSize     = 10
	DefaultMinIdleConns = 2
	DefaultMaxRetries   = 3
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second

	// DefaultHealthTimeout applies to Health when the caller's context
	// has no deadline.
	DefaultHealthTimeout = 5 * time.Second

	// DefaultEventChannel is the PUBLISH channel for relayed lifecycle
	// events.
	DefaultEventChannel = "agent_lifecycle_events"
)

// Secret is a string that redacts itself when printed or serialized. Use
// [Secret.Value] to read it.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string { return redacted }

func (s Secret) GoString() string { return redacted }

// Value returns the actual secret.
func (s Secret) Value() string { return string(s) }

// MarshalText implements encoding.TextMarshaler with the redacted form.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// Config holds the Redis connection settings. When URI is set it takes
// precedence over Host, Port, DB, and Password.
type Config struct {
	// URI is a redis:// or rediss:// connection string.
	URI string `env:"URI" yaml:"uri" json:"uri,omitempty"`

	Host string `env:"HOST" envDefault:"localhost" yaml:"host" json:"host,omitempty"`
	Port int    `env:"PORT" envDefault:"6379" yaml:"port" json:"port,omitempty"`
	DB   int    `env:"DB" yaml:"db" json:"db"`

	// Password is never serialized.
	Password Secret `env:"PASSWORD" yaml:"password" json:"-"`

	PoolSize     int           `env:"POOL_SIZE" envDefault:"10" yaml:"pool_size" json:"pool_size,omitempty"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS" envDefault:"2" yaml:"min_idle_conns" json:"min_idle_conns,omitempty"`
	MaxRetries   int           `env:"MAX_RETRIES" envDefault:"3" yaml:"max_retries" json:"max_retries,omitempty"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s" yaml:"dial_timeout" json:"dial_timeout,omitempty"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"3s" yaml:"read_timeout" json:"read_timeout,omitempty"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"3s" yaml:"write_timeout" json:"write_timeout,omitempty"`
	TLSEnabled   bool          `env:"TLS_ENABLED" yaml:"tls_enabled" json:"tls_enabled,omitempty"`

	// EventChannel is the channel lifecycle events are published on.
	EventChannel string `env:"EVENT_CHANNEL" envDefault:"agent_lifecycle_events" yaml:"event_channel" json:"event_channel,omitempty"`
}

// DefaultConfig returns a Config for a local Redis.
func DefaultConfig() *Config {
	return &Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		DB:           DefaultDB,
		PoolSize:     DefaultPoolSize,
		MinIdleConns: DefaultMinIdleConns,
		MaxRetries:   DefaultMaxRetries,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
		EventChannel: DefaultEventChannel,
	}
}

// Validate applies defaults to zero-valued pool, timeout, and channel
// fields, then checks the remaining values. It implements the
// pkg/config Validator interface.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return sserr.Wrap(err, sserr.CodeValidationFormat, "redis: config URI is invalid")
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return sserr.Newf(sserr.CodeValidationFormat,
				"redis: config URI scheme must be redis:// or rediss://, got %q", u.Scheme)
		}
		return nil
	}

	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	switch {
	case c.Port < 1 || c.Port > 65535:
		return sserr.Validationf("redis: config port must be between 1 and 65535, got %d", c.Port)
	case c.PoolSize < 1:
		return sserr.Validationf("redis: config pool_size must be >= 1, got %d", c.PoolSize)
	case c.MinIdleConns < 0:
		return sserr.Validationf("redis: config min_idle_conns must be >= 0, got %d", c.MinIdleConns)
	case c.PoolSize < c.MinIdleConns:
		return sserr.Validationf("redis: config pool_size (%d) must be >= min_idle_conns (%d)",
			c.PoolSize, c.MinIdleConns)
	case c.DialTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0:
		return sserr.Validationf("redis: config timeouts must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.MinIdleConns == 0 {
		c.MinIdleConns = DefaultMinIdleConns
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.EventChannel == "" {
		c.EventChannel = DefaultEventChannel
	}
}

// truncateStatement shortens s to maxStatementTruncateLen runes, marking
// the cut with "...".
func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}
