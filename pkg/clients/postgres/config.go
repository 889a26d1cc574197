package postgres

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	sserr "github.com/StricklySoft/agent-lifecycle/pkg/errors"
)

const maxSQLTruncateLen = 100

const (
	DefaultHost                    = "localhost"
	DefaultPort                    = 5432
	DefaultDatabase                = "agent_lifecycle"
	DefaultUser                    = "postgres"
	DefaultTable                   = "agent_state_files"
	DefaultMaxConns          int32 = 10
	DefaultMinConns          int32 = 1
	DefaultMaxConnLifetime         = time.Hour
	DefaultMaxConnIdleTime         = 30 * time.Minute
	DefaultHealthCheckPeriod       = time.Minute
	DefaultConnectTimeout          = 10 * time.Second
	DefaultHealthTimeout           = 5 * time.Second
)

// SSLMode is a libpq sslmode value.
type SSLMode string

const (
	SSLModeDisable    SSLMode = "disable"
	SSLModeRequire    SSLMode = "require"
	SSLModeVerifyCA   SSLMode = "verify-ca"
	SSLModeVerifyFull SSLMode = "verify-full"
)

func (m SSLMode) String() string { return string(m) }

// Valid reports whether m is a supported mode.
func (m SSLMode) Valid() bool {
	switch m {
	case SSLModeDisable, SSLModeRequire, SSLModeVerifyCA, SSLModeVerifyFull:
		return true
	}
	return false
}

// Secret is a string that redacts itself when printed or serialized.
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

// Config holds the PostgreSQL connection settings and the table that
// holds agent state documents. When URI is set it takes precedence over
// Host, Port, Database, User, and Password.
type Config struct {
	URI      string  `env:"URI" yaml:"uri" json:"uri,omitempty"`
	Host     string  `env:"HOST" envDefault:"localhost" yaml:"host" json:"host,omitempty"`
	Port     int     `env:"PORT" envDefault:"5432" yaml:"port" json:"port,omitempty"`
	Database string  `env:"DATABASE" envDefault:"agent_lifecycle" yaml:"database" json:"database"`
	User     string  `env:"USER" envDefault:"postgres" yaml:"user" json:"user"`
	Password Secret  `env:"PASSWORD" yaml:"password" json:"-"`
	SSLMode  SSLMode `env:"SSLMODE" envDefault:"require" yaml:"ssl_mode" json:"ssl_mode,omitempty"`

	// SSLRootCert is a PEM CA bundle used with the verify modes.
	SSLRootCert string `env:"SSL_ROOT_CERT" yaml:"ssl_root_cert" json:"ssl_root_cert,omitempty"`

	MaxConns          int32         `env:"MAX_CONNS" envDefault:"10" yaml:"max_conns" json:"max_conns,omitempty"`
	MinConns          int32         `env:"MIN_CONNS" envDefault:"1" yaml:"min_conns" json:"min_conns,omitempty"`
	MaxConnLifetime   time.Duration `env:"MAX_CONN_LIFETIME" envDefault:"1h" yaml:"max_conn_lifetime" json:"max_conn_lifetime,omitempty"`
	MaxConnIdleTime   time.Duration `env:"MAX_CONN_IDLE_TIME" envDefault:"30m" yaml:"max_conn_idle_time" json:"max_conn_idle_time,omitempty"`
	HealthCheckPeriod time.Duration `env:"HEALTH_CHECK_PERIOD" envDefault:"1m" yaml:"health_check_period" json:"health_check_period,omitempty"`
	ConnectTimeout    time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s" yaml:"connect_timeout" json:"connect_timeout,omitempty"`

	// Table holds one row per state path.
	Table string `env:"TABLE" envDefault:"agent_state_files" yaml:"table" json:"table,omitempty"`
}

// DefaultConfig returns a Config for a local PostgreSQL.
func DefaultConfig() *Config {
	return &Config{
		Host:              DefaultHost,
		Port:              DefaultPort,
		Database:          DefaultDatabase,
		User:              DefaultUser,
		SSLMode:           SSLModeRequire,
		MaxConns:          DefaultMaxConns,
		MinConns:          DefaultMinConns,
		MaxConnLifetime:   DefaultMaxConnLifetime,
		MaxConnIdleTime:   DefaultMaxConnIdleTime,
		HealthCheckPeriod: DefaultHealthCheckPeriod,
		ConnectTimeout:    DefaultConnectTimeout,
		Table:             DefaultTable,
	}
}

// Validate applies defaults to zero-valued pool fields and checks the
// rest. It implements the pkg/config Validator interface.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.MaxConns < c.MinConns {
		return sserr.Validationf("postgres: config max_conns (%d) must be >= min_conns (%d)", c.MaxConns, c.MinConns)
	}

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return sserr.Wrap(err, sserr.CodeValidationFormat, "postgres: config URI is invalid")
		}
		if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			return sserr.Newf(sserr.CodeValidationFormat,
				"postgres: config URI scheme must be postgres:// or postgresql://, got %q", u.Scheme)
		}
		return nil
	}

	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.SSLMode == "" {
		c.SSLMode = SSLModeRequire
	}
	switch {
	case c.Port < 1 || c.Port > 65535:
		return sserr.Validationf("postgres: config port must be between 1 and 65535, got %d", c.Port)
	case c.Database == "":
		return sserr.New(sserr.CodeValidationRequired, "postgres: config database must not be empty")
	case c.User == "":
		return sserr.New(sserr.CodeValidationRequired, "postgres: config user must not be empty")
	case !c.SSLMode.Valid():
		return sserr.Newf(sserr.CodeValidationFormat, "postgres: config ssl_mode %q is not valid", c.SSLMode)
	}
	if c.SSLRootCert != "" {
		if _, err := os.Stat(c.SSLRootCert); err != nil {
			return sserr.Wrapf(err, sserr.CodeValidation,
				"postgres: config ssl_root_cert %q is not accessible", c.SSLRootCert)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.MaxConns == 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.MinConns == 0 {
		c.MinConns = DefaultMinConns
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = DefaultMaxConnLifetime
	}
	if c.MaxConnIdleTime == 0 {
		c.MaxConnIdleTime = DefaultMaxConnIdleTime
	}
	if c.HealthCheckPeriod == 0 {
		c.HealthCheckPeriod = DefaultHealthCheckPeriod
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Table == "" {
		c.Table = DefaultTable
	}
}

// ConnectionString returns the URI, or builds one from the structured
// fields.
func (c *Config) ConnectionString() string {
	if c.URI != "" {
		return c.URI
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password.Value()),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.Database,
	}
	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", string(c.SSLMode))
	}
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// tlsConfig returns a TLS config pinned to SSLRootCert, or nil when no
// custom CA is configured.
func (c *Config) tlsConfig() (*tls.Config, error) {
	if c.SSLRootCert == "" || c.SSLMode == SSLModeDisable {
		return nil, nil
	}

	pem, err := os.ReadFile(c.SSLRootCert)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to read CA certificate %q: %w", c.SSLRootCert, err)
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("postgres: failed to parse CA certificate from %q", c.SSLRootCert)
	}

	tlsCfg := &tls.Config{RootCAs: roots, MinVersion: tls.VersionTLS12}
	switch c.SSLMode {
	case SSLModeVerifyFull:
		tlsCfg.ServerName = c.Host
	case SSLModeVerifyCA:
		// Chain verification without hostname checks.
		tlsCfg.InsecureSkipVerify = true
		tlsCfg.VerifyConnection = func(cs tls.ConnectionState) error {
			if len(cs.PeerCertificates) == 0 {
				return errors.New("postgres: server did not present a certificate")
			}
			opts := x509.VerifyOptions{Roots: roots, Intermediates: x509.NewCertPool()}
			for _, cert := range cs.PeerCertificates[1:] {
				opts.Intermediates.AddCert(cert)
			}
			_, err := cs.PeerCertificates[0].Verify(opts)
			return err
		}
	default:
		tlsCfg.InsecureSkipVerify = true
	}
	return tlsCfg, nil
}

func truncateSQL(sql string) string {
	runes := []rune(sql)
	if len(runes) <= maxSQLTruncateLen {
		return sql
	}
	return string(runes[:maxSQLTruncateLen]) + "..."
}
