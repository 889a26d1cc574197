package minio

import (
	"time"

	"github.com/minio/minio-go/v7/pkg/s3utils"

	sserr "github.com/StricklySoft/agent-lifecycle/pkg/errors"
)

const maxStatementTruncateLen = 100

const (
	DefaultEndpoint = "localhost:9000"
	DefaultRegion   = "us-east-1"
	DefaultBucket   = "agent-lifecycle"

	// DefaultHealthTimeout applies to Health when the caller's context
	// has no deadline.
	DefaultHealthTimeout = 5 * time.Second
)

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

// Config holds the MinIO connection settings and the bucket that holds
// agent state documents.
type Config struct {
	Endpoint  string `env:"ENDPOINT" envDefault:"localhost:9000" yaml:"endpoint" json:"endpoint,omitempty"`
	AccessKey string `env:"ACCESS_KEY" yaml:"access_key" json:"access_key,omitempty"`
	SecretKey Secret `env:"SECRET_KEY" yaml:"secret_key" json:"-"`
	Region    string `env:"REGION" envDefault:"us-east-1" yaml:"region" json:"region,omitempty"`
	UseSSL    bool   `env:"USE_SSL" yaml:"use_ssl" json:"use_ssl,omitempty"`

	// Bucket holds one object per agent, keyed by its state path.
	Bucket string `env:"BUCKET" envDefault:"agent-lifecycle" yaml:"bucket" json:"bucket,omitempty"`
}

// DefaultConfig returns a Config for a local MinIO. AccessKey and
// SecretKey must still be set.
func DefaultConfig() *Config {
	return &Config{
		Endpoint: DefaultEndpoint,
		Region:   DefaultRegion,
		Bucket:   DefaultBucket,
	}
}

// Validate fills the region and bucket defaults and checks the rest. It
// implements the pkg/config Validator interface.
func (c *Config) Validate() error {
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.Bucket == "" {
		c.Bucket = DefaultBucket
	}
	switch {
	case c.Endpoint == "":
		return sserr.New(sserr.CodeValidationRequired, "minio: config endpoint must not be empty")
	case c.AccessKey == "":
		return sserr.New(sserr.CodeValidationRequired, "minio: config access_key must not be empty")
	}
	if err := s3utils.CheckValidBucketNameStrict(c.Bucket); err != nil {
		return sserr.Wrapf(err, sserr.CodeValidationFormat, "minio: config bucket %q is invalid", c.Bucket)
	}
	return nil
}

func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}
