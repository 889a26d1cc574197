package redis

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/agent-lifecycle/internal/testutil"
	sserr "github.com/StricklySoft/agent-lifecycle/pkg/errors"
)

// ===========================================================================
// Secret
// ===========================================================================

func TestSecret_Redacted(t *testing.T) {
	t.Parallel()
	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", s.GoString())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "hunter2", s.Value())

	data, err := s.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "[REDACTED]", string(data))
}

// TestConfig_JSONOmitsPassword verifies that the password never reaches
// serialized output.
func TestConfig_JSONOmitsPassword(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Password = "hunter2"

	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")
}

// ===========================================================================
// DefaultConfig and Validate
// ===========================================================================

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
	assert.Equal(t, DefaultEventChannel, cfg.EventChannel)
}

// TestConfig_Validate_AppliesDefaults verifies that a zero config becomes
// usable.
func TestConfig_Validate_AppliesDefaults(t *testing.T) {
	t.Parallel()
	var cfg Config
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultDialTimeout, cfg.DialTimeout)
	assert.Equal(t, DefaultReadTimeout, cfg.ReadTimeout)
	assert.Equal(t, DefaultWriteTimeout, cfg.WriteTimeout)
	assert.Equal(t, DefaultEventChannel, cfg.EventChannel)
}

func TestConfig_Validate_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		code sserr.Code
	}{
		{"port too high", Config{Port: 70000}, sserr.CodeValidation},
		{"negative port", Config{Port: -1}, sserr.CodeValidation},
		{"negative pool", Config{PoolSize: -1}, sserr.CodeValidation},
		{"negative idle", Config{MinIdleConns: -1}, sserr.CodeValidation},
		{"idle above pool", Config{PoolSize: 2, MinIdleConns: 5}, sserr.CodeValidation},
		{"negative timeout", Config{ReadTimeout: -time.Second}, sserr.CodeValidation},
		{"bad scheme", Config{URI: "http://localhost:6379"}, sserr.CodeValidationFormat},
		{"unparseable uri", Config{URI: "redis://[::1"}, sserr.CodeValidationFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := tt.cfg
			testutil.AssertErrorCode(t, cfg.Validate(), tt.code)
		})
	}
}

// TestConfig_Validate_URI verifies that a URI skips structured checks.
func TestConfig_Validate_URI(t *testing.T) {
	t.Parallel()
	for _, uri := range []string{"redis://localhost:6379/0", "rediss://:pw@cache:6380/2"} {
		cfg := Config{URI: uri, Port: -5}
		assert.NoError(t, cfg.Validate(), uri)
		assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
	}
}

// ===========================================================================
// truncateStatement
// ===========================================================================

func TestTruncateStatement(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "GET k", truncateStatement("GET k"))

	exact := strings.Repeat("a", maxStatementTruncateLen)
	assert.Equal(t, exact, truncateStatement(exact))

	long := strings.Repeat("é", maxStatementTruncateLen+5)
	got := truncateStatement(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Len(t, []rune(got), maxStatementTruncateLen+3)
}
