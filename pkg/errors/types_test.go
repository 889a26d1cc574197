package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "error without cause",
			err:  &Error{Code: CodeValidation, Message: "agent id is required"},
			want: "VAL_001: agent id is required",
		},
		{
			name: "error with cause",
			err: &Error{
				Code:    CodePersistenceCache,
				Message: "cache write failed",
				Cause:   errors.New("connection refused"),
			},
			want: "PERSIST_002: cache write failed: connection refused",
		},
		{
			name: "error with nested structured cause",
			err: &Error{
				Code:    CodePersistenceFile,
				Message: "state file write failed",
				Cause:   &Error{Code: CodeTimeoutStorage, Message: "put timed out"},
			},
			want: "PERSIST_003: state file write failed: TIMEOUT_002: put timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	t.Parallel()
	cause := errors.New("boom")
	err := Wrap(cause, CodeInternal, "wrapped")

	assert.Same(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, cause))
}

// TestError_WithDetail verifies WithDetail copies rather than mutates.
func TestError_WithDetail(t *testing.T) {
	t.Parallel()
	base := New(CodeNotFoundAgent, "agent is not registered")
	withID := base.WithDetail("agent_id", "scraper-1")
	withBoth := withID.WithDetail("path", "agent_states/scraper-1.json")

	assert.Nil(t, base.Details)
	require.Len(t, withID.Details, 1)
	assert.Equal(t, "scraper-1", withID.Details["agent_id"])
	require.Len(t, withBoth.Details, 2)
	assert.Equal(t, CodeNotFoundAgent, withBoth.Code)
}

func TestError_Format(t *testing.T) {
	t.Parallel()
	err := Wrap(errors.New("dial tcp: refused"), CodeUnavailableDependency, "redis unreachable").
		WithDetail("addr", "localhost:6379")

	assert.Equal(t, "UNAVAIL_002: redis unreachable: dial tcp: refused", fmt.Sprintf("%v", err))
	assert.Equal(t, "UNAVAIL_002: redis unreachable: dial tcp: refused", fmt.Sprintf("%s", err))
	assert.Equal(t, `"UNAVAIL_002: redis unreachable: dial tcp: refused"`, fmt.Sprintf("%q", err))

	verbose := fmt.Sprintf("%+v", err)
	assert.Contains(t, verbose, `Code: "UNAVAIL_002"`)
	assert.Contains(t, verbose, "addr:localhost:6379")
	assert.Contains(t, verbose, "Cause: dial tcp: refused")
}
