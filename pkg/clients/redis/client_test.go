package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/agent-lifecycle/internal/testutil"
	sserr "github.com/StricklySoft/agent-lifecycle/pkg/errors"
)

// ===========================================================================
// Mock Implementation
// ===========================================================================

// mockCmdable implements Cmdable with testify/mock.
type mockCmdable struct {
	mock.Mock
}

func (m *mockCmdable) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(ctx, key, value, expiration)
	return args.Get(0).(*redis.StatusCmd)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(ctx, key)
	return args.Get(0).(*redis.StringCmd)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	args := m.Called(ctx, keys)
	return args.Get(0).(*redis.IntCmd)
}

func (m *mockCmdable) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	args := m.Called(ctx, keys)
	return args.Get(0).(*redis.IntCmd)
}

func (m *mockCmdable) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	args := m.Called(ctx, channel, message)
	return args.Get(0).(*redis.IntCmd)
}

func (m *mockCmdable) Ping(ctx context.Context) *redis.StatusCmd {
	args := m.Called(ctx)
	return args.Get(0).(*redis.StatusCmd)
}

func (m *mockCmdable) Close() error {
	args := m.Called()
	return args.Error(0)
}

// ===========================================================================
// Command Result Helpers
// ===========================================================================

func newStatusCmd(val string, err error) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(context.Background())
	if err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(val)
	}
	return cmd
}

func newStringCmd(val string, err error) *redis.StringCmd {
	cmd := redis.NewStringCmd(context.Background())
	if err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(val)
	}
	return cmd
}

func newIntCmd(val int64, err error) *redis.IntCmd {
	cmd := redis.NewIntCmd(context.Background())
	if err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(val)
	}
	return cmd
}

// ===========================================================================
// NewFromClient
// ===========================================================================

// TestNewFromClient_NilConfig verifies the zero config fallback and the
// default event channel.
func TestNewFromClient_NilConfig(t *testing.T) {
	t.Parallel()
	c := NewFromClient(&mockCmdable{}, nil)
	require.NotNil(t, c.config)
	assert.Equal(t, 0, c.dbIndex)
	assert.Equal(t, DefaultEventChannel, c.EventChannel())
}

// TestNewFromClient_WithConfig verifies that the config is retained.
func TestNewFromClient_WithConfig(t *testing.T) {
	t.Parallel()
	c := NewFromClient(&mockCmdable{}, &Config{DB: 4, EventChannel: "fleet"})
	assert.Equal(t, 4, c.dbIndex)
	assert.Equal(t, "fleet", c.EventChannel())
}

// ===========================================================================
// Cache operations
// ===========================================================================

// TestClient_Get_Success verifies that the stored bytes are returned.
func TestClient_Get_Success(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Get", mock.Anything, "agent_state:scraper-1").
		Return(newStringCmd(`{"agent_id":"scraper-1"}`, nil))

	got, err := NewFromClient(m, nil).Get(context.Background(), "agent_state:scraper-1")

	require.NoError(t, err)
	assert.JSONEq(t, `{"agent_id":"scraper-1"}`, string(got))
	m.AssertExpectations(t)
}

// TestClient_Get_Missing verifies that redis.Nil becomes a not-found error.
func TestClient_Get_Missing(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Get", mock.Anything, "agent_state:ghost").Return(newStringCmd("", redis.Nil))

	_, err := NewFromClient(m, nil).Get(context.Background(), "agent_state:ghost")

	testutil.RequireErrorCode(t, err, sserr.CodeNotFoundKey)
	assert.True(t, sserr.IsNotFound(err))
	assert.False(t, sserr.IsRetryable(err))
}

// TestClient_Get_Error verifies that driver errors are retryable cache
// failures.
func TestClient_Get_Error(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Get", mock.Anything, "k").Return(newStringCmd("", errors.New("connection reset")))

	_, err := NewFromClient(m, nil).Get(context.Background(), "k")

	testutil.RequireErrorCode(t, err, sserr.CodePersistenceCache)
	assert.True(t, sserr.IsRetryable(err))
}

// TestClient_Put_PassesTTL verifies the value and expiration handed to SET.
func TestClient_Put_PassesTTL(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Set", mock.Anything, "agent_state:scraper-1", []byte("{}"), 24*time.Hour).
		Return(newStatusCmd("OK", nil))

	err := NewFromClient(m, nil).Put(context.Background(), "agent_state:scraper-1", []byte("{}"), 24*time.Hour)

	require.NoError(t, err)
	m.AssertExpectations(t)
}

// TestClient_Put_Timeout verifies deadline classification.
func TestClient_Put_Timeout(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Set", mock.Anything, "k", mock.Anything, time.Duration(0)).
		Return(newStatusCmd("", context.DeadlineExceeded))

	err := NewFromClient(m, nil).Put(context.Background(), "k", []byte("v"), 0)

	testutil.RequireErrorCode(t, err, sserr.CodeTimeoutStorage)
	assert.True(t, sserr.IsTimeout(err))
}

// TestClient_Forget verifies the keys deleted and that an empty call does
// not reach Redis.
func TestClient_Forget(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Del", mock.Anything, []string{"agent_state:a", "agent_health:a"}).Return(newIntCmd(1, nil))
	c := NewFromClient(m, nil)

	require.NoError(t, c.Forget(context.Background(), "agent_state:a", "agent_health:a"))
	require.NoError(t, c.Forget(context.Background()))

	m.AssertNumberOfCalls(t, "Del", 1)
}

// TestClient_Forget_Error verifies error wrapping on DEL.
func TestClient_Forget_Error(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Del", mock.Anything, []string{"k"}).Return(newIntCmd(0, errors.New("READONLY")))

	err := NewFromClient(m, nil).Forget(context.Background(), "k")

	testutil.AssertErrorCode(t, err, sserr.CodePersistenceCache)
}

// TestClient_Exists verifies the count to bool conversion.
func TestClient_Exists(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Exists", mock.Anything, []string{"present"}).Return(newIntCmd(1, nil))
	m.On("Exists", mock.Anything, []string{"absent"}).Return(newIntCmd(0, nil))
	c := NewFromClient(m, nil)

	ok, err := c.Exists(context.Background(), "present")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Exists(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

// ===========================================================================
// Publish
// ===========================================================================

// TestClient_Publish verifies channel and payload.
func TestClient_Publish(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	payload := []byte(`{"event":"paused"}`)
	m.On("Publish", mock.Anything, "agent_lifecycle_events", payload).Return(newIntCmd(0, nil))

	err := NewFromClient(m, nil).Publish(context.Background(), "agent_lifecycle_events", payload)

	require.NoError(t, err)
	m.AssertExpectations(t)
}

// TestClient_Publish_Canceled verifies that cancellation is not retryable.
func TestClient_Publish_Canceled(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Publish", mock.Anything, "c", mock.Anything).Return(newIntCmd(0, context.Canceled))

	err := NewFromClient(m, nil).Publish(context.Background(), "c", nil)

	testutil.RequireErrorCode(t, err, sserr.CodeInternal)
	assert.False(t, sserr.IsRetryable(err))
}

// ===========================================================================
// Health and Close
// ===========================================================================

// TestClient_Health verifies success and failure classification, and
// that a deadline is applied to the ping.
func TestClient_Health(t *testing.T) {
	t.Parallel()
	ok := &mockCmdable{}
	ok.On("Ping", mock.MatchedBy(func(ctx context.Context) bool {
		_, has := ctx.Deadline()
		return has
	})).Return(newStatusCmd("PONG", nil))
	require.NoError(t, NewFromClient(ok, nil).Health(context.Background()))
	ok.AssertExpectations(t)

	down := &mockCmdable{}
	down.On("Ping", mock.Anything).Return(newStatusCmd("", errors.New("dial tcp: refused")))
	err := NewFromClient(down, nil).Health(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeUnavailableDependency)
	assert.True(t, sserr.IsUnavailable(err))
}

// TestClient_Close verifies delegation.
func TestClient_Close(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Close").Return(nil).Once()

	require.NoError(t, NewFromClient(m, nil).Close())
	m.AssertExpectations(t)
}

// TestWrapError verifies the classification table.
func TestWrapError(t *testing.T) {
	t.Parallel()
	assert.Nil(t, wrapError(nil, "x"))

	tests := []struct {
		name string
		err  error
		code sserr.Code
	}{
		{"deadline", context.DeadlineExceeded, sserr.CodeTimeoutStorage},
		{"canceled", context.Canceled, sserr.CodeInternal},
		{"generic", errors.New("boom"), sserr.CodePersistenceCache},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := wrapError(tt.err, "redis: op failed")
			assert.Equal(t, tt.code, got.Code)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}
