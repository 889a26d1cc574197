package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/agent-lifecycle/internal/testutil"
	"github.com/StricklySoft/agent-lifecycle/internal/testutil/fixtures"
)

// mockPublisher is a testify mock of [Publisher].
type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	args := m.Called(ctx, channel, payload)
	return args.Error(0)
}

func sampleEvent() Event {
	return Event{
		ID:         uuid.MustParse("6f1c2f8e-4a8b-4f7e-9a52-2d6a3f0c9b11"),
		AgentID:    fixtures.AgentID,
		Name:       EventPaused,
		From:       StatusActive,
		To:         StatusPaused,
		Context:    map[string]any{"reason": "manual"},
		OccurredAt: fixtures.Epoch,
	}
}

// ===========================================================================
// Dispatcher
// ===========================================================================

// TestDispatcher_DeliversInOrder verifies registration order delivery,
// including handlers added later with Subscribe.
func TestDispatcher_DeliversInOrder(t *testing.T) {
	t.Parallel()
	var got []string
	d := NewDispatcher(nil,
		func(_ context.Context, e Event) { got = append(got, "first:"+string(e.Name)) },
	)
	d.Subscribe(func(_ context.Context, e Event) { got = append(got, "second:"+string(e.Name)) })

	d.Publish(context.Background(), sampleEvent())

	assert.Equal(t, []string{"first:paused", "second:paused"}, got)
}

// TestDispatcher_PanickingHandler verifies that one handler's panic does
// not stop the others.
func TestDispatcher_PanickingHandler(t *testing.T) {
	t.Parallel()
	logger, logs := testutil.NewLogger()
	delivered := false
	d := NewDispatcher(logger,
		func(context.Context, Event) { panic("listener bug") },
		func(context.Context, Event) { delivered = true },
	)

	require.NotPanics(t, func() { d.Publish(context.Background(), sampleEvent()) })
	assert.True(t, delivered)
	assert.True(t, logs.HasMessage(t, "ERROR", "lifecycle: event handler panicked"))
}

// TestDispatcher_AsEventBus verifies that services publish through a
// Dispatcher and that every emission is counted.
func TestDispatcher_AsEventBus(t *testing.T) {
	t.Parallel()
	var names []EventName
	d := NewDispatcher(nil, func(_ context.Context, e Event) { names = append(names, e.Name) })
	h := newHarness(t, WithEventBus(d))
	ctx := context.Background()

	h.active(t, fixtures.AgentID)
	require.True(t, h.executor.PauseAgent(ctx, fixtures.AgentID))
	require.True(t, h.executor.ResumeAgent(ctx, fixtures.AgentID))

	assert.Equal(t, []EventName{EventInitialized, EventPaused, EventResumed}, names)
	assert.Equal(t, 1.0, promtest.ToFloat64(h.in.Events.WithLabelValues(string(EventPaused))))
	assert.Empty(t, h.events.all(), "the recorder was replaced by the dispatcher")
}

// ===========================================================================
// LogListener
// ===========================================================================

// TestLogListener_Levels verifies the level used for each event.
func TestLogListener_Levels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  EventName
		level string
		msg   string
	}{
		{EventInitialized, "INFO", "lifecycle: agent initialized"},
		{EventPaused, "INFO", "lifecycle: agent paused"},
		{EventResumed, "INFO", "lifecycle: agent resumed"},
		{EventFailed, "ERROR", "lifecycle: agent failed"},
		{EventRecovered, "INFO", "lifecycle: agent recovered"},
		{EventShutdownInitiated, "INFO", "lifecycle: agent shutdown initiated"},
		{EventShutdownCompleted, "INFO", "lifecycle: agent shutdown completed"},
		{EventHeartbeatMissed, "WARN", "lifecycle: agent heartbeat missed"},
		{EventStateCorruptionDetected, "ERROR", "lifecycle: agent state corrupted"},
		{EventStateRepaired, "INFO", "lifecycle: agent state repaired"},
		{EventName("teleported"), "WARN", "lifecycle: unknown lifecycle event"},
	}

	for _, tt := range tests {
		t.Run(string(tt.name), func(t *testing.T) {
			t.Parallel()
			logger, logs := testutil.NewLogger()
			e := sampleEvent()
			e.Name = tt.name

			LogListener(logger)(context.Background(), e)

			recs := logs.Records(t)
			require.Len(t, recs, 1)
			assert.Equal(t, tt.level, recs[0]["level"])
			assert.Equal(t, tt.msg, recs[0]["msg"])
			assert.Equal(t, fixtures.AgentID, recs[0]["agent_id"])
		})
	}
}

// ===========================================================================
// RelayHandler
// ===========================================================================

// TestRelayHandler_PublishesJSON verifies the relayed payload.
func TestRelayHandler_PublishesJSON(t *testing.T) {
	t.Parallel()
	pub := &mockPublisher{}
	var payload []byte
	pub.On("Publish", mock.Anything, "agent-lifecycle", mock.Anything).
		Run(func(args mock.Arguments) { payload = args.Get(2).([]byte) }).
		Return(nil).Once()

	RelayHandler(pub, "agent-lifecycle", nil)(context.Background(), sampleEvent())

	pub.AssertExpectations(t)
	assert.JSONEq(t, `{
		"id": "6f1c2f8e-4a8b-4f7e-9a52-2d6a3f0c9b11",
		"agent_id": "scraper-1",
		"event": "paused",
		"from_status": "active",
		"to_status": "paused",
		"context": {"reason": "manual"},
		"occurred_at": "2025-03-14T09:00:00Z"
	}`, string(payload))

	var decoded Event
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, sampleEvent().ID, decoded.ID)
}

// TestRelayHandler_PublishFailure verifies that failures are logged and
// swallowed.
func TestRelayHandler_PublishFailure(t *testing.T) {
	t.Parallel()
	logger, logs := testutil.NewLogger()
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, "events", mock.Anything).Return(errors.New("connection refused"))

	require.NotPanics(t, func() {
		RelayHandler(pub, "events", logger)(context.Background(), sampleEvent())
	})
	assert.True(t, logs.HasMessage(t, "WARN", "lifecycle: failed to relay event"))
}

// TestRelayHandler_UnencodableContext verifies that an event whose context
// cannot be encoded is dropped before publishing.
func TestRelayHandler_UnencodableContext(t *testing.T) {
	t.Parallel()
	logger, logs := testutil.NewLogger()
	pub := &mockPublisher{}
	e := sampleEvent()
	e.Context = map[string]any{"callback": func() {}}

	RelayHandler(pub, "events", logger)(context.Background(), e)

	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	assert.True(t, logs.HasMessage(t, "WARN", "lifecycle: failed to encode event for relay"))
}
