package lifecycle

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventName identifies a lifecycle event.
type EventName string

const (
	EventInitialized             EventName = "initialized"
	EventPaused                  EventName = "paused"
	EventResumed                 EventName = "resumed"
	EventFailed                  EventName = "failed"
	EventRecovered               EventName = "recovered"
	EventShutdownInitiated       EventName = "shutdown_initiated"
	EventShutdownCompleted       EventName = "shutdown_completed"
	EventStateCorruptionDetected EventName = "state_corruption_detected"
	EventStateRepaired           EventName = "state_repaired"
	EventHeartbeatMissed         EventName = "heartbeat_missed"
)

// Event describes one lifecycle transition. Context carries
// event-specific detail such as the failure reason or the repair actions.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	AgentID    string         `json:"agent_id"`
	Name       EventName      `json:"event"`
	From       Status         `json:"from_status"`
	To         Status         `json:"to_status"`
	Context    map[string]any `json:"context,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// EventBus receives lifecycle events. Publish is fire-and-forget: it has
// no error result and must not block for long, since events are emitted
// synchronously from lifecycle operations.
type EventBus interface {
	Publish(ctx context.Context, event Event)
}

// Handler consumes one event. Handlers are registered on a [Dispatcher].
type Handler func(ctx context.Context, event Event)

// Dispatcher is an [EventBus] that fans every event out to its handlers
// in registration order. A panicking handler is logged and skipped; the
// remaining handlers still run.
//
// A Dispatcher is safe for concurrent use.
type Dispatcher struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers []Handler
}

var _ EventBus = (*Dispatcher)(nil)

// NewDispatcher returns a Dispatcher with the given initial handlers. A
// nil logger falls back to [slog.Default].
func NewDispatcher(logger *slog.Logger, handlers ...Handler) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger, handlers: handlers}
}

// Subscribe appends a handler.
func (d *Dispatcher) Subscribe(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// Publish delivers event to every handler synchronously.
func (d *Dispatcher) Publish(ctx context.Context, event Event) {
	d.mu.RLock()
	handlers := d.handlers
	d.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.ErrorContext(ctx, "lifecycle: event handler panicked",
						"panic", r,
						"agent_id", event.AgentID,
						"event", string(event.Name),
					)
				}
			}()
			h(ctx, event)
		}()
	}
}

// LogListener returns a handler that writes every event to logger, at a
// level matching its severity. Unknown event names are logged as warnings.
func LogListener(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, e Event) {
		attrs := []any{
			"agent_id", e.AgentID,
			"event", string(e.Name),
			"from", string(e.From),
			"to", string(e.To),
		}
		switch e.Name {
		case EventInitialized:
			logger.InfoContext(ctx, "lifecycle: agent initialized", attrs...)
		case EventPaused:
			logger.InfoContext(ctx, "lifecycle: agent paused", append(attrs, "reason", e.Context["reason"])...)
		case EventResumed:
			logger.InfoContext(ctx, "lifecycle: agent resumed", append(attrs, "reason", e.Context["reason"])...)
		case EventFailed:
			logger.ErrorContext(ctx, "lifecycle: agent failed",
				append(attrs, "error", e.Context["error"], "failure_count", e.Context["failure_count"])...)
		case EventRecovered:
			logger.InfoContext(ctx, "lifecycle: agent recovered",
				append(attrs, "recovery_attempt", e.Context["recovery_attempt"])...)
		case EventShutdownInitiated:
			logger.InfoContext(ctx, "lifecycle: agent shutdown initiated",
				append(attrs, "reason", e.Context["reason"], "graceful", e.Context["graceful"])...)
		case EventShutdownCompleted:
			logger.InfoContext(ctx, "lifecycle: agent shutdown completed",
				append(attrs, "forced", e.Context["forced"], "shutdown_duration", e.Context["shutdown_duration"])...)
		case EventHeartbeatMissed:
			logger.WarnContext(ctx, "lifecycle: agent heartbeat missed",
				append(attrs, "missed_count", e.Context["missed_count"])...)
		case EventStateCorruptionDetected:
			logger.ErrorContext(ctx, "lifecycle: agent state corrupted",
				append(attrs, "corruption_reasons", e.Context["corruption_reasons"])...)
		case EventStateRepaired:
			logger.InfoContext(ctx, "lifecycle: agent state repaired",
				append(attrs, "repair_actions", e.Context["repair_actions"])...)
		default:
			logger.WarnContext(ctx, "lifecycle: unknown lifecycle event", attrs...)
		}
	}
}

// Publisher sends a payload to a named channel. The Redis client
// implements it with PUBLISH.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RelayHandler returns a handler that forwards each event as JSON to
// channel on pub, so processes other than this one can follow agent
// transitions. Publish failures are logged and dropped.
func RelayHandler(pub Publisher, channel string, logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, e Event) {
		payload, err := json.Marshal(e)
		if err != nil {
			logger.WarnContext(ctx, "lifecycle: failed to encode event for relay",
				"agent_id", e.AgentID, "event", string(e.Name), "error", err)
			return
		}
		if err := pub.Publish(ctx, channel, payload); err != nil {
			logger.WarnContext(ctx, "lifecycle: failed to relay event",
				"agent_id", e.AgentID, "event", string(e.Name), "channel", channel, "error", err)
		}
	}
}

type nopBus struct{}

func (nopBus) Publish(context.Context, Event) {}
