package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
const tracerName = "github.com/StricklySoft/agent-lifecycle/pkg/lifecycle"

// Option customizes a lifecycle service. Services built on a [Registry]
// inherit the registry's settings, so options usually only need to be
// passed to [NewRegistry].
type Option func(*core)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(c *core) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock sets the time source. Defaults to [SystemClock].
func WithClock(clock Clock) Option {
	return func(c *core) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithConfig replaces the thresholds. Defaults to [DefaultConfig].
func WithConfig(cfg Config) Option {
	return func(c *core) { c.cfg = cfg }
}

// WithEventBus sets the event destination. Defaults to a bus that
// discards events.
func WithEventBus(bus EventBus) Option {
	return func(c *core) {
		if bus != nil {
			c.bus = bus
		}
	}
}

// WithInstruments sets the Prometheus collectors. Defaults to collectors
// on a private registry.
func WithInstruments(in *Instruments) Option {
	return func(c *core) {
		if in != nil {
			c.instruments = in
		}
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider. Defaults to
// the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *core) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// core carries the collaborators every lifecycle service needs.
type core struct {
	logger      *slog.Logger
	clock       Clock
	cfg         Config
	bus         EventBus
	instruments *Instruments
	tracer      trace.Tracer
}

func newCore(opts []Option) core {
	c := core{
		logger: slog.Default(),
		clock:  SystemClock{},
		cfg:    DefaultConfig(),
		bus:    nopBus{},
		tracer: otel.Tracer(tracerName),
	}
	c.apply(opts)
	if c.instruments == nil {
		c.instruments = NewInstruments(nil)
	}
	return c
}

func (c core) with(opts []Option) core {
	c.apply(opts)
	return c
}

func (c *core) apply(opts []Option) {
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
}

func (c core) now() time.Time {
	return c.clock.Now().UTC()
}

// emit publishes a lifecycle event and counts it.
func (c core) emit(ctx context.Context, agentID string, name EventName, from, to Status, details map[string]any) {
	c.instruments.Events.WithLabelValues(string(name)).Inc()
	c.bus.Publish(ctx, Event{
		ID:         uuid.New(),
		AgentID:    agentID,
		Name:       name,
		From:       from,
		To:         to,
		Context:    details,
		OccurredAt: c.now(),
	})
}

// startSpan opens an internal span for a lifecycle operation on agentID.
// An empty agentID marks a fleet-wide operation.
func (c core) startSpan(ctx context.Context, op, agentID string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "lifecycle."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	if agentID != "" {
		span.SetAttributes(attribute.String("agent.id", agentID))
	}
	return ctx, span
}

// finishSpan marks the span by outcome and ends it. ok=false without an
// error still records the operation as unsuccessful.
func finishSpan(span trace.Span, ok bool, err error) {
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case !ok:
		span.SetStatus(codes.Error, "operation rejected")
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
