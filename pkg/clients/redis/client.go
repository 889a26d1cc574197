package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/agent-lifecycle/pkg/errors"
)

const tracerName = "github.com/StricklySoft/agent-lifecycle/pkg/clients/redis"

// Cmdable is the subset of go-redis commands the [Client] uses. It is
// satisfied by [*redis.Client] and by mocks.
type Cmdable interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

var _ Cmdable = (*redis.Client)(nil)

// Client stores agent records in Redis and relays lifecycle events over
// PUBLISH. It implements lifecycle.Cache and lifecycle.Publisher.
//
// A Client is safe for concurrent use.
type Client struct {
	cmdable Cmdable
	config  *Config
	tracer  trace.Tracer
	dbIndex int
}

// NewClient validates cfg, connects, and verifies connectivity with a
// ping. The caller must Close the client.
//
// Error codes returned:
//   - [sserr.CodeValidation], [sserr.CodeValidationFormat]: invalid configuration
//   - [sserr.CodeUnavailableDependency]: cannot reach Redis
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts *redis.Options
	if cfg.URI != "" {
		var err error
		opts, err = redis.ParseURL(cfg.URI)
		if err != nil {
			return nil, sserr.Wrap(err, sserr.CodeValidationFormat,
				"redis: failed to parse connection URI")
		}
		opts.PoolSize = cfg.PoolSize
		opts.MinIdleConns = cfg.MinIdleConns
		opts.MaxRetries = cfg.MaxRetries
		opts.DialTimeout = cfg.DialTimeout
		opts.ReadTimeout = cfg.ReadTimeout
		opts.WriteTimeout = cfg.WriteTimeout
	} else {
		opts = &redis.Options{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password:     cfg.Password.Value(),
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}
		if cfg.TLSEnabled {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency,
			"redis: failed to connect to server")
	}

	return &Client{
		cmdable: rdb,
		config:  &cfg,
		tracer:  otel.Tracer(tracerName),
		dbIndex: opts.DB,
	}, nil
}

// NewFromClient wraps an existing [Cmdable]. cfg is not validated; nil
// means the zero Config.
func NewFromClient(cmdable Cmdable, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{
		cmdable: cmdable,
		config:  cfg,
		tracer:  otel.Tracer(tracerName),
		dbIndex: cfg.DB,
	}
}

// Get returns the value stored under key. A missing key is reported with
// [sserr.CodeNotFoundKey].
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := c.startSpan(ctx, "Get", "GET "+key)
	val, err := c.cmdable.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		finishSpan(span, nil)
		return nil, sserr.KeyNotFound(key)
	}
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "redis: get failed")
	}
	return val, nil
}

// Put stores value under key. A zero ttl keeps the key until it is
// deleted.
func (c *Client) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span := c.startSpan(ctx, "Put", fmt.Sprintf("SET %s EX %d", key, int64(ttl.Seconds())))
	err := c.cmdable.Set(ctx, key, value, ttl).Err()
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "redis: set failed")
	}
	return nil
}

// Forget deletes keys. Missing keys are not an error.
func (c *Client) Forget(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, span := c.startSpan(ctx, "Forget", "DEL "+strings.Join(keys, " "))
	err := c.cmdable.Del(ctx, keys...).Err()
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "redis: del failed")
	}
	return nil
}

// Exists reports whether key is present.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	ctx, span := c.startSpan(ctx, "Exists", "EXISTS "+key)
	n, err := c.cmdable.Exists(ctx, key).Result()
	finishSpan(span, err)
	if err != nil {
		return false, wrapError(err, "redis: exists failed")
	}
	return n > 0, nil
}

// Publish sends payload to channel. Having no subscribers is not an error.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	ctx, span := c.startSpan(ctx, "Publish", "PUBLISH "+channel)
	err := c.cmdable.Publish(ctx, channel, payload).Err()
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "redis: publish failed")
	}
	return nil
}

// EventChannel returns the configured event channel.
func (c *Client) EventChannel() string {
	if c.config.EventChannel == "" {
		return DefaultEventChannel
	}
	return c.config.EventChannel
}

// Health pings Redis, applying [DefaultHealthTimeout] when ctx has no
// deadline. Failures are reported with [sserr.CodeUnavailableDependency].
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "PING")

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	err := c.cmdable.Ping(ctx).Err()
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "redis: health check failed")
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.cmdable.Close()
}

func (c *Client) startSpan(ctx context.Context, operationName, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "redis."+operationName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.Int("db.redis.database_index", c.dbIndex),
		attribute.String("db.statement", truncateStatement(statement)),
	)
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError classifies a driver error. Deadline expiry is a retryable
// timeout; cancellation is internal and not retried; anything else is a
// retryable cache persistence failure.
func wrapError(err error, message string) *sserr.Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return sserr.Wrap(err, sserr.CodeTimeoutStorage, message)
	case errors.Is(err, context.Canceled):
		return sserr.Wrap(err, sserr.CodeInternal, message)
	default:
		return sserr.Wrap(err, sserr.CodePersistenceCache, message)
	}
}
