// Package resilient decorates lifecycle stores with retries and a circuit
// breaker. Transient failures (errors for which pkg/errors.IsRetryable
// reports true) are retried with exponential backoff inside the breaker;
// a run of failed operations opens the breaker, and while it is open
// calls fail fast with [sserr.CodeUnavailableDependency].
//
// Not-found and validation errors are answers, not failures: they are
// neither retried nor counted against the breaker.
package resilient

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"

	sserr "github.com/StricklySoft/agent-lifecycle/pkg/errors"
	"github.com/StricklySoft/agent-lifecycle/pkg/lifecycle"
)

// Policy tunes retries and the breaker.
type Policy struct {
	// Attempts is the total number of tries per operation.
	Attempts uint `env:"ATTEMPTS" envDefault:"3" yaml:"attempts" json:"attempts"`

	// Delay is the initial backoff; MaxDelay caps it.
	Delay    time.Duration `env:"DELAY" envDefault:"100ms" yaml:"delay" json:"delay"`
	MaxDelay time.Duration `env:"MAX_DELAY" envDefault:"2s" yaml:"max_delay" json:"max_delay"`

	// FailureThreshold consecutive failed operations open the breaker.
	FailureThreshold uint32 `env:"FAILURE_THRESHOLD" envDefault:"5" yaml:"failure_threshold" json:"failure_threshold"`

	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration `env:"OPEN_TIMEOUT" envDefault:"30s" yaml:"open_timeout" json:"open_timeout"`

	// HalfOpenRequests is the number of probes allowed while half-open.
	HalfOpenRequests uint32 `env:"HALF_OPEN_REQUESTS" envDefault:"1" yaml:"half_open_requests" json:"half_open_requests"`
}

// DefaultPolicy returns the production policy.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:         3,
		Delay:            100 * time.Millisecond,
		MaxDelay:         2 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		HalfOpenRequests: 1,
	}
}

// Validate implements the pkg/config Validator interface.
func (p *Policy) Validate() error {
	switch {
	case p.Attempts < 1:
		return sserr.New(sserr.CodeValidation, "resilient: attempts must be at least 1")
	case p.FailureThreshold < 1:
		return sserr.New(sserr.CodeValidation, "resilient: failure threshold must be at least 1")
	case p.Delay < 0 || p.MaxDelay < 0 || p.OpenTimeout < 0:
		return sserr.New(sserr.CodeValidation, "resilient: durations must not be negative")
	}
	return nil
}

// guard runs operations through one breaker with one retry policy.
type guard struct {
	policy  Policy
	breaker *gobreaker.CircuitBreaker
}

func newGuard(name string, p Policy, logger *slog.Logger) *guard {
	if logger == nil {
		logger = slog.Default()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: p.HalfOpenRequests,
		Timeout:     p.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= p.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !sserr.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("resilient: circuit breaker state changed",
				"store", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return &guard{policy: p, breaker: cb}
}

// do runs op with retries inside the breaker.
func (g *guard) do(ctx context.Context, op func(context.Context) error) error {
	_, err := g.breaker.Execute(func() (any, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(g.policy.Attempts),
			retry.Delay(g.policy.Delay),
			retry.MaxDelay(g.policy.MaxDelay),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
			retry.RetryIf(sserr.IsRetryable),
		)
		return nil, r.Do(func() error {
			return op(ctx)
		})
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return sserr.Wrapf(err, sserr.CodeUnavailableDependency,
			"resilient: %s is unavailable", g.breaker.Name())
	}
	return err
}

// State reports the breaker state ("closed", "half-open", or "open").
func (g *guard) State() string {
	return g.breaker.State().String()
}

// Cache is a [lifecycle.Cache] with retries and a breaker.
type Cache struct {
	next lifecycle.Cache
	*guard
}

var _ lifecycle.Cache = (*Cache)(nil)

// NewCache wraps next.
func NewCache(next lifecycle.Cache, p Policy, logger *slog.Logger) *Cache {
	return &Cache{next: next, guard: newGuard("cache", p, logger)}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.next.Get(ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Cache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.do(ctx, func(ctx context.Context) error {
		return c.next.Put(ctx, key, value, ttl)
	})
}

func (c *Cache) Forget(ctx context.Context, keys ...string) error {
	return c.do(ctx, func(ctx context.Context) error {
		return c.next.Forget(ctx, keys...)
	})
}

// FileStore is a [lifecycle.FileStore] with retries and a breaker.
type FileStore struct {
	next lifecycle.FileStore
	*guard
}

var _ lifecycle.FileStore = (*FileStore)(nil)

// NewFileStore wraps next.
func NewFileStore(next lifecycle.FileStore, p Policy, logger *slog.Logger) *FileStore {
	return &FileStore{next: next, guard: newGuard("file_store", p, logger)}
}

func (f *FileStore) Exists(ctx context.Context, path string) (bool, error) {
	var ok bool
	err := f.do(ctx, func(ctx context.Context) error {
		var err error
		ok, err = f.next.Exists(ctx, path)
		return err
	})
	return ok && err == nil, err
}

func (f *FileStore) Get(ctx context.Context, path string) ([]byte, error) {
	var out []byte
	err := f.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = f.next.Get(ctx, path)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *FileStore) Put(ctx context.Context, path string, data []byte) error {
	return f.do(ctx, func(ctx context.Context) error {
		return f.next.Put(ctx, path, data)
	})
}

func (f *FileStore) Delete(ctx context.Context, path string) error {
	return f.do(ctx, func(ctx context.Context) error {
		return f.next.Delete(ctx, path)
	})
}

func (f *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := f.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = f.next.List(ctx, prefix)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
