// Package cli implements the agentctl commands. Every command loads the
// configuration, opens the selected backends, restores the fleet from the
// durable store, runs one lifecycle operation, and closes the backends.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/StricklySoft/agent-lifecycle/pkg/clients/minio"
	"github.com/StricklySoft/agent-lifecycle/pkg/clients/postgres"
	"github.com/StricklySoft/agent-lifecycle/pkg/clients/redis"
	"github.com/StricklySoft/agent-lifecycle/pkg/config"
	"github.com/StricklySoft/agent-lifecycle/pkg/lifecycle"
	"github.com/StricklySoft/agent-lifecycle/pkg/store/disk"
	"github.com/StricklySoft/agent-lifecycle/pkg/store/memory"
	"github.com/StricklySoft/agent-lifecycle/pkg/store/resilient"
)

// App carries the process dependencies of the commands. Tests replace
// them to run commands against an in-memory filesystem and environment.
type App struct {
	Out io.Writer
	Err io.Writer

	// Fs holds config files and the disk state backend.
	Fs afero.Fs

	// Lookup resolves AGENTCTL_* variables.
	Lookup config.LookupFunc

	// Clock overrides the lifecycle clock when set.
	Clock lifecycle.Clock
}

// NewApp returns an App bound to the real process.
func NewApp() *App {
	return &App{
		Out:    os.Stdout,
		Err:    os.Stderr,
		Fs:     afero.NewOsFs(),
		Lookup: os.LookupEnv,
	}
}

// healthChecker is implemented by the external backends.
type healthChecker interface {
	Health(ctx context.Context) error
}

// runtime is one opened set of lifecycle services.
type runtime struct {
	cfg    AppConfig
	logger *slog.Logger
	prom   *prometheus.Registry

	registry  *lifecycle.Registry
	executor  *lifecycle.Executor
	health    *lifecycle.HealthMonitor
	scheduler *lifecycle.Scheduler

	checks  map[string]healthChecker
	closers []func()
}

// Close releases the backends in reverse order of opening.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// open builds the services from the configuration at configPath and
// restores every persisted agent.
func (a *App) open(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := a.loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:    cfg,
		logger: newLogger(a.Err, cfg.LogLevel, cfg.LogFormat),
		prom:   prometheus.NewRegistry(),
		checks: make(map[string]healthChecker),
	}

	cache, relay, err := a.openCache(ctx, rt)
	if err != nil {
		rt.Close()
		return nil, err
	}
	files, err := a.openFiles(ctx, rt)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if cfg.Resilient {
		cache = resilient.NewCache(cache, cfg.Resilience, rt.logger)
		files = resilient.NewFileStore(files, cfg.Resilience, rt.logger)
	}

	bus := lifecycle.NewDispatcher(rt.logger, lifecycle.LogListener(rt.logger))
	if relay != nil {
		bus.Subscribe(lifecycle.RelayHandler(relay, relay.EventChannel(), rt.logger))
	}

	opts := []lifecycle.Option{
		lifecycle.WithConfig(cfg.Lifecycle),
		lifecycle.WithLogger(rt.logger),
		lifecycle.WithEventBus(bus),
		lifecycle.WithInstruments(lifecycle.NewInstruments(rt.prom)),
	}
	if a.Clock != nil {
		opts = append(opts, lifecycle.WithClock(a.Clock))
	}

	rt.registry = lifecycle.NewRegistry(cache, files, opts...)
	rt.executor = lifecycle.NewExecutor(rt.registry)
	rt.health = lifecycle.NewHealthMonitor(rt.registry)
	rt.scheduler = lifecycle.NewScheduler(rt.registry, rt.executor, rt.health)

	restored := rt.registry.LoadAllStates(ctx)
	rt.logger.DebugContext(ctx, "cli: fleet restored",
		"agents", restored,
		"cache_backend", cfg.CacheBackend,
		"state_backend", cfg.StateBackend,
	)
	return rt, nil
}

func (a *App) openCache(ctx context.Context, rt *runtime) (lifecycle.Cache, *redis.Client, error) {
	if rt.cfg.CacheBackend != BackendRedis {
		return memory.NewCache(), nil, nil
	}
	client, err := redis.NewClient(ctx, rt.cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	rt.checks[BackendRedis] = client
	rt.closers = append(rt.closers, func() {
		if err := client.Close(); err != nil {
			rt.logger.Warn("cli: failed to close redis client", "error", err)
		}
	})
	return client, client, nil
}

func (a *App) openFiles(ctx context.Context, rt *runtime) (lifecycle.FileStore, error) {
	switch rt.cfg.StateBackend {
	case BackendDisk:
		return disk.New(a.Fs, rt.cfg.StateRoot), nil

	case BackendMinIO:
		client, err := minio.NewClient(ctx, rt.cfg.MinIO)
		if err != nil {
			return nil, err
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		rt.checks[BackendMinIO] = client
		return client, nil

	case BackendPostgres:
		client, err := postgres.NewClient(ctx, rt.cfg.Postgres)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, client.Close)
		if err := client.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		rt.checks[BackendPostgres] = client
		return client, nil
	}
	return memory.NewFileStore(), nil
}
