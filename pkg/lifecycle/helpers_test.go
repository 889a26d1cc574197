package lifecycle

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/agent-lifecycle/internal/testutil"
	"github.com/StricklySoft/agent-lifecycle/internal/testutil/fixtures"
	sserr "github.com/StricklySoft/agent-lifecycle/pkg/errors"
)

// errStoreDown is returned by the fake stores when a failure is injected.
var errStoreDown = sserr.New(sserr.CodeUnavailableDependency, "store down")

// ===========================================================================
// Fake stores
// ===========================================================================

type fakeCache struct {
	mu        sync.Mutex
	data      map[string][]byte
	ttls      map[string]time.Duration
	forgotten []string

	failGet    error
	failPut    error
	failForget error
	panicGet   bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panicGet {
		panic("cache exploded")
	}
	if c.failGet != nil {
		return nil, c.failGet
	}
	v, ok := c.data[key]
	if !ok {
		return nil, sserr.KeyNotFound(key)
	}
	return append([]byte(nil), v...), nil
}

func (c *fakeCache) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failPut != nil {
		return c.failPut
	}
	c.data[key] = append([]byte(nil), value...)
	c.ttls[key] = ttl
	return nil
}

func (c *fakeCache) Forget(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failForget != nil {
		return c.failForget
	}
	for _, k := range keys {
		delete(c.data, k)
		delete(c.ttls, k)
	}
	c.forgotten = append(c.forgotten, keys...)
	return nil
}

func (c *fakeCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

func (c *fakeCache) wasForgotten(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.forgotten {
		if k == key {
			return true
		}
	}
	return false
}

func (c *fakeCache) set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

func (c *fakeCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = map[string][]byte{}
}

type fakeFiles struct {
	mu   sync.Mutex
	data map[string][]byte

	failPut  error
	failList error
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{data: map[string][]byte{}}
}

func (f *fakeFiles) Exists(_ context.Context, p string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[p]
	return ok, nil
}

func (f *fakeFiles) Get(_ context.Context, p string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[p]
	if !ok {
		return nil, sserr.KeyNotFound(p)
	}
	return append([]byte(nil), v...), nil
}

func (f *fakeFiles) Put(_ context.Context, p string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut != nil {
		return f.failPut
	}
	f.data[p] = append([]byte(nil), data...)
	return nil
}

func (f *fakeFiles) Delete(_ context.Context, p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, p)
	return nil
}

func (f *fakeFiles) List(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList != nil {
		return nil, f.failList
	}
	dir := strings.TrimSuffix(prefix, "/")
	var out []string
	for p := range f.data {
		if path.Dir(p) == dir {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeFiles) has(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[p]
	return ok
}

func (f *fakeFiles) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data)
}

func (f *fakeFiles) set(p string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[p] = data
}

// ===========================================================================
// Event recorder
// ===========================================================================

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// named returns the events with the given name, in emission order.
func (r *eventRecorder) named(name EventName) []Event {
	var out []Event
	for _, e := range r.all() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// last returns the most recent event with the given name.
func (r *eventRecorder) last(t *testing.T, name EventName) Event {
	t.Helper()
	events := r.named(name)
	require.NotEmpty(t, events, "no %q event emitted", name)
	return events[len(events)-1]
}

// ===========================================================================
// Harness
// ===========================================================================

// harness wires the four services over fake stores, a fake clock, and an
// event recorder.
type harness struct {
	clock   *testutil.Clock
	cache   *fakeCache
	files   *fakeFiles
	events  *eventRecorder
	logs    *testutil.LogBuffer
	metrics *prometheus.Registry
	in      *Instruments

	registry  *Registry
	health    *HealthMonitor
	executor  *Executor
	scheduler *Scheduler
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	logger, logs := testutil.NewLogger()
	h := &harness{
		clock:   testutil.NewClock(fixtures.Epoch),
		cache:   newFakeCache(),
		files:   newFakeFiles(),
		events:  &eventRecorder{},
		logs:    logs,
		metrics: prometheus.NewRegistry(),
	}
	h.in = NewInstruments(h.metrics)

	base := []Option{
		WithLogger(logger),
		WithClock(h.clock),
		WithEventBus(h.events),
		WithInstruments(h.in),
	}
	h.registry = NewRegistry(h.cache, h.files, append(base, opts...)...)
	h.health = NewHealthMonitor(h.registry)
	h.executor = NewExecutor(h.registry)
	h.scheduler = NewScheduler(h.registry, h.executor, h.health)
	return h
}

// loggedError returns the "error" attribute of the first record carrying
// msg, failing the test when there is none.
func (h *harness) loggedError(t *testing.T, msg string) string {
	t.Helper()
	for _, rec := range h.logs.Records(t) {
		if rec["msg"] == msg {
			errText, _ := rec["error"].(string)
			return errText
		}
	}
	t.Fatalf("no log record %q", msg)
	return ""
}

// register registers id with the default fixture type and config.
func (h *harness) register(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, h.registry.RegisterAgent(context.Background(), id, fixtures.AgentType, fixtures.AgentConfig()))
}

// active registers and initializes id.
func (h *harness) active(t *testing.T, id string) {
	t.Helper()
	h.register(t, id)
	require.True(t, h.executor.InitializeAgent(context.Background(), id))
}

// state returns the record for id, failing the test when it is missing.
func (h *harness) state(t *testing.T, id string) AgentState {
	t.Helper()
	s, ok := h.registry.AgentState(id)
	require.True(t, ok, "agent %q is not registered", id)
	return s
}

// set applies mutate to the stored record of id directly.
func (h *harness) set(t *testing.T, id string, mutate func(*AgentState)) {
	t.Helper()
	require.True(t, h.registry.UpdateAgentState(context.Background(), id, mutate))
}

// failedAgo puts id into status failed with failed_at d before now.
func (h *harness) failedAgo(t *testing.T, id string, d time.Duration, failures int) {
	t.Helper()
	failedAt := h.clock.Now().Add(-d)
	h.set(t, id, func(s *AgentState) {
		s.Status = StatusFailed
		s.FailedAt = &failedAt
		s.FailureReason = "timeout"
		s.FailureCount = failures
	})
}

// fastShutdown shortens the shutdown timings so tests finish quickly.
func fastShutdown(grace time.Duration) Option {
	return func(c *core) {
		c.cfg.ShutdownGracePeriod = grace
		c.cfg.ShutdownPollInterval = 5 * time.Millisecond
		c.cfg.ShutdownTimeout = 200 * time.Millisecond
	}
}
