package lifecycle

import (
	"context"
	"encoding/json"
	"maps"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	sserr "github.com/StricklySoft/agent-lifecycle/pkg/errors"
)

// requiredStateFields must be present, and non-null, in every restored
// agent document.
var requiredStateFields = []string{"status", "registered_at", "last_heartbeat"}

// Registry is the single source of truth for agent records. It keeps the
// canonical copy of every record in memory and mirrors each change to a
// [Cache] (with a TTL) and, best effort, to a durable [FileStore].
//
// Other services never touch the stores directly: they read snapshots
// from the Registry and change records only through
// [Registry.UpdateAgentState].
//
// A Registry is safe for concurrent use. Each UpdateAgentState call runs
// its mutation under the registry lock, so concurrent updates to the same
// agent are applied one after the other rather than overwriting each
// other. Writes to the stores are serialized and always carry the latest
// in-memory snapshot.
type Registry struct {
	core

	cache Cache
	files FileStore

	mu     sync.RWMutex
	agents map[string]*AgentState

	// persistMu orders store writes and deletes so a late persist cannot
	// resurrect the file of an agent that was just unregistered.
	persistMu sync.Mutex
}

// NewRegistry creates an empty Registry backed by cache and files.
func NewRegistry(cache Cache, files FileStore, opts ...Option) *Registry {
	return &Registry{
		core:   newCore(opts),
		cache:  cache,
		files:  files,
		agents: make(map[string]*AgentState),
	}
}

// Config returns the thresholds the registry and the services built on it
// use.
func (r *Registry) Config() Config {
	return r.cfg
}

// RegisterAgent creates a fresh record for agentID with status
// initializing, health score 100, zeroed counters, and registration and
// heartbeat times set to now, and persists it. An existing record with the
// same id is replaced without merging.
//
// The only errors are validation errors for an empty agentID or one
// containing a path separator, which could not be restored from the
// state directory.
func (r *Registry) RegisterAgent(ctx context.Context, agentID, agentType string, config map[string]any) error {
	ctx, span := r.startSpan(ctx, "RegisterAgent", agentID)
	if err := validateAgentID(agentID); err != nil {
		finishSpan(span, false, err)
		return err
	}

	now := r.now()
	state := &AgentState{
		AgentID:       agentID,
		Type:          agentType,
		Config:        maps.Clone(config),
		Status:        StatusInitializing,
		RegisteredAt:  now,
		LastHeartbeat: now,
		HealthScore:   maxHealthScore,
	}

	r.mu.Lock()
	r.agents[agentID] = state
	r.mu.Unlock()

	r.PersistAgentState(ctx, agentID)
	r.logger.InfoContext(ctx, "lifecycle: agent registered",
		"agent_id", agentID,
		"type", agentType,
	)
	finishSpan(span, true, nil)
	return nil
}

// AgentStates returns a snapshot of every registered agent, keyed by id.
// The returned records are deep copies.
func (r *Registry) AgentStates() map[string]AgentState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]AgentState, len(r.agents))
	for id, s := range r.agents {
		out[id] = s.Clone()
	}
	return out
}

// AgentIDs returns the registered agent ids in sorted order.
func (r *Registry) AgentIDs() []string {
	r.mu.RLock()
	ids := slices.Collect(maps.Keys(r.agents))
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// AgentState returns a copy of the record for agentID and whether it is
// registered.
func (r *Registry) AgentState(agentID string) (AgentState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.agents[agentID]
	if !ok {
		return AgentState{}, false
	}
	return s.Clone(), true
}

// UpdateAgentState applies mutate to the record for agentID under the
// registry lock and then persists the result. It returns false, without
// calling mutate, when the agent is not registered; it never creates a
// record. The agent id cannot be changed by mutate.
//
// mutate must not call back into the Registry. A panic in mutate leaves
// the lock released and propagates to the caller.
func (r *Registry) UpdateAgentState(ctx context.Context, agentID string, mutate func(*AgentState)) bool {
	if !r.mutate(agentID, mutate) {
		return false
	}
	r.PersistAgentState(ctx, agentID)
	return true
}

// UpdateAgentStateIf is the conditional form of UpdateAgentState. apply
// runs on a copy of the record under the registry lock; the copy replaces
// the record, and is persisted, only when apply returns true. It returns
// false for an unknown agent or when apply declines.
func (r *Registry) UpdateAgentStateIf(ctx context.Context, agentID string, apply func(*AgentState) bool) bool {
	r.mu.Lock()
	s, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	next := s.Clone()
	committed := false
	func() {
		defer r.mu.Unlock()
		if apply(&next) {
			next.AgentID = agentID
			r.agents[agentID] = &next
			committed = true
		}
	}()
	if committed {
		r.PersistAgentState(ctx, agentID)
	}
	return committed
}

func validateAgentID(agentID string) error {
	switch {
	case agentID == "":
		return sserr.New(sserr.CodeValidationRequired, "lifecycle: agent id is required")
	case strings.ContainsAny(agentID, `/\`):
		return sserr.Newf(sserr.CodeValidationFormat, "lifecycle: agent id %q must not contain a path separator", agentID)
	}
	return nil
}

func (r *Registry) mutate(agentID string, fn func(*AgentState)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.agents[agentID]
	if !ok {
		return false
	}
	fn(s)
	s.AgentID = agentID
	return true
}

// UnregisterAgent removes agentID from memory, the cache, and the file
// store. It is idempotent: unregistering an unknown agent is a no-op
// apart from clearing any leftover persisted data. Store failures are
// logged.
func (r *Registry) UnregisterAgent(ctx context.Context, agentID string) {
	ctx, span := r.startSpan(ctx, "UnregisterAgent", agentID)
	defer finishSpan(span, true, nil)

	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	r.mu.Lock()
	delete(r.agents, agentID)
	r.mu.Unlock()

	if err := r.cache.Forget(ctx, r.cfg.cacheKey(agentID)); err != nil {
		r.logger.WarnContext(ctx, "lifecycle: failed to remove cached agent state",
			"agent_id", agentID,
			"error", err,
		)
	}

	p := r.cfg.statePath(agentID)
	exists, err := r.files.Exists(ctx, p)
	if err != nil {
		r.logger.WarnContext(ctx, "lifecycle: failed to check agent state file",
			"agent_id", agentID,
			"path", p,
			"error", err,
		)
		return
	}
	if !exists {
		return
	}
	if err := r.files.Delete(ctx, p); err != nil && !sserr.IsNotFound(err) {
		r.logger.WarnContext(ctx, "lifecycle: failed to delete agent state file",
			"agent_id", agentID,
			"path", p,
			"error", err,
		)
	}
}

// PersistAgentState writes the current record for agentID to the cache
// (with the configured TTL) and to the file store as indented JSON.
// Failures in either store are logged and counted, never returned: the
// in-memory record stays authoritative. Unknown agents are ignored.
func (r *Registry) PersistAgentState(ctx context.Context, agentID string) {
	ctx, span := r.startSpan(ctx, "PersistAgentState", agentID)

	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	state, ok := r.AgentState(agentID)
	if !ok {
		finishSpan(span, false, nil)
		return
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		r.logger.ErrorContext(ctx, "lifecycle: failed to encode agent state",
			"agent_id", agentID,
			"error", err,
		)
		finishSpan(span, false, err)
		return
	}

	ok = true
	if err := r.cache.Put(ctx, r.cfg.cacheKey(agentID), data, r.cfg.StateTTL); err != nil {
		ok = false
		r.instruments.PersistFailures.WithLabelValues("cache").Inc()
		r.logger.WarnContext(ctx, "lifecycle: failed to persist agent state to cache",
			"agent_id", agentID,
			"error", err,
		)
	}
	if err := r.files.Put(ctx, r.cfg.statePath(agentID), data); err != nil {
		ok = false
		r.instruments.PersistFailures.WithLabelValues("file").Inc()
		r.logger.WarnContext(ctx, "lifecycle: failed to persist agent state to file",
			"agent_id", agentID,
			"error", err,
		)
	}
	finishSpan(span, ok, nil)
}

// RestoreAgentState loads the persisted record for agentID, from the
// cache first and the file store second, validates it with
// [Registry.ValidateAgentState], and merges it into memory. Fields present
// in the persisted document override the in-memory record; fields absent
// from it keep their in-memory values. An agent unknown in memory is
// created from the document.
//
// It returns false when nothing is persisted, a store read fails, or the
// document is invalid.
func (r *Registry) RestoreAgentState(ctx context.Context, agentID string) bool {
	ctx, span := r.startSpan(ctx, "RestoreAgentState", agentID)

	data, source := r.load(ctx, agentID)
	if data == nil {
		finishSpan(span, false, nil)
		return false
	}

	fields, err := parseStateDocument(data)
	if err != nil {
		r.logInvalidState(ctx, agentID, err)
		finishSpan(span, false, err)
		return false
	}

	r.mu.Lock()
	var merged AgentState
	if existing, ok := r.agents[agentID]; ok {
		merged = existing.Clone()
	}
	// Maps replace rather than merge key by key.
	if _, ok := fields["config"]; ok {
		merged.Config = nil
	}
	if _, ok := fields["metrics"]; ok {
		merged.Metrics = nil
	}
	if err = json.Unmarshal(data, &merged); err == nil {
		merged.AgentID = agentID
		r.agents[agentID] = &merged
	}
	r.mu.Unlock()

	if err != nil {
		err = sserr.Wrap(err, sserr.CodeValidationFormat, "lifecycle: agent state document does not decode")
		r.logInvalidState(ctx, agentID, err)
		finishSpan(span, false, err)
		return false
	}

	r.logger.InfoContext(ctx, "lifecycle: agent state restored",
		"agent_id", agentID,
		"source", source,
	)
	finishSpan(span, true, nil)
	return true
}

// load reads the raw document for agentID. A cache miss or cache error
// falls through to the file store.
func (r *Registry) load(ctx context.Context, agentID string) ([]byte, string) {
	data, err := r.cache.Get(ctx, r.cfg.cacheKey(agentID))
	switch {
	case err == nil && len(data) > 0:
		return data, "cache"
	case err != nil && !sserr.IsNotFound(err):
		r.logger.WarnContext(ctx, "lifecycle: failed to read agent state from cache",
			"agent_id", agentID,
			"error", err,
		)
	}

	p := r.cfg.statePath(agentID)
	exists, err := r.files.Exists(ctx, p)
	if err == nil && exists {
		data, err = r.files.Get(ctx, p)
	}
	if err != nil {
		if !sserr.IsNotFound(err) {
			r.logger.WarnContext(ctx, "lifecycle: failed to restore agent state from file",
				"agent_id", agentID,
				"path", p,
				"error", err,
			)
		}
		return nil, ""
	}
	if !exists || len(data) == 0 {
		return nil, ""
	}
	return data, "file"
}

// ValidateAgentState reports whether data is a restorable agent document:
// a JSON object with non-null status, registered_at, and last_heartbeat,
// a known status, and both timestamps in RFC 3339 form. Violations are
// logged as warnings.
func (r *Registry) ValidateAgentState(ctx context.Context, data []byte) bool {
	if _, err := parseStateDocument(data); err != nil {
		r.logInvalidState(ctx, "", err)
		return false
	}
	return true
}

func (r *Registry) logInvalidState(ctx context.Context, agentID string, err error) {
	attrs := []any{"error", err}
	if agentID != "" {
		attrs = append(attrs, "agent_id", agentID)
	}
	if e, ok := sserr.AsError(err); ok {
		for k, v := range e.Details {
			attrs = append(attrs, k, v)
		}
	}
	r.logger.WarnContext(ctx, "lifecycle: invalid agent state", attrs...)
}

// parseStateDocument checks the shape of a persisted agent document and
// returns its top-level fields.
func parseStateDocument(data []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidationFormat,
			"lifecycle: agent state is not a JSON object")
	}
	if fields == nil {
		return nil, sserr.New(sserr.CodeValidationFormat, "lifecycle: agent state is null")
	}

	for _, name := range requiredStateFields {
		raw, ok := fields[name]
		if !ok || string(raw) == "null" {
			return nil, sserr.New(sserr.CodeValidationRequired,
				"lifecycle: agent state is missing a required field").
				WithDetail("missing_field", name)
		}
	}

	var status Status
	if err := json.Unmarshal(fields["status"], &status); err != nil || !status.Valid() {
		return nil, sserr.New(sserr.CodeValidationStatus, "lifecycle: agent state has an invalid status").
			WithDetail("status", string(fields["status"]))
	}

	for _, name := range []string{"registered_at", "last_heartbeat"} {
		var ts string
		if err := json.Unmarshal(fields[name], &ts); err != nil {
			return nil, sserr.New(sserr.CodeValidationFormat,
				"lifecycle: agent state timestamp is not a string").
				WithDetail("field", name)
		}
		if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, sserr.Wrap(err, sserr.CodeValidationFormat,
				"lifecycle: agent state has an invalid timestamp format").
				WithDetail("field", name)
		}
	}
	return fields, nil
}

// LoadAllStates restores every agent that has a JSON document under the
// configured state directory and returns how many were restored. A
// failure to restore one document is logged and does not stop the batch.
func (r *Registry) LoadAllStates(ctx context.Context) int {
	ctx, span := r.startSpan(ctx, "LoadAllStates", "")

	paths, err := r.files.List(ctx, r.cfg.StateDir)
	if err != nil {
		r.logger.ErrorContext(ctx, "lifecycle: failed to list agent states",
			"dir", r.cfg.StateDir,
			"error", err,
		)
		finishSpan(span, false, err)
		return 0
	}
	slices.Sort(paths)

	restored := 0
	for _, p := range paths {
		if !strings.HasSuffix(p, ".json") {
			continue
		}
		agentID := strings.TrimSuffix(path.Base(p), ".json")
		if agentID == "" {
			continue
		}
		if r.RestoreAgentState(ctx, agentID) {
			restored++
		} else {
			r.logger.WarnContext(ctx, "lifecycle: skipped unrestorable agent state",
				"agent_id", agentID,
				"path", p,
			)
		}
	}

	r.logger.InfoContext(ctx, "lifecycle: agent states loaded",
		"found", len(paths),
		"restored", restored,
	)
	finishSpan(span, true, nil)
	return restored
}

// ForgetCacheKeys removes auxiliary cache keys. It is the only cache
// delete path outside the registry's own records; failures are logged.
func (r *Registry) ForgetCacheKeys(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := r.cache.Forget(ctx, keys...); err != nil {
		r.logger.WarnContext(ctx, "lifecycle: failed to forget cache keys",
			"keys", keys,
			"error", err,
		)
	}
}
