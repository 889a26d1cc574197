// Package memory provides process-local implementations of the lifecycle
// Cache and FileStore. They back single-process deployments, the CLI when
// no external backend is configured, and tests in other packages.
//
// Both stores copy values on the way in and out, so callers may reuse
// their buffers.
package memory

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	sserr "github.com/StricklySoft/agent-lifecycle/pkg/errors"
)

type entry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

// Cache is a map with per-key expiry. Expired keys are dropped lazily on
// access. It is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// CacheOption configures a [Cache].
type CacheOption func(*Cache)

// WithNow replaces the time source used for expiry.
func WithNow(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache returns an empty cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{entries: make(map[string]entry), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key, or a [sserr.CodeNotFoundKey] error when
// the key is missing or expired.
func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, sserr.KeyNotFound(key)
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil, sserr.KeyNotFound(key)
	}
	return clone(e.value), nil
}

// Put stores value under key. A ttl <= 0 keeps the entry until it is
// forgotten.
func (c *Cache) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := entry{value: clone(value)}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

// Forget removes keys. Missing keys are ignored.
func (c *Cache) Forget(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

// Len returns the number of unexpired entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for _, e := range c.entries {
		if e.expires.IsZero() || now.Before(e.expires) {
			n++
		}
	}
	return n
}

// FileStore keeps documents in a map keyed by cleaned slash paths. It is
// safe for concurrent use.
type FileStore struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewFileStore returns an empty store.
func NewFileStore() *FileStore {
	return &FileStore{files: make(map[string][]byte)}
}

// Exists reports whether p holds a document.
func (s *FileStore) Exists(_ context.Context, p string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.files[path.Clean(p)]
	return ok, nil
}

// Get returns the document at p.
func (s *FileStore) Get(_ context.Context, p string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.files[path.Clean(p)]
	if !ok {
		return nil, sserr.KeyNotFound(p)
	}
	return clone(data), nil
}

// Put writes data to p, replacing any previous document.
func (s *FileStore) Put(_ context.Context, p string, data []byte) error {
	if strings.TrimSpace(p) == "" {
		return sserr.New(sserr.CodeValidationRequired, "memory: path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path.Clean(p)] = clone(data)
	return nil
}

// Delete removes p. A missing document is not an error.
func (s *FileStore) Delete(_ context.Context, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, path.Clean(p))
	return nil
}

// List returns the sorted paths directly under prefix.
func (s *FileStore) List(_ context.Context, prefix string) ([]string, error) {
	dir := path.Clean(prefix)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for p := range s.files {
		if path.Dir(p) == dir {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append(make([]byte, 0, len(b)), b...)
}
