// Package cache provides a best-effort, per-user response cache for upstream
// catalog API calls.
//
// Keys are derived from the endpoint plus its parameters with keys sorted
// lexicographically, so parameter order never fragments the cache. Every key
// is scoped to a user, and a user's entries can be cleared in bulk at logout
// so stale data never leaks to the next session on a shared browser.
//
// The cache is strictly best-effort: backend unavailability degrades to
// "always miss" and failed writes are dropped, never surfaced to callers.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tunegate/tunegate/storage"
)

// ResourceType selects the TTL for a cached payload.
type ResourceType string

const (
	ResourceProfile   ResourceType = "profile"
	ResourcePlaylists ResourceType = "playlists"
	ResourcePlaylist  ResourceType = "playlist"
	ResourceTracks    ResourceType = "tracks"
	ResourceSearch    ResourceType = "search"
)

// Default TTLs per resource type. Profiles change rarely; search results go
// stale fast.
var defaultTTLs = map[ResourceType]time.Duration{
	ResourceProfile:   30 * time.Minute,
	ResourcePlaylists: 5 * time.Minute,
	ResourcePlaylist:  5 * time.Minute,
	ResourceTracks:    5 * time.Minute,
	ResourceSearch:    2 * time.Minute,
}

// DefaultTTL applies to resource types absent from the TTL table
const DefaultTTL = time.Minute

// Config holds cache configuration.
type Config struct {
	// TTLs overrides per-resource-type lifetimes; types not listed use
	// the package defaults, unknown types fall back to DefaultTTL
	TTLs map[ResourceType]time.Duration

	// DefaultTTL overrides the fallback lifetime
	DefaultTTL time.Duration

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Cache is a user-scoped response cache over a CacheStore backend.
type Cache struct {
	store      storage.CacheStore
	ttls       map[ResourceType]time.Duration
	defaultTTL time.Duration
	logger     *slog.Logger
}

// New creates a cache from config.
func New(store storage.CacheStore, cfg Config) *Cache {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	defaultTTL := cfg.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}

	ttls := make(map[ResourceType]time.Duration, len(defaultTTLs))
	for rt, ttl := range defaultTTLs {
		ttls[rt] = ttl
	}
	for rt, ttl := range cfg.TTLs {
		if ttl > 0 {
			ttls[rt] = ttl
		}
	}

	return &Cache{
		store:      store,
		ttls:       ttls,
		defaultTTL: defaultTTL,
		logger:     logger,
	}
}

// SetLogger sets a custom logger
func (c *Cache) SetLogger(logger *slog.Logger) {
	c.logger = logger
}

// TTLFor returns the lifetime for a resource type
func (c *Cache) TTLFor(resource ResourceType) time.Duration {
	if ttl, ok := c.ttls[resource]; ok {
		return ttl
	}
	return c.defaultTTL
}

// Key derives the canonical cache key for (userID, endpoint, params).
// Parameters are sorted by name before hashing, so equal parameter sets in
// any order produce the same key. Names and values are query-escaped before
// joining: delimiter characters inside a user-controlled value must not
// collide with a structurally different parameter set.
func (c *Cache) Key(userID, endpoint string, params map[string]string) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(endpoint)
	for _, name := range names {
		b.WriteByte('&')
		b.WriteString(url.QueryEscape(name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[name]))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return userPrefix(userID) + hex.EncodeToString(sum[:])
}

// Get returns the cached payload and true on a hit. Misses and backend
// failures both report a clean miss.
func (c *Cache) Get(ctx context.Context, userID, endpoint string, params map[string]string) ([]byte, bool) {
	value, err := c.store.CacheGet(ctx, c.Key(userID, endpoint, params))
	if err != nil {
		if !errors.Is(err, storage.ErrCacheMiss) {
			c.logger.Warn("Cache read failed, treating as miss",
				"endpoint", endpoint,
				"error", err)
		}
		return nil, false
	}
	return value, true
}

// Set stores a payload with the TTL for its resource type. Failures are
// logged and dropped.
func (c *Cache) Set(ctx context.Context, userID, endpoint string, params map[string]string, value []byte, resource ResourceType) {
	ttl := c.TTLFor(resource)

	if err := c.store.CacheSet(ctx, c.Key(userID, endpoint, params), value, ttl); err != nil {
		c.logger.Warn("Cache write failed, dropping entry",
			"endpoint", endpoint,
			"resource", string(resource),
			"error", err)
	}
}

// Exists reports whether a fresh entry is present
func (c *Cache) Exists(ctx context.Context, userID, endpoint string, params map[string]string) bool {
	_, ok := c.Get(ctx, userID, endpoint, params)
	return ok
}

// Delete removes a single entry. Best-effort.
func (c *Cache) Delete(ctx context.Context, userID, endpoint string, params map[string]string) {
	if err := c.store.CacheDelete(ctx, c.Key(userID, endpoint, params)); err != nil {
		c.logger.Warn("Cache delete failed", "endpoint", endpoint, "error", err)
	}
}

// ClearUser bulk-removes every entry for a user, returning the count removed.
// Used at logout. Best-effort: a backend failure clears what it can.
func (c *Cache) ClearUser(ctx context.Context, userID string) int {
	removed, err := c.store.CacheDeleteByPrefix(ctx, userPrefix(userID))
	if err != nil {
		c.logger.Warn("Cache clear failed", "user_id", userID, "error", err)
	}
	return removed
}

// userPrefix scopes all of a user's entries under one deletable prefix
func userPrefix(userID string) string {
	return "cache:" + userID + ":"
}
