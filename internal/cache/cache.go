// Package cache implements the versioned, TTL-classified resource cache
// backing the boot sequence.
//
// Entries never expire by age alone: TTL elapse only flips an entry from
// fresh to stale (to be served immediately and refreshed in the
// background). Only a version mismatch or absence is a miss — this
// guarantees a new deployment never serves structurally incompatible
// cached payloads, while old-but-compatible data stays usable.
//
// The cache is best-effort. Every storage error is swallowed and logged
// at debug level: quota exhaustion or a broken backing store degrades to
// cache misses, never to a boot failure.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/djamelji/leezr-sub000/internal/telemetry"
)

// keyPrefix namespaces cache keys away from unrelated data sharing the
// same storage backend.
const keyPrefix = "leezr:boot:"

// Entry is the stored form of one cached resource payload.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Version   string          `json:"version"`
}

// Storage persists raw entry bytes. Implementations must be safe for
// concurrent use. Errors are advisory: the cache treats every failure as
// a miss or a dropped write.
type Storage interface {
	Load(key string) ([]byte, bool, error)
	Store(key string, value []byte) error
	Delete(key string) error
	Clear() error
	Keys() ([]string, error)
}

// Cache classifies reads as fresh, stale, or miss against a build version.
type Cache struct {
	storage Storage
	version string
	logger  *slog.Logger

	hits   metric.Int64Counter
	stales metric.Int64Counter
	misses metric.Int64Counter
}

// New creates a cache stamping every entry with version.
func New(storage Storage, version string, logger *slog.Logger) *Cache {
	c := &Cache{storage: storage, version: version, logger: logger}
	c.registerMetrics()
	return c
}

func (c *Cache) registerMetrics() {
	meter := telemetry.Meter("leezr/cache")

	register := func(name, desc string) metric.Int64Counter {
		counter, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			c.logger.Warn("cache: register counter", "name", name, "error", err)
			return nil
		}
		return counter
	}
	c.hits = register("leezr.cache.hits", "Cache reads served fresh")
	c.stales = register("leezr.cache.stale_hits", "Cache reads served stale")
	c.misses = register("leezr.cache.misses", "Cache reads that missed")
}

func (c *Cache) count(counter metric.Int64Counter) {
	if counter != nil {
		counter.Add(context.Background(), 1)
	}
}

// Get returns the cached payload for key. stale reports whether the entry
// has outlived ttl; ok is false on miss (absence, corruption, or version
// mismatch — mismatched entries are dropped on sight).
func (c *Cache) Get(key string, ttl time.Duration) (data json.RawMessage, stale bool, ok bool) {
	raw, found, err := c.storage.Load(keyPrefix + key)
	if err != nil {
		c.logger.Debug("cache: load failed", "key", key, "error", err)
		c.count(c.misses)
		return nil, false, false
	}
	if !found {
		c.count(c.misses)
		return nil, false, false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Debug("cache: corrupt entry dropped", "key", key, "error", err)
		c.Remove(key)
		c.count(c.misses)
		return nil, false, false
	}
	if entry.Version != c.version {
		c.Remove(key)
		c.count(c.misses)
		return nil, false, false
	}

	stale = ttl > 0 && time.Since(entry.Timestamp) > ttl
	if stale {
		c.count(c.stales)
	} else {
		c.count(c.hits)
	}
	return entry.Data, stale, true
}

// Set stores a payload stamped with the current version and timestamp.
func (c *Cache) Set(key string, data json.RawMessage) {
	entry := Entry{
		Data:      data,
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		c.logger.Debug("cache: marshal failed", "key", key, "error", err)
		return
	}
	if err := c.storage.Store(keyPrefix+key, raw); err != nil {
		c.logger.Debug("cache: store failed", "key", key, "error", err)
	}
}

// Remove drops one entry.
func (c *Cache) Remove(key string) {
	if err := c.storage.Delete(keyPrefix + key); err != nil {
		c.logger.Debug("cache: delete failed", "key", key, "error", err)
	}
}

// Clear drops every entry in the namespace.
func (c *Cache) Clear() {
	if err := c.storage.Clear(); err != nil {
		c.logger.Debug("cache: clear failed", "error", err)
	}
}

// Entries returns all decodable current-version entries for introspection,
// keyed by resource key (namespace prefix stripped).
func (c *Cache) Entries() map[string]Entry {
	keys, err := c.storage.Keys()
	if err != nil {
		c.logger.Debug("cache: list keys failed", "error", err)
		return nil
	}

	out := make(map[string]Entry)
	for _, k := range keys {
		if len(k) < len(keyPrefix) || k[:len(keyPrefix)] != keyPrefix {
			continue
		}
		raw, found, err := c.storage.Load(k)
		if err != nil || !found {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		if entry.Version != c.version {
			continue
		}
		out[k[len(keyPrefix):]] = entry
	}
	return out
}
