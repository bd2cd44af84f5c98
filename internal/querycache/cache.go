// Package querycache provides an in-memory, TTL-based result cache for read
// statements executed against the SQLite database. Entries are keyed by a
// deterministic hash of the normalized statement text plus its serialized
// parameters, and carry side-channel tags (table names) so that writers can
// invalidate every cached read that touches a mutated table.
//
// Design constraints:
//   - Capacity-bounded: when full, the oldest-inserted entry is evicted
//     (insertion order, not LRU — a deliberate simplicity trade-off).
//   - Lazy expiry: an entry past its TTL is reported as absent but is not
//     deleted eagerly; it is reclaimed under capacity pressure or Clear().
//   - Never fails: every method mutates internal state only and returns
//     normally regardless of input.
//
// The cache is safe for concurrent use by multiple goroutines.
package querycache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultCapacity bounds the number of live entries when Config.Capacity is
// not set.
const DefaultCapacity = 1000

// DefaultTTL applies when Set is called with a non-positive TTL.
const DefaultTTL = 5 * time.Minute

// Config controls cache sizing.
type Config struct {
	Capacity   int           // maximum live entries (default DefaultCapacity)
	DefaultTTL time.Duration // TTL applied when Set receives ttl <= 0
}

// Stats is a point-in-time snapshot of cache occupancy and effectiveness.
type Stats struct {
	Size      int     `json:"size"`
	Capacity  int     `json:"capacity"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"` // hits / (hits+misses), 0 when no lookups
}

type entry struct {
	value     any
	tags      []string
	createdAt time.Time
	ttl       time.Duration
}

// Cache is a bounded TTL cache with tag-based invalidation.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	order      []string // insertion order of keys; may contain stale keys
	capacity   int
	defaultTTL time.Duration

	hits      uint64
	misses    uint64
	evictions uint64

	// now is a seam so tests can control expiry deterministically.
	now func() time.Time
}

// New builds a Cache, applying defaults for unset config fields.
func New(cfg Config) *Cache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	return &Cache{
		entries:    make(map[string]*entry, cfg.Capacity),
		capacity:   cfg.Capacity,
		defaultTTL: cfg.DefaultTTL,
		now:        time.Now,
	}
}

// Key derives the deterministic cache key for a statement and its parameters.
// The statement is normalized (whitespace collapsed, lowercased) so that
// formatting differences do not fragment the cache; parameters are serialized
// with encoding/json. The result is a hex-encoded SHA-256 digest.
func Key(statement string, params []any) string {
	h := sha256.New()
	h.Write([]byte(normalize(statement)))
	if len(params) > 0 {
		if b, err := json.Marshal(params); err == nil {
			h.Write(b)
		} else {
			// Unserializable params still need a stable key.
			fmt.Fprintf(h, "%v", params)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// normalize collapses runs of whitespace to single spaces and lowercases the
// statement so equivalent SQL hashes identically.
func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Get returns the cached value for key, or (nil, false) when the key is
// absent or the entry's TTL has elapsed. Expired entries are not removed
// here (lazy expiry).
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.expired(e) {
		c.misses++
		return nil, false
	}
	c.hits++
	return e.value, true
}

// Set stores value under key with the given TTL (DefaultTTL when ttl <= 0)
// and associates the entry with the given tags. Storing an existing key
// replaces its value and resets its creation time without changing its
// position in the eviction order.
func (c *Cache) Set(key string, value any, ttl time.Duration, tags ...string) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.tags = tags
		e.createdAt = c.now()
		e.ttl = ttl
		return
	}

	c.entries[key] = &entry{
		value:     value,
		tags:      tags,
		createdAt: c.now(),
		ttl:       ttl,
	}
	c.order = append(c.order, key)
	c.evictOverCapacity()
}

// Invalidate removes every entry whose key or any of whose tags contains
// pattern as a substring, and returns the number of entries removed.
// An empty pattern removes nothing (use Clear for that).
func (c *Cache) Invalidate(pattern string) int {
	if pattern == "" {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if c.matches(key, e, pattern) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 && len(c.order) > 2*len(c.entries) {
		c.compactOrder()
	}
	return removed
}

// Clear removes all entries and resets the eviction order. Hit/miss counters
// are preserved; they describe the lifetime of the cache, not its contents.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry, c.capacity)
	c.order = c.order[:0]
}

// Stats returns a snapshot of occupancy and hit-rate counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:      len(c.entries),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// TagBreakdown returns the number of live entries per tag. Used by the
// analytics layer for its cache category breakdown.
func (c *Cache) TagBreakdown() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int)
	for _, e := range c.entries {
		for _, t := range e.tags {
			out[t]++
		}
	}
	return out
}

func (c *Cache) expired(e *entry) bool {
	return c.now().Sub(e.createdAt) > e.ttl
}

func (c *Cache) matches(key string, e *entry, pattern string) bool {
	if strings.Contains(key, pattern) {
		return true
	}
	for _, t := range e.tags {
		if strings.Contains(t, pattern) {
			return true
		}
	}
	return false
}

// compactOrder rewrites the eviction-order slice keeping only keys with a
// live entry, so the slice stays proportional to the live set no matter how
// many entries Invalidate removes. Caller must hold c.mu.
func (c *Cache) compactOrder() {
	live := c.order[:0]
	for _, key := range c.order {
		if _, ok := c.entries[key]; ok {
			live = append(live, key)
		}
	}
	c.order = live
}

// evictOverCapacity removes oldest-inserted entries until the live set fits
// the configured capacity. Keys left stale in the order slice by Invalidate
// are skipped and dropped. Caller must hold c.mu.
func (c *Cache) evictOverCapacity() {
	for len(c.entries) > c.capacity && len(c.order) > 0 {
		key := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.entries[key]; ok {
			delete(c.entries, key)
			c.evictions++
		}
	}
}
