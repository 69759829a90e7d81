// Package cache implements the TTL-keyed response cache used in front of
// the remote store.
//
// Keys are deliberately unstructured strings (resourceType_identifier_subpath)
// so whole families of entries can be invalidated with a substring match.
// Expiry is enforced twice: lazily on Get, and by a single periodic sweeper
// goroutine shared by all entries.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// DefaultSweepInterval is how often the background sweeper scans for
// expired entries.
const DefaultSweepInterval = 30 * time.Second

// Config configures a Cache.
type Config struct {
	// SweepInterval is the period of the background expiry sweep.
	// Zero uses DefaultSweepInterval. Negative disables the sweeper
	// entirely (lazy expiry on Get still applies).
	SweepInterval time.Duration

	// Logger receives eviction diagnostics. Nil disables logging.
	Logger *zap.Logger
}

// Stats is a diagnostic snapshot of cache state.
type Stats struct {
	// Total is the number of entries currently stored, expired or not.
	Total int `json:"total"`

	// Valid is the number of entries whose TTL has not lapsed.
	Valid int `json:"valid"`

	// Expired is the number of entries whose TTL has lapsed but which the
	// sweeper has not evicted yet.
	Expired int `json:"expired"`

	// HitRate is hits / (hits + misses) since creation. Zero when no
	// lookups have happened.
	HitRate float64 `json:"hit_rate"`
}

type entry struct {
	data      any
	timestamp time.Time
	ttl       time.Duration
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.timestamp) > e.ttl
}

// Cache is a string-keyed store with per-entry TTLs.
//
// Safe for concurrent use. Construct with New and release with Close.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	hits    uint64
	misses  uint64

	logger   *zap.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a Cache and starts its background sweeper.
func New(cfg Config) *Cache {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Cache{
		entries: make(map[string]entry),
		logger:  logger,
		stop:    make(chan struct{}),
	}

	interval := cfg.SweepInterval
	if interval == 0 {
		interval = DefaultSweepInterval
	}
	if interval > 0 {
		go c.sweep(interval)
	}

	return c
}

// Set stores data under key with the given TTL, overwriting any existing
// entry unconditionally.
func (c *Cache) Set(key string, data any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{data: data, timestamp: time.Now(), ttl: ttl}
}

// Get returns the entry for key, or (nil, false) if absent or expired.
// An expired entry is evicted as a side effect. A hit has no other side
// effect: TTLs are not renewed on access.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if e.expired(time.Now()) {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}

	c.hits++
	return e.data, true
}

// Delete removes a single entry. No-op if absent.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// ClearPattern deletes every entry whose key contains substr.
// Returns the number of entries removed.
func (c *Cache) ClearPattern(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.Contains(key, substr) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("cache pattern invalidation",
			zap.String("pattern", substr),
			zap.Int("removed", removed))
	}
	return removed
}

// ClearGlob deletes every entry whose key matches the doublestar glob.
// Returns the number of entries removed. Invalid patterns remove nothing.
func (c *Cache) ClearGlob(pattern string) int {
	if !doublestar.ValidatePattern(pattern) {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if ok, _ := doublestar.Match(pattern, key); ok {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Clear removes everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Stats returns a diagnostic snapshot.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	s := Stats{Total: len(c.entries)}
	for _, e := range c.entries {
		if e.expired(now) {
			s.Expired++
		} else {
			s.Valid++
		}
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// Close stops the background sweeper. The cache remains usable; only lazy
// expiry applies afterwards.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *Cache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("cache sweep", zap.Int("evicted", removed))
	}
}
