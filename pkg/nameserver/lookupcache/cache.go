// Package lookupcache holds the name server's file-to-storage-server cache:
// a fixed-size direct-mapped table consulted before the directory on the
// redirect path. A hit saves the replica scan; a stale or evicted entry only
// costs the lookup the directory would have done anyway.
//
// The table is deliberately lossy. Each name hashes to exactly one slot and
// an insert overwrites whatever lives there, so no eviction bookkeeping is
// needed. Entries expire a fixed interval after their last use; a hit
// refreshes the clock.
package lookupcache

import (
	"sync"
	"time"

	"github.com/docfs/docfs/pkg/metrics"
)

const (
	// DefaultSlots is the table size. Collisions overwrite, so this trades
	// memory against hit rate, not correctness.
	DefaultSlots = 1024

	// DefaultTTL is how long an untouched entry stays valid.
	DefaultTTL = 5 * time.Minute
)

// Config carries the cache's construction parameters. Zero values mean the
// defaults.
type Config struct {
	Slots   int
	TTL     time.Duration
	Metrics *metrics.NameServerMetrics
}

type slot struct {
	name       string
	ssID       int
	lastAccess time.Time
	valid      bool
}

// Cache is a direct-mapped name-to-server table, safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	slots   []slot
	ttl     time.Duration
	metrics *metrics.NameServerMetrics

	// now is swapped out by expiry tests.
	now func() time.Time
}

// New returns an empty cache.
func New(cfg Config) *Cache {
	n := cfg.Slots
	if n <= 0 {
		n = DefaultSlots
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		slots:   make([]slot, n),
		ttl:     ttl,
		metrics: cfg.Metrics,
		now:     time.Now,
	}
}

// Get returns the storage server last recorded for name. A hit refreshes the
// entry's expiry. Callers must still check the server against the registry;
// the cache does not know which servers are alive.
func (c *Cache) Get(name string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &c.slots[c.index(name)]
	now := c.now()
	if s.valid && s.name == name && now.Sub(s.lastAccess) < c.ttl {
		s.lastAccess = now
		c.metrics.RecordCacheLookup(true)
		return s.ssID, true
	}
	c.metrics.RecordCacheLookup(false)
	return 0, false
}

// Put records that name was last served from ssID, displacing any entry
// sharing the slot.
func (c *Cache) Put(name string, ssID int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.slots[c.index(name)] = slot{
		name:       name,
		ssID:       ssID,
		lastAccess: c.now(),
		valid:      true,
	}
}

// Invalidate drops the entry for name, if it is the one occupying its slot.
// Called when a file is deleted, moved, or its cached server goes dark.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &c.slots[c.index(name)]
	if s.valid && s.name == name {
		s.valid = false
	}
}

// index hashes with the classic 31 multiplier in 32-bit arithmetic.
func (c *Cache) index(name string) int {
	var h uint32
	for i := 0; i < len(name); i++ {
		h = h*31 + uint32(name[i])
	}
	return int(h % uint32(len(c.slots)))
}
