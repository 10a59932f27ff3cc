// Package checksum keeps the state digests produced after each delivery and
// audits how clients request them.
//
// Checksums are the desync detector: every replica computes the digest of a
// scope after applying a transmission and compares it with the server's.
// Nothing in this package ever fails a request; races and mismatches are
// logged as DesyncWarning entries for operators.
package checksum

import (
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/plancast/internal/ir"
)

// DefaultCacheSize bounds the cache when no size is configured.
const DefaultCacheSize = 4096

type key struct {
	scope string
	id    uuid.UUID
}

// Cache holds the most recent checksums, evicting the oldest first.
// Thread-safety: safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	max     int
	entries map[key]ir.ChecksumRecord
	order   []key
}

// NewCache returns a cache holding at most max records.
func NewCache(max int) *Cache {
	if max <= 0 {
		max = DefaultCacheSize
	}
	return &Cache{
		max:     max,
		entries: make(map[key]ir.ChecksumRecord, max),
	}
}

// Put stores rec, replacing any record for the same scope and transmission.
func (c *Cache) Put(rec ir.ChecksumRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{scope: rec.Scope, id: rec.TransmissionID}
	if _, ok := c.entries[k]; !ok {
		c.order = append(c.order, k)
	}
	c.entries[k] = rec

	for len(c.order) > c.max {
		oldest := c.order[0]
		c.order[0] = key{}
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// Get returns the checksum of scope after transmission id.
func (c *Cache) Get(scope string, id uuid.UUID) (ir.ChecksumRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.entries[key{scope: scope, id: id}]
	return rec, ok
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
