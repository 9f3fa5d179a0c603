package filter

import (
	"strings"
	"sync"
	"time"
)

// RejoinCache remembers soft-denied handshakes so the second leg of a
// forced-rejoin sequence can be recognised. Keys are (lowercased username,
// source); entries are consumed exactly once.
type RejoinCache struct {
	validTime time.Duration
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time // key -> issued
}

// NewRejoinCache creates an empty cache.
func NewRejoinCache(validTime time.Duration) *RejoinCache {
	return &RejoinCache{
		validTime: validTime,
		now:       time.Now,
		entries:   make(map[string]time.Time),
	}
}

func rejoinKey(username, source string) string {
	return strings.ToLower(username) + "@" + source
}

// Issue records that a forced-rejoin soft denial was sent.
func (c *RejoinCache) Issue(username, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[rejoinKey(username, source)] = c.now()
}

// Consume removes the entry and returns true iff it exists and has not
// expired. A consumed entry never matches again.
func (c *RejoinCache) Consume(username, source string) bool {
	key := rejoinKey(username, source)

	c.mu.Lock()
	defer c.mu.Unlock()

	issued, ok := c.entries[key]
	if !ok {
		return false
	}
	delete(c.entries, key)
	return c.now().Sub(issued) <= c.validTime
}

// Sweep evicts expired entries. Called every 30s.
func (c *RejoinCache) Sweep() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, issued := range c.entries {
		if now.Sub(issued) > c.validTime {
			delete(c.entries, key)
		}
	}
}

// Len returns the number of outstanding entries.
func (c *RejoinCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
