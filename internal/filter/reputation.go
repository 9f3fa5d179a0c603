package filter

import (
	"log/slog"
	"sync"
	"time"
)

type reputationEntry struct {
	failures         int
	lastFailure      time.Time
	blacklistedUntil time.Time
}

// ReputationCache tracks verification failures per source and blacklists
// repeat offenders. In-memory only; rebuilt from zero on restart by design.
type ReputationCache struct {
	threshold     int
	blacklistTime time.Duration
	rememberTime  time.Duration
	now           func() time.Time

	mu      sync.Mutex
	entries map[string]*reputationEntry
}

// NewReputationCache creates an empty cache.
func NewReputationCache(threshold int, blacklistTime, rememberTime time.Duration) *ReputationCache {
	return &ReputationCache{
		threshold:     threshold,
		blacklistTime: blacklistTime,
		rememberTime:  rememberTime,
		now:           time.Now,
		entries:       make(map[string]*reputationEntry),
	}
}

// RecordFailure increments the source's failure count and blacklists it once
// the count reaches the threshold.
func (c *ReputationCache) RecordFailure(source string) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[source]
	if !ok {
		e = &reputationEntry{}
		c.entries[source] = e
	}
	e.failures++
	e.lastFailure = now

	if e.failures >= c.threshold && e.blacklistedUntil.Before(now) {
		e.blacklistedUntil = now.Add(c.blacklistTime)
		slog.Warn("source blacklisted",
			"source", source,
			"failures", e.failures,
			"until", e.blacklistedUntil.Format(time.RFC3339))
	}
}

// IsBlacklisted reports whether the source's blacklist deadline is still in
// the future.
func (c *ReputationCache) IsBlacklisted(source string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[source]
	return ok && e.blacklistedUntil.After(c.now())
}

// Failures returns the source's current failure count.
func (c *ReputationCache) Failures(source string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[source]; ok {
		return e.failures
	}
	return 0
}

// Sweep evicts entries whose blacklist deadline has passed and whose last
// failure has aged past rememberTime. Called every 30s.
func (c *ReputationCache) Sweep() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for src, e := range c.entries {
		if e.blacklistedUntil.Before(now) && now.Sub(e.lastFailure) > c.rememberTime {
			delete(c.entries, src)
		}
	}
}

// Len returns the number of tracked sources.
func (c *ReputationCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
