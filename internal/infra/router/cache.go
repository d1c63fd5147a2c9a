package router

import (
	"sync"
	"time"
)

// subScores are the normalized [0,1] per-objective scores for one
// backend.
type subScores struct {
	latency  float64
	quality  float64
	cost     float64
	observed bool
}

// scoreCache holds performance-derived sub-scores per backend with a
// short TTL so the request hot path stays off the durable store.
// Entries expire by TTL only; new samples do not invalidate them, so
// scores can be stale up to the TTL.
type scoreCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	scores    subScores
	expiresAt time.Time
}

func newScoreCache(ttl time.Duration, now func() time.Time) *scoreCache {
	if now == nil {
		now = time.Now
	}
	return &scoreCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *scoreCache) get(backendID string) (subScores, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[backendID]
	if !ok || c.now().After(entry.expiresAt) {
		return subScores{}, false
	}
	return entry.scores, true
}

func (c *scoreCache) put(backendID string, scores subScores) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[backendID] = cacheEntry{
		scores:    scores,
		expiresAt: c.now().Add(c.ttl),
	}
}
