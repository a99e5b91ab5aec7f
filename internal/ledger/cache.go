package ledger

import (
	"context"
	"sync"
	"time"
)

// SummaryCache keeps one Summary per user until a mutation invalidates it or
// the TTL passes.
type SummaryCache struct {
	ledger *Ledger
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
	// gen guards against a slow load overwriting a newer invalidation.
	gen map[string]uint64
}

type cacheEntry struct {
	summary *Summary
	loaded  time.Time
}

// NewSummaryCache creates a cache over l. ttl <= 0 disables expiry.
func NewSummaryCache(l *Ledger, ttl time.Duration) *SummaryCache {
	return &SummaryCache{
		ledger:  l,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
		gen:     make(map[string]uint64),
	}
}

// Get returns the cached summary for userID, loading it when absent or stale.
func (c *SummaryCache) Get(ctx context.Context, userID string) (*Summary, error) {
	c.mu.Lock()
	e, ok := c.entries[userID]
	gen := c.gen[userID]
	c.mu.Unlock()

	if ok && (c.ttl <= 0 || c.now().Sub(e.loaded) < c.ttl) {
		return e.summary, nil
	}

	s, err := c.ledger.Summarize(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.gen[userID] == gen {
		c.entries[userID] = cacheEntry{summary: s, loaded: c.now()}
	}
	c.mu.Unlock()
	return s, nil
}

// Invalidate drops the cached summary for userID.
func (c *SummaryCache) Invalidate(ctx context.Context, userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.gen[userID]++
	c.mu.Unlock()
}
