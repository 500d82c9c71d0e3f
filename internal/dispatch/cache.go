package dispatch

import (
	"sync"
	"time"
)

// candidateCache is a short-TTL snapshot of claimable emails for one
// (identity, stage). It exists to skip pointless claim queries when a
// stage is known to be empty; it is never trusted for correctness. The
// store's atomic claim remains the only uniqueness primitive, so a
// stale cache costs at most one wasted query.
type candidateCache struct {
	mu        sync.Mutex
	ttl       time.Duration
	emails    []string
	refreshed time.Time
	// refreshEmpty records whether the last refresh itself returned no
	// candidates. A snapshot drained by pops does not set it, so a
	// consumed cache never masks contacts that became eligible since.
	refreshEmpty bool
}

func newCandidateCache(ttl time.Duration) *candidateCache {
	return &candidateCache{ttl: ttl}
}

// provenEmpty reports whether a recent refresh found no candidates.
// Only this combination short-circuits a claim attempt.
func (c *candidateCache) provenEmpty(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freshLocked(now) && c.refreshEmpty
}

// stale reports whether the snapshot needs a refresh.
func (c *candidateCache) stale(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.freshLocked(now)
}

func (c *candidateCache) freshLocked(now time.Time) bool {
	return !c.refreshed.IsZero() && now.Sub(c.refreshed) < c.ttl
}

// replace swaps in a new snapshot.
func (c *candidateCache) replace(emails []string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emails = emails
	c.refreshed = now
	c.refreshEmpty = len(emails) == 0
}

// pop removes and returns one candidate, if any.
func (c *candidateCache) pop() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.emails) == 0 {
		return "", false
	}
	e := c.emails[0]
	c.emails = c.emails[1:]
	return e, true
}
