package authz

import (
	"context"
	"sync"
	"time"
)

// DecisionCache memoizes resolution outcomes keyed by
// (subject, permission, scope). Implementations must treat the global scope
// and every concrete scope as distinct keys, and must bound entry lifetime
// so decisions derived from expiring grants cannot be served forever.
type DecisionCache interface {
	Get(ctx context.Context, subjectID, permissionSlug, scopeKey string) (allowed bool, ok bool)
	Set(ctx context.Context, subjectID, permissionSlug, scopeKey string, allowed bool)
	InvalidateSubject(ctx context.Context, subjectID string)
	InvalidateAll(ctx context.Context)
}

// DefaultMemoryTTL bounds MemoryCache entries when no TTL is configured,
// mirroring the DECISION_CACHE_TTL default of the shared cache.
const DefaultMemoryTTL = 5 * time.Minute

type memoEntry struct {
	allowed  bool
	deadline time.Time
}

// MemoryCache is a process-local decision cache guarded by a RWMutex. The
// engine is read-mostly; writes only happen on resolution misses and
// invalidation. Entries carry a deadline: grant expiry is not a mutation,
// so no invalidation fires for it, and a cached decision must lapse on its
// own before a vanished grant would otherwise keep answering.
type MemoryCache struct {
	mu        sync.RWMutex
	ttl       time.Duration
	now       func() time.Time
	decisions map[string]map[string]memoEntry // subject -> permission|scope
}

// MemoryCacheOption customizes a MemoryCache.
type MemoryCacheOption func(*MemoryCache)

// WithMemoryTTL overrides the entry lifetime.
func WithMemoryTTL(ttl time.Duration) MemoryCacheOption {
	return func(c *MemoryCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithMemoryClock overrides the time source, for tests.
func WithMemoryClock(now func() time.Time) MemoryCacheOption {
	return func(c *MemoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMemoryCache constructs an empty in-memory decision cache.
func NewMemoryCache(opts ...MemoryCacheOption) *MemoryCache {
	c := &MemoryCache{
		ttl:       DefaultMemoryTTL,
		now:       time.Now,
		decisions: make(map[string]map[string]memoEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func decisionKey(permissionSlug, scopeKey string) string {
	return permissionSlug + "|" + scopeKey
}

// Get returns a cached decision if present and still within its deadline.
// Lapsed entries read as misses and are overwritten by the next Set.
func (c *MemoryCache) Get(ctx context.Context, subjectID, permissionSlug, scopeKey string) (bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.decisions[subjectID][decisionKey(permissionSlug, scopeKey)]
	if !ok || c.now().After(entry.deadline) {
		return false, false
	}
	return entry.allowed, true
}

// Set stores a decision with a fresh deadline.
func (c *MemoryCache) Set(ctx context.Context, subjectID, permissionSlug, scopeKey string, allowed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := c.decisions[subjectID]
	if sub == nil {
		sub = make(map[string]memoEntry)
		c.decisions[subjectID] = sub
	}
	sub[decisionKey(permissionSlug, scopeKey)] = memoEntry{allowed: allowed, deadline: c.now().Add(c.ttl)}
}

// InvalidateSubject drops every cached decision for one subject.
func (c *MemoryCache) InvalidateSubject(ctx context.Context, subjectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.decisions, subjectID)
}

// InvalidateAll drops the whole cache.
func (c *MemoryCache) InvalidateAll(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decisions = make(map[string]map[string]memoEntry)
}

// Len reports the number of live cached decisions, for tests and metrics.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	n := 0
	for _, sub := range c.decisions {
		for _, entry := range sub {
			if !now.After(entry.deadline) {
				n++
			}
		}
	}
	return n
}
