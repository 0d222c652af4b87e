// Package feedcache memoizes resolved calendar feeds per URL for a short
// TTL so repeated page loads reuse one fetch.
package feedcache

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"stratusdash/internal/ics"
	appLog "stratusdash/internal/log"
	"stratusdash/internal/metrics"
)

// DefaultTTL is how long a resolved feed is reused.
const DefaultTTL = 2 * time.Minute

// Resolver produces the resolved window for a feed URL. It must not fail;
// errors are carried inside the Result.
type Resolver interface {
	Resolve(ctx context.Context, url string) ics.Result
}

type entry struct {
	res      ics.Result
	storedAt time.Time
}

// Cache wraps a Resolver with a per-URL TTL memo.
type Cache struct {
	resolver Resolver
	ttl      time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
	// gen is bumped per URL on invalidation so that a resolution started
	// before the invalidation does not store its stale result.
	gen map[string]uint64

	group singleflight.Group
}

// New creates a Cache. A non-positive ttl selects DefaultTTL.
func New(resolver Resolver, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		resolver: resolver,
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[string]entry),
		gen:      make(map[string]uint64),
	}
}

// Get returns the cached result for url, resolving it on a miss or after
// the TTL. Concurrent misses for the same URL share one resolution.
func (c *Cache) Get(ctx context.Context, url string) ics.Result {
	url = strings.TrimSpace(url)
	if url == "" {
		// Nothing configured: no I/O and nothing worth caching.
		return c.resolver.Resolve(ctx, url)
	}

	if res, ok := c.lookup(url); ok {
		metrics.CacheHit()
		return res
	}
	metrics.CacheMiss()

	c.mu.RLock()
	startGen := c.gen[url]
	c.mu.RUnlock()

	// The shared resolution outlives any single caller's cancellation.
	detached := context.WithoutCancel(ctx)
	v, _, _ := c.group.Do(url, func() (any, error) {
		return c.fill(detached, url, startGen), nil
	})
	return v.(ics.Result)
}

// fill resolves url and stores the result, unless a flight that finished
// after our lookup already stored one.
func (c *Cache) fill(ctx context.Context, url string, startGen uint64) ics.Result {
	if res, ok := c.lookup(url); ok {
		return res
	}
	res := c.resolver.Resolve(ctx, url)
	c.store(url, res, startGen)
	return res
}

// Invalidate drops the cached result for url so the next Get re-resolves.
func (c *Cache) Invalidate(url string) {
	url = strings.TrimSpace(url)
	if url == "" {
		return
	}
	c.mu.Lock()
	delete(c.entries, url)
	c.gen[url]++
	c.mu.Unlock()
	c.group.Forget(url)
	appLog.Debug("calendar cache invalidated", "url", ics.RedactURL(url))
}

// InvalidateAll empties the cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	for url := range c.entries {
		c.gen[url]++
		c.group.Forget(url)
	}
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Refresh forces a new resolution of url and returns it.
func (c *Cache) Refresh(ctx context.Context, url string) ics.Result {
	c.Invalidate(url)
	return c.Get(ctx, url)
}

// Len reports the number of cached URLs.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) lookup(url string) (ics.Result, bool) {
	c.mu.RLock()
	e, ok := c.entries[url]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.storedAt) >= c.ttl {
		return ics.Result{}, false
	}
	return e.res, true
}

func (c *Cache) store(url string, res ics.Result, startGen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen[url] != startGen {
		return
	}
	c.entries[url] = entry{res: res, storedAt: c.now()}
}
