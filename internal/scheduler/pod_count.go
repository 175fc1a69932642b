package scheduler

import (
	"context"
	"sync"
	"time"
)

// PodCounter resolves the number of running worker pods for a serviceID.
// Implementations talk to the container orchestrator (out of scope for the
// core, spec §1); PodCache wraps any PodCounter with a short TTL cache
// (spec §4.2 "Pod counts are cached with a short TTL").
type PodCounter interface {
	PodCount(ctx context.Context, serviceID string) (int, error)
}

// StaticPodCounter is a PodCounter backed by a fixed map, used by tests and
// by deployments that configure pod counts directly rather than querying an
// orchestrator.
type StaticPodCounter struct {
	Counts map[string]int
}

func (s StaticPodCounter) PodCount(_ context.Context, serviceID string) (int, error) {
	return s.Counts[serviceID], nil
}

type podCacheEntry struct {
	count     int
	fetchedAt time.Time
}

// PodCache memoizes a PodCounter's results for ttl.
type PodCache struct {
	inner PodCounter
	ttl   time.Duration

	mu    sync.Mutex
	cache map[string]podCacheEntry
}

func NewPodCache(inner PodCounter, ttl time.Duration) *PodCache {
	return &PodCache{inner: inner, ttl: ttl, cache: make(map[string]podCacheEntry)}
}

func (c *PodCache) PodCount(ctx context.Context, serviceID string) (int, error) {
	c.mu.Lock()
	if e, ok := c.cache[serviceID]; ok && time.Since(e.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return e.count, nil
	}
	c.mu.Unlock()

	n, err := c.inner.PodCount(ctx, serviceID)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.cache[serviceID] = podCacheEntry{count: n, fetchedAt: time.Now()}
	c.mu.Unlock()
	return n, nil
}
