package api

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/geowork/internal/interfaces"
)

// operationCacheTTL bounds staleness for WorkflowStep.operation reads; the
// field is immutable once written so a short TTL is purely a read-reduction
// optimization, not a correctness concern (spec §5 "Operation cache").
const operationCacheTTL = 5 * time.Minute

type operationCacheKey struct {
	jobID     string
	stepIndex int
}

type operationCacheEntry struct {
	operation string
	fetchedAt time.Time
}

// operationCache memoizes WorkflowStep.operation lookups keyed by
// (jobID, stepIndex) to avoid a database read on every work-item fetch
// (spec §4.5 "fetched from a small in-process cache").
type operationCache struct {
	steps interfaces.WorkflowStepStorage

	mu    sync.Mutex
	cache map[operationCacheKey]operationCacheEntry
}

func newOperationCache(steps interfaces.WorkflowStepStorage) *operationCache {
	return &operationCache{steps: steps, cache: make(map[operationCacheKey]operationCacheEntry)}
}

func (c *operationCache) Get(ctx context.Context, jobID string, stepIndex int) (string, error) {
	key := operationCacheKey{jobID: jobID, stepIndex: stepIndex}

	c.mu.Lock()
	if e, ok := c.cache[key]; ok && time.Since(e.fetchedAt) < operationCacheTTL {
		c.mu.Unlock()
		return e.operation, nil
	}
	c.mu.Unlock()

	step, err := c.steps.GetStep(ctx, jobID, stepIndex)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.cache[key] = operationCacheEntry{operation: step.Operation, fetchedAt: time.Now()}
	c.mu.Unlock()
	return step.Operation, nil
}
