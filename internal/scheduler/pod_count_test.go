package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPodCounter struct {
	calls atomic.Int64
	n     int
}

func (c *countingPodCounter) PodCount(_ context.Context, _ string) (int, error) {
	c.calls.Add(1)
	return c.n, nil
}

func TestPodCache_MemoizesWithinTTL(t *testing.T) {
	inner := &countingPodCounter{n: 7}
	cache := NewPodCache(inner, time.Minute)
	ctx := context.Background()

	n, err := cache.PodCount(ctx, "svc-a")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = cache.PodCount(ctx, "svc-a")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, int64(1), inner.calls.Load())
}

func TestPodCache_RefetchesAfterTTL(t *testing.T) {
	inner := &countingPodCounter{n: 3}
	cache := NewPodCache(inner, -time.Second)
	ctx := context.Background()

	_, err := cache.PodCount(ctx, "svc-b")
	require.NoError(t, err)
	_, err = cache.PodCount(ctx, "svc-b")
	require.NoError(t, err)

	assert.Equal(t, int64(2), inner.calls.Load())
}

func TestPodCache_CachesIndependentlyPerService(t *testing.T) {
	inner := &countingPodCounter{n: 1}
	cache := NewPodCache(inner, time.Minute)
	ctx := context.Background()

	_, err := cache.PodCount(ctx, "svc-a")
	require.NoError(t, err)
	_, err = cache.PodCount(ctx, "svc-b")
	require.NoError(t, err)

	assert.Equal(t, int64(2), inner.calls.Load())
}

func TestStaticPodCounter_ReturnsConfiguredCount(t *testing.T) {
	c := StaticPodCounter{Counts: map[string]int{"svc-a": 42}}
	n, err := c.PodCount(context.Background(), "svc-a")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	n, err = c.PodCount(context.Background(), "svc-unknown")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
