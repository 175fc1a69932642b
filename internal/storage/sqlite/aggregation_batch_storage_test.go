package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregationBatchStorage_AppendAndSeal(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	batches := NewAggregationBatchStorage(db, newTestLogger())
	ctx := context.Background()

	b, err := batches.AppendInput(ctx, "job-1", 2, "stac://a", 100)
	require.NoError(t, err)
	assert.Equal(t, 1, b.ItemCount)
	assert.Equal(t, int64(100), b.TotalBytes)

	b, err = batches.AppendInput(ctx, "job-1", 2, "stac://b", 50)
	require.NoError(t, err)
	assert.Equal(t, 2, b.ItemCount)
	assert.Equal(t, int64(150), b.TotalBytes)
	assert.Equal(t, []string{"stac://a", "stac://b"}, b.Inputs)

	sealed, err := batches.SealBatch(ctx, "job-1", 2)
	require.NoError(t, err)
	require.NotNil(t, sealed)
	assert.Equal(t, 2, sealed.ItemCount)

	empty, err := batches.GetOpenBatch(ctx, "job-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.ItemCount)
}

func TestAggregationBatchStorage_SealEmptyReturnsNil(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	batches := NewAggregationBatchStorage(db, newTestLogger())
	sealed, err := batches.SealBatch(context.Background(), "job-2", 1)
	require.NoError(t, err)
	assert.Nil(t, sealed)
}
