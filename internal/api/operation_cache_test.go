package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/geowork/internal/models"
	"github.com/ternarybob/geowork/internal/storage/sqlite"
)

func TestOperationCache_CachesAcrossCalls(t *testing.T) {
	db, err := sqlite.Open(":memory:", newTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	steps := sqlite.NewWorkflowStepStorage(db, newTestLogger())
	ctx := context.Background()
	require.NoError(t, steps.CreateStep(ctx, models.WorkflowStep{
		JobID: "job-1", StepIndex: 1, ServiceID: "svc-a", Operation: `{"op":"query-cmr"}`,
	}))

	cache := newOperationCache(steps)
	op, err := cache.Get(ctx, "job-1", 1)
	require.NoError(t, err)
	assert.Equal(t, `{"op":"query-cmr"}`, op)

	op, err = cache.Get(ctx, "job-1", 1)
	require.NoError(t, err)
	assert.Equal(t, `{"op":"query-cmr"}`, op)
}

func TestOperationCache_PropagatesNotFound(t *testing.T) {
	db, err := sqlite.Open(":memory:", newTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	steps := sqlite.NewWorkflowStepStorage(db, newTestLogger())
	cache := newOperationCache(steps)

	_, err = cache.Get(context.Background(), "missing", 1)
	assert.ErrorIs(t, err, sqlite.ErrStepNotFound)
}
