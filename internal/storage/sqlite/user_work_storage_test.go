package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/geowork/internal/models"
)

func TestUserWorkStorage_IncrementAndDecrement(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	uw := NewUserWorkStorage(db, newTestLogger())
	ctx := context.Background()

	require.NoError(t, uw.IncrementReady(ctx, "job-1", "svc-a", ""))
	require.NoError(t, uw.IncrementReady(ctx, "job-1", "svc-a", ""))

	counts, err := uw.GetCounts(ctx, "job-1", "svc-a", "")
	require.NoError(t, err)
	assert.Equal(t, 2, counts.ReadyCount)

	require.NoError(t, uw.DecrementReady(ctx, "job-1", "svc-a", ""))
	counts, err = uw.GetCounts(ctx, "job-1", "svc-a", "")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.ReadyCount)
}

func TestUserWorkStorage_DecrementNeverGoesNegative(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	uw := NewUserWorkStorage(db, newTestLogger())
	ctx := context.Background()

	require.NoError(t, uw.IncrementReady(ctx, "job-1", "svc-a", ""))
	require.NoError(t, uw.DecrementReady(ctx, "job-1", "svc-a", ""))
	require.NoError(t, uw.DecrementReady(ctx, "job-1", "svc-a", ""))

	counts, err := uw.GetCounts(ctx, "job-1", "svc-a", "")
	require.NoError(t, err)
	assert.Equal(t, 0, counts.ReadyCount)
}

func TestUserWorkStorage_FlipReadyToRunning(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	jobs := NewJobStorage(db, newTestLogger())
	items := NewWorkItemStorage(db, newTestLogger())
	uw := NewUserWorkStorage(db, newTestLogger())
	ctx := context.Background()

	require.NoError(t, jobs.CreateJob(ctx, &models.Job{JobID: "job-2", Status: models.JobRunning}))
	for i := 0; i < 3; i++ {
		_, err := items.CreateWorkItem(ctx, &models.WorkItem{JobID: "job-2", ServiceID: "svc-a", WorkflowStepIndex: 1, Status: models.ItemReady})
		require.NoError(t, err)
	}
	require.NoError(t, uw.IncrementReady(ctx, "job-2", "svc-a", ""))
	require.NoError(t, uw.IncrementReady(ctx, "job-2", "svc-a", ""))
	require.NoError(t, uw.IncrementReady(ctx, "job-2", "svc-a", ""))

	ids, err := uw.FlipReadyToRunning(ctx, "job-2", "svc-a", 2)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	for _, id := range ids {
		item, err := items.GetWorkItem(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.ItemRunning, item.Status)
	}

	counts, err := uw.GetCounts(ctx, "job-2", "svc-a", "")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.ReadyCount)
	assert.Equal(t, 2, counts.RunningCount)
}

func TestUserWorkStorage_ZeroForJob(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	uw := NewUserWorkStorage(db, newTestLogger())
	ctx := context.Background()

	require.NoError(t, uw.IncrementReady(ctx, "job-3", "svc-a", ""))
	require.NoError(t, uw.ZeroForJob(ctx, "job-3"))

	counts, err := uw.GetCounts(ctx, "job-3", "svc-a", "")
	require.NoError(t, err)
	assert.Equal(t, 0, counts.ReadyCount)
	assert.Equal(t, 0, counts.RunningCount)
}
