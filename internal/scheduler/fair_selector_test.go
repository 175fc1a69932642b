package scheduler

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/geowork/internal/models"
	"github.com/ternarybob/geowork/internal/storage/sqlite"
)

func newTestLogger() arbor.ILogger {
	return arbor.NewLogger()
}

func setupFairSelectorDeps(t *testing.T) (*sqlite.DB, func()) {
	t.Helper()
	db, err := sqlite.Open(":memory:", newTestLogger())
	require.NoError(t, err)
	return db, func() { db.Close() }
}

func seedJobWithReadyItems(t *testing.T, db *sqlite.DB, jobID, serviceID string, n int) {
	t.Helper()
	ctx := context.Background()
	jobs := sqlite.NewJobStorage(db, newTestLogger())
	items := sqlite.NewWorkItemStorage(db, newTestLogger())
	uw := sqlite.NewUserWorkStorage(db, newTestLogger())

	require.NoError(t, jobs.CreateJob(ctx, &models.Job{JobID: jobID, Status: models.JobRunning}))
	for i := 0; i < n; i++ {
		_, err := items.CreateWorkItem(ctx, &models.WorkItem{
			JobID: jobID, ServiceID: serviceID, WorkflowStepIndex: 1, Status: models.ItemReady,
		})
		require.NoError(t, err)
		require.NoError(t, uw.IncrementReady(ctx, jobID, serviceID, ""))
	}
}

func TestFairSelector_Select_SplitsAcrossJobs(t *testing.T) {
	db, cleanup := setupFairSelectorDeps(t)
	defer cleanup()

	seedJobWithReadyItems(t, db, "job-a", "svc-1", 4)
	seedJobWithReadyItems(t, db, "job-b", "svc-1", 4)

	uw := sqlite.NewUserWorkStorage(db, newTestLogger())
	sel := NewFairSelector(uw, newTestLogger(), rand.New(rand.NewSource(1)))

	ids, err := sel.Select(context.Background(), "svc-1", 4)
	require.NoError(t, err)
	assert.Len(t, ids, 4)

	countA, err := uw.GetCounts(context.Background(), "job-a", "svc-1", "")
	require.NoError(t, err)
	countB, err := uw.GetCounts(context.Background(), "job-b", "svc-1", "")
	require.NoError(t, err)
	assert.Equal(t, 4, countA.RunningCount+countB.RunningCount)
	assert.Equal(t, 2, countA.RunningCount)
	assert.Equal(t, 2, countB.RunningCount)
}

func TestFairSelector_Select_ZeroBatchSizeReturnsNil(t *testing.T) {
	db, cleanup := setupFairSelectorDeps(t)
	defer cleanup()

	uw := sqlite.NewUserWorkStorage(db, newTestLogger())
	sel := NewFairSelector(uw, newTestLogger(), nil)

	ids, err := sel.Select(context.Background(), "svc-1", 0)
	require.NoError(t, err)
	assert.Nil(t, ids)
}

func TestFairSelector_Select_NoReadyWorkReturnsNil(t *testing.T) {
	db, cleanup := setupFairSelectorDeps(t)
	defer cleanup()

	uw := sqlite.NewUserWorkStorage(db, newTestLogger())
	sel := NewFairSelector(uw, newTestLogger(), nil)

	ids, err := sel.Select(context.Background(), "svc-none", 5)
	require.NoError(t, err)
	assert.Nil(t, ids)
}

func TestFairSelector_Select_ExcludesPausedJobs(t *testing.T) {
	db, cleanup := setupFairSelectorDeps(t)
	defer cleanup()

	seedJobWithReadyItems(t, db, "job-paused", "svc-2", 3)
	jobs := sqlite.NewJobStorage(db, newTestLogger())
	require.NoError(t, jobs.UpdateJobStatus(context.Background(), "job-paused", models.JobPaused, ""))

	uw := sqlite.NewUserWorkStorage(db, newTestLogger())
	sel := NewFairSelector(uw, newTestLogger(), nil)

	ids, err := sel.Select(context.Background(), "svc-2", 3)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
