package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/geowork/internal/models"
)

func TestWorkItemStorage_CreateAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	jobs := NewJobStorage(db, newTestLogger())
	items := NewWorkItemStorage(db, newTestLogger())
	ctx := context.Background()

	require.NoError(t, jobs.CreateJob(ctx, &models.Job{JobID: "job-1", Status: models.JobRunning}))

	item := &models.WorkItem{JobID: "job-1", ServiceID: "svc-a", WorkflowStepIndex: 1, Status: models.ItemReady}
	id, err := items.CreateWorkItem(ctx, item)
	require.NoError(t, err)
	assert.NotZero(t, id)

	got, err := items.GetWorkItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ItemReady, got.Status)
	assert.Equal(t, "svc-a", got.ServiceID)
}

func TestWorkItemStorage_UpdateWorkItemStatus_TerminalIsSticky(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	jobs := NewJobStorage(db, newTestLogger())
	items := NewWorkItemStorage(db, newTestLogger())
	ctx := context.Background()

	require.NoError(t, jobs.CreateJob(ctx, &models.Job{JobID: "job-2", Status: models.JobRunning}))
	id, err := items.CreateWorkItem(ctx, &models.WorkItem{JobID: "job-2", ServiceID: "svc-a", WorkflowStepIndex: 1, Status: models.ItemReady})
	require.NoError(t, err)

	require.NoError(t, items.UpdateWorkItemStatus(ctx, id, models.ItemRunning, ""))
	require.NoError(t, items.UpdateWorkItemStatus(ctx, id, models.ItemSuccessful, ""))
	require.NoError(t, items.UpdateWorkItemStatus(ctx, id, models.ItemFailed, "should not apply"))

	got, err := items.GetWorkItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ItemSuccessful, got.Status)
}

func TestWorkItemStorage_SetWorkItemOutcome(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	jobs := NewJobStorage(db, newTestLogger())
	items := NewWorkItemStorage(db, newTestLogger())
	ctx := context.Background()

	require.NoError(t, jobs.CreateJob(ctx, &models.Job{JobID: "job-3", Status: models.JobRunning}))
	id, err := items.CreateWorkItem(ctx, &models.WorkItem{JobID: "job-3", ServiceID: "svc-a", WorkflowStepIndex: 1, Status: models.ItemRunning})
	require.NoError(t, err)

	require.NoError(t, items.SetWorkItemOutcome(ctx, id, models.ItemSuccessful, "", []string{"out1", "out2"}, []int64{100, 200}, ""))

	got, err := items.GetWorkItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ItemSuccessful, got.Status)
	assert.Equal(t, []string{"out1", "out2"}, got.Results)
	assert.Equal(t, []int64{100, 200}, got.OutputItemSizes)
}

func TestWorkItemStorage_CancelNonTerminalForJob(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	jobs := NewJobStorage(db, newTestLogger())
	items := NewWorkItemStorage(db, newTestLogger())
	ctx := context.Background()

	require.NoError(t, jobs.CreateJob(ctx, &models.Job{JobID: "job-4", Status: models.JobRunning}))
	readyID, err := items.CreateWorkItem(ctx, &models.WorkItem{JobID: "job-4", ServiceID: "svc-a", WorkflowStepIndex: 1, Status: models.ItemReady})
	require.NoError(t, err)
	doneID, err := items.CreateWorkItem(ctx, &models.WorkItem{JobID: "job-4", ServiceID: "svc-a", WorkflowStepIndex: 1, Status: models.ItemRunning})
	require.NoError(t, err)
	require.NoError(t, items.SetWorkItemOutcome(ctx, doneID, models.ItemSuccessful, "", nil, nil, ""))

	n, err := items.CancelNonTerminalForJob(ctx, "job-4")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ready, err := items.GetWorkItem(ctx, readyID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemCanceled, ready.Status)

	done, err := items.GetWorkItem(ctx, doneID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemSuccessful, done.Status)
}

func TestWorkItemStorage_DeleteItems_Batched(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	jobs := NewJobStorage(db, newTestLogger())
	items := NewWorkItemStorage(db, newTestLogger())
	ctx := context.Background()

	require.NoError(t, jobs.CreateJob(ctx, &models.Job{JobID: "job-5", Status: models.JobSuccessful}))
	for i := 0; i < 5; i++ {
		_, err := items.CreateWorkItem(ctx, &models.WorkItem{JobID: "job-5", ServiceID: "svc-a", WorkflowStepIndex: 1, Status: models.ItemSuccessful})
		require.NoError(t, err)
	}

	n, err := items.DeleteItems(ctx, "job-5", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = items.DeleteItems(ctx, "job-5", 10)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = items.DeleteItems(ctx, "job-5", 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestWorkItemStorage_ListRunningOlderThan(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	jobs := NewJobStorage(db, newTestLogger())
	items := NewWorkItemStorage(db, newTestLogger())
	ctx := context.Background()

	require.NoError(t, jobs.CreateJob(ctx, &models.Job{JobID: "job-6", Status: models.JobRunning}))
	id, err := items.CreateWorkItem(ctx, &models.WorkItem{
		JobID: "job-6", ServiceID: "svc-a", WorkflowStepIndex: 1, Status: models.ItemReady,
	})
	require.NoError(t, err)
	require.NoError(t, items.UpdateWorkItemStatus(ctx, id, models.ItemRunning, ""))

	stale, err := items.ListRunningOlderThan(ctx, -time.Hour, []models.JobStatus{models.JobRunning})
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, id, stale[0].ID)

	fresh, err := items.ListRunningOlderThan(ctx, time.Hour, []models.JobStatus{models.JobRunning})
	require.NoError(t, err)
	assert.Empty(t, fresh)
}
