package workreaper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/geowork/internal/interfaces"
	"github.com/ternarybob/geowork/internal/models"
	"github.com/ternarybob/geowork/internal/storage/sqlite"
)

func newTestLogger() arbor.ILogger {
	return arbor.NewLogger()
}

type reaperDeps struct {
	jobs  interfaces.JobStorage
	steps interfaces.WorkflowStepStorage
	items interfaces.WorkItemStorage
}

func setupReaper(t *testing.T) (*reaperDeps, *sqlite.DB, func()) {
	t.Helper()
	db, err := sqlite.Open(":memory:", newTestLogger())
	require.NoError(t, err)

	d := &reaperDeps{
		jobs:  sqlite.NewJobStorage(db, newTestLogger()),
		steps: sqlite.NewWorkflowStepStorage(db, newTestLogger()),
		items: sqlite.NewWorkItemStorage(db, newTestLogger()),
	}
	return d, db, func() { db.Close() }
}

func TestReaper_RunOnce_DeletesItemsThenStepsForTerminalJob(t *testing.T) {
	d, _, cleanup := setupReaper(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, d.jobs.CreateJob(ctx, &models.Job{JobID: "job-1", Status: models.JobSuccessful}))
	for i := 1; i <= 2; i++ {
		require.NoError(t, d.steps.CreateStep(ctx, models.WorkflowStep{JobID: "job-1", StepIndex: i, ServiceID: "svc-a"}))
	}
	for i := 0; i < 5; i++ {
		_, err := d.items.CreateWorkItem(ctx, &models.WorkItem{JobID: "job-1", ServiceID: "svc-a", WorkflowStepIndex: 1, Status: models.ItemSuccessful})
		require.NoError(t, err)
	}

	r := New(d.jobs, d.steps, d.items, newTestLogger(), -time.Hour, 2)
	require.NoError(t, r.RunOnce(ctx))

	remainingSteps, err := d.steps.ListSteps(ctx, "job-1")
	require.NoError(t, err)
	assert.Empty(t, remainingSteps)
}

func TestReaper_RunOnce_LeavesNonTerminalJobAlone(t *testing.T) {
	d, _, cleanup := setupReaper(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, d.jobs.CreateJob(ctx, &models.Job{JobID: "job-2", Status: models.JobRunning}))
	require.NoError(t, d.steps.CreateStep(ctx, models.WorkflowStep{JobID: "job-2", StepIndex: 1, ServiceID: "svc-a"}))

	r := New(d.jobs, d.steps, d.items, newTestLogger(), -time.Hour, 10)
	require.NoError(t, r.RunOnce(ctx))

	remainingSteps, err := d.steps.ListSteps(ctx, "job-2")
	require.NoError(t, err)
	assert.Len(t, remainingSteps, 1)
}

func TestReaper_RunOnce_RecentTerminalJobNotYetReapable(t *testing.T) {
	d, _, cleanup := setupReaper(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, d.jobs.CreateJob(ctx, &models.Job{JobID: "job-3", Status: models.JobFailed}))
	require.NoError(t, d.steps.CreateStep(ctx, models.WorkflowStep{JobID: "job-3", StepIndex: 1, ServiceID: "svc-a"}))

	r := New(d.jobs, d.steps, d.items, newTestLogger(), time.Hour, 10)
	require.NoError(t, r.RunOnce(ctx))

	remainingSteps, err := d.steps.ListSteps(ctx, "job-3")
	require.NoError(t, err)
	assert.Len(t, remainingSteps, 1)
}

func TestReapJob_BatchesAcrossMultiplePasses(t *testing.T) {
	d, _, cleanup := setupReaper(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, d.jobs.CreateJob(ctx, &models.Job{JobID: "job-4", Status: models.JobCanceled}))
	for i := 0; i < 7; i++ {
		_, err := d.items.CreateWorkItem(ctx, &models.WorkItem{JobID: "job-4", ServiceID: "svc-a", WorkflowStepIndex: 1, Status: models.ItemCanceled})
		require.NoError(t, err)
	}

	r := New(d.jobs, d.steps, d.items, newTestLogger(), -time.Hour, 3)
	require.NoError(t, r.reapJob(ctx, "job-4"))

	n, err := d.items.DeleteItems(ctx, "job-4", 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
