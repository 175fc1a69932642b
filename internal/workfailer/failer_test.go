package workfailer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/geowork/internal/interfaces"
	"github.com/ternarybob/geowork/internal/models"
	"github.com/ternarybob/geowork/internal/queue"
	"github.com/ternarybob/geowork/internal/storage/sqlite"
	"github.com/ternarybob/geowork/internal/updateprocessor"
)

func newTestLogger() arbor.ILogger {
	return arbor.NewLogger()
}

type failerDeps struct {
	jobs  interfaces.JobStorage
	steps interfaces.WorkflowStepStorage
	items interfaces.WorkItemStorage
	uw    interfaces.UserWorkStorage
	f     *Failer
}

func setupFailer(t *testing.T, failableAge time.Duration) (*failerDeps, func()) {
	t.Helper()
	db, err := sqlite.Open(":memory:", newTestLogger())
	require.NoError(t, err)

	jobs := sqlite.NewJobStorage(db, newTestLogger())
	steps := sqlite.NewWorkflowStepStorage(db, newTestLogger())
	items := sqlite.NewWorkItemStorage(db, newTestLogger())
	uw := sqlite.NewUserWorkStorage(db, newTestLogger())
	batches := sqlite.NewAggregationBatchStorage(db, newTestLogger())
	factory := queue.NewFactory(nil, 0, 0, newTestLogger())
	proc := updateprocessor.New(jobs, steps, items, uw, batches, factory, newTestLogger(), 5)

	f := New(items, proc, newTestLogger(), failableAge)
	return &failerDeps{jobs: jobs, steps: steps, items: items, uw: uw, f: f}, func() { db.Close() }
}

func TestFailer_RunOnce_FailsStalledItem(t *testing.T) {
	d, cleanup := setupFailer(t, time.Hour)
	defer cleanup()

	require.NoError(t, d.jobs.CreateJob(context.Background(), &models.Job{JobID: "job-1", Status: models.JobRunning}))
	require.NoError(t, d.steps.CreateStep(context.Background(), models.WorkflowStep{
		JobID: "job-1", StepIndex: 1, ServiceID: "svc-a", WorkItemCount: 1,
	}))
	id, err := d.items.CreateWorkItem(context.Background(), &models.WorkItem{
		JobID: "job-1", ServiceID: "svc-a", WorkflowStepIndex: 1, Status: models.ItemRunning,
		StartedAt: time.Now().Add(-2 * time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, d.f.RunOnce(context.Background()))

	got, err := d.items.GetWorkItem(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ItemFailed, got.Status)
}

func TestFailer_RunOnce_LeavesFreshItemsAlone(t *testing.T) {
	d, cleanup := setupFailer(t, time.Hour)
	defer cleanup()

	require.NoError(t, d.jobs.CreateJob(context.Background(), &models.Job{JobID: "job-2", Status: models.JobRunning}))
	require.NoError(t, d.steps.CreateStep(context.Background(), models.WorkflowStep{
		JobID: "job-2", StepIndex: 1, ServiceID: "svc-a", WorkItemCount: 1,
	}))
	id, err := d.items.CreateWorkItem(context.Background(), &models.WorkItem{
		JobID: "job-2", ServiceID: "svc-a", WorkflowStepIndex: 1, Status: models.ItemRunning,
		StartedAt: time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, d.f.RunOnce(context.Background()))

	got, err := d.items.GetWorkItem(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ItemRunning, got.Status)
}

func TestFailer_RunOnce_NoStaleItemsIsNoOp(t *testing.T) {
	d, cleanup := setupFailer(t, time.Hour)
	defer cleanup()

	require.NoError(t, d.f.RunOnce(context.Background()))
}
