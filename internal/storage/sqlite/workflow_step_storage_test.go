package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/geowork/internal/models"
)

func TestWorkflowStepStorage_CreateListGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	steps := NewWorkflowStepStorage(db, newTestLogger())
	ctx := context.Background()

	require.NoError(t, steps.CreateStep(ctx, models.WorkflowStep{
		JobID: "job-1", StepIndex: 1, ServiceID: "harmony/query-cmr", WorkItemCount: 1,
	}))
	require.NoError(t, steps.CreateStep(ctx, models.WorkflowStep{
		JobID: "job-1", StepIndex: 2, ServiceID: "svc-b", HasAggregatedOutput: true, BatchSize: 10,
	}))

	got, err := steps.GetStep(ctx, "job-1", 2)
	require.NoError(t, err)
	assert.True(t, got.HasAggregatedOutput)
	assert.Equal(t, 10, got.BatchSize)

	all, err := steps.ListSteps(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 1, all[0].StepIndex)
	assert.Equal(t, 2, all[1].StepIndex)
}

func TestWorkflowStepStorage_GetStep_NotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	steps := NewWorkflowStepStorage(db, newTestLogger())
	_, err := steps.GetStep(context.Background(), "missing", 1)
	assert.ErrorIs(t, err, ErrStepNotFound)
}

func TestWorkflowStepStorage_DeleteSteps_Batched(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	steps := NewWorkflowStepStorage(db, newTestLogger())
	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		require.NoError(t, steps.CreateStep(ctx, models.WorkflowStep{JobID: "job-2", StepIndex: i, ServiceID: "svc-a"}))
	}

	n, err := steps.DeleteSteps(ctx, "job-2", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	remaining, err := steps.ListSteps(ctx, "job-2")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, 4, remaining[0].StepIndex)
}
