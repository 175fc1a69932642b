package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/geowork/internal/models"
)

// JobStorage is the persistence surface for Job records and their JobLinks.
type JobStorage interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, message string) error
	UpdateJobProgress(ctx context.Context, jobID string, progress int) error
	IncrementJobErrorCount(ctx context.Context, jobID string) (int, error)
	AddJobLink(ctx context.Context, link models.JobLink) error
	ListJobLinks(ctx context.Context, jobID string) ([]models.JobLink, error)
	ListTerminalJobsOlderThan(ctx context.Context, age time.Duration, limit int) ([]string, error)
	ListRecentJobs(ctx context.Context, limit int) ([]models.Job, error)
	AddJobLog(ctx context.Context, jobID string, level string, message string) error
	ListJobLogs(ctx context.Context, jobID string, limit int) ([]JobLogEntry, error)
}

// JobLogEntry is one append-only log line recorded against a Job (spec
// SUPPLEMENTED FEATURES: job log stream).
type JobLogEntry struct {
	Level     string
	Message   string
	CreatedAt time.Time
}

// WorkflowStepStorage is the persistence surface for WorkflowStep records.
type WorkflowStepStorage interface {
	CreateStep(ctx context.Context, step models.WorkflowStep) error
	GetStep(ctx context.Context, jobID string, stepIndex int) (*models.WorkflowStep, error)
	ListSteps(ctx context.Context, jobID string) ([]models.WorkflowStep, error)
	UpdateWorkItemCount(ctx context.Context, jobID string, stepIndex int, count int) error
	DeleteSteps(ctx context.Context, jobID string, limit int) (int, error)
}

// WorkItemStorage is the persistence surface for WorkItem records.
type WorkItemStorage interface {
	GetWorkItem(ctx context.Context, id int64) (*models.WorkItem, error)
	CreateWorkItem(ctx context.Context, item *models.WorkItem) (int64, error)
	UpdateWorkItemStatus(ctx context.Context, id int64, status models.WorkItemStatus, errMsg string) error
	SetWorkItemOutcome(ctx context.Context, id int64, status models.WorkItemStatus, errMsg string, results []string, sizes []int64, scrollID string) error
	CountByStatus(ctx context.Context, jobID string, stepIndex int, status models.WorkItemStatus) (int, error)
	CountDownstreamSpawned(ctx context.Context, jobID string, stepIndex int) (int, error)
	ListRunningOlderThan(ctx context.Context, age time.Duration, jobStatuses []models.JobStatus) ([]models.WorkItem, error)
	ListSuccessfulDurations(ctx context.Context, jobID, serviceID string, stepIndex int, limit int) ([]time.Duration, error)
	CancelNonTerminalForJob(ctx context.Context, jobID string) (int, error)
	DeleteItems(ctx context.Context, jobID string, limit int) (int, error)
	HasOutstandingItems(ctx context.Context, jobID string, exceptStepIndex int) (bool, error)
	// CountNonTerminalForStep counts WorkItems at stepIndex that haven't
	// reached a terminal status, used to detect whether a step has fully
	// drained once its SUCCESSFUL count reaches its expected total.
	CountNonTerminalForStep(ctx context.Context, jobID string, stepIndex int) (int, error)
}

// AggregationBatch is the persistent state of a not-yet-sealed batch for a
// (job, step) pair (spec §4.4).
type AggregationBatch struct {
	JobID      string
	StepIndex  int
	ItemCount  int
	TotalBytes int64
	Inputs     []string
}

// AggregationBatchStorage tracks the open (not-yet-sealed) aggregation batch
// for each (jobID, stepIndex) so that out-of-order completion of upstream
// items still produces deterministic batches (spec §4.4).
type AggregationBatchStorage interface {
	// AppendInput atomically appends input to the open batch for (jobID,
	// stepIndex) and returns the batch's new state.
	AppendInput(ctx context.Context, jobID string, stepIndex int, input string, sizeBytes int64) (*AggregationBatch, error)
	// SealBatch clears the open batch for (jobID, stepIndex) and returns its
	// state at the moment of sealing (nil if it was empty).
	SealBatch(ctx context.Context, jobID string, stepIndex int) (*AggregationBatch, error)
	GetOpenBatch(ctx context.Context, jobID string, stepIndex int) (*AggregationBatch, error)
}

// UserWorkStorage is the denormalized ready/running counter cache (spec §3).
type UserWorkStorage interface {
	// SelectFairJobs returns up to n distinct jobIDs with ready_count > 0 for serviceID,
	// ordered by last_worked ASC, running_count ASC (spec §4.2 step 1).
	SelectFairJobs(ctx context.Context, serviceID string, n int) ([]string, error)
	GetCounts(ctx context.Context, jobID, serviceID, username string) (*models.UserWork, error)
	// FlipReadyToRunning selects up to n READY items for (jobID, serviceID), flips them
	// RUNNING, decrements ready_count, increments running_count, and updates last_worked,
	// all atomically. Returns the flipped item IDs.
	FlipReadyToRunning(ctx context.Context, jobID, serviceID string, n int) ([]int64, error)
	DecrementReady(ctx context.Context, jobID, serviceID, username string) error
	DecrementRunning(ctx context.Context, jobID, serviceID, username string) error
	IncrementReady(ctx context.Context, jobID, serviceID, username string) error
	// Reconcile rescans WorkItems for (jobID, serviceID) and rewrites ready/running counts,
	// guarding against counter drift (spec §4.2 step 4).
	Reconcile(ctx context.Context, jobID, serviceID string) error
	ZeroForJob(ctx context.Context, jobID string) error
}
