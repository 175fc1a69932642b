package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/geowork/internal/interfaces"
	"github.com/ternarybob/geowork/internal/models"
)

// ErrStepNotFound is returned when a workflow step is not found.
var ErrStepNotFound = errors.New("workflow step not found")

type WorkflowStepStorage struct {
	db     *DB
	logger arbor.ILogger
}

func NewWorkflowStepStorage(db *DB, logger arbor.ILogger) interfaces.WorkflowStepStorage {
	return &WorkflowStepStorage{db: db, logger: logger}
}

func (s *WorkflowStepStorage) CreateStep(ctx context.Context, step models.WorkflowStep) error {
	return retryWithBackoff(func() error {
		_, err := s.db.db.ExecContext(ctx, `
			INSERT INTO workflow_steps (job_id, step_index, service_id, operation, work_item_count,
				has_aggregated_output, batch_size, max_batch_size_bytes, is_sequential)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			step.JobID, step.StepIndex, step.ServiceID, step.Operation, step.WorkItemCount,
			boolToInt(step.HasAggregatedOutput), step.BatchSize, step.MaxBatchSizeBytes, boolToInt(step.IsSequential))
		return err
	}, 3, 100*time.Millisecond, s.logger)
}

func (s *WorkflowStepStorage) GetStep(ctx context.Context, jobID string, stepIndex int) (*models.WorkflowStep, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT job_id, step_index, service_id, operation, work_item_count, has_aggregated_output,
			batch_size, max_batch_size_bytes, is_sequential
		FROM workflow_steps WHERE job_id = ? AND step_index = ?`, jobID, stepIndex)

	var st models.WorkflowStep
	var hasAgg, isSeq int
	err := row.Scan(&st.JobID, &st.StepIndex, &st.ServiceID, &st.Operation, &st.WorkItemCount,
		&hasAgg, &st.BatchSize, &st.MaxBatchSizeBytes, &isSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStepNotFound
	}
	if err != nil {
		return nil, err
	}
	st.HasAggregatedOutput = hasAgg != 0
	st.IsSequential = isSeq != 0
	return &st, nil
}

func (s *WorkflowStepStorage) ListSteps(ctx context.Context, jobID string) ([]models.WorkflowStep, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT job_id, step_index, service_id, operation, work_item_count, has_aggregated_output,
			batch_size, max_batch_size_bytes, is_sequential
		FROM workflow_steps WHERE job_id = ? ORDER BY step_index ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []models.WorkflowStep
	for rows.Next() {
		var st models.WorkflowStep
		var hasAgg, isSeq int
		if err := rows.Scan(&st.JobID, &st.StepIndex, &st.ServiceID, &st.Operation, &st.WorkItemCount,
			&hasAgg, &st.BatchSize, &st.MaxBatchSizeBytes, &isSeq); err != nil {
			return nil, err
		}
		st.HasAggregatedOutput = hasAgg != 0
		st.IsSequential = isSeq != 0
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func (s *WorkflowStepStorage) UpdateWorkItemCount(ctx context.Context, jobID string, stepIndex int, count int) error {
	return retryWithBackoff(func() error {
		_, err := s.db.db.ExecContext(ctx, `
			UPDATE workflow_steps SET work_item_count = ? WHERE job_id = ? AND step_index = ?`,
			count, jobID, stepIndex)
		return err
	}, 3, 100*time.Millisecond, s.logger)
}

// DeleteSteps deletes up to limit steps for jobID, ascending by step_index,
// used by the reaper (spec §4.7: "items first, then steps").
func (s *WorkflowStepStorage) DeleteSteps(ctx context.Context, jobID string, limit int) (int, error) {
	var n int64
	err := retryWithBackoff(func() error {
		res, err := s.db.db.ExecContext(ctx, `
			DELETE FROM workflow_steps WHERE rowid IN (
				SELECT rowid FROM workflow_steps WHERE job_id = ? ORDER BY step_index ASC LIMIT ?
			)`, jobID, limit)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	}, 3, 100*time.Millisecond, s.logger)
	return int(n), err
}
