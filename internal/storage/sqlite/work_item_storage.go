package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/geowork/internal/interfaces"
	"github.com/ternarybob/geowork/internal/models"
)

// ErrWorkItemNotFound is returned when a work item is not found.
var ErrWorkItemNotFound = errors.New("work item not found")

type WorkItemStorage struct {
	db     *DB
	logger arbor.ILogger
}

func NewWorkItemStorage(db *DB, logger arbor.ILogger) interfaces.WorkItemStorage {
	return &WorkItemStorage{db: db, logger: logger}
}

func (s *WorkItemStorage) CreateWorkItem(ctx context.Context, item *models.WorkItem) (int64, error) {
	var id int64
	err := retryWithBackoff(func() error {
		resultsJSON, _ := json.Marshal(item.Results)
		sizesJSON, _ := json.Marshal(item.OutputItemSizes)
		now := time.Now()
		item.UpdatedAt = now

		var startedAt sql.NullInt64
		if !item.StartedAt.IsZero() {
			startedAt.Valid = true
			startedAt.Int64 = item.StartedAt.Unix()
		}

		res, err := s.db.db.ExecContext(ctx, `
			INSERT INTO work_items (job_id, service_id, workflow_step_index, status, stac_catalog_location,
				scroll_id, results_json, error_message, output_item_sizes_json, started_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.JobID, item.ServiceID, item.WorkflowStepIndex, string(item.Status), item.StacCatalogLocation,
			item.ScrollID, string(resultsJSON), item.ErrorMessage, string(sizesJSON), startedAt, now.Unix())
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	}, 3, 100*time.Millisecond, s.logger)
	if err == nil {
		item.ID = id
	}
	return id, err
}

func (s *WorkItemStorage) GetWorkItem(ctx context.Context, id int64) (*models.WorkItem, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT id, job_id, service_id, workflow_step_index, status, stac_catalog_location, scroll_id,
			results_json, error_message, output_item_sizes_json, started_at, updated_at
		FROM work_items WHERE id = ?`, id)

	var item models.WorkItem
	var status, resultsJSON, sizesJSON string
	var startedAt sql.NullInt64
	var updatedAt int64
	err := row.Scan(&item.ID, &item.JobID, &item.ServiceID, &item.WorkflowStepIndex, &status,
		&item.StacCatalogLocation, &item.ScrollID, &resultsJSON, &item.ErrorMessage, &sizesJSON, &startedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWorkItemNotFound
	}
	if err != nil {
		return nil, err
	}
	item.Status = models.WorkItemStatus(status)
	_ = json.Unmarshal([]byte(resultsJSON), &item.Results)
	_ = json.Unmarshal([]byte(sizesJSON), &item.OutputItemSizes)
	if startedAt.Valid {
		item.StartedAt = time.Unix(startedAt.Int64, 0)
	}
	item.UpdatedAt = time.Unix(updatedAt, 0)
	return &item, nil
}

// UpdateWorkItemStatus writes a new status/error, never overwriting an
// already-terminal status (spec §4.3 step 4).
func (s *WorkItemStorage) UpdateWorkItemStatus(ctx context.Context, id int64, status models.WorkItemStatus, errMsg string) error {
	return retryWithBackoff(func() error {
		tx, err := s.db.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var current string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM work_items WHERE id = ?`, id).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrWorkItemNotFound
			}
			return err
		}
		if models.WorkItemStatus(current).Terminal() {
			return tx.Commit()
		}

		var startedAt interface{}
		if status == models.ItemRunning {
			startedAt = time.Now().Unix()
		}

		query := `UPDATE work_items SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`
		args := []interface{}{string(status), errMsg, time.Now().Unix(), id}
		if startedAt != nil {
			query = `UPDATE work_items SET status = ?, error_message = ?, updated_at = ?, started_at = ? WHERE id = ?`
			args = []interface{}{string(status), errMsg, time.Now().Unix(), startedAt, id}
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
		return tx.Commit()
	}, 3, 100*time.Millisecond, s.logger)
}

// SetWorkItemOutcome records results/sizes/scrollID together with a terminal
// status transition, used by the update processor (spec §4.3 step 5).
func (s *WorkItemStorage) SetWorkItemOutcome(ctx context.Context, id int64, status models.WorkItemStatus, errMsg string, results []string, sizes []int64, scrollID string) error {
	return retryWithBackoff(func() error {
		resultsJSON, _ := json.Marshal(results)
		sizesJSON, _ := json.Marshal(sizes)
		_, err := s.db.db.ExecContext(ctx, `
			UPDATE work_items SET status = ?, error_message = ?, results_json = ?, output_item_sizes_json = ?,
				scroll_id = ?, updated_at = ?
			WHERE id = ? AND status NOT IN ('SUCCESSFUL','FAILED','CANCELED','WARNING')`,
			string(status), errMsg, string(resultsJSON), string(sizesJSON), scrollID, time.Now().Unix(), id)
		return err
	}, 3, 100*time.Millisecond, s.logger)
}

func (s *WorkItemStorage) CountByStatus(ctx context.Context, jobID string, stepIndex int, status models.WorkItemStatus) (int, error) {
	var n int
	err := s.db.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM work_items WHERE job_id = ? AND workflow_step_index = ? AND status = ?`,
		jobID, stepIndex, string(status)).Scan(&n)
	return n, err
}

// CountDownstreamSpawned counts the work items that have ever been created
// for stepIndex, used by discovery continuation (spec §4.3 step 5b).
func (s *WorkItemStorage) CountDownstreamSpawned(ctx context.Context, jobID string, stepIndex int) (int, error) {
	var n int
	err := s.db.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM work_items WHERE job_id = ? AND workflow_step_index = ?`, jobID, stepIndex).Scan(&n)
	return n, err
}

// CountNonTerminalForStep counts work items at stepIndex still in READY,
// QUEUED or RUNNING, used to detect whether a step has fully drained.
func (s *WorkItemStorage) CountNonTerminalForStep(ctx context.Context, jobID string, stepIndex int) (int, error) {
	var n int
	err := s.db.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM work_items
		WHERE job_id = ? AND workflow_step_index = ? AND status IN (?, ?, ?)`,
		jobID, stepIndex, string(models.ItemReady), string(models.ItemQueued), string(models.ItemRunning)).Scan(&n)
	return n, err
}

func (s *WorkItemStorage) ListRunningOlderThan(ctx context.Context, age time.Duration, jobStatuses []models.JobStatus) ([]models.WorkItem, error) {
	cutoff := time.Now().Add(-age).Unix()
	placeholders := ""
	args := []interface{}{"RUNNING", cutoff}
	for i, js := range jobStatuses {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, string(js))
	}

	rows, err := s.db.db.QueryContext(ctx, `
		SELECT wi.id, wi.job_id, wi.service_id, wi.workflow_step_index, wi.status, wi.stac_catalog_location,
			wi.scroll_id, wi.results_json, wi.error_message, wi.output_item_sizes_json, wi.started_at, wi.updated_at
		FROM work_items wi
		JOIN jobs j ON j.job_id = wi.job_id
		WHERE wi.status = ? AND wi.started_at IS NOT NULL AND wi.started_at < ?
		AND j.status IN (`+placeholders+`)
		ORDER BY wi.id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.WorkItem
	for rows.Next() {
		var item models.WorkItem
		var status, resultsJSON, sizesJSON string
		var startedAt sql.NullInt64
		var updatedAt int64
		if err := rows.Scan(&item.ID, &item.JobID, &item.ServiceID, &item.WorkflowStepIndex, &status,
			&item.StacCatalogLocation, &item.ScrollID, &resultsJSON, &item.ErrorMessage, &sizesJSON, &startedAt, &updatedAt); err != nil {
			return nil, err
		}
		item.Status = models.WorkItemStatus(status)
		_ = json.Unmarshal([]byte(resultsJSON), &item.Results)
		_ = json.Unmarshal([]byte(sizesJSON), &item.OutputItemSizes)
		if startedAt.Valid {
			item.StartedAt = time.Unix(startedAt.Int64, 0)
		}
		item.UpdatedAt = time.Unix(updatedAt, 0)
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListSuccessfulDurations returns the RUNNING->SUCCESSFUL durations of the
// most recent successful items for (jobID, serviceID, stepIndex), newest
// first, used by the failer's outlier threshold (spec §4.6 step 2).
func (s *WorkItemStorage) ListSuccessfulDurations(ctx context.Context, jobID, serviceID string, stepIndex int, limit int) ([]time.Duration, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT started_at, updated_at FROM work_items
		WHERE job_id = ? AND service_id = ? AND workflow_step_index = ? AND status = 'SUCCESSFUL'
		AND started_at IS NOT NULL
		ORDER BY id DESC LIMIT ?`, jobID, serviceID, stepIndex, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var durs []time.Duration
	for rows.Next() {
		var started, updated int64
		if err := rows.Scan(&started, &updated); err != nil {
			return nil, err
		}
		durs = append(durs, time.Duration(updated-started)*time.Second)
	}
	return durs, rows.Err()
}

// CancelNonTerminalForJob sets all non-terminal items of a job to CANCELED in
// one statement (spec §4.8 CANCEL).
func (s *WorkItemStorage) CancelNonTerminalForJob(ctx context.Context, jobID string) (int, error) {
	var n int64
	err := retryWithBackoff(func() error {
		res, err := s.db.db.ExecContext(ctx, `
			UPDATE work_items SET status = 'CANCELED', updated_at = ?
			WHERE job_id = ? AND status NOT IN ('SUCCESSFUL','FAILED','CANCELED','WARNING')`,
			time.Now().Unix(), jobID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	}, 3, 100*time.Millisecond, s.logger)
	return int(n), err
}

// DeleteItems deletes up to limit items for jobID, ascending by id (spec §4.7).
func (s *WorkItemStorage) DeleteItems(ctx context.Context, jobID string, limit int) (int, error) {
	var n int64
	err := retryWithBackoff(func() error {
		res, err := s.db.db.ExecContext(ctx, `
			DELETE FROM work_items WHERE id IN (
				SELECT id FROM work_items WHERE job_id = ? ORDER BY id ASC LIMIT ?
			)`, jobID, limit)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	}, 3, 100*time.Millisecond, s.logger)
	return int(n), err
}

// HasOutstandingItems reports whether any step other than exceptStepIndex
// still has non-terminal items, used to decide job completion (spec §4.3 step 8).
func (s *WorkItemStorage) HasOutstandingItems(ctx context.Context, jobID string, exceptStepIndex int) (bool, error) {
	var n int
	err := s.db.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM work_items
		WHERE job_id = ? AND workflow_step_index != ? AND status NOT IN ('SUCCESSFUL','FAILED','CANCELED','WARNING')`,
		jobID, exceptStepIndex).Scan(&n)
	return n > 0, err
}
