package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/geowork/internal/interfaces"
)

type AggregationBatchStorage struct {
	db     *DB
	logger arbor.ILogger
}

func NewAggregationBatchStorage(db *DB, logger arbor.ILogger) interfaces.AggregationBatchStorage {
	return &AggregationBatchStorage{db: db, logger: logger}
}

func (s *AggregationBatchStorage) GetOpenBatch(ctx context.Context, jobID string, stepIndex int) (*interfaces.AggregationBatch, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT job_id, step_index, item_count, total_bytes, inputs_json
		FROM aggregation_batches WHERE job_id = ? AND step_index = ?`, jobID, stepIndex)

	var b interfaces.AggregationBatch
	var inputsJSON string
	err := row.Scan(&b.JobID, &b.StepIndex, &b.ItemCount, &b.TotalBytes, &inputsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return &interfaces.AggregationBatch{JobID: jobID, StepIndex: stepIndex}, nil
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(inputsJSON), &b.Inputs)
	return &b, nil
}

// AppendInput atomically appends input to the open batch, creating the row
// if it doesn't exist yet (spec §4.4: "inputs are assigned to batches in
// sorted arrival order... tracked in a persistent per-step structure").
func (s *AggregationBatchStorage) AppendInput(ctx context.Context, jobID string, stepIndex int, input string, sizeBytes int64) (*interfaces.AggregationBatch, error) {
	var result *interfaces.AggregationBatch
	err := retryWithBackoff(func() error {
		tx, err := s.db.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var inputsJSON string
		var itemCount int
		var totalBytes int64
		err = tx.QueryRowContext(ctx, `
			SELECT item_count, total_bytes, inputs_json FROM aggregation_batches
			WHERE job_id = ? AND step_index = ?`, jobID, stepIndex).Scan(&itemCount, &totalBytes, &inputsJSON)

		var inputs []string
		if errors.Is(err, sql.ErrNoRows) {
			inputs = nil
		} else if err != nil {
			return err
		} else {
			_ = json.Unmarshal([]byte(inputsJSON), &inputs)
		}

		inputs = append(inputs, input)
		itemCount++
		totalBytes += sizeBytes
		newJSON, _ := json.Marshal(inputs)

		_, err = tx.ExecContext(ctx, `
			INSERT INTO aggregation_batches (job_id, step_index, item_count, total_bytes, inputs_json)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(job_id, step_index) DO UPDATE SET
				item_count = excluded.item_count,
				total_bytes = excluded.total_bytes,
				inputs_json = excluded.inputs_json`,
			jobID, stepIndex, itemCount, totalBytes, string(newJSON))
		if err != nil {
			return err
		}

		result = &interfaces.AggregationBatch{JobID: jobID, StepIndex: stepIndex, ItemCount: itemCount, TotalBytes: totalBytes, Inputs: inputs}
		return tx.Commit()
	}, 3, 50*time.Millisecond, s.logger)
	return result, err
}

// SealBatch clears the open batch and returns its contents at the moment of sealing.
func (s *AggregationBatchStorage) SealBatch(ctx context.Context, jobID string, stepIndex int) (*interfaces.AggregationBatch, error) {
	var result *interfaces.AggregationBatch
	err := retryWithBackoff(func() error {
		tx, err := s.db.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var b interfaces.AggregationBatch
		var inputsJSON string
		err = tx.QueryRowContext(ctx, `
			SELECT item_count, total_bytes, inputs_json FROM aggregation_batches
			WHERE job_id = ? AND step_index = ?`, jobID, stepIndex).Scan(&b.ItemCount, &b.TotalBytes, &inputsJSON)
		if errors.Is(err, sql.ErrNoRows) {
			result = nil
			return tx.Commit()
		}
		if err != nil {
			return err
		}
		_ = json.Unmarshal([]byte(inputsJSON), &b.Inputs)
		b.JobID = jobID
		b.StepIndex = stepIndex

		if _, err := tx.ExecContext(ctx, `DELETE FROM aggregation_batches WHERE job_id = ? AND step_index = ?`,
			jobID, stepIndex); err != nil {
			return err
		}

		if b.ItemCount == 0 {
			result = nil
		} else {
			result = &b
		}
		return tx.Commit()
	}, 3, 50*time.Millisecond, s.logger)
	return result, err
}
