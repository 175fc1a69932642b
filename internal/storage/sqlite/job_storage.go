package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/geowork/internal/interfaces"
	"github.com/ternarybob/geowork/internal/models"
)

// ErrJobNotFound is returned when a job is not found in the database.
var ErrJobNotFound = errors.New("job not found")

// JobStorage implements interfaces.JobStorage over SQLite.
type JobStorage struct {
	db     *DB
	logger arbor.ILogger
}

func NewJobStorage(db *DB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{db: db, logger: logger}
}

func (s *JobStorage) CreateJob(ctx context.Context, job *models.Job) error {
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now

	return retryWithBackoff(func() error {
		_, err := s.db.db.ExecContext(ctx, `
			INSERT INTO jobs (job_id, username, status, message, progress, num_input_granules,
				is_async, request_text, error_count, ignore_errors, max_errors, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.JobID, job.Username, string(job.Status), job.Message, job.Progress, job.NumInputGranules,
			boolToInt(job.IsAsync), job.RequestText, job.ErrorCount, boolToInt(job.IgnoreErrors), job.MaxErrors,
			now.Unix(), now.Unix())
		return err
	}, 3, 100*time.Millisecond, s.logger)
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT job_id, username, status, message, progress, num_input_granules, is_async,
			request_text, error_count, ignore_errors, max_errors, created_at, updated_at
		FROM jobs WHERE job_id = ?`, jobID)

	var j models.Job
	var status string
	var isAsync, ignoreErrors int
	var createdAt, updatedAt int64
	err := row.Scan(&j.JobID, &j.Username, &status, &j.Message, &j.Progress, &j.NumInputGranules,
		&isAsync, &j.RequestText, &j.ErrorCount, &ignoreErrors, &j.MaxErrors, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	j.Status = models.JobStatus(status)
	j.IsAsync = isAsync != 0
	j.IgnoreErrors = ignoreErrors != 0
	j.CreatedAt = time.Unix(createdAt, 0)
	j.UpdatedAt = time.Unix(updatedAt, 0)
	return &j, nil
}

// UpdateJobStatus writes a new status and message. It refuses to overwrite an
// already-terminal status (spec §3 "once terminal, status may not be reassigned").
func (s *JobStorage) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, message string) error {
	return retryWithBackoff(func() error {
		tx, err := s.db.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var current string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE job_id = ?`, jobID).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrJobNotFound
			}
			return err
		}
		if models.JobStatus(current).Terminal() {
			s.logger.Info().Str("job_id", jobID).Str("current", current).Str("requested", string(status)).
				Msg("ignoring status update for already-terminal job")
			return tx.Commit()
		}

		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = ?, message = ?, updated_at = ? WHERE job_id = ?`,
			string(status), message, time.Now().Unix(), jobID); err != nil {
			return err
		}
		return tx.Commit()
	}, 3, 100*time.Millisecond, s.logger)
}

// UpdateJobProgress sets progress, clamped to [0,99] while the job is
// non-terminal and to [0,100] once its status is terminal, so a caller marks
// a job terminal first and then stamps 100 (spec §4.3 step 7/8).
func (s *JobStorage) UpdateJobProgress(ctx context.Context, jobID string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	return retryWithBackoff(func() error {
		_, err := s.db.db.ExecContext(ctx, `
			UPDATE jobs SET progress = CASE
				WHEN status IN ('SUCCESSFUL','FAILED','CANCELED','COMPLETE_WITH_ERRORS') THEN MIN(?, 100)
				ELSE MIN(?, 99)
			END, updated_at = ? WHERE job_id = ?`, progress, progress, time.Now().Unix(), jobID)
		return err
	}, 3, 100*time.Millisecond, s.logger)
}

func (s *JobStorage) IncrementJobErrorCount(ctx context.Context, jobID string) (int, error) {
	var count int
	err := retryWithBackoff(func() error {
		tx, err := s.db.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET error_count = error_count + 1, updated_at = ? WHERE job_id = ?`,
			time.Now().Unix(), jobID); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `SELECT error_count FROM jobs WHERE job_id = ?`, jobID).Scan(&count); err != nil {
			return err
		}
		return tx.Commit()
	}, 3, 100*time.Millisecond, s.logger)
	return count, err
}

func (s *JobStorage) AddJobLink(ctx context.Context, link models.JobLink) error {
	return retryWithBackoff(func() error {
		_, err := s.db.db.ExecContext(ctx, `
			INSERT INTO job_links (job_id, href, rel, type, title, bbox, temporal)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			link.JobID, link.Href, link.Rel, link.Type, link.Title, link.Bbox, link.Temporal)
		return err
	}, 3, 100*time.Millisecond, s.logger)
}

func (s *JobStorage) AddJobLog(ctx context.Context, jobID string, level string, message string) error {
	return retryWithBackoff(func() error {
		_, err := s.db.db.ExecContext(ctx, `
			INSERT INTO job_logs (job_id, level, message, created_at) VALUES (?, ?, ?, ?)`,
			jobID, level, message, time.Now().Unix())
		return err
	}, 3, 100*time.Millisecond, s.logger)
}

// ListJobLogs returns the most recent log lines for jobID, oldest first.
func (s *JobStorage) ListJobLogs(ctx context.Context, jobID string, limit int) ([]interfaces.JobLogEntry, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT level, message, created_at FROM job_logs
		WHERE job_id = ? ORDER BY id DESC LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []interfaces.JobLogEntry
	for rows.Next() {
		var e interfaces.JobLogEntry
		var createdAt int64
		if err := rows.Scan(&e.Level, &e.Message, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reverse to oldest-first
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// ListJobLinks returns all output links attached to jobID, in insertion order.
func (s *JobStorage) ListJobLinks(ctx context.Context, jobID string) ([]models.JobLink, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT id, job_id, href, rel, type, title, bbox, temporal FROM job_links
		WHERE job_id = ? ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []models.JobLink
	for rows.Next() {
		var l models.JobLink
		if err := rows.Scan(&l.ID, &l.JobID, &l.Href, &l.Rel, &l.Type, &l.Title, &l.Bbox, &l.Temporal); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s *JobStorage) ListTerminalJobsOlderThan(ctx context.Context, age time.Duration, limit int) ([]string, error) {
	cutoff := time.Now().Add(-age).Unix()
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT job_id FROM jobs
		WHERE status IN ('SUCCESSFUL','FAILED','CANCELED','COMPLETE_WITH_ERRORS')
		AND updated_at < ?
		ORDER BY job_id
		LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListRecentJobs returns the most recently updated jobs, newest first, for
// the operator-facing job listing (SUPPLEMENTED FEATURES: job listing).
func (s *JobStorage) ListRecentJobs(ctx context.Context, limit int) ([]models.Job, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT job_id, username, status, message, progress, num_input_granules, is_async,
			request_text, error_count, ignore_errors, max_errors, created_at, updated_at
		FROM jobs ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		var j models.Job
		var status string
		var isAsync, ignoreErrors int
		var createdAt, updatedAt int64
		if err := rows.Scan(&j.JobID, &j.Username, &status, &j.Message, &j.Progress, &j.NumInputGranules,
			&isAsync, &j.RequestText, &j.ErrorCount, &ignoreErrors, &j.MaxErrors, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		j.Status = models.JobStatus(status)
		j.IsAsync = isAsync != 0
		j.IgnoreErrors = ignoreErrors != 0
		j.CreatedAt = time.Unix(createdAt, 0)
		j.UpdatedAt = time.Unix(updatedAt, 0)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
