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

// ErrUserWorkNotFound is returned when the (jobID, serviceID, username) row is missing.
var ErrUserWorkNotFound = errors.New("user_work row not found")

type UserWorkStorage struct {
	db     *DB
	logger arbor.ILogger
}

func NewUserWorkStorage(db *DB, logger arbor.ILogger) interfaces.UserWorkStorage {
	return &UserWorkStorage{db: db, logger: logger}
}

// SelectFairJobs returns up to n distinct jobIDs with ready_count > 0 for
// serviceID, ordered by last_worked ASC, running_count ASC, excluding PAUSED
// jobs from the selection (spec §4.2 step 1, §4.8 PAUSE).
func (s *UserWorkStorage) SelectFairJobs(ctx context.Context, serviceID string, n int) ([]string, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT uw.job_id FROM user_work uw
		JOIN jobs j ON j.job_id = uw.job_id
		WHERE uw.service_id = ? AND uw.ready_count > 0 AND j.status != 'PAUSED' AND j.status != 'CANCELED'
		ORDER BY uw.last_worked ASC, uw.running_count ASC
		LIMIT ?`, serviceID, n)
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

func (s *UserWorkStorage) GetCounts(ctx context.Context, jobID, serviceID, username string) (*models.UserWork, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT job_id, service_id, username, ready_count, running_count, last_worked
		FROM user_work WHERE job_id = ? AND service_id = ? AND username = ?`, jobID, serviceID, username)

	var uw models.UserWork
	var lastWorked int64
	err := row.Scan(&uw.JobID, &uw.ServiceID, &uw.Username, &uw.ReadyCount, &uw.RunningCount, &lastWorked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserWorkNotFound
	}
	if err != nil {
		return nil, err
	}
	uw.LastWorked = time.Unix(lastWorked, 0)
	return &uw, nil
}

// FlipReadyToRunning selects up to n READY items for (jobID, serviceID),
// flips them to RUNNING, and rebalances the counters, all in one
// transaction on the single shared connection so two schedulers never hand out the same item
// (spec §5: "the fair-selector's item-flip step... so that two schedulers
// never hand out the same item").
func (s *UserWorkStorage) FlipReadyToRunning(ctx context.Context, jobID, serviceID string, n int) ([]int64, error) {
	var ids []int64
	err := retryWithBackoff(func() error {
		ids = nil
		tx, err := s.db.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		rows, err := tx.QueryContext(ctx, `
			SELECT id FROM work_items WHERE job_id = ? AND service_id = ? AND status = 'READY'
			ORDER BY id ASC LIMIT ?`, jobID, serviceID, n)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if len(ids) == 0 {
			return tx.Commit()
		}

		now := time.Now().Unix()
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `
				UPDATE work_items SET status = 'RUNNING', started_at = ?, updated_at = ? WHERE id = ?`,
				now, now, id); err != nil {
				return err
			}
		}

		// Rebalance the counters. The full flipped count is applied to every
		// user_work row for (jobID, serviceID); it is not split per username,
		// so this is exact only when the pair has a single username row.
		if _, err := tx.ExecContext(ctx, `
			UPDATE user_work SET
				ready_count = MAX(0, ready_count - ?),
				running_count = running_count + ?,
				last_worked = ?
			WHERE job_id = ? AND service_id = ?`,
			len(ids), len(ids), now, jobID, serviceID); err != nil {
			return err
		}

		return tx.Commit()
	}, 3, 50*time.Millisecond, s.logger)
	return ids, err
}

func (s *UserWorkStorage) DecrementReady(ctx context.Context, jobID, serviceID, username string) error {
	return s.adjust(ctx, jobID, serviceID, username, "ready_count", -1)
}

func (s *UserWorkStorage) DecrementRunning(ctx context.Context, jobID, serviceID, username string) error {
	return s.adjust(ctx, jobID, serviceID, username, "running_count", -1)
}

func (s *UserWorkStorage) IncrementReady(ctx context.Context, jobID, serviceID, username string) error {
	return s.adjust(ctx, jobID, serviceID, username, "ready_count", 1)
}

func (s *UserWorkStorage) adjust(ctx context.Context, jobID, serviceID, username, column string, delta int) error {
	return retryWithBackoff(func() error {
		tx, err := s.db.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx, `
			UPDATE user_work SET `+column+` = MAX(0, `+column+` + ?) WHERE job_id = ? AND service_id = ? AND username = ?`,
			delta, jobID, serviceID, username)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			readyStart, runningStart := 0, 0
			if column == "ready_count" && delta > 0 {
				readyStart = delta
			}
			if column == "running_count" && delta > 0 {
				runningStart = delta
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO user_work (job_id, service_id, username, ready_count, running_count, last_worked)
				VALUES (?, ?, ?, ?, ?, ?)`, jobID, serviceID, username, readyStart, runningStart, time.Now().Unix()); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, 3, 50*time.Millisecond, s.logger)
}

// Reconcile rescans WorkItems for (jobID, serviceID) and rewrites the
// ready/running counters, guarding against drift (spec §4.2 step 4).
func (s *UserWorkStorage) Reconcile(ctx context.Context, jobID, serviceID string) error {
	return retryWithBackoff(func() error {
		tx, err := s.db.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var ready, running int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM work_items WHERE job_id = ? AND service_id = ? AND status = 'READY'`,
			jobID, serviceID).Scan(&ready); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM work_items WHERE job_id = ? AND service_id = ? AND status = 'RUNNING'`,
			jobID, serviceID).Scan(&running); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE user_work SET ready_count = ?, running_count = ? WHERE job_id = ? AND service_id = ?`,
			ready, running, jobID, serviceID)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 && (ready > 0 || running > 0) {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO user_work (job_id, service_id, username, ready_count, running_count, last_worked)
				VALUES (?, ?, '', ?, ?, ?)`, jobID, serviceID, ready, running, time.Now().Unix()); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, 3, 50*time.Millisecond, s.logger)
}

// ZeroForJob zeroes every user_work row for jobID, used by CANCEL (spec §4.8).
func (s *UserWorkStorage) ZeroForJob(ctx context.Context, jobID string) error {
	return retryWithBackoff(func() error {
		_, err := s.db.db.ExecContext(ctx, `
			UPDATE user_work SET ready_count = 0, running_count = 0 WHERE job_id = ?`, jobID)
		return err
	}, 3, 50*time.Millisecond, s.logger)
}
