// Package workreaper implements component G (spec §4.7): periodic batched
// deletion of WorkItems and WorkflowSteps belonging to aged, terminal jobs.
// Job records themselves are retained so history stays queryable.
package workreaper

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/geowork/internal/interfaces"
)

// Reaper periodically garbage-collects terminal jobs' child rows.
type Reaper struct {
	jobs  interfaces.JobStorage
	steps interfaces.WorkflowStepStorage
	items interfaces.WorkItemStorage
	logger arbor.ILogger

	reapableAge time.Duration
	batchSize   int
}

func New(jobs interfaces.JobStorage, steps interfaces.WorkflowStepStorage, items interfaces.WorkItemStorage, logger arbor.ILogger, reapableAge time.Duration, batchSize int) *Reaper {
	return &Reaper{jobs: jobs, steps: steps, items: items, logger: logger, reapableAge: reapableAge, batchSize: batchSize}
}

// RunOnce executes a single reaper pass (spec §4.7).
func (r *Reaper) RunOnce(ctx context.Context) error {
	jobIDs, err := r.jobs.ListTerminalJobsOlderThan(ctx, r.reapableAge, 100)
	if err != nil {
		return err
	}

	for _, jobID := range jobIDs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := r.reapJob(ctx, jobID); err != nil {
			r.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to reap job")
		}
	}
	return nil
}

// reapJob deletes a job's WorkItems, then its WorkflowSteps, in
// r.batchSize-sized chunks ordered by ascending id, bounding each
// transaction's size (spec §4.7 "Deletion order: items first, then steps").
func (r *Reaper) reapJob(ctx context.Context, jobID string) error {
	totalItems := 0
	for {
		n, err := r.items.DeleteItems(ctx, jobID, r.batchSize)
		if err != nil {
			return err
		}
		totalItems += n
		if n == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	totalSteps := 0
	for {
		n, err := r.steps.DeleteSteps(ctx, jobID, r.batchSize)
		if err != nil {
			return err
		}
		totalSteps += n
		if n == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	if totalItems > 0 || totalSteps > 0 {
		r.logger.Info().Str("job_id", jobID).Int("items_deleted", totalItems).Int("steps_deleted", totalSteps).
			Msg("reaped terminal job")
	}
	return nil
}

// Run loops RunOnce every period until ctx is canceled.
func (r *Reaper) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error().Err(err).Msg("work reaper cycle failed")
			}
		}
	}
}
