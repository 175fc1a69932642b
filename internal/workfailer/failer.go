// Package workfailer implements component F (spec §4.6): a periodic loop
// that detects stalled RUNNING work items and synthesizes FAILED updates for
// them, handing each to the update processor.
package workfailer

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/geowork/internal/interfaces"
	"github.com/ternarybob/geowork/internal/models"
	"github.com/ternarybob/geowork/internal/updateprocessor"
)

const durationSampleLimit = 50

// Failer periodically scans for stalled RUNNING items and fails them.
type Failer struct {
	items     interfaces.WorkItemStorage
	processor *updateprocessor.Processor
	logger    arbor.ILogger

	failableAge time.Duration
}

func New(items interfaces.WorkItemStorage, processor *updateprocessor.Processor, logger arbor.ILogger, failableAge time.Duration) *Failer {
	return &Failer{items: items, processor: processor, logger: logger, failableAge: failableAge}
}

// RunOnce executes a single failer pass (spec §4.6 steps 1-4).
func (f *Failer) RunOnce(ctx context.Context) error {
	stale, err := f.items.ListRunningOlderThan(ctx, f.failableAge,
		[]models.JobStatus{models.JobRunning, models.JobRunningWithErrors})
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	byJob := make(map[string][]models.WorkItem)
	order := make([]string, 0)
	for _, item := range stale {
		if _, ok := byJob[item.JobID]; !ok {
			order = append(order, item.JobID)
		}
		byJob[item.JobID] = append(byJob[item.JobID], item)
	}

	for _, jobID := range order {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		f.failBatch(ctx, byJob[jobID])
	}
	return nil
}

func (f *Failer) failBatch(ctx context.Context, items []models.WorkItem) {
	updates := make([]models.WorkItemUpdate, 0, len(items))
	for _, item := range items {
		durations, err := f.items.ListSuccessfulDurations(ctx, item.JobID, item.ServiceID, item.WorkflowStepIndex, durationSampleLimit)
		if err != nil {
			f.logger.Warn().Err(err).Int64("work_item_id", item.ID).Msg("failed to load duration history, skipping")
			continue
		}
		threshold := outlierThreshold(durations)
		elapsed := time.Since(item.StartedAt)
		if elapsed <= threshold {
			continue
		}

		f.logger.Info().Int64("work_item_id", item.ID).Dur("elapsed", elapsed).Dur("threshold", threshold).
			Msg("work item exceeded stall threshold, failing")
		updates = append(updates, models.WorkItemUpdate{
			WorkItemID:   item.ID,
			Status:       models.ItemFailed,
			ErrorMessage: fmt.Sprintf("Work item %d exceeded %d ms threshold", item.ID, threshold.Milliseconds()),
		})
	}
	if len(updates) == 0 {
		return
	}
	if err := f.processor.ProcessBatch(ctx, updates); err != nil {
		f.logger.Warn().Err(err).Msg("failer batch processing error")
	}
}

// Run loops RunOnce every period until ctx is canceled.
func (f *Failer) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.RunOnce(ctx); err != nil {
				f.logger.Error().Err(err).Msg("work failer cycle failed")
			}
		}
	}
}
