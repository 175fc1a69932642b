package scheduler

import (
	"context"
	"math/rand"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/geowork/internal/interfaces"
)

// FairSelector implements the "fair selection from the database" algorithm of
// spec §4.2: pick up to n distinct jobs with ready work for serviceID, shuffle
// them so head-of-line jobs don't starve the tail of a batch, then hand each
// job its proportional share and flip READY items to RUNNING.
type FairSelector struct {
	userWork interfaces.UserWorkStorage
	logger   arbor.ILogger
	rand     *rand.Rand
}

func NewFairSelector(userWork interfaces.UserWorkStorage, logger arbor.ILogger, rnd *rand.Rand) *FairSelector {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(1))
	}
	return &FairSelector{userWork: userWork, logger: logger, rand: rnd}
}

// Select pulls up to batchSize items across jobs with ready work for
// serviceID, flips them RUNNING, and returns their IDs.
func (f *FairSelector) Select(ctx context.Context, serviceID string, batchSize int) ([]int64, error) {
	if batchSize <= 0 {
		return nil, nil
	}

	jobIDs, err := f.userWork.SelectFairJobs(ctx, serviceID, batchSize)
	if err != nil {
		return nil, err
	}
	if len(jobIDs) == 0 {
		return nil, nil
	}

	// Fisher-Yates shuffle to avoid tail jobs being starved of the last slots.
	for i := len(jobIDs) - 1; i > 0; i-- {
		j := f.rand.Intn(i + 1)
		jobIDs[i], jobIDs[j] = jobIDs[j], jobIDs[i]
	}

	var selected []int64
	remainingBatch := batchSize
	remainingJobs := len(jobIDs)

	for _, jobID := range jobIDs {
		if remainingBatch <= 0 {
			break
		}
		share := ceilDiv(remainingBatch, remainingJobs)

		ids, err := f.userWork.FlipReadyToRunning(ctx, jobID, serviceID, share)
		if err != nil {
			return selected, err
		}

		if len(ids) == 0 {
			// ready_count > 0 but no READY rows actually flipped: counter drift.
			// Reconcile and move on to the next job rather than spinning here.
			if uw, gerr := f.userWork.GetCounts(ctx, jobID, serviceID, ""); gerr == nil && uw != nil && uw.ReadyCount > 0 {
				f.logger.Warn().Str("job_id", jobID).Str("service_id", serviceID).
					Msg("ready_count positive with no READY items, reconciling")
			}
			if err := f.userWork.Reconcile(ctx, jobID, serviceID); err != nil {
				f.logger.Warn().Err(err).Str("job_id", jobID).Msg("reconcile failed")
			}
		}

		selected = append(selected, ids...)
		remainingBatch -= len(ids)
		remainingJobs--
		if remainingJobs <= 0 {
			remainingJobs = 1
		}
	}

	return selected, nil
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}
