// Package updateprocessor implements component D (spec §4.3): the
// transactional pipeline that applies a worker's reported WorkItemUpdate to
// the owning Job, spawning downstream work and advancing progress.
package updateprocessor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/geowork/internal/interfaces"
	"github.com/ternarybob/geowork/internal/models"
)

// Processor applies WorkItemUpdates, one DB transaction per item, per the
// pipeline in spec §4.3. It is the most delicate component of the core:
// every step here is idempotence-sensitive.
type Processor struct {
	jobs     interfaces.JobStorage
	steps    interfaces.WorkflowStepStorage
	items    interfaces.WorkItemStorage
	userWork interfaces.UserWorkStorage
	agg      *aggregator
	queues   interfaces.QueueFactory
	logger   arbor.ILogger

	maxErrorsForJob int
}

func New(
	jobs interfaces.JobStorage,
	steps interfaces.WorkflowStepStorage,
	items interfaces.WorkItemStorage,
	userWork interfaces.UserWorkStorage,
	batches interfaces.AggregationBatchStorage,
	queues interfaces.QueueFactory,
	logger arbor.ILogger,
	maxErrorsForJob int,
) *Processor {
	return &Processor{
		jobs:            jobs,
		steps:           steps,
		items:           items,
		userWork:        userWork,
		agg:             newAggregator(batches),
		queues:          queues,
		logger:          logger,
		maxErrorsForJob: maxErrorsForJob,
	}
}

// ProcessBatch groups updates by their owning jobID and processes each group
// sequentially; groups for distinct jobs don't interfere and run concurrently
// (spec §4.3 Batching).
func (p *Processor) ProcessBatch(ctx context.Context, updates []models.WorkItemUpdate) error {
	byJob := make(map[string][]models.WorkItemUpdate)
	order := make([]string, 0)
	for _, u := range updates {
		jobID := ""
		if item, err := p.items.GetWorkItem(ctx, u.WorkItemID); err == nil {
			jobID = item.JobID
		}
		if _, ok := byJob[jobID]; !ok {
			order = append(order, jobID)
		}
		byJob[jobID] = append(byJob[jobID], u)
	}

	done := make(chan struct{}, len(order))
	for _, key := range order {
		group := byJob[key]
		go func(group []models.WorkItemUpdate) {
			for _, u := range group {
				if err := p.Process(ctx, u); err != nil {
					p.logger.Warn().Err(err).Int64("work_item_id", u.WorkItemID).Msg("update processing failed")
				}
			}
			done <- struct{}{}
		}(group)
	}
	for range order {
		<-done
	}
	return nil
}

// Process applies a single WorkItemUpdate end to end (spec §4.3 pipeline).
func (p *Processor) Process(ctx context.Context, update models.WorkItemUpdate) error {
	item, err := p.items.GetWorkItem(ctx, update.WorkItemID)
	if err != nil {
		p.logger.Info().Int64("work_item_id", update.WorkItemID).Msg("update for unknown work item dropped")
		return nil
	}

	// Step 1: idempotence / drop rules.
	if item.Status.Terminal() {
		if !update.Status.Terminal() {
			p.logger.Info().Int64("work_item_id", item.ID).Str("status", string(item.Status)).
				Msg("non-terminal update for terminal item dropped")
			return nil
		}
		if update.Status == item.Status {
			return nil // retried terminal update, no-op success
		}
		p.logger.Warn().Int64("work_item_id", item.ID).Str("stored", string(item.Status)).
			Str("incoming", string(update.Status)).Msg("conflicting update for terminal item rejected")
		return fmt.Errorf("work item %d: %w", item.ID, ErrConflict)
	}

	job, err := p.jobs.GetJob(ctx, item.JobID)
	if err != nil {
		return err
	}

	// Step 2: a CANCELED job forces its items CANCELED regardless of the
	// incoming status.
	if job.Status == models.JobCanceled {
		p.decrementCounter(ctx, *item)
		return p.items.UpdateWorkItemStatus(ctx, item.ID, models.ItemCanceled, "")
	}

	// Step 3: rebalance the UserWork counter the item was occupying.
	p.decrementCounter(ctx, *item)

	// Step 4: write the new status (never overwrites a terminal one; the
	// storage layer enforces that).
	if err := p.items.SetWorkItemOutcome(ctx, item.ID, update.Status, update.ErrorMessage,
		update.Results, update.OutputItemSizes, update.ScrollID); err != nil {
		return err
	}

	var spawnedAny bool
	var spawnedServiceIDs []string

	switch update.Status {
	case models.ItemSuccessful:
		spawned, serviceIDs, err := p.handleSuccess(ctx, *item, update)
		if err != nil {
			return err
		}
		spawnedAny = spawned
		spawnedServiceIDs = serviceIDs
	case models.ItemFailed:
		if err := p.handleFailure(ctx, job, *item, update); err != nil {
			return err
		}
	}

	if err := p.recomputeProgressAndCompletion(ctx, item.JobID); err != nil {
		return err
	}

	if spawnedAny {
		for _, sid := range spawnedServiceIDs {
			p.sendScheduleRequest(ctx, sid)
		}
	}
	return nil
}

func (p *Processor) decrementCounter(ctx context.Context, item models.WorkItem) {
	var err error
	switch item.Status {
	case models.ItemRunning:
		err = p.userWork.DecrementRunning(ctx, item.JobID, item.ServiceID, "")
	case models.ItemReady:
		err = p.userWork.DecrementReady(ctx, item.JobID, item.ServiceID, "")
	default:
		return
	}
	if err != nil {
		p.logger.Warn().Err(err).Int64("work_item_id", item.ID).Msg("failed to rebalance user-work counter")
	}
}

// handleSuccess implements spec §4.3 step 5.
func (p *Processor) handleSuccess(ctx context.Context, item models.WorkItem, update models.WorkItemUpdate) (spawned bool, serviceIDs []string, err error) {
	allSteps, err := p.steps.ListSteps(ctx, item.JobID)
	if err != nil {
		return false, nil, err
	}
	byIndex := make(map[int]models.WorkflowStep, len(allSteps))
	maxIndex := 0
	for _, st := range allSteps {
		byIndex[st.StepIndex] = st
		if st.StepIndex > maxIndex {
			maxIndex = st.StepIndex
		}
	}
	curStep, ok := byIndex[item.WorkflowStepIndex]
	if !ok {
		return false, nil, fmt.Errorf("work item %d: %w", item.ID, ErrOperationMissing)
	}

	if item.WorkflowStepIndex == maxIndex {
		for _, result := range update.Results {
			if err := p.jobs.AddJobLink(ctx, models.JobLink{
				JobID: item.JobID,
				Href:  result,
				Rel:   "data",
				Type:  "application/octet-stream",
			}); err != nil {
				return false, nil, err
			}
		}
		return false, nil, nil
	}

	nextStep, ok := byIndex[item.WorkflowStepIndex+1]
	if !ok {
		return false, nil, fmt.Errorf("work item %d: %w", item.ID, ErrOperationMissing)
	}

	sizes := update.OutputItemSizes
	for i, result := range update.Results {
		var size int64
		if i < len(sizes) {
			size = sizes[i]
		}

		if nextStep.HasAggregatedOutput {
			catalog, err := p.agg.addInput(ctx, nextStep, result, size)
			if err != nil {
				return false, nil, err
			}
			if catalog == "" {
				continue // absorbed into the open batch, no item emitted yet
			}
			if err := p.spawnReady(ctx, nextStep, catalog, ""); err != nil {
				return false, nil, err
			}
		} else {
			if err := p.spawnReady(ctx, nextStep, result, ""); err != nil {
				return false, nil, err
			}
		}
		spawned = true
		serviceIDs = append(serviceIDs, nextStep.ServiceID)
	}

	// Seal a trailing partial batch once curStep has fully drained (spec
	// §4.4 rule b): the batch limits alone never flush the last, short
	// batch, so it has to be forced out here.
	if nextStep.HasAggregatedOutput && curStep.WorkItemCount > 0 {
		successfulAtCurStep, err := p.items.CountByStatus(ctx, item.JobID, curStep.StepIndex, models.ItemSuccessful)
		if err != nil {
			return spawned, serviceIDs, err
		}
		if successfulAtCurStep >= curStep.WorkItemCount {
			outstanding, err := p.items.CountNonTerminalForStep(ctx, item.JobID, curStep.StepIndex)
			if err != nil {
				return spawned, serviceIDs, err
			}
			if outstanding == 0 {
				catalog, err := p.agg.sealTrailing(ctx, nextStep)
				if err != nil {
					return spawned, serviceIDs, err
				}
				if catalog != "" {
					if err := p.spawnReady(ctx, nextStep, catalog, ""); err != nil {
						return spawned, serviceIDs, err
					}
					spawned = true
					serviceIDs = append(serviceIDs, nextStep.ServiceID)
				}
			}
		}
	}

	// Discovery continuation (spec §4.3 step 5b): re-spawn on the CURRENT
	// step with the same scrollID until the next step has enough spawned.
	if curStep.ServiceID == models.QueryCMRServiceID && update.ScrollID != "" {
		spawnedCount, err := p.items.CountDownstreamSpawned(ctx, item.JobID, nextStep.StepIndex)
		if err != nil {
			return spawned, serviceIDs, err
		}
		if spawnedCount < nextStep.WorkItemCount {
			if err := p.spawnReady(ctx, curStep, "", update.ScrollID); err != nil {
				return spawned, serviceIDs, err
			}
			spawned = true
			serviceIDs = append(serviceIDs, curStep.ServiceID)
		}
	}

	return spawned, serviceIDs, nil
}

func (p *Processor) spawnReady(ctx context.Context, step models.WorkflowStep, stacCatalogLocation, scrollID string) error {
	_, err := p.items.CreateWorkItem(ctx, &models.WorkItem{
		JobID:               step.JobID,
		ServiceID:           step.ServiceID,
		WorkflowStepIndex:   step.StepIndex,
		Status:              models.ItemReady,
		StacCatalogLocation: stacCatalogLocation,
		ScrollID:            scrollID,
	})
	if err != nil {
		return err
	}
	return p.userWork.IncrementReady(ctx, step.JobID, step.ServiceID, "")
}

// handleFailure implements spec §4.3 step 6.
func (p *Processor) handleFailure(ctx context.Context, job *models.Job, item models.WorkItem, update models.WorkItemUpdate) error {
	count, err := p.jobs.IncrementJobErrorCount(ctx, job.JobID)
	if err != nil {
		return err
	}

	maxErrors := p.maxErrorsForJob
	if job.MaxErrors > 0 {
		maxErrors = job.MaxErrors
	}

	if job.IgnoreErrors && count < maxErrors {
		return p.jobs.UpdateJobStatus(ctx, job.JobID, models.JobRunningWithErrors, "")
	}

	if err := p.jobs.UpdateJobStatus(ctx, job.JobID, models.JobFailed, update.ErrorMessage); err != nil {
		return err
	}
	_, err = CancelJobItems(ctx, p.items, p.userWork, job.JobID)
	return err
}

// recomputeProgressAndCompletion implements spec §4.3 steps 7 and 8.
func (p *Processor) recomputeProgressAndCompletion(ctx context.Context, jobID string) error {
	job, err := p.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	steps, err := p.steps.ListSteps(ctx, jobID)
	if err != nil || len(steps) == 0 {
		return err
	}
	lastStep := steps[0]
	for _, st := range steps {
		if st.StepIndex > lastStep.StepIndex {
			lastStep = st
		}
	}

	successful, err := p.items.CountByStatus(ctx, jobID, lastStep.StepIndex, models.ItemSuccessful)
	if err != nil {
		return err
	}

	total := lastStep.WorkItemCount
	progress := 0
	if total > 0 {
		progress = int(math.Floor(100 * float64(successful) / float64(total)))
		if progress > 99 {
			progress = 99
		}
		if progress < 0 {
			progress = 0
		}
	}

	if total > 0 && successful == total {
		outstanding, err := p.items.HasOutstandingItems(ctx, jobID, lastStep.StepIndex)
		if err != nil {
			return err
		}
		if !outstanding {
			final := models.JobSuccessful
			if job.ErrorCount > 0 {
				final = models.JobCompleteWithErrors
			}
			if err := p.jobs.UpdateJobStatus(ctx, jobID, final, ""); err != nil {
				return err
			}
			return p.jobs.UpdateJobProgress(ctx, jobID, 100)
		}
	}

	return p.jobs.UpdateJobProgress(ctx, jobID, progress)
}

func (p *Processor) sendScheduleRequest(ctx context.Context, serviceID string) {
	body, _ := json.Marshal(struct {
		ServiceID string `json:"service_id"`
	}{ServiceID: serviceID})
	if err := p.queues.SchedulerQueue().SendMessage(ctx, string(body), serviceID); err != nil {
		p.logger.Warn().Err(err).Str("service_id", serviceID).Msg("failed to post schedule request")
	}
}

// CancelJobItems cancels all non-terminal WorkItems for jobID and zeroes its
// UserWork rows, the mechanics shared by a FAILED job (step 6b) and an
// explicit CANCEL event (spec §4.8).
func CancelJobItems(ctx context.Context, items interfaces.WorkItemStorage, userWork interfaces.UserWorkStorage, jobID string) (int, error) {
	n, err := items.CancelNonTerminalForJob(ctx, jobID)
	if err != nil {
		return n, err
	}
	return n, userWork.ZeroForJob(ctx, jobID)
}
