package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/geowork/internal/interfaces"
	"github.com/ternarybob/geowork/internal/models"
)

// Scheduler implements component C (spec §4.2): drains the scheduler queue,
// groups requests by serviceID, decides a work size per service, fairly
// pulls ready items from storage, and dispatches them to each service queue.
type Scheduler struct {
	queues        interfaces.QueueFactory
	workItems     interfaces.WorkItemStorage
	selector      *FairSelector
	pods          PodCounter
	logger        arbor.ILogger

	scaleFactor             float64
	fastScaleFactor         float64
	schedulers              int
	drainBatchSize          int
	maxGetMessageTries      int
	selectorBatchSize       int
	maxWorkItemsOnUpdateQueue int
}

// Config bundles the tunables read from env vars (spec §6).
type Config struct {
	ScaleFactor               float64
	FastScaleFactor           float64
	Schedulers                int
	DrainBatchSize            int
	MaxGetMessageTries        int
	SelectorBatchSize         int
	MaxWorkItemsOnUpdateQueue int
}

func New(queues interfaces.QueueFactory, workItems interfaces.WorkItemStorage, userWork interfaces.UserWorkStorage, pods PodCounter, logger arbor.ILogger, cfg Config) *Scheduler {
	return &Scheduler{
		queues:                    queues,
		workItems:                 workItems,
		selector:                  NewFairSelector(userWork, logger, nil),
		pods:                      pods,
		logger:                    logger,
		scaleFactor:               cfg.ScaleFactor,
		fastScaleFactor:           cfg.FastScaleFactor,
		schedulers:                cfg.Schedulers,
		drainBatchSize:            cfg.DrainBatchSize,
		maxGetMessageTries:        cfg.MaxGetMessageTries,
		selectorBatchSize:         cfg.SelectorBatchSize,
		maxWorkItemsOnUpdateQueue: cfg.MaxWorkItemsOnUpdateQueue,
	}
}

// RunOnce executes a single scheduling cycle. Run calls this in a loop until
// ctx is canceled.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	if s.maxWorkItemsOnUpdateQueue >= 0 {
		depth, err := s.queues.UpdateQueue().GetApproximateNumberOfMessages(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to read update-queue depth, scheduling anyway")
		} else if depth > s.maxWorkItemsOnUpdateQueue {
			s.logger.Info().Int("depth", depth).Int("threshold", s.maxWorkItemsOnUpdateQueue).
				Msg("update queue over threshold, deferring scheduling")
			return nil
		}
	}

	received, err := s.drainSchedulerQueue(ctx)
	if err != nil {
		return err
	}
	s.logger.Debug().Dur("drain_elapsed", time.Since(start)).Int("messages", countMessages(received)).
		Msg("scheduler queue drained")

	for serviceID, n := range received {
		if err := s.dispatchFor(ctx, serviceID, n); err != nil {
			s.logger.Warn().Err(err).Str("service_id", serviceID).Msg("dispatch failed")
		}
	}
	return nil
}

func countMessages(byService map[string]int) int {
	total := 0
	for _, n := range byService {
		total += n
	}
	return total
}

// drainSchedulerQueue long-polls once, then short-polls until empty or the
// drain cap is hit, returning the count of schedule-request messages
// received per serviceID (spec §4.2).
func (s *Scheduler) drainSchedulerQueue(ctx context.Context) (map[string]int, error) {
	byService := make(map[string]int)
	q := s.queues.SchedulerQueue()

	total := 0
	tries := 0
	waitSeconds := 5
	for total < s.drainBatchSize && tries < s.maxGetMessageTries {
		tries++
		msgs, err := q.GetMessages(ctx, s.drainBatchSize-total, waitSeconds)
		if err != nil {
			return byService, err
		}
		waitSeconds = 0 // only the first round long-polls
		if len(msgs) == 0 {
			break
		}

		receipts := make([]string, 0, len(msgs))
		for _, m := range msgs {
			var req struct {
				ServiceID string `json:"service_id"`
			}
			if err := json.Unmarshal([]byte(m.Body), &req); err != nil {
				s.logger.Warn().Err(err).Msg("dropping malformed schedule request")
				receipts = append(receipts, m.Receipt)
				continue
			}
			byService[req.ServiceID]++
			receipts = append(receipts, m.Receipt)
			total++
		}
		if err := q.DeleteMessages(ctx, receipts); err != nil {
			s.logger.Warn().Err(err).Msg("failed to delete drained schedule requests")
		}
	}
	return byService, nil
}

func (s *Scheduler) dispatchFor(ctx context.Context, serviceID string, received int) error {
	svcQueue := s.queues.ServiceQueue(serviceID)

	pods, err := s.pods.PodCount(ctx, serviceID)
	if err != nil {
		return err
	}
	queued, err := svcQueue.GetApproximateNumberOfMessages(ctx)
	if err != nil {
		return err
	}

	scaleFactor := s.scaleFactor
	if serviceID == models.QueryCMRServiceID {
		scaleFactor = s.fastScaleFactor
	}

	batchStart := time.Now()
	target := CalculateNumItemsToQueue(pods, s.schedulers, queued, scaleFactor, received)

	dispatched := 0
	for dispatched < target {
		chunk := s.selectorBatchSize
		if remaining := target - dispatched; remaining < chunk {
			chunk = remaining
		}
		ids, err := s.selector.Select(ctx, serviceID, chunk)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			item, err := s.workItems.GetWorkItem(ctx, id)
			if err != nil {
				s.logger.Warn().Err(err).Int64("work_item_id", id).Msg("failed to load flipped work item")
				continue
			}
			body, _ := json.Marshal(item)
			if err := svcQueue.SendMessage(ctx, string(body), item.JobID); err != nil {
				s.logger.Warn().Err(err).Int64("work_item_id", id).Msg("failed to enqueue work item")
				continue
			}
		}
		dispatched += len(ids)
	}

	s.logger.Debug().Str("service_id", serviceID).Int("pods", pods).Int("queued", queued).
		Int("target", target).Int("dispatched", dispatched).Dur("elapsed", time.Since(batchStart)).
		Msg("dispatch cycle complete")
	return nil
}

// Run loops RunOnce until ctx is canceled, yielding cooperatively between cycles.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("scheduler cycle failed")
			}
		}
	}
}
