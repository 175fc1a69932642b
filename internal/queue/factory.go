package queue

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/geowork/internal/interfaces"
)

// Factory resolves named service queues and the scheduler/update queues.
// Backed by goqite when a *sql.DB is supplied, or by in-memory queues
// otherwise (spec §4.1: "an in-memory queue (for tests) and a broker-backed
// queue... are both valid").
type Factory struct {
	db                *sql.DB
	logger            arbor.ILogger
	visibilityTimeout time.Duration
	maxReceive        int

	serviceQueues map[string]interfaces.Queue
	schedulerQ    interfaces.Queue
	updateQ       interfaces.Queue
}

// NewFactory creates a queue factory. db may be nil, in which case
// ServiceQueue/SchedulerQueue/UpdateQueue return in-memory queues.
func NewFactory(db *sql.DB, visibilityTimeout time.Duration, maxReceive int, logger arbor.ILogger) *Factory {
	return &Factory{
		db:                db,
		logger:            logger,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
		serviceQueues:     make(map[string]interfaces.Queue),
	}
}

func (f *Factory) ServiceQueue(serviceID string) interfaces.Queue {
	if q, ok := f.serviceQueues[serviceID]; ok {
		return q
	}
	q := f.newQueue(fmt.Sprintf("service:%s", serviceID))
	f.serviceQueues[serviceID] = q
	return q
}

func (f *Factory) SchedulerQueue() interfaces.Queue {
	if f.schedulerQ == nil {
		f.schedulerQ = f.newQueue("scheduler")
	}
	return f.schedulerQ
}

func (f *Factory) UpdateQueue() interfaces.Queue {
	if f.updateQ == nil {
		f.updateQ = f.newQueue("work-item-updates")
	}
	return f.updateQ
}

func (f *Factory) newQueue(name string) interfaces.Queue {
	if f.db == nil {
		return NewMemoryQueue(f.visibilityTimeout)
	}
	q, err := NewGoqiteQueue(f.db, name, f.visibilityTimeout, f.maxReceive, f.logger)
	if err != nil {
		f.logger.Error().Err(err).Str("queue", name).Msg("failed to open broker queue, falling back to in-memory")
		return NewMemoryQueue(f.visibilityTimeout)
	}
	return q
}
