package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ternarybob/geowork/internal/interfaces"
)

// MemoryQueue is an in-process Queue implementation used by tests and by the
// in-memory deployment mode. It honors at-least-once delivery only: a
// received message stays invisible until deleted or the visibility
// timeout lapses, after which it is redelivered.
type MemoryQueue struct {
	mu                sync.Mutex
	visible           []entry
	inflight          map[string]entry
	visibilityTimeout time.Duration
}

type entry struct {
	receipt   string
	body      string
	groupKey  string
	hiddenAt  time.Time
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue(visibilityTimeout time.Duration) *MemoryQueue {
	return &MemoryQueue{
		inflight:          make(map[string]entry),
		visibilityTimeout: visibilityTimeout,
	}
}

func (q *MemoryQueue) SendMessage(_ context.Context, body string, groupKey string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.visible = append(q.visible, entry{receipt: uuid.New().String(), body: body, groupKey: groupKey})
	return nil
}

func (q *MemoryQueue) GetMessages(ctx context.Context, maxN int, waitSeconds int) ([]interfaces.Message, error) {
	deadline := time.Now().Add(time.Duration(waitSeconds) * time.Second)
	var out []interfaces.Message
	for {
		q.mu.Lock()
		q.reapExpiredLocked()
		for len(q.visible) > 0 && len(out) < maxN {
			e := q.visible[0]
			q.visible = q.visible[1:]
			e.hiddenAt = time.Now()
			q.inflight[e.receipt] = e
			out = append(out, interfaces.Message{Body: e.body, Receipt: e.receipt, GroupKey: e.groupKey})
		}
		q.mu.Unlock()

		if len(out) > 0 || time.Now().After(deadline) || waitSeconds <= 0 {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (q *MemoryQueue) reapExpiredLocked() {
	if q.visibilityTimeout <= 0 {
		return
	}
	now := time.Now()
	for receipt, e := range q.inflight {
		if now.Sub(e.hiddenAt) > q.visibilityTimeout {
			delete(q.inflight, receipt)
			q.visible = append(q.visible, e)
		}
	}
}

func (q *MemoryQueue) DeleteMessage(_ context.Context, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, receipt)
	return nil
}

func (q *MemoryQueue) DeleteMessages(ctx context.Context, receipts []string) error {
	for _, r := range receipts {
		if err := q.DeleteMessage(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (q *MemoryQueue) Purge(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.visible = nil
	q.inflight = make(map[string]entry)
	return nil
}

func (q *MemoryQueue) GetApproximateNumberOfMessages(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.visible) + len(q.inflight), nil
}
