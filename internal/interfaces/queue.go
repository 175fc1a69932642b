package interfaces

import "context"

// Message is an opaque queue payload with an advisory group key (spec §4.1).
type Message struct {
	Body     string
	Receipt  string
	GroupKey string
}

// Queue is the uniform surface over pluggable transports (spec §4.1). Implementations
// must not assume delivery semantics stronger than at-least-once.
type Queue interface {
	SendMessage(ctx context.Context, body string, groupKey string) error
	GetMessages(ctx context.Context, maxN int, waitSeconds int) ([]Message, error)
	DeleteMessage(ctx context.Context, receipt string) error
	DeleteMessages(ctx context.Context, receipts []string) error
	Purge(ctx context.Context) error
	GetApproximateNumberOfMessages(ctx context.Context) (int, error)
}

// QueueFactory resolves the named queue (per serviceID, or the scheduler queue).
type QueueFactory interface {
	ServiceQueue(serviceID string) Queue
	SchedulerQueue() Queue
	UpdateQueue() Queue
}
