package models

import "time"

// WorkItemStatus is the lifecycle state of a WorkItem.
type WorkItemStatus string

const (
	ItemReady      WorkItemStatus = "READY"
	ItemQueued     WorkItemStatus = "QUEUED"
	ItemRunning    WorkItemStatus = "RUNNING"
	ItemSuccessful WorkItemStatus = "SUCCESSFUL"
	ItemFailed     WorkItemStatus = "FAILED"
	ItemCanceled   WorkItemStatus = "CANCELED"
	ItemWarning    WorkItemStatus = "WARNING"
)

// Terminal reports whether status is one from which no further transition is legal.
func (s WorkItemStatus) Terminal() bool {
	switch s {
	case ItemSuccessful, ItemFailed, ItemCanceled, ItemWarning:
		return true
	default:
		return false
	}
}

// WorkItem is one atomic unit of work executed by one worker invocation.
type WorkItem struct {
	ID                 int64
	JobID               string
	ServiceID           string
	WorkflowStepIndex   int
	Status              WorkItemStatus
	StacCatalogLocation string
	ScrollID            string // only meaningful for the granule-discovery step
	Results             []string
	ErrorMessage        string
	OutputItemSizes     []int64
	StartedAt           time.Time
	UpdatedAt           time.Time
}

// WorkItemUpdate is the outcome a worker PUTs back for a WorkItem (spec §4.3).
type WorkItemUpdate struct {
	WorkItemID      int64
	Status          WorkItemStatus
	Results         []string
	ErrorMessage    string
	TotalItemsSize  int64
	ScrollID        string
	OutputItemSizes []int64
}

// UserWork is the denormalized per-(job,service,user) cache of ready/running counts
// used for O(1) fair scheduling (spec §3).
type UserWork struct {
	JobID       string
	ServiceID   string
	Username    string
	ReadyCount  int
	RunningCount int
	LastWorked  time.Time
}
