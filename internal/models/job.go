package models

import "time"

// JobStatus is the aggregate status of a Job.
type JobStatus string

const (
	JobAccepted            JobStatus = "ACCEPTED"
	JobPreviewing          JobStatus = "PREVIEWING"
	JobRunning             JobStatus = "RUNNING"
	JobRunningWithErrors   JobStatus = "RUNNING_WITH_ERRORS"
	JobCompleteWithErrors  JobStatus = "COMPLETE_WITH_ERRORS"
	JobSuccessful          JobStatus = "SUCCESSFUL"
	JobFailed              JobStatus = "FAILED"
	JobCanceled            JobStatus = "CANCELED"
	JobPaused              JobStatus = "PAUSED"
)

// Terminal reports whether status is one from which no further transition is legal.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSuccessful, JobFailed, JobCanceled, JobCompleteWithErrors:
		return true
	default:
		return false
	}
}

// Job is a user's submitted transformation request, the top-level unit of tracking.
type Job struct {
	JobID            string
	Username         string
	Status           JobStatus
	Message          string
	Progress         int
	NumInputGranules int
	IsAsync          bool
	RequestText      string
	ErrorCount       int
	IgnoreErrors     bool
	MaxErrors        int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// JobLink is one output link attached to a Job, append-only within the job.
type JobLink struct {
	ID       int64
	JobID    string
	Href     string
	Rel      string
	Type     string
	Title    string
	Bbox     string // serialized, optional
	Temporal string // serialized, optional
}
