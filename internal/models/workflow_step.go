package models

// WorkflowStep is one stage of the chain applied to a Job; tied to a specific service.
// (jobID, stepIndex) identifies it within a Job. stepIndex starts at 1.
type WorkflowStep struct {
	JobID               string
	StepIndex           int
	ServiceID           string
	Operation           string // serialized operation template
	WorkItemCount       int    // expected SUCCESSFUL items for this step once upstream work completes
	HasAggregatedOutput bool
	BatchSize           int   // 0 = unbounded item count
	MaxBatchSizeBytes   int64 // 0 = use a large default cap
	IsSequential        bool
}

// DefaultMaxBatchSizeBytes is the global cap used when a step does not set MaxBatchSizeBytes.
const DefaultMaxBatchSizeBytes int64 = 2 << 30 // 2 GiB

// EffectiveMaxBatchSizeBytes returns the step's configured cap, or the global default.
func (s WorkflowStep) EffectiveMaxBatchSizeBytes() int64 {
	if s.MaxBatchSizeBytes > 0 {
		return s.MaxBatchSizeBytes
	}
	return DefaultMaxBatchSizeBytes
}

// QueryCMRServiceID is the well-known serviceID of the granule-discovery step.
// A WorkflowStep with this serviceID participates in scroll-based continuation (spec §4.3.5b).
const QueryCMRServiceID = "harmony/query-cmr"
