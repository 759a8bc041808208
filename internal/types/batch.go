package types

import "time"

// ExecutionMode records how a batch was dispatched
type ExecutionMode string

const (
	ModeSequential ExecutionMode = "sequential"
	ModeBounded    ExecutionMode = "bounded"
)

// FailureKind classifies why a single batch item failed
type FailureKind string

const (
	// FailureValidation means the payload never reached the collaborator
	FailureValidation FailureKind = "validation"
	// FailureRejected means the collaborator answered with success=false
	FailureRejected FailureKind = "rejected"
	// FailureError means the collaborator call returned an error
	FailureError FailureKind = "error"
	// FailurePanic means the collaborator call panicked
	FailurePanic FailureKind = "panic"
)

// SucceededItem records one operation the collaborator accepted
type SucceededItem struct {
	Index    int                    `json:"index"`
	Type     OperationType          `json:"type"`
	Payload  map[string]interface{} `json:"payload"`
	EntityID string                 `json:"entity_id,omitempty"`
	Attempts int                    `json:"attempts"`
}

// FailedItem records one operation that failed, with the error detail
type FailedItem struct {
	Index    int                    `json:"index"`
	Type     OperationType          `json:"type"`
	Payload  map[string]interface{} `json:"payload"`
	Kind     FailureKind            `json:"kind"`
	Error    string                 `json:"error"`
	Errors   []string               `json:"errors,omitempty"`
	Attempts int                    `json:"attempts"`
}

// BatchSummary aggregates counters and timing for a batch
type BatchSummary struct {
	Total       int           `json:"total"`
	Successful  int           `json:"successful"`
	Failed      int           `json:"failed"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
	Mode        ExecutionMode `json:"mode"`
	WindowSizes []int         `json:"window_sizes,omitempty"`
}

// Duration returns the wall time spent on the batch
func (s BatchSummary) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// BatchResult is the aggregated outcome of a batch. The invariant
// len(Successful)+len(Failed) == Summary.Total always holds.
type BatchResult struct {
	ID         string          `json:"id"`
	UserID     UserID          `json:"user_id"`
	Successful []SucceededItem `json:"successful"`
	Failed     []FailedItem    `json:"failed"`
	Summary    BatchSummary    `json:"summary"`
}

// AllSucceeded returns true when no item failed
func (r *BatchResult) AllSucceeded() bool {
	return r != nil && len(r.Failed) == 0
}
