package models

import "time"

// StepStatus is the status of a single execution step
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepRunning    StepStatus = "running"
	StepSucceeded  StepStatus = "succeeded"
	StepFailed     StepStatus = "failed"
	StepRolledBack StepStatus = "rolled_back"
)

// ExecutionOutcome is the final outcome of an execution record
type ExecutionOutcome string

const (
	OutcomePending             ExecutionOutcome = "pending"
	OutcomeCompleted           ExecutionOutcome = "completed"
	OutcomeRolledBack          ExecutionOutcome = "rolled_back"
	OutcomeFailedUnrecoverable ExecutionOutcome = "failed_unrecoverable"
	OutcomeCancelled           ExecutionOutcome = "cancelled"
)

// ExecutionStep is one ordered unit of work within an execution. Steps run
// strictly in declared order; rollback replays inverse actions of completed
// steps in strict reverse order.
type ExecutionStep struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Order       int        `json:"order"`
	Status      StepStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Attempts    int        `json:"attempts"`
}

// ResourceSnapshot is a provider-owned capture of resource state sufficient
// to reconstruct it. The config schema is opaque to the orchestrator.
type ResourceSnapshot struct {
	Resource  ResourceRef       `json:"resource"`
	Config    map[string]string `json:"config"`
	TakenAt   time.Time         `json:"taken_at"`
	Reference string            `json:"reference"`
}

// ExecutionRecord tracks one execution attempt for an approved opportunity.
// Its outcome is immutable once finalized; a new record is created only on
// manual retry.
type ExecutionRecord struct {
	ID            string `json:"id"`
	OpportunityID string `json:"opportunity_id"`

	Steps       []ExecutionStep `json:"steps"`
	SnapshotRef string          `json:"snapshot_ref,omitempty"`

	Outcome     ExecutionOutcome `json:"outcome"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`

	ExecutedBy    string  `json:"executed_by"`
	ActualSavings float64 `json:"actual_savings,omitempty"`
	Error         string  `json:"error,omitempty"`
	CancelReason  string  `json:"cancel_reason,omitempty"`
}

// Finalized reports whether the record's outcome is settled.
func (e *ExecutionRecord) Finalized() bool {
	return e.Outcome != OutcomePending
}

// CompletedSteps returns the steps that succeeded, in forward order.
// Rollback iterates this slice in reverse.
func (e *ExecutionRecord) CompletedSteps() []ExecutionStep {
	var out []ExecutionStep
	for _, s := range e.Steps {
		if s.Status == StepSucceeded || s.Status == StepRolledBack {
			out = append(out, s)
		}
	}
	return out
}
