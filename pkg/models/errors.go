package models

import (
	"errors"
	"fmt"
)

// Sentinel guard failures surfaced by the orchestrator and store.
var (
	// ErrAlreadyInFlight: an active approval request already exists.
	ErrAlreadyInFlight = errors.New("approval request already in flight")
	// ErrExpiredDecision: a decision arrived after the opportunity expired.
	ErrExpiredDecision = errors.New("decision arrived after expiry")
	// ErrNotFound: entity lookup miss.
	ErrNotFound = errors.New("not found")
)

// StaleTransitionError is returned by the store when the recorded current
// state no longer matches the transition's from-state. It is the optimistic
// concurrency backstop under multi-instance deployment.
type StaleTransitionError struct {
	OpportunityID string
	Expected      LifecycleState
	Actual        LifecycleState
}

func (e *StaleTransitionError) Error() string {
	return fmt.Sprintf("stale transition for %s: expected state %s, store has %s",
		e.OpportunityID, e.Expected, e.Actual)
}

// InvalidTransitionError is returned when a requested transition is not a
// legal edge of the lifecycle state machine.
type InvalidTransitionError struct {
	OpportunityID string
	From, To      LifecycleState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s: %s -> %s", e.OpportunityID, e.From, e.To)
}

// ValidationError is a caller mistake, surfaced as a 4xx.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return "validation failed: " + e.Message
}

// ConflictError wraps a concurrent-modification race (stale transition,
// decision race). The orchestrator retries these once before surfacing.
type ConflictError struct {
	Err error
}

func (e *ConflictError) Error() string { return "conflict: " + e.Err.Error() }
func (e *ConflictError) Unwrap() error { return e.Err }

// ProviderError classifies a provider adapter failure. Transient errors are
// retried with bounded backoff; permanent errors trigger immediate rollback.
type ProviderError struct {
	Op        string
	Resource  ResourceRef
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("provider %s error during %s on %s: %v", kind, e.Op, e.Resource.ResourceID, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsTransientProviderError reports whether err is a retryable provider failure.
func IsTransientProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}

// RollbackFailureError is fatal: the opportunity moves to
// failed_unrecoverable and is surfaced for manual operator action. It is
// never auto-retried.
type RollbackFailureError struct {
	ExecutionID string
	Step        string
	Err         error
}

func (e *RollbackFailureError) Error() string {
	return fmt.Sprintf("rollback of execution %s failed at step %q: %v", e.ExecutionID, e.Step, e.Err)
}

func (e *RollbackFailureError) Unwrap() error { return e.Err }
