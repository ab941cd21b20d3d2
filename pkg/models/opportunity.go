package models

import (
	"fmt"
	"time"
)

// LifecycleState represents the lifecycle state of an optimization opportunity
type LifecycleState string

const (
	StateDiscovered          LifecycleState = "discovered"
	StatePendingApproval     LifecycleState = "pending_approval"
	StateApproved            LifecycleState = "approved"
	StateExecuting           LifecycleState = "executing"
	StateVerifying           LifecycleState = "verifying"
	StateCompleted           LifecycleState = "completed"
	StateRejected            LifecycleState = "rejected"
	StateExpired             LifecycleState = "expired"
	StateFailed              LifecycleState = "failed"
	StateRolledBack          LifecycleState = "rolled_back"
	StateFailedUnrecoverable LifecycleState = "failed_unrecoverable"
)

// Terminal reports whether the state admits no further transitions.
func (s LifecycleState) Terminal() bool {
	switch s {
	case StateCompleted, StateRejected, StateExpired, StateRolledBack, StateFailedUnrecoverable:
		return true
	}
	return false
}

// OptimizationType represents the type of optimization
type OptimizationType string

const (
	OptimizationRightsizing       OptimizationType = "rightsizing"
	OptimizationScheduling        OptimizationType = "scheduling"
	OptimizationReservedInstances OptimizationType = "reserved_instances"
	OptimizationSpotInstances     OptimizationType = "spot_instances"
	OptimizationStorage           OptimizationType = "storage_optimization"
	OptimizationUnusedResources   OptimizationType = "unused_resources"
)

// RiskLevel represents the risk of executing an optimization
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Rank orders risk levels: low < medium < high.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	}
	return -1
}

// CloudProvider identifies the platform hosting a resource
type CloudProvider string

const (
	ProviderAWS        CloudProvider = "aws"
	ProviderAzure      CloudProvider = "azure"
	ProviderGCP        CloudProvider = "gcp"
	ProviderKubernetes CloudProvider = "kubernetes"
)

// ResourceRef identifies a single cloud resource
type ResourceRef struct {
	Provider   CloudProvider `json:"cloud_provider"`
	Region     string        `json:"region"`
	ResourceID string        `json:"resource_id"`
}

// Key returns the identity used by the resource exclusivity lock. Two
// opportunities with the same key must never execute concurrently.
func (r ResourceRef) Key() string {
	return string(r.Provider) + "/" + r.Region + "/" + r.ResourceID
}

// OptimizationOpportunity is a detected candidate cost-saving change.
// It is created by discovery and mutated only through orchestrator-committed
// transitions. Terminal opportunities are retained for audit, never deleted.
type OptimizationOpportunity struct {
	ID          string      `json:"id"`
	ServiceName string      `json:"service_name"`
	Resource    ResourceRef `json:"resource"`

	Type OptimizationType `json:"optimization_type"`

	CurrentCost      float64   `json:"current_cost"`
	PotentialSavings float64   `json:"potential_savings"`
	ConfidenceScore  float64   `json:"confidence_score"`
	RiskLevel        RiskLevel `json:"risk_level"`

	Description         string   `json:"description"`
	ImplementationSteps []string `json:"implementation_steps"`
	RollbackSteps       []string `json:"rollback_steps"`
	Prerequisites       []string `json:"prerequisites"`

	// EstimatedMinutes bounds the main execution step's timeout.
	EstimatedMinutes int `json:"estimated_execution_time"`

	State     LifecycleState `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`

	ApprovedBy string     `json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
}

// Validate checks structural invariants of a newly discovered opportunity.
func (o *OptimizationOpportunity) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("opportunity id is required")
	}
	if o.Resource.ResourceID == "" {
		return fmt.Errorf("resource id is required")
	}
	if o.ConfidenceScore < 0 || o.ConfidenceScore > 1 {
		return fmt.Errorf("confidence score must be in [0,1], got %.2f", o.ConfidenceScore)
	}
	if !o.ExpiresAt.After(o.CreatedAt) {
		return fmt.Errorf("expires_at must be after created_at")
	}
	if o.RiskLevel.Rank() < 0 {
		return fmt.Errorf("invalid risk level: %s", o.RiskLevel)
	}
	return nil
}

// Expired reports whether the opportunity has passed its expiry.
func (o *OptimizationOpportunity) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt)
}
