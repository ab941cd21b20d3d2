package storage

import (
	"context"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// ListFilter narrows and pages opportunity listings
type ListFilter struct {
	Provider      models.CloudProvider
	Type          models.OptimizationType
	States        []models.LifecycleState
	ExpiresBefore time.Time
	Limit         int
	Offset        int
}

// Store defines the interface for persistent storage.
//
// Transition history is append-only per opportunity, with a materialized
// current-state view for lookups. RecordTransition is the single commit
// point for lifecycle state and rejects from-state mismatches, which keeps
// the single-writer discipline honest even across orchestrator instances.
// CommitDecision is a compare-and-set on the approval decision field, so
// first-decision-wins holds at the store level rather than in memory.
type Store interface {
	SaveOpportunity(ctx context.Context, opp *models.OptimizationOpportunity) error
	GetOpportunity(ctx context.Context, id string) (*models.OptimizationOpportunity, error)
	ListOpportunities(ctx context.Context, filter ListFilter) ([]*models.OptimizationOpportunity, int, error)

	RecordTransition(ctx context.Context, ev *models.TransitionEvent) error
	GetHistory(ctx context.Context, opportunityID string) ([]*models.TransitionEvent, error)

	SaveApprovalRequest(ctx context.Context, req *models.ApprovalRequest) error
	GetApprovalRequest(ctx context.Context, id string) (*models.ApprovalRequest, error)
	ActiveApprovalRequest(ctx context.Context, opportunityID string) (*models.ApprovalRequest, error)
	LatestApprovalRequest(ctx context.Context, opportunityID string) (*models.ApprovalRequest, error)
	CommitDecision(ctx context.Context, requestID string, decision models.Decision, deciderID, reason string, via models.ChannelType, at time.Time) (*models.DecisionResult, error)
	UpdateApprovalRequest(ctx context.Context, req *models.ApprovalRequest) error
	ListExpiredRequests(ctx context.Context, now time.Time) ([]*models.ApprovalRequest, error)

	SaveExecution(ctx context.Context, rec *models.ExecutionRecord) error
	GetExecution(ctx context.Context, id string) (*models.ExecutionRecord, error)
	GetExecutionByOpportunity(ctx context.Context, opportunityID string) (*models.ExecutionRecord, error)
	UpdateExecution(ctx context.Context, rec *models.ExecutionRecord) error

	Ping(ctx context.Context) error
	Close() error
}

type Config struct {
	Type string
	URL  string
}
