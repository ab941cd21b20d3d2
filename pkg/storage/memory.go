package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// MemoryStore implements Store with in-process maps. It is the reference
// implementation of the store semantics and backs dev mode and tests.
type MemoryStore struct {
	mu sync.RWMutex

	opportunities map[string]*models.OptimizationOpportunity
	history       map[string][]*models.TransitionEvent

	approvals       map[string]*models.ApprovalRequest
	activeByOpp     map[string]string // opportunity id -> active request id
	decisionResults map[string]*models.DecisionResult

	executions map[string]*models.ExecutionRecord
	execByOpp  map[string]string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		opportunities:   make(map[string]*models.OptimizationOpportunity),
		history:         make(map[string][]*models.TransitionEvent),
		approvals:       make(map[string]*models.ApprovalRequest),
		activeByOpp:     make(map[string]string),
		decisionResults: make(map[string]*models.DecisionResult),
		executions:      make(map[string]*models.ExecutionRecord),
		execByOpp:       make(map[string]string),
	}
}

func (s *MemoryStore) SaveOpportunity(ctx context.Context, opp *models.OptimizationOpportunity) error {
	if opp.ID == "" {
		opp.ID = uuid.New().String()
	}
	if opp.CreatedAt.IsZero() {
		opp.CreatedAt = time.Now()
	}
	if opp.State == "" {
		opp.State = models.StateDiscovered
	}
	if err := opp.Validate(); err != nil {
		return &models.ValidationError{Message: err.Error()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.opportunities[opp.ID]; exists {
		return fmt.Errorf("opportunity already exists: %s", opp.ID)
	}
	s.opportunities[opp.ID] = cloneOpportunity(opp)
	return nil
}

func (s *MemoryStore) GetOpportunity(ctx context.Context, id string) (*models.OptimizationOpportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	opp, ok := s.opportunities[id]
	if !ok {
		return nil, fmt.Errorf("opportunity %s: %w", id, models.ErrNotFound)
	}
	return cloneOpportunity(opp), nil
}

func (s *MemoryStore) ListOpportunities(ctx context.Context, filter ListFilter) ([]*models.OptimizationOpportunity, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.OptimizationOpportunity
	for _, opp := range s.opportunities {
		if !matchesFilter(opp, filter) {
			continue
		}
		matched = append(matched, cloneOpportunity(opp))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= total {
			return nil, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

// RecordTransition appends a history event and advances the materialized
// view, failing with StaleTransitionError if the view moved underneath the
// caller.
func (s *MemoryStore) RecordTransition(ctx context.Context, ev *models.TransitionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	opp, ok := s.opportunities[ev.OpportunityID]
	if !ok {
		return fmt.Errorf("opportunity %s: %w", ev.OpportunityID, models.ErrNotFound)
	}
	if opp.State != ev.From {
		return &models.StaleTransitionError{
			OpportunityID: ev.OpportunityID,
			Expected:      ev.From,
			Actual:        opp.State,
		}
	}

	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = time.Now()
	}
	stored := *ev
	s.history[ev.OpportunityID] = append(s.history[ev.OpportunityID], &stored)
	opp.State = ev.To
	return nil
}

func (s *MemoryStore) GetHistory(ctx context.Context, opportunityID string) ([]*models.TransitionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.history[opportunityID]
	out := make([]*models.TransitionEvent, len(events))
	for i, ev := range events {
		copied := *ev
		out[i] = &copied
	}
	return out, nil
}

func (s *MemoryStore) SaveApprovalRequest(ctx context.Context, req *models.ApprovalRequest) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if activeID, ok := s.activeByOpp[req.OpportunityID]; ok {
		if existing := s.approvals[activeID]; existing != nil && existing.Active() {
			return &models.ConflictError{Err: models.ErrAlreadyInFlight}
		}
	}
	s.approvals[req.ID] = cloneApproval(req)
	s.activeByOpp[req.OpportunityID] = req.ID
	return nil
}

func (s *MemoryStore) GetApprovalRequest(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.approvals[id]
	if !ok {
		return nil, fmt.Errorf("approval request %s: %w", id, models.ErrNotFound)
	}
	return cloneApproval(req), nil
}

func (s *MemoryStore) ActiveApprovalRequest(ctx context.Context, opportunityID string) (*models.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.activeByOpp[opportunityID]
	if !ok {
		return nil, nil
	}
	req := s.approvals[id]
	if req == nil || !req.Active() {
		return nil, nil
	}
	return cloneApproval(req), nil
}

// LatestApprovalRequest returns the opportunity's most recent approval
// request regardless of its decision, or nil if none was ever opened.
func (s *MemoryStore) LatestApprovalRequest(ctx context.Context, opportunityID string) (*models.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.ApprovalRequest
	for _, req := range s.approvals {
		if req.OpportunityID != opportunityID {
			continue
		}
		if latest == nil || req.RequestedAt.After(latest.RequestedAt) {
			latest = req
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneApproval(latest), nil
}

// CommitDecision applies the first-decision-wins rule as a compare-and-set
// on the request's decision field. A request already resolved returns the
// stored result unchanged with Replay set, never an error, so duplicate
// webhook delivery is harmless.
func (s *MemoryStore) CommitDecision(ctx context.Context, requestID string, decision models.Decision, deciderID, reason string, via models.ChannelType, at time.Time) (*models.DecisionResult, error) {
	if decision != models.DecisionApproved && decision != models.DecisionRejected {
		return nil, &models.ValidationError{Field: "decision", Message: "must be approved or rejected"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.approvals[requestID]
	if !ok {
		return nil, fmt.Errorf("approval request %s: %w", requestID, models.ErrNotFound)
	}

	if req.Decision != models.DecisionPending {
		prior := s.decisionResults[requestID]
		replay := *prior
		replay.Replay = true
		return &replay, nil
	}

	req.Decision = decision
	req.DecidedBy = deciderID
	req.DecidedAt = &at
	req.DecidedVia = via
	req.RejectionReason = reason
	for i := range req.Receipts {
		if req.Receipts[i].Channel != via {
			req.Receipts[i].Moot = true
		}
	}

	result := &models.DecisionResult{
		RequestID: requestID,
		Decision:  decision,
		DecidedBy: deciderID,
		DecidedAt: at,
	}
	s.decisionResults[requestID] = result
	out := *result
	return &out, nil
}

// UpdateApprovalRequest persists escalation and receipt changes. The
// decision field is owned by CommitDecision and left untouched here.
func (s *MemoryStore) UpdateApprovalRequest(ctx context.Context, req *models.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.approvals[req.ID]
	if !ok {
		return fmt.Errorf("approval request %s: %w", req.ID, models.ErrNotFound)
	}
	updated := cloneApproval(req)
	updated.Decision = existing.Decision
	updated.DecidedBy = existing.DecidedBy
	updated.DecidedAt = existing.DecidedAt
	updated.DecidedVia = existing.DecidedVia
	s.approvals[req.ID] = updated
	return nil
}

func (s *MemoryStore) ListExpiredRequests(ctx context.Context, now time.Time) ([]*models.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ApprovalRequest
	for _, req := range s.approvals {
		if req.Active() && !now.Before(req.ExpiresAt) {
			out = append(out, cloneApproval(req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (s *MemoryStore) SaveExecution(ctx context.Context, rec *models.ExecutionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	if rec.Outcome == "" {
		rec.Outcome = models.OutcomePending
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prevID, ok := s.execByOpp[rec.OpportunityID]; ok {
		if prev := s.executions[prevID]; prev != nil && !prev.Finalized() {
			return &models.ConflictError{Err: fmt.Errorf("execution %s still in flight for opportunity %s", prevID, rec.OpportunityID)}
		}
	}
	s.executions[rec.ID] = cloneExecution(rec)
	s.execByOpp[rec.OpportunityID] = rec.ID
	return nil
}

func (s *MemoryStore) GetExecution(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.executions[id]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, models.ErrNotFound)
	}
	return cloneExecution(rec), nil
}

func (s *MemoryStore) GetExecutionByOpportunity(ctx context.Context, opportunityID string) (*models.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.execByOpp[opportunityID]
	if !ok {
		return nil, fmt.Errorf("execution for opportunity %s: %w", opportunityID, models.ErrNotFound)
	}
	return cloneExecution(s.executions[id]), nil
}

// UpdateExecution refuses to modify a finalized record: the outcome is
// immutable once settled.
func (s *MemoryStore) UpdateExecution(ctx context.Context, rec *models.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.executions[rec.ID]
	if !ok {
		return fmt.Errorf("execution %s: %w", rec.ID, models.ErrNotFound)
	}
	if existing.Finalized() {
		return &models.ConflictError{Err: fmt.Errorf("execution %s already finalized as %s", rec.ID, existing.Outcome)}
	}
	s.executions[rec.ID] = cloneExecution(rec)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func matchesFilter(opp *models.OptimizationOpportunity, filter ListFilter) bool {
	if filter.Provider != "" && opp.Resource.Provider != filter.Provider {
		return false
	}
	if filter.Type != "" && opp.Type != filter.Type {
		return false
	}
	if len(filter.States) > 0 {
		found := false
		for _, st := range filter.States {
			if opp.State == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !filter.ExpiresBefore.IsZero() && opp.ExpiresAt.After(filter.ExpiresBefore) {
		return false
	}
	return true
}

func cloneOpportunity(opp *models.OptimizationOpportunity) *models.OptimizationOpportunity {
	copied := *opp
	copied.ImplementationSteps = append([]string(nil), opp.ImplementationSteps...)
	copied.RollbackSteps = append([]string(nil), opp.RollbackSteps...)
	copied.Prerequisites = append([]string(nil), opp.Prerequisites...)
	if opp.ApprovedAt != nil {
		at := *opp.ApprovedAt
		copied.ApprovedAt = &at
	}
	return &copied
}

func cloneApproval(req *models.ApprovalRequest) *models.ApprovalRequest {
	copied := *req
	copied.Receipts = append([]models.ChannelReceipt(nil), req.Receipts...)
	if req.DecidedAt != nil {
		at := *req.DecidedAt
		copied.DecidedAt = &at
	}
	return &copied
}

func cloneExecution(rec *models.ExecutionRecord) *models.ExecutionRecord {
	copied := *rec
	copied.Steps = append([]models.ExecutionStep(nil), rec.Steps...)
	if rec.CompletedAt != nil {
		at := *rec.CompletedAt
		copied.CompletedAt = &at
	}
	return &copied
}
