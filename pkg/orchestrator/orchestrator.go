// Package orchestrator drives the optimization lifecycle: discovery intake,
// approval rounds, guarded transitions, serialized execution, and expiry.
// It is the only writer of lifecycle state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/metrics"
	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
	"github.com/opscart/cloud-cost-orchestrator/pkg/storage"
)

// Executor runs approved opportunities to a finalized execution record.
type Executor interface {
	Execute(ctx context.Context, opp *models.OptimizationOpportunity, executedBy string) (*models.ExecutionRecord, error)
	Cancel(executionID, reason string) bool
}

// Approvals manages approval rounds and decisions.
type Approvals interface {
	RequestApproval(ctx context.Context, opp *models.OptimizationOpportunity) (*models.ApprovalRequest, error)
	RecordDecision(ctx context.Context, requestID string, decision models.Decision, deciderID, reason string, via models.ChannelType) (*models.DecisionResult, error)
	ExpireOverdue(ctx context.Context, now time.Time) ([]*models.ApprovalRequest, error)
}

// Notifier publishes lifecycle events; delivery must never block.
type Notifier interface {
	Notify(event *models.LifecycleEvent)
}

// Orchestrator serializes lifecycle work per opportunity and per resource.
// The opportunity lock covers transitions; the resource lock is held for
// the whole of execution so two opportunities on the same resource never
// run concurrently.
type Orchestrator struct {
	store     storage.Store
	approvals Approvals
	executor  Executor
	notifier  Notifier
	collector *metrics.Collector

	oppLocks      *keyedMutex
	resourceLocks *keyedMutex
	ledger        *tokenLedger
}

// New creates an orchestrator
func New(store storage.Store, approvals Approvals, executor Executor, notifier Notifier, collector *metrics.Collector) *Orchestrator {
	return &Orchestrator{
		store:         store,
		approvals:     approvals,
		executor:      executor,
		notifier:      notifier,
		collector:     collector,
		oppLocks:      newKeyedMutex(),
		resourceLocks: newKeyedMutex(),
		ledger:        newTokenLedger(),
	}
}

// Admit stores a freshly discovered opportunity in state discovered.
// Re-admitting a known opportunity id is a no-op.
func (o *Orchestrator) Admit(ctx context.Context, opp *models.OptimizationOpportunity) error {
	if opp.State == "" {
		opp.State = models.StateDiscovered
	}
	if opp.State != models.StateDiscovered {
		return &models.ValidationError{Field: "status", Message: fmt.Sprintf("new opportunities must start as discovered, got %s", opp.State)}
	}
	if opp.ID != "" {
		if _, err := o.store.GetOpportunity(ctx, opp.ID); err == nil {
			return nil
		}
	}
	if err := o.store.SaveOpportunity(ctx, opp); err != nil {
		return fmt.Errorf("failed to admit opportunity: %w", err)
	}
	if o.collector != nil {
		o.collector.OpportunitiesFound.WithLabelValues(string(opp.Type)).Inc()
	}
	return nil
}

// RequestApproval moves a discovered opportunity to pending_approval and
// opens its approval round. Calling it again while the round is active
// returns the existing request.
func (o *Orchestrator) RequestApproval(ctx context.Context, opportunityID string) (*models.ApprovalRequest, error) {
	unlock := o.oppLocks.Lock(opportunityID)
	defer unlock()

	opp, err := o.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return nil, err
	}
	if opp.Expired(time.Now()) && !opp.State.Terminal() {
		o.expire(ctx, opp, "opportunity ttl elapsed")
		return nil, fmt.Errorf("opportunity %s: %w", opportunityID, models.ErrExpiredDecision)
	}

	switch opp.State {
	case models.StateDiscovered:
		if err := o.transition(ctx, opp, models.StatePendingApproval, "orchestrator", "approval requested"); err != nil {
			return nil, err
		}
	case models.StatePendingApproval:
		// Round already open, fall through to the idempotent request.
	default:
		return nil, &models.InvalidTransitionError{OpportunityID: opportunityID, From: opp.State, To: models.StatePendingApproval}
	}

	return o.approvals.RequestApproval(ctx, opp)
}

// Approve commits an approval decision for the opportunity's active round.
func (o *Orchestrator) Approve(ctx context.Context, opportunityID, approverID string, via models.ChannelType) (*models.DecisionResult, error) {
	return o.decide(ctx, opportunityID, models.DecisionApproved, approverID, "", via)
}

// Reject commits a rejection; a reason is required.
func (o *Orchestrator) Reject(ctx context.Context, opportunityID, approverID, reason string, via models.ChannelType) (*models.DecisionResult, error) {
	return o.decide(ctx, opportunityID, models.DecisionRejected, approverID, reason, via)
}

func (o *Orchestrator) decide(ctx context.Context, opportunityID string, decision models.Decision, deciderID, reason string, via models.ChannelType) (*models.DecisionResult, error) {
	unlock := o.oppLocks.Lock(opportunityID)
	defer unlock()

	opp, err := o.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return nil, err
	}
	if opp.State == models.StatePendingApproval && opp.Expired(time.Now()) {
		o.expire(ctx, opp, "decision arrived after opportunity ttl")
		return nil, fmt.Errorf("opportunity %s: %w", opportunityID, models.ErrExpiredDecision)
	}

	req, err := o.store.ActiveApprovalRequest(ctx, opportunityID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		// No active round: either never requested, or already decided.
		// A settled decision replays; anything else is a caller error.
		switch opp.State {
		case models.StateApproved, models.StateExecuting, models.StateVerifying, models.StateCompleted:
			return o.replayDecision(ctx, opp, models.DecisionApproved), nil
		case models.StateRejected:
			return o.replayDecision(ctx, opp, models.DecisionRejected), nil
		}
		return nil, fmt.Errorf("no active approval request for %s: %w", opportunityID, models.ErrNotFound)
	}

	result, err := o.approvals.RecordDecision(ctx, req.ID, decision, deciderID, reason, via)
	if err != nil {
		if errors.Is(err, models.ErrExpiredDecision) {
			o.expire(ctx, opp, "decision arrived after approval window")
		}
		return nil, err
	}
	if result.Replay {
		return result, nil
	}

	if o.collector != nil {
		o.collector.Decisions.WithLabelValues(string(result.Decision), string(via)).Inc()
	}
	switch result.Decision {
	case models.DecisionApproved:
		opp.ApprovedBy = deciderID
		opp.ApprovedAt = &result.DecidedAt
		if err := o.transition(ctx, opp, models.StateApproved, deciderID, "approved via "+string(via)); err != nil {
			return nil, err
		}
	case models.DecisionRejected:
		if err := o.transition(ctx, opp, models.StateRejected, deciderID, reason); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// replayDecision reconstructs the settled decision for a round that is no
// longer active. The stored request carries the original decider and
// timestamp; the opportunity's approval fields are only a fallback.
func (o *Orchestrator) replayDecision(ctx context.Context, opp *models.OptimizationOpportunity, decision models.Decision) *models.DecisionResult {
	if req, err := o.store.LatestApprovalRequest(ctx, opp.ID); err == nil && req != nil && req.Decision == decision {
		result := &models.DecisionResult{
			RequestID: req.ID,
			Decision:  req.Decision,
			DecidedBy: req.DecidedBy,
			Replay:    true,
		}
		if req.DecidedAt != nil {
			result.DecidedAt = *req.DecidedAt
		}
		return result
	}

	result := &models.DecisionResult{
		Decision:  decision,
		DecidedBy: opp.ApprovedBy,
		Replay:    true,
	}
	if opp.ApprovedAt != nil {
		result.DecidedAt = *opp.ApprovedAt
	}
	return result
}

// Execute runs an approved opportunity. The operation token makes intake
// idempotent: a token seen before returns the original execution record,
// and a token still in flight is rejected with a conflict.
func (o *Orchestrator) Execute(ctx context.Context, opportunityID, operationToken, executedBy string) (*models.ExecutionRecord, error) {
	if operationToken != "" {
		priorID, inFlight, ok := o.ledger.begin(operationToken)
		if !ok {
			if inFlight {
				return nil, &models.ConflictError{Err: fmt.Errorf("operation %s still in flight", operationToken)}
			}
			return o.store.GetExecution(ctx, priorID)
		}
	}

	rec, err := o.execute(ctx, opportunityID, executedBy)
	if operationToken != "" {
		if rec != nil {
			o.ledger.settle(operationToken, rec.ID)
		} else {
			o.ledger.release(operationToken)
		}
	}
	return rec, err
}

func (o *Orchestrator) execute(ctx context.Context, opportunityID, executedBy string) (*models.ExecutionRecord, error) {
	// Resource key is needed before locking; read it outside the locks.
	peek, err := o.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return nil, err
	}

	// Resource lock outer, opportunity lock inner. Held for the whole
	// execution: at most one change per resource at a time.
	unlockResource := o.resourceLocks.Lock(peek.Resource.Key())
	defer unlockResource()
	unlockOpp := o.oppLocks.Lock(opportunityID)
	defer unlockOpp()

	opp, err := o.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return nil, err
	}

	switch opp.State {
	case models.StateApproved:
	case models.StateExecuting, models.StateVerifying:
		return nil, &models.ConflictError{Err: fmt.Errorf("opportunity %s already executing", opportunityID)}
	default:
		return nil, &models.InvalidTransitionError{OpportunityID: opportunityID, From: opp.State, To: models.StateExecuting}
	}
	if opp.Expired(time.Now()) {
		o.expire(ctx, opp, "approval expired before execution")
		return nil, fmt.Errorf("opportunity %s: %w", opportunityID, models.ErrExpiredDecision)
	}

	if err := o.transition(ctx, opp, models.StateExecuting, executedBy, "execution started"); err != nil {
		return nil, err
	}
	if o.collector != nil {
		o.collector.ActiveExecutions.Inc()
		defer o.collector.ActiveExecutions.Dec()
	}

	start := time.Now()
	rec, execErr := o.executor.Execute(ctx, opp, executedBy)
	if execErr != nil {
		// Infrastructure failure, not a step failure: the engine could not
		// even persist its record. Park the opportunity as failed.
		if err := o.transition(ctx, opp, models.StateFailed, "orchestrator", execErr.Error()); err != nil {
			log.Printf("[ERROR] failed to record failure of %s: %v", opportunityID, err)
		}
		return rec, execErr
	}

	o.observeOutcome(rec, time.Since(start))

	switch rec.Outcome {
	case models.OutcomeCompleted:
		if err := o.transition(ctx, opp, models.StateVerifying, executedBy, "steps completed, state re-read"); err != nil {
			return rec, err
		}
		if err := o.transition(ctx, opp, models.StateCompleted, executedBy, fmt.Sprintf("verified, $%.2f/mo realized", rec.ActualSavings)); err != nil {
			return rec, err
		}
	case models.OutcomeRolledBack:
		if err := o.transition(ctx, opp, models.StateFailed, "orchestrator", rec.Error); err != nil {
			return rec, err
		}
		if err := o.transition(ctx, opp, models.StateRolledBack, "orchestrator", "all completed steps reverted"); err != nil {
			return rec, err
		}
	case models.OutcomeCancelled:
		if err := o.transition(ctx, opp, models.StateRolledBack, "orchestrator", "cancelled: "+rec.CancelReason); err != nil {
			return rec, err
		}
	case models.OutcomeFailedUnrecoverable:
		if err := o.transition(ctx, opp, models.StateFailed, "orchestrator", rec.Error); err != nil {
			return rec, err
		}
		if err := o.transition(ctx, opp, models.StateFailedUnrecoverable, "orchestrator", "rollback failed, manual intervention required"); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

func (o *Orchestrator) observeOutcome(rec *models.ExecutionRecord, took time.Duration) {
	if o.collector == nil {
		return
	}
	o.collector.ExecutionOutcomes.WithLabelValues(string(rec.Outcome)).Inc()
	o.collector.ExecutionDuration.Observe(took.Seconds())
	if rec.Outcome == models.OutcomeCompleted {
		o.collector.RealizedSavings.Add(rec.ActualSavings)
	}
	for _, step := range rec.Steps {
		if step.Status == models.StepRolledBack {
			o.collector.RollbackSteps.Inc()
		}
	}
}

// CancelExecution requests cooperative cancellation of the opportunity's
// in-flight execution.
func (o *Orchestrator) CancelExecution(ctx context.Context, opportunityID, reason string) error {
	rec, err := o.store.GetExecutionByOpportunity(ctx, opportunityID)
	if err != nil {
		return err
	}
	if rec.Finalized() {
		return &models.ConflictError{Err: fmt.Errorf("execution %s already finalized as %s", rec.ID, rec.Outcome)}
	}
	if !o.executor.Cancel(rec.ID, reason) {
		return &models.ConflictError{Err: fmt.Errorf("execution %s is not cancellable", rec.ID)}
	}
	return nil
}

// Expire moves a non-terminal opportunity to expired. Used by the sweeper
// and by guards that detect expiry at decision or execution time.
func (o *Orchestrator) Expire(ctx context.Context, opportunityID, evidence string) error {
	unlock := o.oppLocks.Lock(opportunityID)
	defer unlock()

	opp, err := o.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return err
	}
	if opp.State.Terminal() {
		return nil
	}
	if !allowed(opp.State, models.StateExpired) {
		return &models.InvalidTransitionError{OpportunityID: opportunityID, From: opp.State, To: models.StateExpired}
	}
	return o.transition(ctx, opp, models.StateExpired, "system", evidence)
}

// expire is the lock-held variant used inside guarded paths.
func (o *Orchestrator) expire(ctx context.Context, opp *models.OptimizationOpportunity, evidence string) {
	if !allowed(opp.State, models.StateExpired) {
		return
	}
	if err := o.transition(ctx, opp, models.StateExpired, "system", evidence); err != nil {
		log.Printf("[WARN] failed to expire opportunity %s: %v", opp.ID, err)
	}
}

// transition commits one lifecycle edge. On a stale-state conflict it
// re-reads once: if another writer already landed the same target the
// transition is treated as applied; if the fresh state still admits the
// edge it retries once; otherwise the conflict surfaces.
func (o *Orchestrator) transition(ctx context.Context, opp *models.OptimizationOpportunity, to models.LifecycleState, actor, evidence string) error {
	if !allowed(opp.State, to) {
		if o.collector != nil {
			o.collector.TransitionRejected.WithLabelValues("invalid_edge").Inc()
		}
		return &models.InvalidTransitionError{OpportunityID: opp.ID, From: opp.State, To: to}
	}

	ev := &models.TransitionEvent{
		OpportunityID: opp.ID,
		From:          opp.State,
		To:            to,
		Actor:         actor,
		Evidence:      evidence,
	}
	err := o.store.RecordTransition(ctx, ev)

	var stale *models.StaleTransitionError
	if errors.As(err, &stale) {
		fresh, readErr := o.store.GetOpportunity(ctx, opp.ID)
		if readErr != nil {
			return err
		}
		if fresh.State == to {
			// Another writer already landed this edge.
			opp.State = to
			return nil
		}
		if !allowed(fresh.State, to) {
			if o.collector != nil {
				o.collector.TransitionRejected.WithLabelValues("stale").Inc()
			}
			return err
		}
		ev.From = fresh.State
		if err = o.store.RecordTransition(ctx, ev); err != nil {
			return err
		}
	} else if err != nil {
		return fmt.Errorf("failed to record transition %s -> %s for %s: %w", ev.From, to, opp.ID, err)
	}

	previous := opp.State
	opp.State = to
	if o.collector != nil {
		o.collector.Transitions.WithLabelValues(string(ev.From), string(to)).Inc()
	}
	if o.notifier != nil {
		o.notifier.Notify(&models.LifecycleEvent{
			OpportunityID: opp.ID,
			ServiceName:   opp.ServiceName,
			State:         to,
			Previous:      previous,
			Savings:       opp.PotentialSavings,
			Detail:        evidence,
		})
	}
	return nil
}
