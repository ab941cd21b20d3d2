// Package approval manages human approval rounds: request fan-out across
// channels, first-decision-wins commits, expiry, and escalation.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
	"github.com/opscart/cloud-cost-orchestrator/pkg/storage"
)

// Coordinator owns the approval workflow for opportunities awaiting a human
// decision. Concurrency-safety of decisions lives in the store's
// compare-and-set; the coordinator adds delivery, expiry, and validation.
type Coordinator struct {
	store          storage.Store
	channels       []Channel
	timeout        time.Duration
	maxEscalations int
}

// escalationLadder names who an undecided request is raised to at each
// escalation level. Levels past the end stay with the last entry.
var escalationLadder = []string{"team-lead", "engineering-manager", "vp-engineering"}

func escalationTarget(level int) string {
	if level >= len(escalationLadder) {
		level = len(escalationLadder) - 1
	}
	return escalationLadder[level]
}

// NewCoordinator creates an approval coordinator. The timeout is the window
// a request stays decidable before it expires; maxEscalations is how many
// times an undecided request is escalated before it is rejected outright.
func NewCoordinator(store storage.Store, timeout time.Duration, maxEscalations int, channels ...Channel) *Coordinator {
	if len(channels) == 0 {
		channels = []Channel{LogChannel{}}
	}
	return &Coordinator{store: store, channels: channels, timeout: timeout, maxEscalations: maxEscalations}
}

// RequestApproval opens an approval round for the opportunity and fans the
// request out to every configured channel. If a round is already active the
// existing request is returned unchanged, so repeated calls are safe.
func (c *Coordinator) RequestApproval(ctx context.Context, opp *models.OptimizationOpportunity) (*models.ApprovalRequest, error) {
	now := time.Now()
	req := &models.ApprovalRequest{
		OpportunityID: opp.ID,
		RequestedAt:   now,
		ExpiresAt:     now.Add(c.timeout),
		Decision:      models.DecisionPending,
	}
	if err := c.store.SaveApprovalRequest(ctx, req); err != nil {
		var conflict *models.ConflictError
		if errors.As(err, &conflict) {
			existing, lookupErr := c.store.ActiveApprovalRequest(ctx, opp.ID)
			if lookupErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to open approval round for %s: %w", opp.ID, err)
	}

	c.deliver(ctx, opp, req)
	if err := c.store.UpdateApprovalRequest(ctx, req); err != nil {
		log.Printf("[WARN] failed to persist channel receipts for request %s: %v", req.ID, err)
	}
	return req, nil
}

func (c *Coordinator) deliver(ctx context.Context, opp *models.OptimizationOpportunity, req *models.ApprovalRequest) {
	delivered := 0
	for _, ch := range c.channels {
		if err := ch.Deliver(ctx, opp, req); err != nil {
			log.Printf("[WARN] approval delivery via %s failed for %s: %v", ch.Type(), opp.ID, err)
			continue
		}
		req.Receipts = append(req.Receipts, models.ChannelReceipt{
			Channel:      ch.Type(),
			DispatchedAt: time.Now(),
		})
		delivered++
	}
	if delivered == 0 {
		// Never leave a request invisible. The log channel cannot fail.
		_ = LogChannel{}.Deliver(ctx, opp, req)
		req.Receipts = append(req.Receipts, models.ChannelReceipt{
			Channel:      models.ChannelLog,
			DispatchedAt: time.Now(),
		})
	}
}

// RecordDecision commits an approve or reject decision. The first decision
// wins; duplicate deliveries get the stored outcome back with Replay set.
// Decisions on an expired request fail with ErrExpiredDecision.
func (c *Coordinator) RecordDecision(ctx context.Context, requestID string, decision models.Decision, deciderID, reason string, via models.ChannelType) (*models.DecisionResult, error) {
	if decision != models.DecisionApproved && decision != models.DecisionRejected {
		return nil, &models.ValidationError{Field: "decision", Message: fmt.Sprintf("must be approved or rejected, got %q", decision)}
	}
	if deciderID == "" {
		return nil, &models.ValidationError{Field: "approver_id", Message: "must not be empty"}
	}
	if decision == models.DecisionRejected && reason == "" {
		return nil, &models.ValidationError{Field: "reason", Message: "required when rejecting"}
	}

	req, err := c.store.GetApprovalRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if req.Active() && now.After(req.ExpiresAt) {
		return nil, fmt.Errorf("request %s expired at %s: %w", requestID, req.ExpiresAt.Format(time.RFC3339), models.ErrExpiredDecision)
	}

	return c.store.CommitDecision(ctx, requestID, decision, deciderID, reason, via, now)
}

// ExpireOverdue processes approval rounds whose window elapsed without a
// decision. Rounds below the escalation ceiling are escalated and redelivered
// with a fresh window; rounds that exhausted their escalations are rejected
// by the system. Only the rejected requests are returned. A request whose
// decision raced in just before the sweep keeps that decision and is
// skipped.
func (c *Coordinator) ExpireOverdue(ctx context.Context, now time.Time) ([]*models.ApprovalRequest, error) {
	overdue, err := c.store.ListExpiredRequests(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired requests: %w", err)
	}

	var expired []*models.ApprovalRequest
	for _, req := range overdue {
		if req.EscalationLevel < c.maxEscalations {
			target := escalationTarget(req.EscalationLevel)
			if _, err := c.Escalate(ctx, req.ID, target); err != nil {
				log.Printf("[WARN] failed to escalate request %s: %v", req.ID, err)
				continue
			}
			log.Printf("[INFO] approval request %s escalated to %s", req.ID, target)
			continue
		}

		result, err := c.store.CommitDecision(ctx, req.ID, models.DecisionRejected, "system", "approval window elapsed", models.ChannelLog, now)
		if err != nil {
			log.Printf("[WARN] failed to expire request %s: %v", req.ID, err)
			continue
		}
		if result.Replay {
			continue
		}
		expired = append(expired, req)
	}
	return expired, nil
}

// Escalate bumps the request one escalation level, extends its window, and
// redelivers it to all channels.
func (c *Coordinator) Escalate(ctx context.Context, requestID, escalateTo string) (*models.ApprovalRequest, error) {
	req, err := c.store.GetApprovalRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.Active() {
		return nil, fmt.Errorf("request %s already decided as %s", requestID, req.Decision)
	}

	req.EscalationLevel++
	req.EscalatedTo = escalateTo
	req.ExpiresAt = time.Now().Add(c.timeout)
	if err := c.store.UpdateApprovalRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to escalate request %s: %w", requestID, err)
	}

	opp, err := c.store.GetOpportunity(ctx, req.OpportunityID)
	if err == nil {
		c.deliver(ctx, opp, req)
		if err := c.store.UpdateApprovalRequest(ctx, req); err != nil {
			log.Printf("[WARN] failed to persist escalation receipts for request %s: %v", req.ID, err)
		}
	}
	return req, nil
}
