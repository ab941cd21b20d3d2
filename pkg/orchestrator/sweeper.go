package orchestrator

import (
	"context"
	"log"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
	"github.com/opscart/cloud-cost-orchestrator/pkg/storage"
)

// Sweeper expires overdue approval rounds and stale opportunities in the
// background. Expiry is lazy everywhere else (guards check at decision and
// execution time), so the sweeper only bounds how long an expired
// opportunity stays visibly non-terminal.
type Sweeper struct {
	orch     *Orchestrator
	store    storage.Store
	interval time.Duration
}

// NewSweeper creates a sweeper running at the given interval
func NewSweeper(orch *Orchestrator, store storage.Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{orch: orch, store: store, interval: interval}
}

// Run sweeps until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx, time.Now()); err != nil {
				log.Printf("[WARN] expiry sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("[INFO] expiry sweep retired %d opportunities", n)
			}
		}
	}
}

// SweepOnce runs a single sweep and returns how many opportunities it
// expired.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (int, error) {
	expired := 0

	// Approval rounds whose window elapsed without a decision. Rounds still
	// climbing the escalation ladder are redelivered, not returned here.
	rounds, err := s.orch.approvals.ExpireOverdue(ctx, now)
	if err != nil {
		return expired, err
	}
	for _, req := range rounds {
		if err := s.orch.Expire(ctx, req.OpportunityID, "approval window elapsed"); err != nil {
			log.Printf("[WARN] failed to expire opportunity %s: %v", req.OpportunityID, err)
			continue
		}
		expired++
	}

	// Opportunities past their own ttl that never reached a terminal state.
	stale, _, err := s.store.ListOpportunities(ctx, storage.ListFilter{
		States: []models.LifecycleState{
			models.StateDiscovered,
			models.StatePendingApproval,
			models.StateApproved,
		},
		ExpiresBefore: now,
	})
	if err != nil {
		return expired, err
	}
	for _, opp := range stale {
		if err := s.orch.Expire(ctx, opp.ID, "opportunity ttl elapsed"); err != nil {
			log.Printf("[WARN] failed to expire opportunity %s: %v", opp.ID, err)
			continue
		}
		expired++
	}
	return expired, nil
}
