package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
	"github.com/opscart/cloud-cost-orchestrator/pkg/provider"
	"github.com/opscart/cloud-cost-orchestrator/pkg/storage"
)

// Options tunes step execution behavior.
type Options struct {
	// StepTimeout bounds each provider call. A step that exceeds it fails
	// and triggers rollback rather than hanging open.
	StepTimeout time.Duration
	// MaxRetries bounds retries of a transient step failure.
	MaxRetries int
	// RetryBackoff is the wait between transient retries.
	RetryBackoff time.Duration
	// RollbackTimeout bounds each inverse action during rollback.
	RollbackTimeout time.Duration
	Verbose         bool
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.StepTimeout <= 0 {
		out.StepTimeout = 20 * time.Minute
	}
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.RetryBackoff <= 0 {
		out.RetryBackoff = 5 * time.Second
	}
	if out.RollbackTimeout <= 0 {
		out.RollbackTimeout = 30 * time.Minute
	}
	return out
}

// AdapterResolver yields the provider adapter for a cloud provider.
type AdapterResolver interface {
	For(p models.CloudProvider) (provider.Adapter, error)
}

// Engine executes approved optimizations: pre-state snapshot, strictly
// ordered steps, post-success verification, and reverse-order rollback on
// any failure. Failures never escape as raw errors; they are folded into
// the execution record's outcome.
type Engine struct {
	adapters AdapterResolver
	store    storage.Store
	opts     Options

	mu      sync.Mutex
	cancels map[string]*cancelSlot
}

type cancelSlot struct {
	cancel context.CancelFunc
	reason string
	fired  bool
}

// New creates an execution engine
func New(adapters AdapterResolver, store storage.Store, opts Options) *Engine {
	return &Engine{
		adapters: adapters,
		store:    store,
		opts:     opts.withDefaults(),
		cancels:  make(map[string]*cancelSlot),
	}
}

// Execute runs an approved opportunity to a finalized execution record. The
// returned record's outcome is completed, rolled_back, cancelled, or
// failed_unrecoverable; the error is non-nil only for storage failures.
func (e *Engine) Execute(ctx context.Context, opp *models.OptimizationOpportunity, executedBy string) (*models.ExecutionRecord, error) {
	adapter, err := e.adapters.For(opp.Resource.Provider)
	if err != nil {
		return nil, fmt.Errorf("no adapter for %s: %w", opp.Resource.Provider, err)
	}

	rec := &models.ExecutionRecord{
		OpportunityID: opp.ID,
		ExecutedBy:    executedBy,
		StartedAt:     time.Now(),
		Outcome:       models.OutcomePending,
	}
	for i, raw := range opp.ImplementationSteps {
		rec.Steps = append(rec.Steps, models.ExecutionStep{
			Name:   raw,
			Order:  i + 1,
			Status: models.StepPending,
		})
	}
	if err := e.store.SaveExecution(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to save execution record: %w", err)
	}

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.cancels[rec.ID] = &cancelSlot{cancel: cancel}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, rec.ID)
		e.mu.Unlock()
	}()

	// Pre-state snapshot, taken before the first step regardless of whether
	// the step list spells one out.
	snapshot, snapErr := adapter.ReadState(execCtx, opp.Resource)
	if snapErr != nil {
		outcome, cause := e.failureOutcome(rec, fmt.Errorf("pre-state snapshot failed: %w", snapErr))
		rec.Outcome = outcome
		rec.Error = cause
		return rec, e.finalize(ctx, rec)
	}
	rec.SnapshotRef = snapshot.Reference
	if err := e.store.UpdateExecution(ctx, rec); err != nil {
		return nil, err
	}

	var applied []appliedStep // effectful steps that committed, forward order
	expect := map[string]string{}

	for i := range rec.Steps {
		if reason, cancelled := e.cancelReason(rec.ID); cancelled {
			rec.CancelReason = reason
			return rec, e.rollback(ctx, rec, adapter, opp, applied, models.OutcomeCancelled, "cancelled: "+reason)
		}

		step := provider.ParseStep(rec.Steps[i].Name)

		switch step.Verb {
		case "snapshot":
			// Already captured above; the step records when.
			e.markRunning(&rec.Steps[i])
			e.markSucceeded(&rec.Steps[i])

		case "verify":
			e.markRunning(&rec.Steps[i])
			if err := e.verify(execCtx, adapter, opp, expect); err != nil {
				e.markFailed(&rec.Steps[i], err)
				e.storeProgress(ctx, rec)
				outcome, cause := e.failureOutcome(rec, err)
				return rec, e.rollback(ctx, rec, adapter, opp, applied, outcome, cause)
			}
			e.markSucceeded(&rec.Steps[i])

		default:
			e.markRunning(&rec.Steps[i])
			result, err := e.applyWithRetry(execCtx, adapter, opp.Resource, step, &rec.Steps[i])
			if err != nil {
				e.markFailed(&rec.Steps[i], err)
				e.storeProgress(ctx, rec)
				outcome, cause := e.failureOutcome(rec, err)
				return rec, e.rollback(ctx, rec, adapter, opp, applied, outcome, cause)
			}
			e.markSucceeded(&rec.Steps[i])
			applied = append(applied, appliedStep{index: i, step: step})
			for k, v := range result.Expect {
				expect[k] = v
			}
		}

		e.storeProgress(ctx, rec)
	}

	// Post-success verification, unless an explicit verify step ran last.
	if !hasVerifyStep(opp.ImplementationSteps) {
		if err := e.verify(execCtx, adapter, opp, expect); err != nil {
			outcome, cause := e.failureOutcome(rec, err)
			return rec, e.rollback(ctx, rec, adapter, opp, applied, outcome, cause)
		}
	}

	now := time.Now()
	rec.Outcome = models.OutcomeCompleted
	rec.CompletedAt = &now
	rec.ActualSavings = opp.PotentialSavings
	if e.opts.Verbose {
		log.Printf("[INFO] execution %s completed for opportunity %s", rec.ID, opp.ID)
	}
	return rec, e.finalize(ctx, rec)
}

// Cancel signals an in-flight execution to stop and begin rollback of
// completed steps. The in-flight provider call is interrupted, not just the
// next step boundary. Returns false if the execution is not active.
func (e *Engine) Cancel(executionID, reason string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	slot, ok := e.cancels[executionID]
	if !ok || slot.fired {
		return false
	}
	slot.fired = true
	slot.reason = reason
	slot.cancel()
	return true
}

func (e *Engine) cancelReason(executionID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	slot, ok := e.cancels[executionID]
	if !ok || !slot.fired {
		return "", false
	}
	return slot.reason, true
}

type appliedStep struct {
	index int
	step  provider.Step
}

// failureOutcome maps a step failure to its rollback outcome. A failure
// caused by a fired cancellation counts as cancelled, not rolled_back.
func (e *Engine) failureOutcome(rec *models.ExecutionRecord, err error) (models.ExecutionOutcome, string) {
	if reason, cancelled := e.cancelReason(rec.ID); cancelled {
		rec.CancelReason = reason
		return models.OutcomeCancelled, "cancelled: " + reason
	}
	return models.OutcomeRolledBack, err.Error()
}

func (e *Engine) applyWithRetry(ctx context.Context, adapter provider.Adapter, res models.ResourceRef, step provider.Step, record *models.ExecutionStep) (*provider.StepResult, error) {
	var lastErr error
	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		record.Attempts = attempt + 1
		stepCtx, cancel := context.WithTimeout(ctx, e.opts.StepTimeout)
		result, err := adapter.ApplyChange(stepCtx, res, step)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !models.IsTransientProviderError(err) {
			// Permanent failures go straight to rollback.
			return nil, err
		}
		if attempt == e.opts.MaxRetries {
			break
		}
		if e.opts.Verbose {
			log.Printf("[WARN] step %q attempt %d failed, retrying: %v", step.Raw, attempt+1, err)
		}
		select {
		case <-time.After(e.opts.RetryBackoff):
		case <-ctx.Done():
			return nil, &models.ProviderError{Op: "apply", Resource: res, Transient: true, Err: ctx.Err()}
		}
	}
	return nil, lastErr
}

// verify re-reads actual resource state and compares it against the
// expected post-conditions accumulated from the applied steps. A mismatch
// is a failure even though every step nominally succeeded: this protects
// against drift and provider eventual-consistency lag.
func (e *Engine) verify(ctx context.Context, adapter provider.Adapter, opp *models.OptimizationOpportunity, expect map[string]string) error {
	verifyCtx, cancel := context.WithTimeout(ctx, e.opts.StepTimeout)
	defer cancel()

	snapshot, err := adapter.ReadState(verifyCtx, opp.Resource)
	if err != nil {
		return fmt.Errorf("verification read failed: %w", err)
	}
	for k, want := range expect {
		if got := snapshot.Config[k]; got != want {
			return fmt.Errorf("verification mismatch on %s: expected %q, found %q", k, want, got)
		}
	}
	return nil
}

// rollback replays inverse actions of committed steps in strict reverse
// order. If an inverse action fails, rollback halts: partial rollback state
// stays visible in the record and the outcome is failed_unrecoverable.
func (e *Engine) rollback(ctx context.Context, rec *models.ExecutionRecord, adapter provider.Adapter, opp *models.OptimizationOpportunity, applied []appliedStep, onSuccess models.ExecutionOutcome, cause string) error {
	// Rollback outlives the caller: a cancelled request context must not
	// strand completed steps un-reverted. The per-action timeout still bounds
	// each inverse call.
	ctx = context.WithoutCancel(ctx)

	if e.opts.Verbose {
		log.Printf("[WARN] rolling back execution %s: %s", rec.ID, cause)
	}
	rec.Error = cause

	for i := len(applied) - 1; i >= 0; i-- {
		entry := applied[i]
		rbCtx, cancel := context.WithTimeout(ctx, e.opts.RollbackTimeout)
		_, err := adapter.RevertChange(rbCtx, opp.Resource, entry.step)
		cancel()
		if err != nil {
			rbErr := &models.RollbackFailureError{
				ExecutionID: rec.ID,
				Step:        entry.step.Raw,
				Err:         err,
			}
			rec.Outcome = models.OutcomeFailedUnrecoverable
			rec.Error = rbErr.Error()
			log.Printf("[ERROR] %v; manual intervention required", rbErr)
			return e.finalize(ctx, rec)
		}
		rec.Steps[entry.index].Status = models.StepRolledBack
		e.storeProgress(ctx, rec)
	}

	rec.Outcome = onSuccess
	return e.finalize(ctx, rec)
}

func (e *Engine) finalize(ctx context.Context, rec *models.ExecutionRecord) error {
	// The final record must land even if the caller has gone away.
	ctx = context.WithoutCancel(ctx)
	if rec.CompletedAt == nil {
		now := time.Now()
		rec.CompletedAt = &now
	}
	if err := e.store.UpdateExecution(ctx, rec); err != nil {
		return fmt.Errorf("failed to finalize execution %s: %w", rec.ID, err)
	}
	return nil
}

// storeProgress persists step progress mid-flight. Best effort: a store
// hiccup here must not abort a running execution.
func (e *Engine) storeProgress(ctx context.Context, rec *models.ExecutionRecord) {
	if err := e.store.UpdateExecution(ctx, rec); err != nil {
		log.Printf("[WARN] failed to persist execution progress for %s: %v", rec.ID, err)
	}
}

func (e *Engine) markRunning(step *models.ExecutionStep) {
	now := time.Now()
	step.Status = models.StepRunning
	step.StartedAt = &now
}

func (e *Engine) markSucceeded(step *models.ExecutionStep) {
	now := time.Now()
	step.Status = models.StepSucceeded
	step.CompletedAt = &now
}

func (e *Engine) markFailed(step *models.ExecutionStep, err error) {
	now := time.Now()
	step.Status = models.StepFailed
	step.CompletedAt = &now
	step.Error = err.Error()
}

func hasVerifyStep(steps []string) bool {
	for _, raw := range steps {
		if provider.ParseStep(raw).Verb == "verify" {
			return true
		}
	}
	return false
}
