package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
	"github.com/opscart/cloud-cost-orchestrator/pkg/provider"
	"github.com/opscart/cloud-cost-orchestrator/pkg/storage"
)

type staticResolver struct {
	adapter provider.Adapter
}

func (r staticResolver) For(models.CloudProvider) (provider.Adapter, error) {
	return r.adapter, nil
}

func testResource() models.ResourceRef {
	return models.ResourceRef{
		Provider:   models.ProviderAWS,
		Region:     "us-east-1",
		ResourceID: "i-1234567890abcdef0",
	}
}

func testOpportunity(steps []string) *models.OptimizationOpportunity {
	now := time.Now()
	return &models.OptimizationOpportunity{
		ID:                  "opp-engine-1",
		Type:                models.OptimizationRightsizing,
		Resource:            testResource(),
		Description:         "Downsize over-provisioned instance",
		PotentialSavings:    34.20,
		ConfidenceScore:     0.9,
		RiskLevel:           models.RiskLow,
		State:               models.StateApproved,
		ImplementationSteps: steps,
		CreatedAt:           now,
		ExpiresAt:           now.Add(24 * time.Hour),
	}
}

func newTestEngine(adapter provider.Adapter, store storage.Store) *Engine {
	return New(staticResolver{adapter: adapter}, store, Options{
		StepTimeout:     2 * time.Second,
		MaxRetries:      3,
		RetryBackoff:    time.Millisecond,
		RollbackTimeout: 2 * time.Second,
	})
}

func seededAdapter() *provider.SimulatedAdapter {
	adapter := provider.NewSimulatedAdapter(models.ProviderAWS)
	adapter.Seed(testResource(), map[string]string{
		"instance_type": "m5.2xlarge",
		"status":        "running",
	})
	return adapter
}

func TestExecuteCompletesAllSteps(t *testing.T) {
	adapter := seededAdapter()
	store := storage.NewMemoryStore()
	eng := newTestEngine(adapter, store)

	opp := testOpportunity([]string{"stop", "resize instance_type=m5.xlarge", "start"})
	rec, err := eng.Execute(context.Background(), opp, "scheduler")
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if rec.Outcome != models.OutcomeCompleted {
		t.Fatalf("expected outcome completed, got %s", rec.Outcome)
	}
	if rec.SnapshotRef == "" {
		t.Error("expected a pre-state snapshot reference")
	}
	if rec.ActualSavings != opp.PotentialSavings {
		t.Errorf("expected actual savings %.2f, got %.2f", opp.PotentialSavings, rec.ActualSavings)
	}
	for _, step := range rec.Steps {
		if step.Status != models.StepSucceeded {
			t.Errorf("step %q: expected succeeded, got %s", step.Name, step.Status)
		}
	}

	snap, err := adapter.ReadState(context.Background(), opp.Resource)
	if err != nil {
		t.Fatalf("ReadState failed: %v", err)
	}
	if snap.Config["instance_type"] != "m5.xlarge" {
		t.Errorf("expected resized instance_type, got %q", snap.Config["instance_type"])
	}

	stored, err := store.GetExecution(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	if stored.Outcome != models.OutcomeCompleted {
		t.Errorf("stored record outcome %s, want completed", stored.Outcome)
	}
}

func TestStepFailureRollsBackInReverseOrder(t *testing.T) {
	adapter := seededAdapter()
	adapter.FailApply = func(_ models.ResourceRef, step provider.Step) error {
		if step.Verb == "start" {
			return &models.ProviderError{Op: "apply", Resource: testResource(), Err: errors.New("insufficient capacity")}
		}
		return nil
	}
	var reverted []string
	adapter.FailRevert = func(_ models.ResourceRef, step provider.Step) error {
		reverted = append(reverted, step.Verb)
		return nil
	}

	store := storage.NewMemoryStore()
	eng := newTestEngine(adapter, store)

	opp := testOpportunity([]string{"stop", "resize instance_type=m5.xlarge", "start"})
	rec, err := eng.Execute(context.Background(), opp, "scheduler")
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if rec.Outcome != models.OutcomeRolledBack {
		t.Fatalf("expected outcome rolled_back, got %s", rec.Outcome)
	}
	want := []string{"resize", "stop"}
	if len(reverted) != len(want) {
		t.Fatalf("expected %d inverse actions, got %v", len(want), reverted)
	}
	for i, verb := range want {
		if reverted[i] != verb {
			t.Errorf("inverse action %d: expected %s, got %s", i, verb, reverted[i])
		}
	}
	if rec.Steps[0].Status != models.StepRolledBack || rec.Steps[1].Status != models.StepRolledBack {
		t.Errorf("expected completed steps marked rolled_back, got %s and %s", rec.Steps[0].Status, rec.Steps[1].Status)
	}
	if rec.Steps[2].Status != models.StepFailed {
		t.Errorf("expected failed step marked failed, got %s", rec.Steps[2].Status)
	}

	snap, err := adapter.ReadState(context.Background(), opp.Resource)
	if err != nil {
		t.Fatalf("ReadState failed: %v", err)
	}
	if snap.Config["instance_type"] != "m5.2xlarge" {
		t.Errorf("expected original instance_type restored, got %q", snap.Config["instance_type"])
	}
}

func TestTransientFailureRetriesWithBackoff(t *testing.T) {
	adapter := seededAdapter()
	attempts := 0
	adapter.FailApply = func(_ models.ResourceRef, step provider.Step) error {
		if step.Verb != "resize" {
			return nil
		}
		attempts++
		if attempts < 3 {
			return &models.ProviderError{Op: "apply", Resource: testResource(), Transient: true, Err: errors.New("rate limited")}
		}
		return nil
	}

	store := storage.NewMemoryStore()
	eng := newTestEngine(adapter, store)

	rec, err := eng.Execute(context.Background(), testOpportunity([]string{"resize instance_type=m5.xlarge"}), "scheduler")
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if rec.Outcome != models.OutcomeCompleted {
		t.Fatalf("expected outcome completed after retries, got %s (%s)", rec.Outcome, rec.Error)
	}
	if rec.Steps[0].Attempts != 3 {
		t.Errorf("expected 3 attempts recorded, got %d", rec.Steps[0].Attempts)
	}
}

func TestPermanentFailureDoesNotRetry(t *testing.T) {
	adapter := seededAdapter()
	attempts := 0
	adapter.FailApply = func(models.ResourceRef, provider.Step) error {
		attempts++
		return &models.ProviderError{Op: "apply", Resource: testResource(), Err: errors.New("permission denied")}
	}

	store := storage.NewMemoryStore()
	eng := newTestEngine(adapter, store)

	rec, err := eng.Execute(context.Background(), testOpportunity([]string{"resize instance_type=m5.xlarge"}), "scheduler")
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if rec.Outcome != models.OutcomeRolledBack {
		t.Fatalf("expected outcome rolled_back, got %s", rec.Outcome)
	}
	if attempts != 1 {
		t.Errorf("expected a single attempt for a permanent failure, got %d", attempts)
	}
}

func TestVerificationMismatchRollsBackCompletedSteps(t *testing.T) {
	adapter := seededAdapter()
	// The resize step reports success but never lands, so the post-execution
	// state read disagrees with the expected post-conditions.
	adapter.Drift["resize"] = true
	var reverted []string
	adapter.FailRevert = func(_ models.ResourceRef, step provider.Step) error {
		reverted = append(reverted, step.Verb)
		return nil
	}

	store := storage.NewMemoryStore()
	eng := newTestEngine(adapter, store)

	steps := []string{"snapshot", "stop", "resize instance_type=m5.xlarge", "start", "verify"}
	rec, err := eng.Execute(context.Background(), testOpportunity(steps), "scheduler")
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if rec.Outcome != models.OutcomeRolledBack {
		t.Fatalf("expected outcome rolled_back, got %s", rec.Outcome)
	}
	want := []string{"start", "resize", "stop"}
	if len(reverted) != len(want) {
		t.Fatalf("expected inverse actions %v, got %v", want, reverted)
	}
	for i, verb := range want {
		if reverted[i] != verb {
			t.Errorf("inverse action %d: expected %s, got %s", i, verb, reverted[i])
		}
	}
	if !strings.Contains(rec.Error, "verification mismatch") {
		t.Errorf("expected verification mismatch error, got %q", rec.Error)
	}
}

func TestRollbackFailureIsUnrecoverable(t *testing.T) {
	adapter := seededAdapter()
	adapter.FailApply = func(_ models.ResourceRef, step provider.Step) error {
		if step.Verb == "start" {
			return &models.ProviderError{Op: "apply", Resource: testResource(), Err: errors.New("insufficient capacity")}
		}
		return nil
	}
	adapter.FailRevert = func(_ models.ResourceRef, step provider.Step) error {
		if step.Verb == "resize" {
			return errors.New("revert rejected")
		}
		return nil
	}

	store := storage.NewMemoryStore()
	eng := newTestEngine(adapter, store)

	opp := testOpportunity([]string{"stop", "resize instance_type=m5.xlarge", "start"})
	rec, err := eng.Execute(context.Background(), opp, "scheduler")
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if rec.Outcome != models.OutcomeFailedUnrecoverable {
		t.Fatalf("expected outcome failed_unrecoverable, got %s", rec.Outcome)
	}
	if !strings.Contains(rec.Error, "rollback") {
		t.Errorf("expected rollback failure detail, got %q", rec.Error)
	}
	// Partial rollback state stays visible: the resize step's revert failed
	// before the stop step was reached.
	if rec.Steps[0].Status != models.StepSucceeded {
		t.Errorf("stop step: expected succeeded (never reverted), got %s", rec.Steps[0].Status)
	}
	if rec.Steps[1].Status != models.StepSucceeded {
		t.Errorf("resize step: expected succeeded (revert failed), got %s", rec.Steps[1].Status)
	}
}

func TestCancelRollsBackCompletedSteps(t *testing.T) {
	adapter := seededAdapter()
	store := storage.NewMemoryStore()
	eng := newTestEngine(adapter, store)

	opp := testOpportunity([]string{"stop", "resize instance_type=m5.xlarge", "start"})

	// Fire the cancel while the first step is applying; the engine honors it
	// before issuing the next step.
	adapter.FailApply = func(models.ResourceRef, provider.Step) error {
		rec, err := store.GetExecutionByOpportunity(context.Background(), opp.ID)
		if err != nil {
			t.Fatalf("lookup of in-flight execution failed: %v", err)
		}
		if !eng.Cancel(rec.ID, "operator abort") {
			t.Fatal("Cancel returned false for in-flight execution")
		}
		return nil
	}

	rec, err := eng.Execute(context.Background(), opp, "scheduler")
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if rec.Outcome != models.OutcomeCancelled {
		t.Fatalf("expected outcome cancelled, got %s", rec.Outcome)
	}
	if rec.CancelReason != "operator abort" {
		t.Errorf("expected cancel reason recorded, got %q", rec.CancelReason)
	}
	if rec.Steps[0].Status != models.StepRolledBack {
		t.Errorf("expected completed step rolled back on cancel, got %s", rec.Steps[0].Status)
	}
	if rec.Steps[1].Status != models.StepPending {
		t.Errorf("expected unreached step left pending, got %s", rec.Steps[1].Status)
	}

	snap, err := adapter.ReadState(context.Background(), opp.Resource)
	if err != nil {
		t.Fatalf("ReadState failed: %v", err)
	}
	if snap.Config["status"] != "running" {
		t.Errorf("expected original status restored, got %q", snap.Config["status"])
	}
}

func TestCallerCancellationStillRollsBack(t *testing.T) {
	adapter := seededAdapter()
	store := storage.NewMemoryStore()
	eng := newTestEngine(adapter, store)

	// The caller hangs up mid-resize. Completed steps must still get their
	// reverse-order undo rather than finalizing as failed_unrecoverable.
	callerCtx, hangUp := context.WithCancel(context.Background())
	defer hangUp()
	adapter.FailApply = func(_ models.ResourceRef, step provider.Step) error {
		if step.Verb == "resize" {
			hangUp()
			return &models.ProviderError{Op: "apply", Resource: testResource(), Transient: true, Err: context.Canceled}
		}
		return nil
	}
	var reverted []string
	adapter.FailRevert = func(_ models.ResourceRef, step provider.Step) error {
		reverted = append(reverted, step.Verb)
		return nil
	}

	opp := testOpportunity([]string{"stop", "resize instance_type=m5.xlarge", "start"})
	rec, err := eng.Execute(callerCtx, opp, "scheduler")
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if rec.Outcome != models.OutcomeRolledBack {
		t.Fatalf("expected outcome rolled_back, got %s (%s)", rec.Outcome, rec.Error)
	}
	if len(reverted) != 1 || reverted[0] != "stop" {
		t.Fatalf("expected the stop step reverted, got %v", reverted)
	}
	if rec.Steps[0].Status != models.StepRolledBack {
		t.Errorf("expected completed step rolled back, got %s", rec.Steps[0].Status)
	}

	snap, err := adapter.ReadState(context.Background(), opp.Resource)
	if err != nil {
		t.Fatalf("ReadState failed: %v", err)
	}
	if snap.Config["status"] != "running" {
		t.Errorf("expected original status restored, got %q", snap.Config["status"])
	}

	stored, err := store.GetExecution(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	if stored.Outcome != models.OutcomeRolledBack {
		t.Errorf("stored record outcome %s, want rolled_back", stored.Outcome)
	}
}

func TestCancelInterruptsInFlightStep(t *testing.T) {
	adapter := seededAdapter()
	adapter.ApplyDelay = 10 * time.Second
	store := storage.NewMemoryStore()
	eng := newTestEngine(adapter, store)

	opp := testOpportunity([]string{"resize instance_type=m5.xlarge"})
	done := make(chan *models.ExecutionRecord, 1)
	go func() {
		rec, err := eng.Execute(context.Background(), opp, "scheduler")
		if err != nil {
			t.Errorf("Execute returned error: %v", err)
		}
		done <- rec
	}()

	var recID string
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if rec, err := store.GetExecutionByOpportunity(context.Background(), opp.ID); err == nil {
			recID = rec.ID
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if recID == "" {
		t.Fatal("execution record never appeared")
	}

	cancelled := time.Now()
	if !eng.Cancel(recID, "operator abort") {
		t.Fatal("Cancel returned false for in-flight execution")
	}

	select {
	case rec := <-done:
		if rec.Outcome != models.OutcomeCancelled {
			t.Fatalf("expected outcome cancelled, got %s (%s)", rec.Outcome, rec.Error)
		}
		if rec.CancelReason != "operator abort" {
			t.Errorf("expected cancel reason recorded, got %q", rec.CancelReason)
		}
		// Well under the step timeout: cancel interrupted the blocked provider
		// call instead of waiting it out.
		if waited := time.Since(cancelled); waited > time.Second {
			t.Errorf("cancel took %s to interrupt the in-flight step", waited)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("execution did not return after cancel")
	}
}

func TestCancelUnknownExecution(t *testing.T) {
	eng := newTestEngine(seededAdapter(), storage.NewMemoryStore())
	if eng.Cancel("no-such-execution", "why not") {
		t.Error("expected Cancel to return false for unknown execution")
	}
}
