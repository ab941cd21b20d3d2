package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opscart/cloud-cost-orchestrator/pkg/analytics"
	"github.com/opscart/cloud-cost-orchestrator/pkg/approval"
	"github.com/opscart/cloud-cost-orchestrator/pkg/engine"
	"github.com/opscart/cloud-cost-orchestrator/pkg/metrics"
	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
	"github.com/opscart/cloud-cost-orchestrator/pkg/orchestrator"
	"github.com/opscart/cloud-cost-orchestrator/pkg/provider"
	"github.com/opscart/cloud-cost-orchestrator/pkg/storage"
)

type testEnv struct {
	server  *httptest.Server
	store   *storage.MemoryStore
	adapter *provider.SimulatedAdapter
}

type staticResolver struct {
	adapter provider.Adapter
}

func (r staticResolver) For(models.CloudProvider) (provider.Adapter, error) {
	return r.adapter, nil
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := storage.NewMemoryStore()
	adapter := provider.NewSimulatedAdapter(models.ProviderAWS)
	eng := engine.New(staticResolver{adapter}, store, engine.Options{
		StepTimeout:  time.Second,
		RetryBackoff: time.Millisecond,
	})
	coord := approval.NewCoordinator(store, 24*time.Hour, 0)
	orch := orchestrator.New(store, coord, eng, nil, metrics.NewCollector(prometheus.NewRegistry()))
	srv := NewServer(store, orch, analytics.NewAnalyzer(store), nil)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, store: store, adapter: adapter}
}

func (e *testEnv) admit(t *testing.T) *models.OptimizationOpportunity {
	t.Helper()
	resource := models.ResourceRef{
		Provider:   models.ProviderAWS,
		Region:     "us-east-1",
		ResourceID: "i-1234567890abcdef0",
	}
	e.adapter.Seed(resource, map[string]string{"instance_type": "m5.2xlarge"})
	now := time.Now()
	opp := &models.OptimizationOpportunity{
		ServiceName:         "payments-api",
		Resource:            resource,
		Type:                models.OptimizationRightsizing,
		CurrentCost:         120.0,
		PotentialSavings:    34.20,
		ConfidenceScore:     0.9,
		RiskLevel:           models.RiskLow,
		Description:         "Downsize over-provisioned instance",
		ImplementationSteps: []string{"resize instance_type=m5.xlarge"},
		State:               models.StateDiscovered,
		CreatedAt:           now,
		ExpiresAt:           now.Add(24 * time.Hour),
	}
	if err := e.store.SaveOpportunity(context.Background(), opp); err != nil {
		t.Fatalf("SaveOpportunity failed: %v", err)
	}
	return opp
}

func do(t *testing.T, method, url string, want int) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	if resp.StatusCode != want {
		t.Fatalf("%s %s: expected status %d, got %d", method, url, want, resp.StatusCode)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, into interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	opp := env.admit(t)
	base := env.server.URL + "/api/v1/opportunities/" + opp.ID

	do(t, http.MethodPost, base+"/request-approval", http.StatusAccepted).Body.Close()

	var decision models.DecisionResult
	decode(t, do(t, http.MethodPost, base+"/approve?approver_id=alice", http.StatusOK), &decision)
	if decision.Decision != models.DecisionApproved || decision.Replay {
		t.Errorf("unexpected decision result: %+v", decision)
	}

	var rec models.ExecutionRecord
	decode(t, do(t, http.MethodPost, base+"/execute?executed_by=ops", http.StatusOK), &rec)
	if rec.Outcome != models.OutcomeCompleted {
		t.Fatalf("expected completed execution, got %s (%s)", rec.Outcome, rec.Error)
	}

	var final models.OptimizationOpportunity
	decode(t, do(t, http.MethodGet, base, http.StatusOK), &final)
	if final.State != models.StateCompleted {
		t.Errorf("expected state completed, got %s", final.State)
	}

	var history struct {
		Events []models.TransitionEvent `json:"events"`
	}
	decode(t, do(t, http.MethodGet, base+"/history", http.StatusOK), &history)
	if len(history.Events) != 5 {
		t.Errorf("expected 5 transition events, got %d", len(history.Events))
	}

	var execution models.ExecutionRecord
	decode(t, do(t, http.MethodGet, env.server.URL+"/api/v1/executions/"+rec.ID, http.StatusOK), &execution)
	if execution.ID != rec.ID {
		t.Errorf("expected execution %s, got %s", rec.ID, execution.ID)
	}
}

func TestApproveRequiresApproverID(t *testing.T) {
	env := newTestEnv(t)
	opp := env.admit(t)
	base := env.server.URL + "/api/v1/opportunities/" + opp.ID

	do(t, http.MethodPost, base+"/request-approval", http.StatusAccepted).Body.Close()

	var apiErr apiError
	decode(t, do(t, http.MethodPost, base+"/approve", http.StatusBadRequest), &apiErr)
	if apiErr.Code != "validation_failed" {
		t.Errorf("expected code validation_failed, got %s", apiErr.Code)
	}
	if apiErr.RequestID == "" {
		t.Error("expected a request id in the error body")
	}
}

func TestLateRejectionReplaysOriginalDecision(t *testing.T) {
	env := newTestEnv(t)
	opp := env.admit(t)
	base := env.server.URL + "/api/v1/opportunities/" + opp.ID

	do(t, http.MethodPost, base+"/request-approval", http.StatusAccepted).Body.Close()
	do(t, http.MethodPost, base+"/approve?approver_id=alice", http.StatusOK).Body.Close()

	var replay models.DecisionResult
	decode(t, do(t, http.MethodPost, base+"/reject?approver_id=bob&reason=nope", http.StatusOK), &replay)
	if !replay.Replay || replay.Decision != models.DecisionApproved {
		t.Errorf("expected replay of approval, got %+v", replay)
	}
}

func TestDecisionAfterOpportunityExpiryIsGone(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	opp := &models.OptimizationOpportunity{
		ServiceName:         "payments-api",
		Resource:            models.ResourceRef{Provider: models.ProviderAWS, Region: "us-east-1", ResourceID: "i-0ttl"},
		Type:                models.OptimizationRightsizing,
		CurrentCost:         120.0,
		PotentialSavings:    34.20,
		ConfidenceScore:     0.9,
		RiskLevel:           models.RiskLow,
		Description:         "Short-lived opportunity",
		ImplementationSteps: []string{"resize instance_type=m5.xlarge"},
		State:               models.StateDiscovered,
		CreatedAt:           now,
		ExpiresAt:           now.Add(200 * time.Millisecond),
	}
	if err := env.store.SaveOpportunity(context.Background(), opp); err != nil {
		t.Fatalf("SaveOpportunity failed: %v", err)
	}
	base := env.server.URL + "/api/v1/opportunities/" + opp.ID

	do(t, http.MethodPost, base+"/request-approval", http.StatusAccepted).Body.Close()
	time.Sleep(250 * time.Millisecond)

	var apiErr apiError
	decode(t, do(t, http.MethodPost, base+"/approve?approver_id=alice", http.StatusGone), &apiErr)
	if apiErr.Code != "expired" {
		t.Errorf("expected code expired, got %s", apiErr.Code)
	}

	stored, err := env.store.GetOpportunity(context.Background(), opp.ID)
	if err != nil {
		t.Fatalf("GetOpportunity failed: %v", err)
	}
	if stored.State != models.StateExpired {
		t.Errorf("expected state expired, got %s", stored.State)
	}
}

func TestUnknownOpportunityIs404(t *testing.T) {
	env := newTestEnv(t)
	var apiErr apiError
	decode(t, do(t, http.MethodGet, env.server.URL+"/api/v1/opportunities/nope", http.StatusNotFound), &apiErr)
	if apiErr.Code != "not_found" {
		t.Errorf("expected code not_found, got %s", apiErr.Code)
	}
}

func TestExecuteBeforeApprovalIsConflict(t *testing.T) {
	env := newTestEnv(t)
	opp := env.admit(t)
	base := env.server.URL + "/api/v1/opportunities/" + opp.ID

	var apiErr apiError
	decode(t, do(t, http.MethodPost, base+"/execute", http.StatusConflict), &apiErr)
	if apiErr.Code != "invalid_transition" {
		t.Errorf("expected code invalid_transition, got %s", apiErr.Code)
	}
}

func TestListOpportunitiesPagination(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		env.admit(t)
	}

	var page listResponse
	decode(t, do(t, http.MethodGet, env.server.URL+"/api/v1/opportunities?limit=2", http.StatusOK), &page)
	if page.Total != 3 {
		t.Errorf("expected total 3, got %d", page.Total)
	}
	if len(page.Opportunities) != 2 {
		t.Errorf("expected 2 opportunities in page, got %d", len(page.Opportunities))
	}
}

func TestOptimizationMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.admit(t)

	var m models.OptimizationMetrics
	decode(t, do(t, http.MethodGet, env.server.URL+"/api/v1/optimizations/metrics", http.StatusOK), &m)
	if m.TotalOpportunities != 1 {
		t.Errorf("expected 1 opportunity, got %d", m.TotalOpportunities)
	}
	if m.ByState[models.StateDiscovered] != 1 {
		t.Errorf("expected 1 discovered, got %v", m.ByState)
	}
}
