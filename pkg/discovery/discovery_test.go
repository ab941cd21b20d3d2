package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/datasource"
	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
	"github.com/opscart/cloud-cost-orchestrator/pkg/pricing"
)

type stubSource struct {
	byNamespace map[string][]*datasource.Utilization
}

func (s *stubSource) CollectUtilization(_ context.Context, namespace string, _ time.Duration) ([]*datasource.Utilization, error) {
	return s.byNamespace[namespace], nil
}

func (s *stubSource) IsAvailable(context.Context) bool { return true }
func (s *stubSource) Name() string                     { return "stub" }

func utilization(namespace, workload string, cpuUsage, cpuRequest, memUsage, memRequest float64) *datasource.Utilization {
	return &datasource.Utilization{
		Resource: models.ResourceRef{
			Provider:   models.ProviderKubernetes,
			Region:     namespace,
			ResourceID: namespace + "/" + workload,
		},
		ServiceName:        workload,
		Namespace:          namespace,
		Workload:           workload,
		CPUUsageCores:      cpuUsage,
		CPURequestCores:    cpuRequest,
		MemoryUsageBytes:   memUsage,
		MemoryRequestBytes: memRequest,
		Replicas:           2,
		Window:             7 * 24 * time.Hour,
		SampleCount:        2016,
		CollectedAt:        time.Now(),
	}
}

func TestRightsizingRuleFlagsOverProvisioned(t *testing.T) {
	rule := &RightsizingRule{}
	rate := &pricing.Rate{CPUCostPerCore: 30, MemoryCostPerGiB: 4}

	// 2 cores requested, P95 at 0.2 cores.
	opp := rule.Evaluate(utilization("prod", "payments-api", 0.2, 2.0, 512*1024*1024, 4*1024*1024*1024), rate)
	if opp == nil {
		t.Fatal("expected a rightsizing opportunity")
	}
	if opp.Type != models.OptimizationRightsizing {
		t.Errorf("expected type rightsizing, got %s", opp.Type)
	}
	if opp.PotentialSavings <= 0 {
		t.Errorf("expected positive savings, got %.2f", opp.PotentialSavings)
	}
	if len(opp.ImplementationSteps) != 3 || opp.ImplementationSteps[0] != "snapshot" || opp.ImplementationSteps[2] != "verify" {
		t.Errorf("unexpected steps: %v", opp.ImplementationSteps)
	}
	if opp.ConfidenceScore != 0.95 {
		t.Errorf("expected full-window confidence 0.95, got %.2f", opp.ConfidenceScore)
	}
}

func TestRightsizingRuleIgnoresWellSized(t *testing.T) {
	rule := &RightsizingRule{}
	rate := &pricing.Rate{CPUCostPerCore: 30, MemoryCostPerGiB: 4}

	// Usage near requests on both axes.
	opp := rule.Evaluate(utilization("prod", "payments-api", 0.9, 1.0, 3.5*1024*1024*1024, 4*1024*1024*1024), rate)
	if opp != nil {
		t.Errorf("expected no opportunity for a well-sized workload, got %+v", opp)
	}
}

func TestStorageRuleFlagsMostlyEmptyVolume(t *testing.T) {
	rule := &StorageRule{}
	rate := &pricing.Rate{CPUCostPerCore: 30, MemoryCostPerGiB: 4}

	// 100Gi provisioned, 10Gi used.
	util := utilization("prod", "archive-db", 0.5, 1.0, 1024*1024*1024, 2*1024*1024*1024)
	util.VolumeBytesProvisioned = 100 * 1024 * 1024 * 1024
	util.VolumeBytesUsed = 10 * 1024 * 1024 * 1024

	opp := rule.Evaluate(util, rate)
	if opp == nil {
		t.Fatal("expected a storage opportunity")
	}
	if opp.Type != models.OptimizationStorage {
		t.Errorf("expected type storage_optimization, got %s", opp.Type)
	}
	if opp.RiskLevel != models.RiskHigh {
		t.Errorf("expected high risk for a volume shrink, got %s", opp.RiskLevel)
	}
	// 10Gi used * 1.5 margin = 15Gi recommended, 85Gi freed at $0.10.
	if opp.PotentialSavings < 8.4 || opp.PotentialSavings > 8.6 {
		t.Errorf("expected savings near 8.50, got %.2f", opp.PotentialSavings)
	}
	if opp.ImplementationSteps[1] != "resize-volume size=15Gi" {
		t.Errorf("unexpected resize step: %v", opp.ImplementationSteps)
	}
	if opp.RollbackSteps[0] != "resize-volume size=100Gi" {
		t.Errorf("unexpected rollback step: %v", opp.RollbackSteps)
	}
}

func TestStorageRuleIgnoresFullVolume(t *testing.T) {
	rule := &StorageRule{}
	rate := &pricing.Rate{CPUCostPerCore: 30, MemoryCostPerGiB: 4}

	util := utilization("prod", "archive-db", 0.5, 1.0, 1024*1024*1024, 2*1024*1024*1024)
	util.VolumeBytesProvisioned = 100 * 1024 * 1024 * 1024
	util.VolumeBytesUsed = 80 * 1024 * 1024 * 1024

	if opp := rule.Evaluate(util, rate); opp != nil {
		t.Errorf("expected no opportunity for a well-used volume, got %+v", opp)
	}
}

func TestUnusedResourceRuleFlagsIdle(t *testing.T) {
	rule := &UnusedResourceRule{}
	rate := &pricing.Rate{CPUCostPerCore: 30, MemoryCostPerGiB: 4}

	opp := rule.Evaluate(utilization("prod", "legacy-batch", 0.001, 1.0, 10*1024*1024, 1024*1024*1024), rate)
	if opp == nil {
		t.Fatal("expected an unused-resource opportunity")
	}
	if opp.PotentialSavings != opp.CurrentCost {
		t.Errorf("expected full cost as savings, got %.2f of %.2f", opp.PotentialSavings, opp.CurrentCost)
	}
	if opp.RollbackSteps[0] != "scale replicas=2" {
		t.Errorf("expected rollback to restore 2 replicas, got %q", opp.RollbackSteps[0])
	}
}

func TestSchedulingRuleOnlyNonProduction(t *testing.T) {
	rule := &SchedulingRule{}
	rate := &pricing.Rate{CPUCostPerCore: 30, MemoryCostPerGiB: 4}

	if opp := rule.Evaluate(utilization("payments-prod", "api", 0.5, 1.0, 0, 1024*1024*1024), rate); opp != nil {
		t.Errorf("expected no scheduling opportunity in prod namespace, got %+v", opp)
	}
	opp := rule.Evaluate(utilization("payments-staging", "api", 0.5, 1.0, 0, 1024*1024*1024), rate)
	if opp == nil {
		t.Fatal("expected a scheduling opportunity in staging namespace")
	}
	if opp.Type != models.OptimizationScheduling {
		t.Errorf("expected type scheduling, got %s", opp.Type)
	}
}

func TestDiscoverFiltersAndRanks(t *testing.T) {
	source := &stubSource{byNamespace: map[string][]*datasource.Utilization{
		"team-a": {
			utilization("team-a", "big-waste", 0.2, 4.0, 512*1024*1024, 8*1024*1024*1024),
			utilization("team-a", "small-waste", 0.2, 0.5, 100*1024*1024, 256*1024*1024),
		},
		"team-b": {
			utilization("team-b", "idle-batch", 0.0, 1.0, 10*1024*1024, 1024*1024*1024),
		},
	}}

	d := New(source, pricing.NewDefaultProvider(30, 4), Options{
		Namespaces:    []string{"team-a", "team-b"},
		MinSavings:    10.0,
		MinConfidence: 0.7,
		TTL:           7 * 24 * time.Hour,
	})

	found, err := d.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(found) == 0 {
		t.Fatal("expected opportunities")
	}
	for i := 1; i < len(found); i++ {
		if found[i].PotentialSavings > found[i-1].PotentialSavings {
			t.Errorf("expected descending savings order, got %.2f after %.2f",
				found[i].PotentialSavings, found[i-1].PotentialSavings)
		}
	}
	for _, opp := range found {
		if opp.PotentialSavings < 10.0 {
			t.Errorf("opportunity below savings floor: %.2f", opp.PotentialSavings)
		}
		if opp.State != models.StateDiscovered {
			t.Errorf("expected state discovered, got %s", opp.State)
		}
		if !opp.ExpiresAt.After(opp.CreatedAt) {
			t.Error("expected a ttl on discovered opportunities")
		}
	}
}
