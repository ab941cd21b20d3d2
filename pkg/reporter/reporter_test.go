package reporter

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

func sampleOpportunities() []*models.OptimizationOpportunity {
	now := time.Now()
	return []*models.OptimizationOpportunity{
		{
			ID:               "opp-1",
			ServiceName:      "payments-api",
			Resource:         models.ResourceRef{Provider: models.ProviderAWS, Region: "us-east-1", ResourceID: "i-aaa"},
			Type:             models.OptimizationRightsizing,
			CurrentCost:      120,
			PotentialSavings: 40,
			ConfidenceScore:  0.9,
			RiskLevel:        models.RiskLow,
			State:            models.StateDiscovered,
			CreatedAt:        now,
		},
		{
			ID:               "opp-2",
			ServiceName:      "batch-worker",
			Resource:         models.ResourceRef{Provider: models.ProviderAWS, Region: "us-east-1", ResourceID: "i-bbb"},
			Type:             models.OptimizationRightsizing,
			CurrentCost:      90,
			PotentialSavings: 30,
			ConfidenceScore:  0.8,
			RiskLevel:        models.RiskMedium,
			State:            models.StateCompleted,
			CreatedAt:        now,
		},
		{
			ID:               "opp-3",
			ServiceName:      "idle-cache",
			Resource:         models.ResourceRef{Provider: models.ProviderGCP, Region: "us-central1", ResourceID: "vm-ccc"},
			Type:             models.OptimizationUnusedResources,
			CurrentCost:      60,
			PotentialSavings: 60,
			ConfidenceScore:  0.95,
			RiskLevel:        models.RiskMedium,
			State:            models.StateRejected,
			CreatedAt:        now,
		},
	}
}

func TestBuildComputesStats(t *testing.T) {
	report := Build("prod", sampleOpportunities())

	// Potential savings counts only non-terminal opportunities.
	if report.PotentialSavings != 40 {
		t.Errorf("expected potential savings 40, got %.2f", report.PotentialSavings)
	}
	if report.OpenCount != 1 {
		t.Errorf("expected 1 open opportunity, got %d", report.OpenCount)
	}
	if report.CompletedCount != 1 {
		t.Errorf("expected 1 completed, got %d", report.CompletedCount)
	}

	aws := report.ProviderStats[models.ProviderAWS]
	if aws == nil || aws.Opportunities != 2 {
		t.Fatalf("expected 2 AWS opportunities, got %+v", aws)
	}
	if aws.PotentialSavings != 70 {
		t.Errorf("expected AWS savings 70, got %.2f", aws.PotentialSavings)
	}

	rightsizing := report.TypeStats[models.OptimizationRightsizing]
	if rightsizing == nil || rightsizing.Opportunities != 2 {
		t.Fatalf("expected 2 rightsizing opportunities, got %+v", rightsizing)
	}
	if rightsizing.CompletionRate != 50 {
		t.Errorf("expected 50%% completion rate, got %.1f", rightsizing.CompletionRate)
	}
}

func TestGenerateCSV(t *testing.T) {
	report := Build("prod", sampleOpportunities())

	var buf bytes.Buffer
	if err := GenerateCSV(report, &buf); err != nil {
		t.Fatalf("GenerateCSV failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"payments-api", "i-aaa", "SUMMARY", "PROVIDER BREAKDOWN", "$40.00"} {
		if !strings.Contains(out, want) {
			t.Errorf("CSV output missing %q", want)
		}
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 4 {
		t.Errorf("expected at least header plus 3 rows, got %d lines", len(lines))
	}
}

func TestGenerateHTML(t *testing.T) {
	report := Build("prod", sampleOpportunities())

	var buf bytes.Buffer
	if err := GenerateHTML(report, &buf); err != nil {
		t.Fatalf("GenerateHTML failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"<!DOCTYPE html>", "payments-api", "Cost Optimization Report", "$40.00"} {
		if !strings.Contains(out, want) {
			t.Errorf("HTML output missing %q", want)
		}
	}
}
