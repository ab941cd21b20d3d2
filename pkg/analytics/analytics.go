// Package analytics builds reporting summaries over stored lifecycle
// state.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
	"github.com/opscart/cloud-cost-orchestrator/pkg/storage"
)

// highImpactThreshold is the monthly savings above which an opportunity
// counts as high impact.
const highImpactThreshold = 100.0

// Analyzer computes read-only summaries from the store.
type Analyzer struct {
	store storage.Store
}

// NewAnalyzer creates an analyzer
func NewAnalyzer(store storage.Store) *Analyzer {
	return &Analyzer{store: store}
}

// Metrics summarizes lifecycle and execution activity across all stored
// opportunities.
func (a *Analyzer) Metrics(ctx context.Context) (*models.OptimizationMetrics, error) {
	opportunities, _, err := a.store.ListOpportunities(ctx, storage.ListFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list opportunities: %w", err)
	}

	out := &models.OptimizationMetrics{
		TotalOpportunities: len(opportunities),
		ByState:            make(map[models.LifecycleState]int),
		ByProvider:         make(map[models.CloudProvider]int),
		ByType:             make(map[models.OptimizationType]int),
		GeneratedAt:        time.Now(),
	}

	for _, opp := range opportunities {
		out.ByState[opp.State]++
		out.ByProvider[opp.Resource.Provider]++
		out.ByType[opp.Type]++
		out.PotentialSavings += opp.PotentialSavings

		rec, err := a.store.GetExecutionByOpportunity(ctx, opp.ID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to read execution for %s: %w", opp.ID, err)
		}
		out.ExecutionsTotal++
		switch rec.Outcome {
		case models.OutcomeCompleted:
			out.ExecutionsCompleted++
			out.RealizedSavings += rec.ActualSavings
		case models.OutcomeRolledBack, models.OutcomeCancelled:
			out.ExecutionsRolledBack++
		}
	}
	if out.ExecutionsTotal > 0 {
		out.SuccessRate = float64(out.ExecutionsCompleted) / float64(out.ExecutionsTotal)
	}
	return out, nil
}

// CostAnalysis breaks current spend and optimization potential down by
// provider and service.
func (a *Analyzer) CostAnalysis(ctx context.Context) (*models.CostAnalysis, error) {
	opportunities, _, err := a.store.ListOpportunities(ctx, storage.ListFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list opportunities: %w", err)
	}

	out := &models.CostAnalysis{
		CostByProvider: make(map[models.CloudProvider]float64),
		CostByService:  make(map[string]float64),
		AnalysisDate:   time.Now(),
	}

	seen := make(map[string]bool)
	for _, opp := range opportunities {
		key := opp.Resource.Key()
		if !seen[key] {
			seen[key] = true
			out.TotalResources++
			out.TotalMonthlyCost += opp.CurrentCost
			out.CostByProvider[opp.Resource.Provider] += opp.CurrentCost
			if opp.ServiceName != "" {
				out.CostByService[opp.ServiceName] += opp.CurrentCost
			}
		}

		if opp.State.Terminal() && opp.State != models.StateCompleted {
			continue
		}
		out.OptimizationPotential += opp.PotentialSavings
		if opp.PotentialSavings >= highImpactThreshold {
			out.HighImpactCount++
		}
		if opp.RiskLevel == models.RiskLow {
			out.LowRiskCount++
		}
	}
	return out, nil
}
