package models

import "time"

// OptimizationMetrics summarizes orchestrator activity over stored state.
// Backs GET /optimizations/metrics.
type OptimizationMetrics struct {
	TotalOpportunities int                      `json:"total_opportunities"`
	ByState            map[LifecycleState]int   `json:"by_state"`
	ByProvider         map[CloudProvider]int    `json:"by_provider"`
	ByType             map[OptimizationType]int `json:"by_type"`

	PotentialSavings float64 `json:"potential_savings_monthly"`
	RealizedSavings  float64 `json:"realized_savings_monthly"`

	ExecutionsTotal      int     `json:"executions_total"`
	ExecutionsCompleted  int     `json:"executions_completed"`
	ExecutionsRolledBack int     `json:"executions_rolled_back"`
	SuccessRate          float64 `json:"execution_success_rate"`

	GeneratedAt time.Time `json:"generated_at"`
}

// CostAnalysis is a provider/service cost breakdown over discovered
// opportunities. Backs GET /analytics/cost.
type CostAnalysis struct {
	TotalMonthlyCost      float64                   `json:"total_monthly_cost"`
	TotalResources        int                       `json:"total_resources"`
	CostByProvider        map[CloudProvider]float64 `json:"cost_by_provider"`
	CostByService         map[string]float64        `json:"cost_by_service"`
	OptimizationPotential float64                   `json:"total_optimization_potential"`
	HighImpactCount       int                       `json:"high_impact_opportunities"`
	LowRiskCount          int                       `json:"low_risk_opportunities"`
	AnalysisDate          time.Time                 `json:"analysis_date"`
}
