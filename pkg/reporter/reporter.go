// Package reporter renders opportunity reports for humans: CSV for
// spreadsheets and HTML for browsers.
package reporter

import (
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// ReportFormat represents the output format
type ReportFormat string

const (
	FormatHTML ReportFormat = "html"
	FormatCSV  ReportFormat = "csv"
)

// Report contains all data for generating reports
type Report struct {
	Title            string
	GeneratedAt      time.Time
	Opportunities    []*models.OptimizationOpportunity
	PotentialSavings float64
	OpenCount        int
	CompletedCount   int
	ProviderStats    map[models.CloudProvider]*ProviderStats
	TypeStats        map[models.OptimizationType]*TypeStats
}

// ProviderStats holds statistics per cloud provider
type ProviderStats struct {
	Provider         models.CloudProvider
	Opportunities    int
	PotentialSavings float64
}

// TypeStats holds statistics per optimization type
type TypeStats struct {
	Type             models.OptimizationType
	Opportunities    int
	PotentialSavings float64
	CompletionRate   float64
}

// Build assembles a report over a set of opportunities.
func Build(title string, opportunities []*models.OptimizationOpportunity) *Report {
	report := &Report{
		Title:         title,
		GeneratedAt:   time.Now(),
		Opportunities: opportunities,
		ProviderStats: make(map[models.CloudProvider]*ProviderStats),
		TypeStats:     make(map[models.OptimizationType]*TypeStats),
	}

	completedByType := make(map[models.OptimizationType]int)
	for _, opp := range opportunities {
		switch {
		case opp.State == models.StateCompleted:
			report.CompletedCount++
			completedByType[opp.Type]++
		case !opp.State.Terminal():
			report.OpenCount++
			report.PotentialSavings += opp.PotentialSavings
		}

		provider := opp.Resource.Provider
		if _, exists := report.ProviderStats[provider]; !exists {
			report.ProviderStats[provider] = &ProviderStats{Provider: provider}
		}
		pStat := report.ProviderStats[provider]
		pStat.Opportunities++
		pStat.PotentialSavings += opp.PotentialSavings

		if _, exists := report.TypeStats[opp.Type]; !exists {
			report.TypeStats[opp.Type] = &TypeStats{Type: opp.Type}
		}
		tStat := report.TypeStats[opp.Type]
		tStat.Opportunities++
		tStat.PotentialSavings += opp.PotentialSavings
	}

	for optType, stat := range report.TypeStats {
		if stat.Opportunities > 0 {
			stat.CompletionRate = float64(completedByType[optType]) / float64(stat.Opportunities) * 100
		}
	}

	return report
}
