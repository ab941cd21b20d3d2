package reporter

import (
	"encoding/csv"
	"fmt"
	"io"
)

// GenerateCSV creates a CSV report
func GenerateCSV(report *Report, writer io.Writer) error {
	w := csv.NewWriter(writer)
	defer w.Flush()

	header := []string{
		"Service",
		"Provider",
		"Region",
		"Resource",
		"Type",
		"State",
		"Current Cost ($/mo)",
		"Potential Savings ($/mo)",
		"Risk",
		"Confidence",
		"Description",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, opp := range report.Opportunities {
		row := []string{
			opp.ServiceName,
			string(opp.Resource.Provider),
			opp.Resource.Region,
			opp.Resource.ResourceID,
			string(opp.Type),
			string(opp.State),
			fmt.Sprintf("%.2f", opp.CurrentCost),
			fmt.Sprintf("%.2f", opp.PotentialSavings),
			string(opp.RiskLevel),
			fmt.Sprintf("%.2f", opp.ConfidenceScore),
			opp.Description,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Write([]string{})
	w.Write([]string{"SUMMARY"})
	w.Write([]string{"Open Opportunities", fmt.Sprintf("%d", report.OpenCount)})
	w.Write([]string{"Completed Optimizations", fmt.Sprintf("%d", report.CompletedCount)})
	w.Write([]string{"Potential Monthly Savings", fmt.Sprintf("$%.2f", report.PotentialSavings)})

	w.Write([]string{})
	w.Write([]string{"PROVIDER BREAKDOWN"})
	w.Write([]string{"Provider", "Opportunities", "Savings"})
	for _, pStat := range report.ProviderStats {
		w.Write([]string{
			string(pStat.Provider),
			fmt.Sprintf("%d", pStat.Opportunities),
			fmt.Sprintf("$%.2f", pStat.PotentialSavings),
		})
	}

	return nil
}
