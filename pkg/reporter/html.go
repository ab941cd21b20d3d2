package reporter

import (
	"fmt"
	"html/template"
	"io"
)

const htmlTemplate = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Cost Orchestrator Report - {{.Title}}</title>
    <style>
        * {
            margin: 0;
            padding: 0;
            box-sizing: border-box;
        }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: #f5f7fa;
            color: #333;
            padding: 20px;
            line-height: 1.6;
        }
        .container {
            max-width: 1400px;
            margin: 0 auto;
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 8px rgba(0, 0, 0, 0.1);
            overflow: hidden;
        }
        .header {
            background: linear-gradient(135deg, #326ce5 0%, #1a4d8f 100%);
            color: white;
            padding: 40px;
        }
        .header h1 {
            font-size: 2.2em;
            margin-bottom: 10px;
        }
        .header .meta {
            opacity: 0.95;
        }
        .summary {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(240px, 1fr));
            gap: 20px;
            padding: 30px 40px;
            background: #f8f9fa;
        }
        .summary-card {
            background: white;
            padding: 24px;
            border-radius: 8px;
            border-left: 4px solid #326ce5;
        }
        .summary-card .value {
            font-size: 2em;
            font-weight: 600;
            color: #326ce5;
        }
        .summary-card .label {
            color: #666;
            font-size: 0.9em;
            text-transform: uppercase;
        }
        table {
            width: 100%;
            border-collapse: collapse;
        }
        th {
            background: #f1f3f5;
            text-align: left;
            padding: 12px 16px;
            font-size: 0.85em;
            text-transform: uppercase;
            color: #555;
        }
        td {
            padding: 12px 16px;
            border-top: 1px solid #eee;
        }
        .section {
            padding: 30px 40px;
        }
        .section h2 {
            margin-bottom: 16px;
            color: #1a4d8f;
        }
        .risk-low { color: #2e7d32; font-weight: 600; }
        .risk-medium { color: #f9a825; font-weight: 600; }
        .risk-high { color: #c62828; font-weight: 600; }
        .savings { color: #2e7d32; font-weight: 600; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Cost Optimization Report</h1>
            <div class="meta">
                <strong>{{.Title}}</strong> &middot; Generated {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}
            </div>
        </div>
        <div class="summary">
            <div class="summary-card">
                <div class="value">${{printf "%.2f" .PotentialSavings}}</div>
                <div class="label">Potential Monthly Savings</div>
            </div>
            <div class="summary-card">
                <div class="value">{{.OpenCount}}</div>
                <div class="label">Open Opportunities</div>
            </div>
            <div class="summary-card">
                <div class="value">{{.CompletedCount}}</div>
                <div class="label">Completed Optimizations</div>
            </div>
        </div>
        <div class="section">
            <h2>Opportunities</h2>
            <table>
                <tr>
                    <th>Service</th>
                    <th>Resource</th>
                    <th>Type</th>
                    <th>State</th>
                    <th>Savings</th>
                    <th>Risk</th>
                    <th>Confidence</th>
                </tr>
                {{range .Opportunities}}
                <tr>
                    <td>{{.ServiceName}}</td>
                    <td>{{.Resource.Key}}</td>
                    <td>{{.Type}}</td>
                    <td>{{.State}}</td>
                    <td class="savings">${{printf "%.2f" .PotentialSavings}}/mo</td>
                    <td class="risk-{{.RiskLevel}}">{{.RiskLevel}}</td>
                    <td>{{printf "%.0f" (confidencePct .ConfidenceScore)}}%</td>
                </tr>
                {{end}}
            </table>
        </div>
        <div class="section">
            <h2>By Provider</h2>
            <table>
                <tr>
                    <th>Provider</th>
                    <th>Opportunities</th>
                    <th>Savings</th>
                </tr>
                {{range .ProviderStats}}
                <tr>
                    <td>{{.Provider}}</td>
                    <td>{{.Opportunities}}</td>
                    <td class="savings">${{printf "%.2f" .PotentialSavings}}/mo</td>
                </tr>
                {{end}}
            </table>
        </div>
    </div>
</body>
</html>
`

// GenerateHTML creates an HTML report
func GenerateHTML(report *Report, writer io.Writer) error {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"confidencePct": func(score float64) float64 { return score * 100 },
	}).Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse HTML template: %w", err)
	}
	if err := tmpl.Execute(writer, report); err != nil {
		return fmt.Errorf("failed to render HTML report: %w", err)
	}
	return nil
}
