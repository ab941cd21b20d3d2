package approval

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// TeamsChannel posts approval requests to a Microsoft Teams incoming
// webhook as a MessageCard.
type TeamsChannel struct {
	webhookURL string
	client     *http.Client
}

// NewTeamsChannel creates a Teams approval channel
func NewTeamsChannel(webhookURL string) *TeamsChannel {
	return &TeamsChannel{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (TeamsChannel) Type() models.ChannelType { return models.ChannelTeams }

type teamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type teamsSection struct {
	ActivityTitle string      `json:"activityTitle"`
	Text          string      `json:"text,omitempty"`
	Facts         []teamsFact `json:"facts,omitempty"`
}

type teamsCard struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	Summary    string         `json:"summary"`
	ThemeColor string         `json:"themeColor"`
	Sections   []teamsSection `json:"sections"`
}

func (c *TeamsChannel) Deliver(ctx context.Context, opp *models.OptimizationOpportunity, req *models.ApprovalRequest) error {
	card := teamsCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		Summary:    fmt.Sprintf("Approval needed: %s on %s", opp.Type, opp.Resource.Key()),
		ThemeColor: riskColor(opp.RiskLevel),
		Sections: []teamsSection{{
			ActivityTitle: fmt.Sprintf("Approval needed: %s", opp.Type),
			Text:          opp.Description,
			Facts: []teamsFact{
				{Name: "Resource", Value: opp.Resource.Key()},
				{Name: "Estimated savings", Value: fmt.Sprintf("$%.2f/month", opp.PotentialSavings)},
				{Name: "Risk", Value: string(opp.RiskLevel)},
				{Name: "Confidence", Value: fmt.Sprintf("%.0f%%", opp.ConfidenceScore*100)},
				{Name: "Expires", Value: req.ExpiresAt.Format(time.RFC1123)},
				{Name: "Request", Value: req.ID},
			},
		}},
	}
	return postJSON(ctx, c.client, c.webhookURL, card, "teams")
}

func riskColor(risk models.RiskLevel) string {
	switch risk {
	case models.RiskHigh:
		return "D93F0B"
	case models.RiskMedium:
		return "FFA500"
	default:
		return "2EB886"
	}
}
