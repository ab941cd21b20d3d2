package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// SlackChannel posts approval requests to a Slack incoming webhook with
// block formatting. Decisions come back through the REST API, not Slack
// interactivity, so the message carries the request id for operators.
type SlackChannel struct {
	webhookURL string
	client     *http.Client
}

// NewSlackChannel creates a Slack approval channel
func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (SlackChannel) Type() models.ChannelType { return models.ChannelSlack }

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackPayload struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks,omitempty"`
}

func (c *SlackChannel) Deliver(ctx context.Context, opp *models.OptimizationOpportunity, req *models.ApprovalRequest) error {
	summary := fmt.Sprintf("Approval needed: %s on %s", opp.Type, opp.Resource.Key())
	detail := fmt.Sprintf("*%s*\n%s\nEstimated savings: *$%.2f/month*  |  Risk: *%s*  |  Confidence: %.0f%%\nExpires: %s\nRequest: `%s`",
		summary, opp.Description, opp.PotentialSavings, opp.RiskLevel, opp.ConfidenceScore*100,
		req.ExpiresAt.Format(time.RFC1123), req.ID)

	payload := slackPayload{
		Text: summary,
		Blocks: []slackBlock{
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: detail}},
		},
	}
	return postJSON(ctx, c.client, c.webhookURL, payload, "slack")
}

func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}, channel string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", channel, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", channel, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s webhook call failed: %w", channel, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s webhook returned status %d", channel, resp.StatusCode)
	}
	return nil
}
