package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// SlackSink posts lifecycle events to a Slack incoming webhook.
type SlackSink struct {
	webhookURL string
	client     *http.Client
}

// NewSlackSink creates a Slack webhook sink
func NewSlackSink(webhookURL string) *SlackSink {
	return &SlackSink{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type slackMessage struct {
	Text string `json:"text"`
}

func (s *SlackSink) Publish(ctx context.Context, event *models.LifecycleEvent) error {
	msg := slackMessage{
		Text: fmt.Sprintf("%s *%s* `%s` -> `%s`\nEstimated savings: $%.2f/month\n%s",
			stateEmoji(event.State), event.ServiceName, event.Previous, event.State, event.Savings, event.Detail),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack webhook call failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *SlackSink) Name() string { return "slack" }

func stateEmoji(state models.LifecycleState) string {
	switch state {
	case models.StateCompleted:
		return ":white_check_mark:"
	case models.StateRolledBack, models.StateFailed:
		return ":leftwards_arrow_with_hook:"
	case models.StateFailedUnrecoverable:
		return ":rotating_light:"
	case models.StateExpired, models.StateRejected:
		return ":no_entry_sign:"
	default:
		return ":mag:"
	}
}
