package approval

import (
	"context"
	"log"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// Channel delivers an approval request to reviewers. Channels are
// notification transports only; decisions always come back through the
// coordinator regardless of which channel surfaced the request.
type Channel interface {
	Type() models.ChannelType
	Deliver(ctx context.Context, opp *models.OptimizationOpportunity, req *models.ApprovalRequest) error
}

// LogChannel writes approval requests to the process log. It is the default
// when no webhook channel is configured, and keeps dev mode self-contained.
type LogChannel struct{}

func (LogChannel) Type() models.ChannelType { return models.ChannelLog }

func (LogChannel) Deliver(_ context.Context, opp *models.OptimizationOpportunity, req *models.ApprovalRequest) error {
	log.Printf("[INFO] approval requested: %s %s on %s, est. $%.2f/mo, risk %s, expires %s (request %s)",
		opp.Type, opp.Description, opp.Resource.Key(), opp.PotentialSavings, opp.RiskLevel,
		req.ExpiresAt.Format("2006-01-02 15:04:05"), req.ID)
	return nil
}
