package models

import "time"

// Decision is the outcome of an approval request
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ChannelType identifies an approval delivery channel
type ChannelType string

const (
	ChannelSlack ChannelType = "slack"
	ChannelTeams ChannelType = "teams"
	ChannelLog   ChannelType = "log"
)

// ChannelReceipt records a single channel dispatch of an approval request.
// When a decision arrives on one channel the others are marked moot.
type ChannelReceipt struct {
	Channel      ChannelType `json:"channel"`
	DispatchedAt time.Time   `json:"dispatched_at"`
	Moot         bool        `json:"moot"`
}

// ApprovalRequest tracks a single approval round for an opportunity.
// At most one non-terminal request may exist per opportunity; the first
// terminal decision wins and later decisions return the original result.
type ApprovalRequest struct {
	ID            string `json:"id"`
	OpportunityID string `json:"opportunity_id"`

	Receipts []ChannelReceipt `json:"receipts"`

	RequestedAt time.Time `json:"requested_at"`
	ExpiresAt   time.Time `json:"expires_at"`

	Decision        Decision    `json:"decision"`
	DecidedBy       string      `json:"decided_by,omitempty"`
	DecidedAt       *time.Time  `json:"decided_at,omitempty"`
	DecidedVia      ChannelType `json:"decided_via,omitempty"`
	RejectionReason string      `json:"rejection_reason,omitempty"`

	EscalationLevel int    `json:"escalation_level"`
	EscalatedTo     string `json:"escalated_to,omitempty"`
}

// Active reports whether the request is still awaiting a decision.
func (r *ApprovalRequest) Active() bool {
	return r.Decision == DecisionPending
}

// DecisionResult is returned by RecordDecision. Replay holds for duplicate
// deliveries: the stored outcome is returned unchanged instead of an error.
type DecisionResult struct {
	RequestID string    `json:"request_id"`
	Decision  Decision  `json:"decision"`
	DecidedBy string    `json:"decided_by"`
	DecidedAt time.Time `json:"decided_at"`
	Replay    bool      `json:"replay"`
}
