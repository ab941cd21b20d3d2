package models

import "time"

// TransitionEvent is one append-only entry in an opportunity's lifecycle
// history. The sequence of events per opportunity is totally ordered.
type TransitionEvent struct {
	ID            string         `json:"id"`
	OpportunityID string         `json:"opportunity_id"`
	From          LifecycleState `json:"from_state"`
	To            LifecycleState `json:"to_state"`
	Evidence      string         `json:"evidence,omitempty"`
	Actor         string         `json:"actor,omitempty"`
	RecordedAt    time.Time      `json:"recorded_at"`
}

// LifecycleEvent is published to notification sinks on every committed
// transition. Delivery is best effort and never blocks the lifecycle.
type LifecycleEvent struct {
	OpportunityID string         `json:"opportunity_id"`
	ServiceName   string         `json:"service_name"`
	State         LifecycleState `json:"state"`
	Previous      LifecycleState `json:"previous_state"`
	Savings       float64        `json:"potential_savings"`
	Detail        string         `json:"detail,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}
