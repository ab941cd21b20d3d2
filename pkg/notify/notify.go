// Package notify publishes lifecycle events to external sinks. Delivery is
// fire-and-forget: a slow or failing sink never blocks a state transition.
package notify

import (
	"context"
	"log"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// Sink delivers one lifecycle event to a destination.
type Sink interface {
	Publish(ctx context.Context, event *models.LifecycleEvent) error
	Name() string
}

// Notifier fans events out to all configured sinks.
type Notifier struct {
	sinks   []Sink
	timeout time.Duration
}

// NewNotifier creates a notifier over the given sinks
func NewNotifier(sinks ...Sink) *Notifier {
	return &Notifier{sinks: sinks, timeout: 10 * time.Second}
}

// Notify dispatches the event to every sink in its own goroutine and
// returns immediately.
func (n *Notifier) Notify(event *models.LifecycleEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	for _, sink := range n.sinks {
		go func(s Sink) {
			ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
			defer cancel()
			if err := s.Publish(ctx, event); err != nil {
				log.Printf("[WARN] notification via %s failed for %s: %v", s.Name(), event.OpportunityID, err)
			}
		}(sink)
	}
}

// LogSink writes events to the process log. It is the default sink and the
// fallback when no webhook is configured.
type LogSink struct{}

func (LogSink) Publish(_ context.Context, event *models.LifecycleEvent) error {
	log.Printf("[INFO] opportunity %s (%s): %s -> %s (est. $%.2f/mo) %s",
		event.OpportunityID, event.ServiceName, event.Previous, event.State, event.Savings, event.Detail)
	return nil
}

func (LogSink) Name() string { return "log" }
