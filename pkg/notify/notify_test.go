package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

type captureSink struct {
	mu     sync.Mutex
	events []*models.LifecycleEvent
	done   chan struct{}
}

func (c *captureSink) Publish(_ context.Context, event *models.LifecycleEvent) error {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
	c.done <- struct{}{}
	return nil
}

func (c *captureSink) Name() string { return "capture" }

func TestNotifierFansOutToAllSinks(t *testing.T) {
	first := &captureSink{done: make(chan struct{}, 1)}
	second := &captureSink{done: make(chan struct{}, 1)}
	notifier := NewNotifier(first, second)

	notifier.Notify(&models.LifecycleEvent{
		OpportunityID: "opp-1",
		ServiceName:   "payments-api",
		State:         models.StateCompleted,
		Previous:      models.StateVerifying,
		Savings:       120.50,
	})

	for _, sink := range []*captureSink{first, second} {
		select {
		case <-sink.done:
		case <-time.After(2 * time.Second):
			t.Fatal("sink did not receive event in time")
		}
		sink.mu.Lock()
		if len(sink.events) != 1 {
			t.Errorf("expected 1 event, got %d", len(sink.events))
		} else if sink.events[0].OccurredAt.IsZero() {
			t.Error("expected OccurredAt to be stamped")
		}
		sink.mu.Unlock()
	}
}

func TestSlackSinkPostsWebhookPayload(t *testing.T) {
	var payload slackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("invalid webhook payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewSlackSink(server.URL)
	err := sink.Publish(context.Background(), &models.LifecycleEvent{
		OpportunityID: "opp-1",
		ServiceName:   "payments-api",
		State:         models.StateCompleted,
		Previous:      models.StateVerifying,
		Savings:       120.50,
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if !strings.Contains(payload.Text, "payments-api") {
		t.Errorf("expected service name in message, got %q", payload.Text)
	}
	if !strings.Contains(payload.Text, "$120.50") {
		t.Errorf("expected savings in message, got %q", payload.Text)
	}
}

func TestSlackSinkRejectsNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	sink := NewSlackSink(server.URL)
	err := sink.Publish(context.Background(), &models.LifecycleEvent{OpportunityID: "opp-1"})
	if err == nil {
		t.Fatal("expected error for non-200 webhook response")
	}
}
