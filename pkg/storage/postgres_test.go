package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// testPostgresStore connects to the database named by TEST_DATABASE_URL, or
// skips the test when none is configured. Rows are keyed by fresh UUIDs, so
// runs do not interfere with each other.
func testPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	store, err := NewPostgresStore(dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgresCommitDecisionMarksLosingReceiptsMoot(t *testing.T) {
	store := testPostgresStore(t)
	ctx := context.Background()

	opp := testOpportunity()
	if err := store.SaveOpportunity(ctx, opp); err != nil {
		t.Fatalf("SaveOpportunity failed: %v", err)
	}

	req := &models.ApprovalRequest{
		OpportunityID: opp.ID,
		Decision:      models.DecisionPending,
		ExpiresAt:     time.Now().Add(time.Hour),
		Receipts: []models.ChannelReceipt{
			{Channel: models.ChannelSlack, DispatchedAt: time.Now()},
			{Channel: models.ChannelTeams, DispatchedAt: time.Now()},
		},
	}
	if err := store.SaveApprovalRequest(ctx, req); err != nil {
		t.Fatalf("SaveApprovalRequest failed: %v", err)
	}

	result, err := store.CommitDecision(ctx, req.ID, models.DecisionApproved, "alice", "", models.ChannelSlack, time.Now())
	if err != nil {
		t.Fatalf("CommitDecision failed: %v", err)
	}
	if result.Replay {
		t.Error("first decision should not be a replay")
	}

	stored, err := store.GetApprovalRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetApprovalRequest failed: %v", err)
	}
	for _, receipt := range stored.Receipts {
		switch receipt.Channel {
		case models.ChannelTeams:
			if !receipt.Moot {
				t.Error("losing channel should be marked moot")
			}
		case models.ChannelSlack:
			if receipt.Moot {
				t.Error("deciding channel should not be marked moot")
			}
		}
	}
}

func TestPostgresLatestApprovalRequestSurvivesDecision(t *testing.T) {
	store := testPostgresStore(t)
	ctx := context.Background()

	opp := testOpportunity()
	if err := store.SaveOpportunity(ctx, opp); err != nil {
		t.Fatalf("SaveOpportunity failed: %v", err)
	}

	req := &models.ApprovalRequest{
		OpportunityID: opp.ID,
		Decision:      models.DecisionPending,
		ExpiresAt:     time.Now().Add(time.Hour),
	}
	if err := store.SaveApprovalRequest(ctx, req); err != nil {
		t.Fatalf("SaveApprovalRequest failed: %v", err)
	}
	if _, err := store.CommitDecision(ctx, req.ID, models.DecisionRejected, "carol", "too risky", models.ChannelTeams, time.Now()); err != nil {
		t.Fatalf("CommitDecision failed: %v", err)
	}

	// The round is settled, so no active request remains; the latest request
	// still resolves and carries the original decider.
	if active, err := store.ActiveApprovalRequest(ctx, opp.ID); err != nil || active != nil {
		t.Fatalf("expected no active request, got %v (err %v)", active, err)
	}
	latest, err := store.LatestApprovalRequest(ctx, opp.ID)
	if err != nil {
		t.Fatalf("LatestApprovalRequest failed: %v", err)
	}
	if latest == nil || latest.ID != req.ID {
		t.Fatalf("expected settled request %s back, got %v", req.ID, latest)
	}
	if latest.Decision != models.DecisionRejected || latest.DecidedBy != "carol" {
		t.Errorf("expected rejection by carol, got %s by %s", latest.Decision, latest.DecidedBy)
	}
}
