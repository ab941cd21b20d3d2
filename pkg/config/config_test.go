package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewConfigDefaults(t *testing.T) {
	os.Unsetenv("APPROVAL_TIMEOUT_HOURS")
	os.Unsetenv("MAX_STEP_RETRIES")
	os.Unsetenv("LISTEN_ADDR")

	cfg := NewConfig()

	if cfg.ApprovalTimeout != 24*time.Hour {
		t.Errorf("Expected default approval timeout 24h, got %v", cfg.ApprovalTimeout)
	}

	if cfg.MaxStepRetries != 3 {
		t.Errorf("Expected default max retries 3, got %d", cfg.MaxStepRetries)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("Expected default listen addr :8080, got %s", cfg.ListenAddr)
	}

	if cfg.RollbackTimeout != 30*time.Minute {
		t.Errorf("Expected default rollback timeout 30m, got %v", cfg.RollbackTimeout)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestConfigFromEnvironment(t *testing.T) {
	os.Setenv("APPROVAL_TIMEOUT_HOURS", "2")
	os.Setenv("MAX_STEP_RETRIES", "5")
	os.Setenv("APPROVAL_CHANNELS", "slack, teams")
	defer os.Unsetenv("APPROVAL_TIMEOUT_HOURS")
	defer os.Unsetenv("MAX_STEP_RETRIES")
	defer os.Unsetenv("APPROVAL_CHANNELS")

	cfg := NewConfig()

	if cfg.ApprovalTimeout != 2*time.Hour {
		t.Errorf("Expected approval timeout 2h from env, got %v", cfg.ApprovalTimeout)
	}

	if cfg.MaxStepRetries != 5 {
		t.Errorf("Expected max retries 5 from env, got %d", cfg.MaxStepRetries)
	}

	if len(cfg.ApprovalChannels) != 2 || cfg.ApprovalChannels[0] != "slack" || cfg.ApprovalChannels[1] != "teams" {
		t.Errorf("Expected channels [slack teams], got %v", cfg.ApprovalChannels)
	}
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "listen_addr: \":9000\"\nmin_confidence: 0.85\napproval_channels: [slack]\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg := NewConfig()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.ListenAddr != ":9000" {
		t.Errorf("Expected listen addr :9000 from file, got %s", cfg.ListenAddr)
	}
	if cfg.MinConfidence != 0.85 {
		t.Errorf("Expected min confidence 0.85 from file, got %.2f", cfg.MinConfidence)
	}
	// Env defaults stay where the file stays silent.
	if cfg.MaxStepRetries != 3 {
		t.Errorf("Expected untouched max retries 3, got %d", cfg.MaxStepRetries)
	}
}

func TestValidateRejectsBadChannel(t *testing.T) {
	cfg := NewConfig()
	cfg.ApprovalChannels = []string{"pager"}

	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for unknown channel")
	}
}
