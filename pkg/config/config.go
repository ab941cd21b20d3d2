package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	// API server
	ListenAddr string `yaml:"listen_addr"`

	// Storage
	StorageEnabled bool   `yaml:"storage_enabled"`
	DatabaseURL    string `yaml:"database_url"`

	// Approval workflow
	ApprovalTimeout  time.Duration `yaml:"approval_timeout"`
	ApprovalChannels []string      `yaml:"approval_channels"`
	MaxEscalations   int           `yaml:"max_escalations"`

	// Execution
	StepTimeout     time.Duration `yaml:"step_timeout"`
	MaxStepRetries  int           `yaml:"max_step_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	RollbackTimeout time.Duration `yaml:"rollback_timeout"`

	// Discovery
	PrometheusURL    string        `yaml:"prometheus_url"`
	MinSavings       float64       `yaml:"min_savings"`
	MinConfidence    float64       `yaml:"min_confidence"`
	OpportunityTTL   time.Duration `yaml:"opportunity_ttl"`
	ExpirySweepEvery time.Duration `yaml:"expiry_sweep_interval"`

	// Notifications
	SlackWebhookURL string `yaml:"slack_webhook_url"`
	TeamsWebhookURL string `yaml:"teams_webhook_url"`

	Verbose bool `yaml:"verbose"`
}

// NewConfig creates a new configuration from environment with defaults
func NewConfig() *Config {
	return &Config{
		ListenAddr:     getEnv("LISTEN_ADDR", ":8080"),
		StorageEnabled: getEnvBool("STORAGE_ENABLED", false),
		DatabaseURL:    getEnv("DATABASE_URL", "host=localhost port=5432 user=costuser password=devpassword dbname=costorchestrator sslmode=disable"),

		ApprovalTimeout:  time.Duration(getEnvInt("APPROVAL_TIMEOUT_HOURS", 24)) * time.Hour,
		ApprovalChannels: getEnvList("APPROVAL_CHANNELS", []string{"log"}),
		MaxEscalations:   getEnvInt("MAX_ESCALATIONS", 2),

		StepTimeout:     time.Duration(getEnvInt("STEP_TIMEOUT_MINUTES", 20)) * time.Minute,
		MaxStepRetries:  getEnvInt("MAX_STEP_RETRIES", 3),
		RetryBackoff:    time.Duration(getEnvInt("RETRY_BACKOFF_SECONDS", 5)) * time.Second,
		RollbackTimeout: time.Duration(getEnvInt("ROLLBACK_TIMEOUT_MINUTES", 30)) * time.Minute,

		PrometheusURL:    getEnv("PROMETHEUS_URL", "http://localhost:9090"),
		MinSavings:       getEnvFloat("MIN_SAVINGS_USD", 10.0),
		MinConfidence:    getEnvFloat("MIN_CONFIDENCE", 0.7),
		OpportunityTTL:   time.Duration(getEnvInt("OPPORTUNITY_TTL_HOURS", 168)) * time.Hour,
		ExpirySweepEvery: time.Duration(getEnvInt("EXPIRY_SWEEP_SECONDS", 30)) * time.Second,

		SlackWebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),
		TeamsWebhookURL: getEnv("TEAMS_WEBHOOK_URL", ""),

		Verbose: getEnvBool("VERBOSE", false),
	}
}

// LoadFile overlays values from a YAML config file onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.StorageEnabled && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set when storage is enabled")
	}
	if c.ApprovalTimeout <= 0 {
		return fmt.Errorf("approval timeout must be > 0")
	}
	if c.StepTimeout <= 0 {
		return fmt.Errorf("step timeout must be > 0")
	}
	if c.MaxStepRetries < 0 {
		return fmt.Errorf("max step retries must be >= 0")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be in [0,1]")
	}
	if len(c.ApprovalChannels) == 0 {
		return fmt.Errorf("at least one approval channel is required")
	}
	for _, ch := range c.ApprovalChannels {
		switch ch {
		case "slack", "teams", "log":
		default:
			return fmt.Errorf("unknown approval channel: %s", ch)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
