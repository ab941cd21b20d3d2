package provider

import (
	"context"
	"strings"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// Step is a single change instruction for a provider adapter, parsed from an
// opportunity's implementation or rollback step list. The wire form is
// "verb key=value key=value ...".
type Step struct {
	Verb string
	Args map[string]string
	Raw  string
}

// ParseStep parses the wire form of a step.
func ParseStep(raw string) Step {
	fields := strings.Fields(raw)
	step := Step{Raw: raw, Args: map[string]string{}}
	if len(fields) == 0 {
		return step
	}
	step.Verb = fields[0]
	for _, f := range fields[1:] {
		if k, v, ok := strings.Cut(f, "="); ok {
			step.Args[k] = v
		}
	}
	return step
}

// StepResult reports a completed change. Expect carries the post-state
// assertions the step promises; verification compares them against a fresh
// ReadState so provider drift or eventual-consistency lag is caught.
type StepResult struct {
	Step        string            `json:"step"`
	Expect      map[string]string `json:"expect,omitempty"`
	CompletedAt time.Time         `json:"completed_at"`
}

// Adapter is the narrow boundary to a cloud provider. Implementations must
// be idempotent-safe under retry: reapplying a step that already took effect
// must not corrupt resource state.
type Adapter interface {
	ApplyChange(ctx context.Context, resource models.ResourceRef, step Step) (*StepResult, error)
	RevertChange(ctx context.Context, resource models.ResourceRef, step Step) (*StepResult, error)
	ReadState(ctx context.Context, resource models.ResourceRef) (*models.ResourceSnapshot, error)
	Name() string
}

type Config struct {
	Provider models.CloudProvider
	Region   string
	CacheTTL time.Duration
}
