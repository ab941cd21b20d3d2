package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// SimulatedAdapter models a cloud provider in memory. It backs dev mode and
// tests: resource state is a flat config map, and fault hooks let tests
// script step failures, revert failures, and verification drift.
type SimulatedAdapter struct {
	name string

	mu        sync.Mutex
	resources map[string]map[string]string
	prior     map[string]map[string]string // resource key + step verb -> pre-change values

	// FailApply, if set, is consulted before each ApplyChange and its error
	// returned instead of applying.
	FailApply func(resource models.ResourceRef, step Step) error
	// FailRevert is the rollback-path counterpart of FailApply.
	FailRevert func(resource models.ResourceRef, step Step) error
	// Drift, if set for a step verb, makes ApplyChange report success with
	// expectations but skip the actual state change.
	Drift map[string]bool

	ApplyDelay time.Duration
}

// NewSimulatedAdapter creates a simulated adapter named after the provider
// it stands in for.
func NewSimulatedAdapter(p models.CloudProvider) *SimulatedAdapter {
	return &SimulatedAdapter{
		name:      "simulated-" + string(p),
		resources: make(map[string]map[string]string),
		prior:     make(map[string]map[string]string),
		Drift:     make(map[string]bool),
	}
}

// Seed installs initial state for a resource.
func (a *SimulatedAdapter) Seed(resource models.ResourceRef, config map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	copied := make(map[string]string, len(config))
	for k, v := range config {
		copied[k] = v
	}
	a.resources[resource.Key()] = copied
}

func (a *SimulatedAdapter) ApplyChange(ctx context.Context, resource models.ResourceRef, step Step) (*StepResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &models.ProviderError{Op: "apply", Resource: resource, Transient: true, Err: err}
	}
	if a.ApplyDelay > 0 {
		select {
		case <-time.After(a.ApplyDelay):
		case <-ctx.Done():
			return nil, &models.ProviderError{Op: "apply", Resource: resource, Transient: true, Err: ctx.Err()}
		}
	}
	if a.FailApply != nil {
		if err := a.FailApply(resource, step); err != nil {
			return nil, err
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	config, ok := a.resources[resource.Key()]
	if !ok {
		return nil, &models.ProviderError{Op: "apply", Resource: resource, Err: fmt.Errorf("resource not found")}
	}

	expect := make(map[string]string, len(step.Args)+1)
	expect[step.Verb] = "done"
	for k, v := range step.Args {
		expect[k] = v
	}

	if !a.Drift[step.Verb] {
		// Remember pre-change values so RevertChange can restore them.
		priorKey := resource.Key() + "/" + step.Verb
		saved := make(map[string]string, len(expect))
		for k := range expect {
			saved[k] = config[k]
		}
		a.prior[priorKey] = saved

		for k, v := range expect {
			config[k] = v
		}
	}

	return &StepResult{Step: step.Raw, Expect: expect, CompletedAt: time.Now()}, nil
}

func (a *SimulatedAdapter) RevertChange(ctx context.Context, resource models.ResourceRef, step Step) (*StepResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &models.ProviderError{Op: "revert", Resource: resource, Transient: true, Err: err}
	}
	if a.FailRevert != nil {
		if err := a.FailRevert(resource, step); err != nil {
			return nil, err
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	config, ok := a.resources[resource.Key()]
	if !ok {
		return nil, &models.ProviderError{Op: "revert", Resource: resource, Err: fmt.Errorf("resource not found")}
	}

	priorKey := resource.Key() + "/" + step.Verb
	if saved, ok := a.prior[priorKey]; ok {
		for k, v := range saved {
			if v == "" {
				delete(config, k)
			} else {
				config[k] = v
			}
		}
		delete(a.prior, priorKey)
	}

	return &StepResult{Step: step.Raw, CompletedAt: time.Now()}, nil
}

func (a *SimulatedAdapter) ReadState(ctx context.Context, resource models.ResourceRef) (*models.ResourceSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, &models.ProviderError{Op: "read", Resource: resource, Transient: true, Err: err}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	config, ok := a.resources[resource.Key()]
	if !ok {
		return nil, &models.ProviderError{Op: "read", Resource: resource, Err: fmt.Errorf("resource not found")}
	}

	copied := make(map[string]string, len(config))
	for k, v := range config {
		copied[k] = v
	}
	return &models.ResourceSnapshot{
		Resource:  resource,
		Config:    copied,
		TakenAt:   time.Now(),
		Reference: "snap-" + uuid.New().String(),
	}, nil
}

func (a *SimulatedAdapter) Name() string { return a.name }
