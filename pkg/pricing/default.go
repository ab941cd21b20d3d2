package pricing

import (
	"context"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// DefaultProvider provides fallback pricing for on-prem or unknown clouds
type DefaultProvider struct {
	cpuCost    float64
	memoryCost float64
}

func NewDefaultProvider(cpuCost, memoryCost float64) *DefaultProvider {
	if cpuCost == 0 {
		cpuCost = 23.0 // Conservative default
	}
	if memoryCost == 0 {
		memoryCost = 3.0
	}
	return &DefaultProvider{
		cpuCost:    cpuCost,
		memoryCost: memoryCost,
	}
}

func (d *DefaultProvider) Name() string {
	return "default"
}

func (d *DefaultProvider) GetRate(ctx context.Context, region string) (*Rate, error) {
	return &Rate{
		Provider:         models.ProviderKubernetes,
		Region:           region,
		CPUCostPerCore:   d.cpuCost,
		MemoryCostPerGiB: d.memoryCost,
		Currency:         "USD",
		LastUpdated:      time.Now(),
	}, nil
}
