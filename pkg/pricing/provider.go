package pricing

import (
	"context"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// Rate is the unit pricing used to turn resource deltas into dollar
// estimates.
type Rate struct {
	Provider         models.CloudProvider `json:"provider"`
	Region           string               `json:"region"`
	CPUCostPerCore   float64              `json:"cpu_cost_per_core"`
	MemoryCostPerGiB float64              `json:"memory_cost_per_gib"`
	Currency         string               `json:"currency"`
	LastUpdated      time.Time            `json:"last_updated"`
}

// MonthlyCost estimates the monthly cost of the given footprint.
func (r *Rate) MonthlyCost(cpuCores, memoryGiB float64) float64 {
	return cpuCores*r.CPUCostPerCore + memoryGiB*r.MemoryCostPerGiB
}

// Provider defines the interface for cloud pricing data
type Provider interface {
	GetRate(ctx context.Context, region string) (*Rate, error)
	Name() string
}

type Config struct {
	Provider      string
	Region        string
	CacheTTL      int
	DefaultCPU    float64
	DefaultMemory float64
}
