package pricing

import (
	"context"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// GCPProvider implements GCP pricing
type GCPProvider struct {
	region string
	cache  *PriceCache
}

func NewGCPProvider(region string) *GCPProvider {
	return &GCPProvider{
		region: region,
		cache:  NewPriceCache(24 * time.Hour),
	}
}

func (g *GCPProvider) Name() string {
	return "gcp"
}

func (g *GCPProvider) GetRate(ctx context.Context, region string) (*Rate, error) {
	if region == "" {
		region = g.region
	}
	if cached := g.cache.Get("gcp-" + region); cached != nil {
		return cached, nil
	}

	// Typical n2-standard pricing; TODO: integrate with the Cloud Billing
	// Catalog API
	rate := &Rate{
		Provider:         models.ProviderGCP,
		Region:           region,
		CPUCostPerCore:   28.0,
		MemoryCostPerGiB: 3.8,
		Currency:         "USD",
		LastUpdated:      time.Now(),
	}
	g.cache.Set("gcp-"+region, rate)
	return rate, nil
}
