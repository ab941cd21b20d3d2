package pricing

import (
	"context"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// AWSProvider implements AWS pricing
type AWSProvider struct {
	region string
	cache  *PriceCache
}

func NewAWSProvider(region string) *AWSProvider {
	return &AWSProvider{
		region: region,
		cache:  NewPriceCache(24 * time.Hour),
	}
}

func (a *AWSProvider) Name() string {
	return "aws"
}

func (a *AWSProvider) GetRate(ctx context.Context, region string) (*Rate, error) {
	if region == "" {
		region = a.region
	}
	if cached := a.cache.Get("aws-" + region); cached != nil {
		return cached, nil
	}

	// Typical on-demand pricing; TODO: integrate with the AWS Pricing API
	rate := &Rate{
		Provider:         models.ProviderAWS,
		Region:           region,
		CPUCostPerCore:   33.0, // $/core/month (t3.medium average)
		MemoryCostPerGiB: 4.5,  // $/GiB/month
		Currency:         "USD",
		LastUpdated:      time.Now(),
	}
	a.cache.Set("aws-"+region, rate)
	return rate, nil
}
