package pricing

import (
	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// ForCloud returns the pricing provider for a cloud, falling back to
// default rates for anything without dedicated pricing.
func ForCloud(provider models.CloudProvider, region string, config *Config) Provider {
	switch provider {
	case models.ProviderAWS:
		return NewAWSProvider(region)
	case models.ProviderAzure:
		return NewAzureProvider(region)
	case models.ProviderGCP:
		return NewGCPProvider(region)
	default:
		if config == nil {
			config = &Config{}
		}
		return NewDefaultProvider(config.DefaultCPU, config.DefaultMemory)
	}
}
