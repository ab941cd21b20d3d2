package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// AzureProvider implements Azure pricing backed by the Retail Prices API,
// with static fallback rates when the API is unreachable.
type AzureProvider struct {
	region     string
	cache      *PriceCache
	httpClient *http.Client
}

// Azure Retail Prices API
const azurePricingAPI = "https://prices.azure.com/api/retail/prices"

type azurePriceResponse struct {
	Items []azurePriceItem `json:"Items"`
}

type azurePriceItem struct {
	CurrencyCode  string  `json:"currencyCode"`
	RetailPrice   float64 `json:"retailPrice"`
	UnitOfMeasure string  `json:"unitOfMeasure"`
	ServiceName   string  `json:"serviceName"`
	ProductName   string  `json:"productName"`
	SkuName       string  `json:"skuName"`
	ArmRegionName string  `json:"armRegionName"`
}

func NewAzureProvider(region string) *AzureProvider {
	return &AzureProvider{
		region: region,
		cache:  NewPriceCache(24 * time.Hour),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (a *AzureProvider) Name() string {
	return "azure"
}

func (a *AzureProvider) GetRate(ctx context.Context, region string) (*Rate, error) {
	if region == "" {
		region = a.region
	}
	cacheKey := "azure-" + region
	if cached := a.cache.Get(cacheKey); cached != nil {
		return cached, nil
	}

	rate, err := a.fetchAzurePricing(ctx, region)
	if err != nil {
		// Typical Azure pricing as fallback
		rate = &Rate{
			Provider:         models.ProviderAzure,
			Region:           region,
			CPUCostPerCore:   30.0,
			MemoryCostPerGiB: 4.0,
			Currency:         "USD",
			LastUpdated:      time.Now(),
		}
	}

	a.cache.Set(cacheKey, rate)
	return rate, nil
}

func (a *AzureProvider) fetchAzurePricing(ctx context.Context, region string) (*Rate, error) {
	filter := fmt.Sprintf("serviceName eq 'Virtual Machines' and armRegionName eq '%s' and skuName eq 'D2s v3'", region)
	reqURL := azurePricingAPI + "?$filter=" + url.QueryEscape(filter)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build pricing request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pricing API call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pricing API returned status %d", resp.StatusCode)
	}

	var priceResp azurePriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&priceResp); err != nil {
		return nil, fmt.Errorf("failed to decode pricing response: %w", err)
	}
	if len(priceResp.Items) == 0 {
		return nil, fmt.Errorf("no pricing data for region %s", region)
	}

	// D2s v3 has 2 vCPU and 8 GiB; attribute cost per core and GiB at the
	// usual ~70/30 split.
	hourly := priceResp.Items[0].RetailPrice
	monthly := hourly * 730
	return &Rate{
		Provider:         models.ProviderAzure,
		Region:           region,
		CPUCostPerCore:   monthly * 0.7 / 2,
		MemoryCostPerGiB: monthly * 0.3 / 8,
		Currency:         priceResp.Items[0].CurrencyCode,
		LastUpdated:      time.Now(),
	}, nil
}
