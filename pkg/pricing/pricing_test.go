package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

func TestRateMonthlyCost(t *testing.T) {
	rate := &Rate{CPUCostPerCore: 30.0, MemoryCostPerGiB: 4.0}
	got := rate.MonthlyCost(2, 8)
	want := 2*30.0 + 8*4.0
	if got != want {
		t.Errorf("expected monthly cost %.2f, got %.2f", want, got)
	}
}

func TestForCloudSelection(t *testing.T) {
	tests := []struct {
		provider models.CloudProvider
		want     string
	}{
		{models.ProviderAWS, "aws"},
		{models.ProviderAzure, "azure"},
		{models.ProviderGCP, "gcp"},
		{models.ProviderKubernetes, "default"},
	}
	for _, tt := range tests {
		got := ForCloud(tt.provider, "us-east-1", nil)
		if got.Name() != tt.want {
			t.Errorf("ForCloud(%s): expected %s, got %s", tt.provider, tt.want, got.Name())
		}
	}
}

func TestAWSRateIsCached(t *testing.T) {
	p := NewAWSProvider("us-east-1")
	first, err := p.GetRate(context.Background(), "")
	if err != nil {
		t.Fatalf("GetRate failed: %v", err)
	}
	second, err := p.GetRate(context.Background(), "")
	if err != nil {
		t.Fatalf("GetRate failed: %v", err)
	}
	if !first.LastUpdated.Equal(second.LastUpdated) {
		t.Error("expected second lookup to come from cache")
	}
}

func TestPriceCacheExpiry(t *testing.T) {
	cache := NewPriceCache(10 * time.Millisecond)
	cache.Set("key", &Rate{CPUCostPerCore: 1})
	if cache.Get("key") == nil {
		t.Fatal("expected cache hit before expiry")
	}
	time.Sleep(20 * time.Millisecond)
	if cache.Get("key") != nil {
		t.Error("expected cache miss after expiry")
	}
}

func TestDefaultProviderFallbackRates(t *testing.T) {
	p := NewDefaultProvider(0, 0)
	rate, err := p.GetRate(context.Background(), "dc-1")
	if err != nil {
		t.Fatalf("GetRate failed: %v", err)
	}
	if rate.CPUCostPerCore != 23.0 || rate.MemoryCostPerGiB != 3.0 {
		t.Errorf("unexpected fallback rates: %+v", rate)
	}
}
