package datasource

import (
	"context"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// Utilization is observed resource usage for one workload over a window.
// Discovery compares usage against requests to find over-provisioning.
type Utilization struct {
	Resource    models.ResourceRef
	ServiceName string
	Namespace   string
	Workload    string

	// P95 over the collection window.
	CPUUsageCores    float64
	MemoryUsageBytes float64

	CPURequestCores    float64
	MemoryRequestBytes float64

	// Persistent volume footprint, when the source exposes volume stats.
	// Zero means no volumes or no data.
	VolumeBytesProvisioned float64
	VolumeBytesUsed        float64

	Replicas    int
	Window      time.Duration
	SampleCount int
	CollectedAt time.Time
}

// CPUHeadroom returns the fraction of requested CPU left unused.
func (u *Utilization) CPUHeadroom() float64 {
	if u.CPURequestCores <= 0 {
		return 0
	}
	return 1 - u.CPUUsageCores/u.CPURequestCores
}

// MemoryHeadroom returns the fraction of requested memory left unused.
func (u *Utilization) MemoryHeadroom() float64 {
	if u.MemoryRequestBytes <= 0 {
		return 0
	}
	return 1 - u.MemoryUsageBytes/u.MemoryRequestBytes
}

// Source collects workload utilization for discovery.
type Source interface {
	CollectUtilization(ctx context.Context, namespace string, window time.Duration) ([]*Utilization, error)
	IsAvailable(ctx context.Context) bool
	Name() string
}

type Config struct {
	PrometheusURL    string
	UseMetricsServer bool
	Timeout          time.Duration
}
