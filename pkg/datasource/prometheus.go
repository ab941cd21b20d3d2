package datasource

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// PrometheusSource collects P95 utilization from a Prometheus server
// scraping cAdvisor and kube-state-metrics.
type PrometheusSource struct {
	client v1.API
	url    string
}

func NewPrometheusSource(url string) (*PrometheusSource, error) {
	client, err := api.NewClient(api.Config{
		Address: url,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &PrometheusSource{
		client: v1.NewAPI(client),
		url:    url,
	}, nil
}

// CollectUtilization gathers per-pod P95 CPU and memory usage over the
// window, joined with the pods' resource requests.
func (p *PrometheusSource) CollectUtilization(ctx context.Context, namespace string, window time.Duration) ([]*Utilization, error) {
	rangeSel := fmt.Sprintf("%dm", int(window.Minutes()))

	cpuUsage, err := p.queryByPod(ctx, fmt.Sprintf(
		`quantile_over_time(0.95, sum by (pod) (rate(container_cpu_usage_seconds_total{namespace=%q,container!=""}[5m]))[%s:5m])`,
		namespace, rangeSel))
	if err != nil {
		return nil, fmt.Errorf("CPU usage query failed: %w", err)
	}

	memUsage, err := p.queryByPod(ctx, fmt.Sprintf(
		`quantile_over_time(0.95, sum by (pod) (container_memory_working_set_bytes{namespace=%q,container!=""})[%s:5m])`,
		namespace, rangeSel))
	if err != nil {
		return nil, fmt.Errorf("memory usage query failed: %w", err)
	}

	cpuRequests, err := p.queryByPod(ctx, fmt.Sprintf(
		`sum by (pod) (kube_pod_container_resource_requests{namespace=%q,resource="cpu"})`, namespace))
	if err != nil {
		return nil, fmt.Errorf("CPU requests query failed: %w", err)
	}

	memRequests, err := p.queryByPod(ctx, fmt.Sprintf(
		`sum by (pod) (kube_pod_container_resource_requests{namespace=%q,resource="memory"})`, namespace))
	if err != nil {
		return nil, fmt.Errorf("memory requests query failed: %w", err)
	}

	// Volume stats come from the kubelet and may be absent entirely.
	volCapacity, err := p.queryByPod(ctx, fmt.Sprintf(
		`sum by (pod) (kubelet_volume_stats_capacity_bytes{namespace=%q})`, namespace))
	if err != nil {
		log.Printf("[WARN] volume capacity query failed: %v", err)
		volCapacity = nil
	}
	volUsed, err := p.queryByPod(ctx, fmt.Sprintf(
		`sum by (pod) (kubelet_volume_stats_used_bytes{namespace=%q})`, namespace))
	if err != nil {
		log.Printf("[WARN] volume usage query failed: %v", err)
		volUsed = nil
	}

	now := time.Now()
	var out []*Utilization
	for pod, cpu := range cpuUsage {
		util := &Utilization{
			Resource: models.ResourceRef{
				Provider:   models.ProviderKubernetes,
				Region:     namespace,
				ResourceID: namespace + "/" + pod,
			},
			ServiceName:        pod,
			Namespace:          namespace,
			Workload:           pod,
			CPUUsageCores:      cpu,
			MemoryUsageBytes:   memUsage[pod],
			CPURequestCores:    cpuRequests[pod],
			MemoryRequestBytes: memRequests[pod],

			VolumeBytesProvisioned: volCapacity[pod],
			VolumeBytesUsed:        volUsed[pod],

			Replicas:    1,
			Window:      window,
			SampleCount: int(window / (5 * time.Minute)),
			CollectedAt: now,
		}
		out = append(out, util)
	}
	return out, nil
}

func (p *PrometheusSource) queryByPod(ctx context.Context, query string) (map[string]float64, error) {
	result, warnings, err := p.client.Query(ctx, query, time.Now())
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	if len(warnings) > 0 {
		log.Printf("[WARN] Prometheus: %v", warnings)
	}

	vector, ok := result.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("unexpected result type for query: %s", query)
	}

	out := make(map[string]float64, len(vector))
	for _, sample := range vector {
		pod := string(sample.Metric["pod"])
		if pod == "" {
			continue
		}
		out[pod] += float64(sample.Value)
	}
	return out, nil
}

func (p *PrometheusSource) IsAvailable(ctx context.Context) bool {
	_, _, err := p.client.Query(ctx, "up", time.Now())
	return err == nil
}

func (p *PrometheusSource) Name() string {
	return "Prometheus"
}
