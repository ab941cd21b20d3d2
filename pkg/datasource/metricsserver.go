package datasource

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// MetricsServerSource reads instantaneous usage from the in-cluster
// metrics-server and joins it with pod resource requests. It has no
// history, so the reported values are point-in-time rather than P95;
// Prometheus is preferred when available.
type MetricsServerSource struct {
	core    kubernetes.Interface
	metrics metricsclient.Interface
}

func NewMetricsServerSource(core kubernetes.Interface, metrics metricsclient.Interface) *MetricsServerSource {
	return &MetricsServerSource{core: core, metrics: metrics}
}

func (m *MetricsServerSource) CollectUtilization(ctx context.Context, namespace string, window time.Duration) ([]*Utilization, error) {
	podMetrics, err := m.metrics.MetricsV1beta1().PodMetricses(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list pod metrics: %w", err)
	}
	pods, err := m.core.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}

	requests := make(map[string][2]float64, len(pods.Items)) // pod -> cpu cores, memory bytes
	for _, pod := range pods.Items {
		var cpu, mem float64
		for _, container := range pod.Spec.Containers {
			if q, ok := container.Resources.Requests[corev1.ResourceCPU]; ok {
				cpu += q.AsApproximateFloat64()
			}
			if q, ok := container.Resources.Requests[corev1.ResourceMemory]; ok {
				mem += q.AsApproximateFloat64()
			}
		}
		requests[pod.Name] = [2]float64{cpu, mem}
	}

	now := time.Now()
	var out []*Utilization
	for _, pm := range podMetrics.Items {
		var cpu, mem float64
		for _, container := range pm.Containers {
			cpu += container.Usage.Cpu().AsApproximateFloat64()
			mem += container.Usage.Memory().AsApproximateFloat64()
		}
		req := requests[pm.Name]
		out = append(out, &Utilization{
			Resource: models.ResourceRef{
				Provider:   models.ProviderKubernetes,
				Region:     namespace,
				ResourceID: namespace + "/" + pm.Name,
			},
			ServiceName:        pm.Name,
			Namespace:          namespace,
			Workload:           pm.Name,
			CPUUsageCores:      cpu,
			MemoryUsageBytes:   mem,
			CPURequestCores:    req[0],
			MemoryRequestBytes: req[1],
			Replicas:           1,
			Window:             window,
			SampleCount:        1,
			CollectedAt:        now,
		})
	}
	return out, nil
}

func (m *MetricsServerSource) IsAvailable(ctx context.Context) bool {
	_, err := m.metrics.MetricsV1beta1().NodeMetricses().List(ctx, metav1.ListOptions{Limit: 1})
	return err == nil
}

func (m *MetricsServerSource) Name() string {
	return "metrics-server"
}
