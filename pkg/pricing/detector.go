package pricing

import (
	"context"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// DetectProvider infers the underlying cloud of a Kubernetes cluster from
// node provider IDs and well-known labels, falling back to default rates on
// on-prem or unrecognized clusters.
func DetectProvider(ctx context.Context, clientset kubernetes.Interface) (models.CloudProvider, string, error) {
	nodes, err := clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{Limit: 1})
	if err != nil {
		return models.ProviderKubernetes, "unknown", err
	}
	if len(nodes.Items) == 0 {
		return models.ProviderKubernetes, "unknown", nil
	}

	node := nodes.Items[0]
	labels := node.Labels

	if providerID := node.Spec.ProviderID; providerID != "" {
		switch {
		case strings.HasPrefix(providerID, "azure://"):
			return models.ProviderAzure, regionFromLabels(labels, "eastus"), nil
		case strings.HasPrefix(providerID, "aws://"):
			return models.ProviderAWS, regionFromLabels(labels, "us-east-1"), nil
		case strings.HasPrefix(providerID, "gce://"):
			return models.ProviderGCP, regionFromLabels(labels, "us-central1"), nil
		}
	}

	if _, exists := labels["kubernetes.azure.com/cluster"]; exists {
		return models.ProviderAzure, regionFromLabels(labels, "eastus"), nil
	}
	if _, exists := labels["eks.amazonaws.com/nodegroup"]; exists {
		return models.ProviderAWS, regionFromLabels(labels, "us-east-1"), nil
	}
	if _, exists := labels["cloud.google.com/gke-nodepool"]; exists {
		return models.ProviderGCP, regionFromLabels(labels, "us-central1"), nil
	}

	return models.ProviderKubernetes, "unknown", nil
}

func regionFromLabels(labels map[string]string, fallback string) string {
	if region, exists := labels["topology.kubernetes.io/region"]; exists {
		return region
	}
	if region, exists := labels["failure-domain.beta.kubernetes.io/region"]; exists {
		return region
	}
	return fallback
}
