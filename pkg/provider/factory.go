package provider

import (
	"fmt"
	"path/filepath"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// NewAdapter creates the adapter for a cloud provider. The AWS, Azure and
// GCP adapters are simulated: real SDK calls live behind this boundary and
// are out of scope here. Kubernetes talks to a live cluster.
func NewAdapter(p models.CloudProvider) (Adapter, error) {
	switch p {
	case models.ProviderAWS, models.ProviderAzure, models.ProviderGCP:
		return NewSimulatedAdapter(p), nil
	case models.ProviderKubernetes:
		clientset, err := newKubeClient()
		if err != nil {
			return nil, err
		}
		return NewKubernetesAdapter(clientset), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", p)
	}
}

// Registry maps providers to adapters and hides construction from callers.
type Registry struct {
	adapters map[models.CloudProvider]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.CloudProvider]Adapter)}
}

// Register installs an adapter for a provider, replacing any existing one.
func (r *Registry) Register(p models.CloudProvider, adapter Adapter) {
	r.adapters[p] = adapter
}

// For returns the adapter for a provider, constructing a default lazily.
func (r *Registry) For(p models.CloudProvider) (Adapter, error) {
	if adapter, ok := r.adapters[p]; ok {
		return adapter, nil
	}
	adapter, err := NewAdapter(p)
	if err != nil {
		return nil, err
	}
	r.adapters[p] = adapter
	return adapter, nil
}

func newKubeClient() (kubernetes.Interface, error) {
	var kubeconfig string
	if home := homedir.HomeDir(); home != "" {
		kubeconfig = filepath.Join(home, ".kube", "config")
	}

	config, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to build config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	return clientset, nil
}
