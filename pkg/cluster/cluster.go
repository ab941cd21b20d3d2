package cluster

import (
	"fmt"
	"path/filepath"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
	metricsv "k8s.io/metrics/pkg/client/clientset/versioned"
)

// Conn bundles the clients needed to talk to a Kubernetes cluster.
type Conn struct {
	Clientset     kubernetes.Interface
	MetricsClient metricsv.Interface
}

// Connect builds cluster clients from the local kubeconfig. In-cluster
// credentials are used when no kubeconfig is found, which is the fallback
// clientcmd applies for empty paths.
func Connect() (*Conn, error) {
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

	metricsClient, err := metricsv.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics client: %w", err)
	}

	return &Conn{Clientset: clientset, MetricsClient: metricsClient}, nil
}

// Version returns the cluster's server version string.
func (c *Conn) Version() (string, error) {
	clientset, ok := c.Clientset.(*kubernetes.Clientset)
	if !ok {
		return "", fmt.Errorf("version lookup needs a real clientset")
	}
	info, err := clientset.Discovery().ServerVersion()
	if err != nil {
		return "", fmt.Errorf("failed to connect to cluster: %w", err)
	}
	return info.GitVersion, nil
}
