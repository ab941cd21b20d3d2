package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// KubernetesAdapter applies optimizations to Deployment workloads through
// the Kubernetes API. The resource id is "namespace/deployment".
//
// Supported step verbs:
//
//	resize-requests cpu=<qty> memory=<qty>
//	scale replicas=<n>
//	annotate <key>=<value>
//	resize-volume size=<qty>
type KubernetesAdapter struct {
	clientset kubernetes.Interface

	mu    sync.Mutex
	prior map[string]map[string]string
}

// NewKubernetesAdapter creates an adapter backed by the given clientset.
func NewKubernetesAdapter(clientset kubernetes.Interface) *KubernetesAdapter {
	return &KubernetesAdapter{
		clientset: clientset,
		prior:     make(map[string]map[string]string),
	}
}

func splitResourceID(resource models.ResourceRef) (namespace, name string, err error) {
	parts := strings.SplitN(resource.ResourceID, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("kubernetes resource id must be namespace/deployment, got %q", resource.ResourceID)
	}
	return parts[0], parts[1], nil
}

func (a *KubernetesAdapter) ApplyChange(ctx context.Context, res models.ResourceRef, step Step) (*StepResult, error) {
	namespace, name, err := splitResourceID(res)
	if err != nil {
		return nil, &models.ProviderError{Op: "apply", Resource: res, Err: err}
	}

	deploy, err := a.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, classifyK8sError("apply", res, err)
	}

	expect := map[string]string{}
	saved := map[string]string{}

	switch step.Verb {
	case "resize-requests":
		if len(deploy.Spec.Template.Spec.Containers) == 0 {
			return nil, &models.ProviderError{Op: "apply", Resource: res, Err: fmt.Errorf("deployment has no containers")}
		}
		container := &deploy.Spec.Template.Spec.Containers[0]
		if container.Resources.Requests == nil {
			container.Resources.Requests = corev1.ResourceList{}
		}
		if cpu, ok := step.Args["cpu"]; ok {
			qty, err := resource.ParseQuantity(cpu)
			if err != nil {
				return nil, &models.ProviderError{Op: "apply", Resource: res, Err: fmt.Errorf("invalid cpu quantity %q: %w", cpu, err)}
			}
			saved["requests.cpu"] = container.Resources.Requests.Cpu().String()
			container.Resources.Requests[corev1.ResourceCPU] = qty
			expect["requests.cpu"] = qty.String()
		}
		if mem, ok := step.Args["memory"]; ok {
			qty, err := resource.ParseQuantity(mem)
			if err != nil {
				return nil, &models.ProviderError{Op: "apply", Resource: res, Err: fmt.Errorf("invalid memory quantity %q: %w", mem, err)}
			}
			saved["requests.memory"] = container.Resources.Requests.Memory().String()
			container.Resources.Requests[corev1.ResourceMemory] = qty
			expect["requests.memory"] = qty.String()
		}

	case "scale":
		replicas, ok := step.Args["replicas"]
		if !ok {
			return nil, &models.ProviderError{Op: "apply", Resource: res, Err: fmt.Errorf("scale step requires replicas arg")}
		}
		var n int32
		if _, err := fmt.Sscanf(replicas, "%d", &n); err != nil {
			return nil, &models.ProviderError{Op: "apply", Resource: res, Err: fmt.Errorf("invalid replicas %q", replicas)}
		}
		if deploy.Spec.Replicas != nil {
			saved["replicas"] = fmt.Sprintf("%d", *deploy.Spec.Replicas)
		}
		deploy.Spec.Replicas = &n
		expect["replicas"] = replicas

	case "annotate":
		if deploy.Annotations == nil {
			deploy.Annotations = map[string]string{}
		}
		for k, v := range step.Args {
			saved["annotations."+k] = deploy.Annotations[k]
			deploy.Annotations[k] = v
			expect["annotations."+k] = v
		}

	case "resize-volume":
		size, ok := step.Args["size"]
		if !ok {
			return nil, &models.ProviderError{Op: "apply", Resource: res, Err: fmt.Errorf("resize-volume step requires size arg")}
		}
		qty, err := resource.ParseQuantity(size)
		if err != nil {
			return nil, &models.ProviderError{Op: "apply", Resource: res, Err: fmt.Errorf("invalid size quantity %q: %w", size, err)}
		}
		resized := false
		for _, vol := range deploy.Spec.Template.Spec.Volumes {
			if vol.PersistentVolumeClaim == nil {
				continue
			}
			claimName := vol.PersistentVolumeClaim.ClaimName
			pvc, err := a.clientset.CoreV1().PersistentVolumeClaims(namespace).Get(ctx, claimName, metav1.GetOptions{})
			if err != nil {
				return nil, classifyK8sError("apply", res, err)
			}
			saved["pvc."+claimName+".storage"] = pvc.Spec.Resources.Requests.Storage().String()
			pvc.Spec.Resources.Requests[corev1.ResourceStorage] = qty
			if _, err := a.clientset.CoreV1().PersistentVolumeClaims(namespace).Update(ctx, pvc, metav1.UpdateOptions{}); err != nil {
				return nil, classifyK8sError("apply", res, err)
			}
			expect["pvc."+claimName+".storage"] = qty.String()
			resized = true
		}
		if !resized {
			return nil, &models.ProviderError{Op: "apply", Resource: res, Err: fmt.Errorf("deployment mounts no persistent volume claims")}
		}
		// The deployment itself is unchanged; skip the Update below.
		a.mu.Lock()
		a.prior[res.Key()+"/"+step.Verb] = saved
		a.mu.Unlock()
		return &StepResult{Step: step.Raw, Expect: expect, CompletedAt: time.Now()}, nil

	default:
		return nil, &models.ProviderError{Op: "apply", Resource: res, Err: fmt.Errorf("unsupported step verb: %s", step.Verb)}
	}

	if _, err := a.clientset.AppsV1().Deployments(namespace).Update(ctx, deploy, metav1.UpdateOptions{}); err != nil {
		return nil, classifyK8sError("apply", res, err)
	}

	a.mu.Lock()
	a.prior[res.Key()+"/"+step.Verb] = saved
	a.mu.Unlock()

	return &StepResult{Step: step.Raw, Expect: expect, CompletedAt: time.Now()}, nil
}

func (a *KubernetesAdapter) RevertChange(ctx context.Context, res models.ResourceRef, step Step) (*StepResult, error) {
	a.mu.Lock()
	saved, ok := a.prior[res.Key()+"/"+step.Verb]
	a.mu.Unlock()
	if !ok {
		// Nothing recorded means the forward step never committed.
		return &StepResult{Step: step.Raw, CompletedAt: time.Now()}, nil
	}

	inverse := Step{Verb: step.Verb, Args: map[string]string{}, Raw: "revert " + step.Raw}
	for k, v := range saved {
		switch {
		case k == "requests.cpu":
			inverse.Args["cpu"] = v
		case k == "requests.memory":
			inverse.Args["memory"] = v
		case k == "replicas":
			inverse.Args["replicas"] = v
		case strings.HasPrefix(k, "pvc."):
			inverse.Args["size"] = v
		case strings.HasPrefix(k, "annotations."):
			inverse.Args[strings.TrimPrefix(k, "annotations.")] = v
		}
	}

	result, err := a.ApplyChange(ctx, res, inverse)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	delete(a.prior, res.Key()+"/"+step.Verb)
	a.mu.Unlock()

	return &StepResult{Step: step.Raw, Expect: result.Expect, CompletedAt: time.Now()}, nil
}

func (a *KubernetesAdapter) ReadState(ctx context.Context, res models.ResourceRef) (*models.ResourceSnapshot, error) {
	namespace, name, err := splitResourceID(res)
	if err != nil {
		return nil, &models.ProviderError{Op: "read", Resource: res, Err: err}
	}

	deploy, err := a.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, classifyK8sError("read", res, err)
	}

	config := map[string]string{}
	if deploy.Spec.Replicas != nil {
		config["replicas"] = fmt.Sprintf("%d", *deploy.Spec.Replicas)
	}
	if len(deploy.Spec.Template.Spec.Containers) > 0 {
		requests := deploy.Spec.Template.Spec.Containers[0].Resources.Requests
		config["requests.cpu"] = requests.Cpu().String()
		config["requests.memory"] = requests.Memory().String()
	}
	for k, v := range deploy.Annotations {
		config["annotations."+k] = v
	}
	for _, vol := range deploy.Spec.Template.Spec.Volumes {
		if vol.PersistentVolumeClaim == nil {
			continue
		}
		claimName := vol.PersistentVolumeClaim.ClaimName
		pvc, err := a.clientset.CoreV1().PersistentVolumeClaims(namespace).Get(ctx, claimName, metav1.GetOptions{})
		if err != nil {
			return nil, classifyK8sError("read", res, err)
		}
		config["pvc."+claimName+".storage"] = pvc.Spec.Resources.Requests.Storage().String()
	}

	return &models.ResourceSnapshot{
		Resource:  res,
		Config:    config,
		TakenAt:   time.Now(),
		Reference: "snap-" + uuid.New().String(),
	}, nil
}

func (a *KubernetesAdapter) Name() string { return "kubernetes" }

func classifyK8sError(op string, res models.ResourceRef, err error) error {
	transient := apierrors.IsServerTimeout(err) ||
		apierrors.IsTimeout(err) ||
		apierrors.IsTooManyRequests(err) ||
		apierrors.IsConflict(err) ||
		apierrors.IsServiceUnavailable(err)
	return &models.ProviderError{Op: op, Resource: res, Transient: transient, Err: err}
}
