package provider

import (
	"context"
	"errors"
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

func testDeployment() *appsv1.Deployment {
	replicas := int32(2)
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "payments-api", Namespace: "prod"},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name: "app",
						Resources: corev1.ResourceRequirements{
							Requests: corev1.ResourceList{
								corev1.ResourceCPU:    resource.MustParse("2"),
								corev1.ResourceMemory: resource.MustParse("4Gi"),
							},
						},
					}},
					Volumes: []corev1.Volume{{
						Name: "data",
						VolumeSource: corev1.VolumeSource{
							PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: "payments-data"},
						},
					}},
				},
			},
		},
	}
}

func testPVC() *corev1.PersistentVolumeClaim {
	return &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: "payments-data", Namespace: "prod"},
		Spec: corev1.PersistentVolumeClaimSpec{
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: resource.MustParse("100Gi"),
				},
			},
		},
	}
}

func k8sResource() models.ResourceRef {
	return models.ResourceRef{
		Provider:   models.ProviderKubernetes,
		Region:     "prod",
		ResourceID: "prod/payments-api",
	}
}

func TestKubernetesResizeRequestsAndRevert(t *testing.T) {
	clientset := fake.NewSimpleClientset(testDeployment())
	adapter := NewKubernetesAdapter(clientset)
	ctx := context.Background()
	res := k8sResource()

	step := ParseStep("resize-requests cpu=500m memory=1Gi")
	result, err := adapter.ApplyChange(ctx, res, step)
	if err != nil {
		t.Fatalf("ApplyChange failed: %v", err)
	}
	if result.Expect["requests.cpu"] != "500m" {
		t.Errorf("expected cpu 500m in expectations, got %v", result.Expect)
	}

	snap, err := adapter.ReadState(ctx, res)
	if err != nil {
		t.Fatalf("ReadState failed: %v", err)
	}
	if snap.Config["requests.cpu"] != "500m" || snap.Config["requests.memory"] != "1Gi" {
		t.Errorf("requests not applied: %v", snap.Config)
	}

	if _, err := adapter.RevertChange(ctx, res, step); err != nil {
		t.Fatalf("RevertChange failed: %v", err)
	}
	snap, err = adapter.ReadState(ctx, res)
	if err != nil {
		t.Fatalf("ReadState after revert failed: %v", err)
	}
	if snap.Config["requests.cpu"] != "2" || snap.Config["requests.memory"] != "4Gi" {
		t.Errorf("revert did not restore original requests: %v", snap.Config)
	}
}

func TestKubernetesScale(t *testing.T) {
	clientset := fake.NewSimpleClientset(testDeployment())
	adapter := NewKubernetesAdapter(clientset)
	ctx := context.Background()
	res := k8sResource()

	if _, err := adapter.ApplyChange(ctx, res, ParseStep("scale replicas=0")); err != nil {
		t.Fatalf("ApplyChange failed: %v", err)
	}
	snap, err := adapter.ReadState(ctx, res)
	if err != nil {
		t.Fatalf("ReadState failed: %v", err)
	}
	if snap.Config["replicas"] != "0" {
		t.Errorf("expected 0 replicas, got %v", snap.Config["replicas"])
	}
}

func TestKubernetesResizeVolume(t *testing.T) {
	clientset := fake.NewSimpleClientset(testDeployment(), testPVC())
	adapter := NewKubernetesAdapter(clientset)
	ctx := context.Background()
	res := k8sResource()

	step := ParseStep("resize-volume size=15Gi")
	result, err := adapter.ApplyChange(ctx, res, step)
	if err != nil {
		t.Fatalf("ApplyChange failed: %v", err)
	}
	if result.Expect["pvc.payments-data.storage"] != "15Gi" {
		t.Errorf("expected pvc expectation, got %v", result.Expect)
	}

	snap, err := adapter.ReadState(ctx, res)
	if err != nil {
		t.Fatalf("ReadState failed: %v", err)
	}
	if snap.Config["pvc.payments-data.storage"] != "15Gi" {
		t.Errorf("pvc not resized: %v", snap.Config)
	}

	if _, err := adapter.RevertChange(ctx, res, step); err != nil {
		t.Fatalf("RevertChange failed: %v", err)
	}
	snap, _ = adapter.ReadState(ctx, res)
	if snap.Config["pvc.payments-data.storage"] != "100Gi" {
		t.Errorf("revert did not restore volume size: %v", snap.Config)
	}
}

func TestKubernetesUnknownVerbIsPermanent(t *testing.T) {
	clientset := fake.NewSimpleClientset(testDeployment())
	adapter := NewKubernetesAdapter(clientset)

	_, err := adapter.ApplyChange(context.Background(), k8sResource(), ParseStep("terminate"))
	if err == nil {
		t.Fatal("expected an error for an unknown verb")
	}
	var provErr *models.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected a provider error, got %T", err)
	}
	if provErr.Transient {
		t.Error("unknown verb should be a permanent failure")
	}
}
