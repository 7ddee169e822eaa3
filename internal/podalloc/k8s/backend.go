// Package k8s implements podalloc.Backend over a Kubernetes cluster,
// adapted from the teacher's controller/api/v1alpha1 Session CRD (which
// this package's Backend drives into pod specs rather than watching) and
// quota/enforcer.go's use of k8s.io/apimachinery resource.Quantity parsing.
package k8s

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/google/uuid"

	"github.com/cosimio/cosim/internal/logger"
	"github.com/cosimio/cosim/internal/models"
)

// Backend allocates pods in a Kubernetes namespace, suited to the GPU and
// high-tier node pools.
type Backend struct {
	clientset   kubernetes.Interface
	namespace   string
	engineImage map[models.EngineKind]string
	gpuResource corev1.ResourceName
}

// New constructs a Backend over an existing clientset (built by the caller
// from in-cluster config or a kubeconfig, mirroring how the teacher's
// controller binaries bootstrap client-go).
func New(clientset kubernetes.Interface, namespace string, engineImages map[models.EngineKind]string) *Backend {
	return &Backend{
		clientset:   clientset,
		namespace:   namespace,
		engineImage: engineImages,
		gpuResource: "nvidia.com/gpu",
	}
}

// Name identifies this backend for PodHandle.Backend.
func (b *Backend) Name() string { return "k8s" }

// Allocate creates a pod running the Simulation Agent and bound engine image,
// requesting CPU/memory/GPU per sess.Resources via resource.Quantity, and
// pinned to sess's GPUClass with a node selector when requested.
func (b *Backend) Allocate(ctx context.Context, sess *models.Session, generation int) (*models.PodHandle, error) {
	image, ok := b.engineImage[sess.Engine]
	if !ok {
		return nil, fmt.Errorf("no pod image configured for engine %q", sess.Engine)
	}

	requests, err := b.resourceList(sess.Resources)
	if err != nil {
		return nil, fmt.Errorf("build resource requests: %w", err)
	}

	podName := fmt.Sprintf("cosim-%s-g%d", sess.ID, generation)
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName,
			Namespace: b.namespace,
			Labels: map[string]string{
				"cosim.io/session":    sess.ID,
				"cosim.io/generation": fmt.Sprintf("%d", generation),
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			NodeSelector:  nodeSelectorFor(sess.Resources),
			Containers: []corev1.Container{
				{
					Name:  "engine",
					Image: image,
					Env: []corev1.EnvVar{
						{Name: "COSIM_SESSION_ID", Value: sess.ID},
						{Name: "COSIM_MODEL_REF", Value: sess.ModelRef},
					},
					Resources: corev1.ResourceRequirements{
						Requests: requests,
						Limits:   requests,
					},
				},
			},
		},
	}

	created, err := b.clientset.CoreV1().Pods(b.namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("create pod: %w", err)
	}

	logger.PodAlloc().Info().Str("session_id", sess.ID).Str("pod_name", created.Name).Msg("k8s pod allocated")

	return &models.PodHandle{
		ID:         uuid.NewString(),
		SessionID:  sess.ID,
		Generation: generation,
		NodePool:   string(b.gpuResource),
		Backend:    b.Name(),
		Address:    created.Name,
		Health:     models.HealthUnknown,
		CreatedAt:  time.Now(),
	}, nil
}

// Deallocate deletes the pod backing handle.
func (b *Backend) Deallocate(ctx context.Context, handle *models.PodHandle) error {
	err := b.clientset.CoreV1().Pods(b.namespace).Delete(ctx, handle.Address, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete pod: %w", err)
	}
	return nil
}

// Probe reads the pod's phase and derives a PodHealth.
func (b *Backend) Probe(ctx context.Context, handle *models.PodHandle) (models.PodHealth, error) {
	pod, err := b.clientset.CoreV1().Pods(b.namespace).Get(ctx, handle.Address, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return models.HealthGone, nil
		}
		return models.HealthUnknown, fmt.Errorf("get pod: %w", err)
	}

	switch pod.Status.Phase {
	case corev1.PodRunning:
		return models.HealthHealthy, nil
	case corev1.PodFailed, corev1.PodUnknown:
		return models.HealthUnhealthy, nil
	default:
		return models.HealthUnknown, nil
	}
}

func (b *Backend) resourceList(res models.Resources) (corev1.ResourceList, error) {
	cpu, err := resource.ParseQuantity(fmt.Sprintf("%.3f", res.CPUCores))
	if err != nil {
		return nil, fmt.Errorf("parse cpu quantity: %w", err)
	}
	mem := resource.NewQuantity(res.MemBytes, resource.BinarySI)

	list := corev1.ResourceList{
		corev1.ResourceCPU:    cpu,
		corev1.ResourceMemory: *mem,
	}
	if res.GPUCount > 0 {
		gpu := resource.NewQuantity(int64(res.GPUCount), resource.DecimalSI)
		list[b.gpuResource] = *gpu
	}
	return list, nil
}

func nodeSelectorFor(res models.Resources) map[string]string {
	if res.GPUClass == "" {
		return nil
	}
	return map[string]string{"cosim.io/gpu-class": string(res.GPUClass)}
}
