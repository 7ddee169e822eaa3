// Package podalloc defines the node-pool allocation interface the Session
// Orchestrator uses to provision and tear down pods, with Docker- and
// Kubernetes-backed implementations (spec §4.5 "node pools"). The interface
// and its two backends are adapted from the teacher's
// docker-controller/pkg/docker/client.go and controller/api/v1alpha1
// Kubernetes CRD types.
package podalloc

import (
	"context"

	"github.com/cosimio/cosim/internal/models"
)

// Backend is implemented by the Docker and Kubernetes allocators and
// provisions/reclaims pods backing a Session's EngineInstance.
type Backend interface {
	// Allocate provisions a pod for the given Session/generation and returns
	// a PodHandle once it is schedulable (not necessarily Ready).
	Allocate(ctx context.Context, sess *models.Session, generation int) (*models.PodHandle, error)

	// Deallocate tears down a previously allocated pod.
	Deallocate(ctx context.Context, handle *models.PodHandle) error

	// Probe reports a pod's current health, used by the Orchestrator's
	// supervision sweep.
	Probe(ctx context.Context, handle *models.PodHandle) (models.PodHealth, error)

	// Name identifies the backend ("docker" or "k8s") for PodHandle.Backend.
	Name() string
}
