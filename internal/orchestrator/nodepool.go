package orchestrator

import "github.com/cosimio/cosim/internal/models"

// NodePool is a schedulable target the admission algorithm's node-pool-
// selection step (spec §4.5 step 3) chooses between: a named pool bound to
// one podalloc.Backend, restricted to a single GPU class or, for the empty
// class, a CPU-only pool.
type NodePool struct {
	Name         string
	Backend      string // podalloc.Backend.Name(): "docker" | "k8s"
	GPUClass     models.GPUClass
	SpotEligible bool
}

// DefaultNodePools is the built-in pool topology: the Docker backend serves
// one spot-eligible CPU pool (the free/dev tier), the Kubernetes backend
// serves a non-spot CPU pool plus one GPU pool per class recognized by
// policies.yaml. A pool whose Backend isn't wired into this deployment (see
// cmd/orchestrator/main.go's conditional backend construction) is simply
// never a selection candidate — see Orchestrator.selectNodePool.
func DefaultNodePools() []NodePool {
	return []NodePool{
		{Name: "docker-cpu", Backend: "docker", SpotEligible: true},
		{Name: "k8s-cpu", Backend: "k8s"},
		{Name: "k8s-gpu-t4", Backend: "k8s", GPUClass: "t4"},
		{Name: "k8s-gpu-a10", Backend: "k8s", GPUClass: "a10"},
		{Name: "k8s-gpu-a100", Backend: "k8s", GPUClass: "a100"},
	}
}
