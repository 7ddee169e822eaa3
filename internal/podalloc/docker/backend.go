// Package docker implements podalloc.Backend over the Docker Engine API,
// adapted from the teacher's docker-controller/pkg/docker/client.go: the
// same container.Config/HostConfig/NetworkingConfig construction, but
// provisioning a sandboxed simulation-engine container per Session instead
// of a desktop-session container.
package docker

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"

	"github.com/cosimio/cosim/internal/logger"
	"github.com/cosimio/cosim/internal/models"
)

// Backend allocates pods as Docker containers on a single engine host,
// suited to the free/low-tier "docker" node pool.
type Backend struct {
	cli         *client.Client
	networkName string
	engineImage map[models.EngineKind]string
}

// New connects to the Docker Engine API at host, defaulting to the local
// socket when host is empty.
func New(host, networkName string, engineImages map[models.EngineKind]string) (*Backend, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Backend{cli: cli, networkName: networkName, engineImage: engineImages}, nil
}

// Name identifies this backend for PodHandle.Backend.
func (b *Backend) Name() string { return "docker" }

const agentPort = "7001/tcp"

// Allocate starts a container running the Simulation Agent and bound engine
// image for a Session, exposing its agent port for control/status traffic.
func (b *Backend) Allocate(ctx context.Context, sess *models.Session, generation int) (*models.PodHandle, error) {
	image, ok := b.engineImage[sess.Engine]
	if !ok {
		return nil, fmt.Errorf("no container image configured for engine %q", sess.Engine)
	}

	exposed, bindings, err := nat.ParsePortSpecs([]string{agentPort})
	if err != nil {
		return nil, fmt.Errorf("parse port specs: %w", err)
	}

	containerName := fmt.Sprintf("cosim-%s-g%d", sess.ID, generation)
	resp, err := b.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        image,
			Env:          []string{"COSIM_SESSION_ID=" + sess.ID, "COSIM_MODEL_REF=" + sess.ModelRef},
			ExposedPorts: exposed,
		},
		&container.HostConfig{
			PortBindings: bindings,
			Resources: container.Resources{
				NanoCPUs: int64(sess.Resources.CPUCores * 1e9),
				Memory:   sess.Resources.MemBytes,
			},
			Mounts: []mount.Mount{
				{
					Type:     mount.TypeVolume,
					Source:   "cosim-model-cache",
					Target:   "/var/cosim/models",
					ReadOnly: true,
				},
			},
			AutoRemove: false,
		},
		&network.NetworkingConfig{},
		nil,
		containerName,
	)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	if err := b.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	logger.PodAlloc().Info().Str("session_id", sess.ID).Str("container_id", resp.ID).Msg("docker pod allocated")

	return &models.PodHandle{
		ID:         uuid.NewString(),
		SessionID:  sess.ID,
		Generation: generation,
		NodePool:   "docker-local",
		Backend:    b.Name(),
		Address:    resp.ID,
		Health:     models.HealthUnknown,
		CreatedAt:  time.Now(),
	}, nil
}

// Deallocate stops and removes the container backing handle.
func (b *Backend) Deallocate(ctx context.Context, handle *models.PodHandle) error {
	timeout := 10
	if err := b.cli.ContainerStop(ctx, handle.Address, container.StopOptions{Timeout: &timeout}); err != nil {
		logger.PodAlloc().Warn().Err(err).Str("container_id", handle.Address).Msg("stop container")
	}
	if err := b.cli.ContainerRemove(ctx, handle.Address, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// Probe inspects the container's running state to derive a PodHealth.
func (b *Backend) Probe(ctx context.Context, handle *models.PodHandle) (models.PodHealth, error) {
	info, err := b.cli.ContainerInspect(ctx, handle.Address)
	if err != nil {
		if client.IsErrNotFound(err) {
			return models.HealthGone, nil
		}
		return models.HealthUnknown, fmt.Errorf("inspect container: %w", err)
	}
	if info.State.Running {
		return models.HealthHealthy, nil
	}
	return models.HealthUnhealthy, nil
}

// EnsureNetwork creates the backend's named bridge network, if it does not
// already exist — mirrors the teacher's EnsureUserVolume pattern of
// idempotent resource creation. Allocate does not attach containers to it.
func (b *Backend) EnsureNetwork(ctx context.Context) error {
	networks, err := b.cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return fmt.Errorf("list networks: %w", err)
	}
	for _, n := range networks {
		if n.Name == b.networkName {
			return nil
		}
	}
	_, err = b.cli.NetworkCreate(ctx, b.networkName, network.CreateOptions{Driver: "bridge"})
	if err != nil {
		return fmt.Errorf("create network: %w", err)
	}

	return nil
}
