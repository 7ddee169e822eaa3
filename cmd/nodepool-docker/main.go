// Command nodepool-docker runs the Docker-backed node-pool allocator: it
// subscribes to pod deallocate requests on the event bus and drives the
// Docker Engine API, directly modeled on the teacher's
// docker-controller/cmd/main.go.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/cosimio/cosim/internal/config"
	"github.com/cosimio/cosim/internal/events"
	"github.com/cosimio/cosim/internal/logger"
	"github.com/cosimio/cosim/internal/models"
	"github.com/cosimio/cosim/internal/podalloc/docker"
)

func main() {
	cfg := config.FromEnv()
	logger.Initialize(cfg.LogLevel, cfg.LogPretty, "nodepool-docker")

	engineImages := map[models.EngineKind]string{
		models.EngineMuJoCo:   envOrDefault("COSIM_MUJOCO_IMAGE", "cosimio/engine-mujoco:latest"),
		models.EnginePyBullet: envOrDefault("COSIM_PYBULLET_IMAGE", "cosimio/engine-pybullet:latest"),
	}

	backend, err := docker.New(os.Getenv("DOCKER_HOST"), envOrDefault("COSIM_DOCKER_NETWORK", "cosim-net"), engineImages)
	if err != nil {
		logger.PodAlloc().Fatal().Err(err).Msg("init docker backend")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := backend.EnsureNetwork(ctx); err != nil {
		logger.PodAlloc().Fatal().Err(err).Msg("ensure docker network")
	}

	opts := []nats.Option{nats.Name("cosim-nodepool-docker")}
	if cfg.NATSUser != "" {
		opts = append(opts, nats.UserInfo(cfg.NATSUser, cfg.NATSPassword))
	}
	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		logger.PodAlloc().Fatal().Err(err).Msg("connect nats")
	}
	defer nc.Close()

	publisher, err := events.NewPublisher(events.Config{URL: cfg.NATSURL, User: cfg.NATSUser, Password: cfg.NATSPassword})
	if err != nil {
		logger.PodAlloc().Fatal().Err(err).Msg("connect nats publisher")
	}
	defer publisher.Close()

	sub, err := nc.Subscribe(events.SubjectPodDeallocate, func(msg *nats.Msg) {
		var req struct {
			PodID string `json:"pod_id"`
		}
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			logger.PodAlloc().Error().Err(err).Msg("decode deallocate request")
			return
		}
		if err := backend.Deallocate(ctx, &models.PodHandle{Address: req.PodID}); err != nil {
			logger.PodAlloc().Error().Err(err).Str("pod_id", req.PodID).Msg("deallocate")
		}
	})
	if err != nil {
		logger.PodAlloc().Fatal().Err(err).Msg("subscribe deallocate")
	}
	defer sub.Unsubscribe()

	logger.PodAlloc().Info().Msg("docker node pool allocator ready")
	<-ctx.Done()
	logger.PodAlloc().Info().Msg("shutting down docker node pool allocator")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
