// Command nodepool-k8s runs the Kubernetes-backed node-pool allocator,
// subscribing to pod deallocate requests and driving client-go, mirroring
// the Docker allocator's structure but targeting the GPU/high-tier pool.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/cosimio/cosim/internal/config"
	"github.com/cosimio/cosim/internal/events"
	"github.com/cosimio/cosim/internal/logger"
	"github.com/cosimio/cosim/internal/models"
	"github.com/cosimio/cosim/internal/podalloc/k8s"
)

func main() {
	cfg := config.FromEnv()
	logger.Initialize(cfg.LogLevel, cfg.LogPretty, "nodepool-k8s")

	kubeCfg, err := rest.InClusterConfig()
	if err != nil {
		logger.PodAlloc().Fatal().Err(err).Msg("load in-cluster config")
	}
	clientset, err := kubernetes.NewForConfig(kubeCfg)
	if err != nil {
		logger.PodAlloc().Fatal().Err(err).Msg("build kubernetes clientset")
	}

	engineImages := map[models.EngineKind]string{
		models.EngineMuJoCo:   envOrDefault("COSIM_MUJOCO_IMAGE", "cosimio/engine-mujoco:latest"),
		models.EnginePyBullet: envOrDefault("COSIM_PYBULLET_IMAGE", "cosimio/engine-pybullet:latest"),
	}
	backend := k8s.New(clientset, envOrDefault("COSIM_K8S_NAMESPACE", "cosim"), engineImages)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []nats.Option{nats.Name("cosim-nodepool-k8s")}
	if cfg.NATSUser != "" {
		opts = append(opts, nats.UserInfo(cfg.NATSUser, cfg.NATSPassword))
	}
	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		logger.PodAlloc().Fatal().Err(err).Msg("connect nats")
	}
	defer nc.Close()

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

	logger.PodAlloc().Info().Msg("kubernetes node pool allocator ready")
	<-ctx.Done()
	logger.PodAlloc().Info().Msg("shutting down kubernetes node pool allocator")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
