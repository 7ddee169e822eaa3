// Command orchestrator runs the Session Orchestrator: the REST API, the
// admission algorithm, and the supervision/idle/cost-guard sweeps. Structure
// follows the teacher's docker-controller/cmd/main.go: parse config, wire
// dependencies, start background work, and wait on an OS signal to shut
// down cleanly.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/cosimio/cosim/internal/api"
	"github.com/cosimio/cosim/internal/auth"
	"github.com/cosimio/cosim/internal/cache"
	"github.com/cosimio/cosim/internal/clock"
	"github.com/cosimio/cosim/internal/config"
	"github.com/cosimio/cosim/internal/db"
	"github.com/cosimio/cosim/internal/events"
	"github.com/cosimio/cosim/internal/logger"
	"github.com/cosimio/cosim/internal/models"
	"github.com/cosimio/cosim/internal/notify"
	"github.com/cosimio/cosim/internal/orchestrator"
	"github.com/cosimio/cosim/internal/podalloc"
	dockerbackend "github.com/cosimio/cosim/internal/podalloc/docker"
	k8sbackend "github.com/cosimio/cosim/internal/podalloc/k8s"
	"github.com/cosimio/cosim/internal/quota"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

func main() {
	cfg := config.FromEnv()
	logger.Initialize(cfg.LogLevel, cfg.LogPretty, "orchestrator")

	conn, err := db.Open(cfg.PostgresDSN)
	if err != nil {
		logger.Orchestrator().Fatal().Err(err).Msg("open postgres")
	}
	defer conn.Close()
	if err := db.Migrate(conn); err != nil {
		logger.Orchestrator().Fatal().Err(err).Msg("migrate schema")
	}

	cacheClient, err := cache.New(cfg.RedisAddr)
	if err != nil {
		logger.Orchestrator().Fatal().Err(err).Msg("connect redis")
	}
	defer cacheClient.Close()

	publisher, err := events.NewPublisher(events.Config{URL: cfg.NATSURL, User: cfg.NATSUser, Password: cfg.NATSPassword})
	if err != nil {
		logger.Orchestrator().Fatal().Err(err).Msg("connect nats publisher")
	}
	defer publisher.Close()

	policies, err := config.LoadPolicies(envOrDefault("COSIM_POLICY_FILE", "policies.yaml"))
	if err != nil {
		logger.Orchestrator().Fatal().Err(err).Msg("load policies")
	}

	sessions := db.NewSessionStore(conn)
	pods := db.NewPodHandleStore(conn)
	ledgers := db.NewQuotaLedgerStore(conn)
	audit := db.NewAuditStore(conn)
	enforcer := quota.NewEnforcer(policies, ledgers, sessions)
	notifier := notify.NewNotifier()

	engineImages := map[models.EngineKind]string{
		models.EngineMuJoCo:   envOrDefault("COSIM_MUJOCO_IMAGE", "cosimio/engine-mujoco:latest"),
		models.EnginePyBullet: envOrDefault("COSIM_PYBULLET_IMAGE", "cosimio/engine-pybullet:latest"),
	}

	backends := map[string]podalloc.Backend{}

	if dockerHost := os.Getenv("DOCKER_HOST"); dockerHost != "" || os.Getenv("COSIM_DOCKER_POOL") == "true" {
		dockerBE, err := dockerbackend.New(dockerHost, "cosim-net", engineImages)
		if err != nil {
			logger.PodAlloc().Error().Err(err).Msg("init docker node pool, continuing without it")
		} else {
			backends["docker"] = dockerBE
		}
	}

	if kubeCfg, err := rest.InClusterConfig(); err == nil {
		if clientset, err := kubernetes.NewForConfig(kubeCfg); err == nil {
			backends["k8s"] = k8sbackend.New(clientset, envOrDefault("COSIM_K8S_NAMESPACE", "cosim"), engineImages)
		} else {
			logger.PodAlloc().Error().Err(err).Msg("init k8s node pool, continuing without it")
		}
	}

	orch := orchestrator.New(sessions, pods, ledgers, audit, enforcer, cacheClient, publisher, notifier, clock.Real{}, cfg, backends, orchestrator.DefaultNodePools())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch.Start(ctx)
	defer orch.Stop()

	retentionDays := int(cfg.AuditRetention.Hours() / 24)
	scheduler := cron.New()
	_, err = scheduler.AddFunc(envOrDefault("COSIM_AUDIT_PRUNE_CRON", "0 3 * * *"), func() {
		n, err := audit.Prune(context.Background(), retentionDays)
		if err != nil {
			logger.Orchestrator().Error().Err(err).Msg("prune audit events")
			return
		}
		logger.Orchestrator().Info().Str("pruned", strconv.FormatInt(n, 10)).Msg("pruned expired audit events")
	})
	if err != nil {
		logger.Orchestrator().Fatal().Err(err).Msg("schedule audit prune cron")
	}
	scheduler.Start()
	defer scheduler.Stop()

	verifier := auth.NewHMACVerifier([]byte(envOrDefault("COSIM_JWT_SECRET", "")))
	server := api.NewServer(orch, sessions, audit, publisher, verifier, enforcer)

	addr := envOrDefault("COSIM_LISTEN_ADDR", ":8080")
	logger.Orchestrator().Info().Str("addr", addr).Msg("starting orchestrator API")
	go func() {
		if err := server.Router().Run(addr); err != nil {
			logger.Orchestrator().Error().Err(err).Msg("http server stopped")
		}
	}()

	<-ctx.Done()
	logger.Orchestrator().Info().Msg("shutting down orchestrator")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
