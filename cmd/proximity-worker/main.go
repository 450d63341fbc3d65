package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"

	"github.com/edvin/proximity/internal/activity"
	"github.com/edvin/proximity/internal/catalog"
	"github.com/edvin/proximity/internal/config"
	"github.com/edvin/proximity/internal/core"
	"github.com/edvin/proximity/internal/crypto"
	"github.com/edvin/proximity/internal/db"
	"github.com/edvin/proximity/internal/logging"
	"github.com/edvin/proximity/internal/metrics"
	"github.com/edvin/proximity/internal/monitor"
	"github.com/edvin/proximity/internal/proxmox"
	"github.com/edvin/proximity/internal/workflow"
)

const serviceName = "proximity-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = serviceName
	}

	if err := cfg.Validate(serviceName); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	key, err := crypto.ParseKey(cfg.SecretKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid SECRET_KEY")
	}
	sealer := crypto.NewSealer(key)

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.CatalogPath).Msg("failed to load catalog")
	}

	rootCAs, err := cfg.ProxmoxRootCAs()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load proxmox CA bundle")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	corePool, err := db.NewCorePool(ctx, cfg.CoreDatabaseURL, serviceName)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to core database")
	}
	defer corePool.Close()
	metrics.RegisterPgxPoolMetrics(prometheus.DefaultRegisterer, corePool)

	tlsConfig, err := cfg.TemporalTLS()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure temporal TLS")
	}
	dialOpts := temporalclient.Options{
		HostPort: cfg.TemporalAddress,
		Logger:   logging.NewTemporalLogger(logger),
	}
	if tlsConfig != nil {
		dialOpts.ConnectionOptions = temporalclient.ConnectionOptions{TLS: tlsConfig}
		logger.Info().Msg("temporal mTLS enabled")
	}
	tc, err := temporalclient.Dial(dialOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to temporal")
	}
	defer tc.Close()

	// The worker shares the host store and client registry with the API.
	services := core.NewServices(corePool, tc, core.Deps{
		Sealer:  sealer,
		Catalog: cat,
		Cache:   monitor.NewCache(0, cfg.StatsCacheTTL),
		Ranges:  cfg.Ranges(),
		Registry: proxmox.RegistryConfig{
			SSHUser:    cfg.SSHUser,
			SSHKeyPath: cfg.SSHKeyPath,
			RootCAs:    rootCAs,
		},
		Logger: logger,
	})

	w := worker.New(tc, workflow.TaskQueue, worker.Options{
		Interceptors: []interceptor.WorkerInterceptor{&workflow.ErrorTypingInterceptor{}},
	})

	// Register activities
	w.RegisterActivity(activity.NewCoreDB(corePool, cat))
	w.RegisterActivity(activity.NewProxmox(services.Registry, sealer))
	w.RegisterActivity(activity.NewCallback())

	// Register workflows
	w.RegisterWorkflow(workflow.AppProvisionWorkflow)
	w.RegisterWorkflow(workflow.DeployApplicationWorkflow)
	w.RegisterWorkflow(workflow.RetryApplicationWorkflow)
	w.RegisterWorkflow(workflow.DeleteApplicationWorkflow)
	w.RegisterWorkflow(workflow.ReconfigureApplicationWorkflow)
	w.RegisterWorkflow(workflow.CloneApplicationWorkflow)
	w.RegisterWorkflow(workflow.CreateBackupWorkflow)
	w.RegisterWorkflow(workflow.RestoreBackupWorkflow)
	w.RegisterWorkflow(workflow.DeleteBackupWorkflow)
	w.RegisterWorkflow(workflow.CleanupFailedBackupsWorkflow)

	if cfg.MetricsAddr != "" {
		metricsSrv := metrics.NewServer(cfg.MetricsAddr, map[string]metrics.Check{
			"core_db": corePool.Ping,
			"temporal": func(ctx context.Context) error {
				_, err := tc.CheckHealth(ctx, &temporalclient.CheckHealthRequest{})
				return err
			},
		})
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	go func() {
		logger.Info().Str("taskQueue", workflow.TaskQueue).Msg("starting temporal worker")
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Fatal().Err(err).Msg("worker failed")
		}
	}()

	// Errors for already-existing schedules are ignored so that re-deploys
	// do not fail.
	registerCronSchedules(ctx, tc, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down worker")
	cancel()
}

type cronSchedule struct {
	id       string
	cron     string
	workflow any
	args     []any
}

func registerCronSchedules(ctx context.Context, tc temporalclient.Client, logger zerolog.Logger) {
	schedules := []cronSchedule{
		{
			id:       "failed-backup-cleanup-cron",
			cron:     "0 4 * * *",
			workflow: workflow.CleanupFailedBackupsWorkflow,
			args:     []any{workflow.DefaultFailedBackupRetention},
		},
	}

	scheduleClient := tc.ScheduleClient()

	for _, s := range schedules {
		_, err := scheduleClient.Create(ctx, temporalclient.ScheduleOptions{
			ID: s.id,
			Spec: temporalclient.ScheduleSpec{
				CronExpressions: []string{s.cron},
			},
			Action: &temporalclient.ScheduleWorkflowAction{
				ID:        s.id,
				Workflow:  s.workflow,
				Args:      s.args,
				TaskQueue: workflow.TaskQueue,
			},
		})
		if err != nil {
			if strings.Contains(err.Error(), "already exists") || strings.Contains(err.Error(), "AlreadyExists") || strings.Contains(err.Error(), "already registered") {
				logger.Info().Str("id", s.id).Msg("cron schedule already exists, skipping")
			} else {
				logger.Fatal().Err(err).Str("id", s.id).Msg("failed to create cron schedule")
			}
		} else {
			logger.Info().Str("id", s.id).Str("cron", s.cron).Msg("created cron schedule")
		}
	}
}
