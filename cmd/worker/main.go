package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/sikaledger/sikaledger/internal/app"
	jobmetrics "github.com/sikaledger/sikaledger/internal/jobs"
	"github.com/sikaledger/sikaledger/internal/notify"
	"github.com/sikaledger/sikaledger/internal/observability"
	"github.com/sikaledger/sikaledger/internal/platform/cache"
	"github.com/sikaledger/sikaledger/internal/platform/db"
	"github.com/sikaledger/sikaledger/internal/recon"
	"github.com/sikaledger/sikaledger/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	reconRepo := recon.NewRepository(pool)
	reconEngine := recon.NewEngine(reconRepo, metrics, logger)
	snapshotJob := recon.NewSnapshotJob(reconEngine, logger, jobMetrics)
	integrityJob := jobs.NewGLIntegrityJob(pool, logger)

	reconTask, err := jobs.NewReconSnapshotTask("cron")
	if err != nil {
		logger.Error("build recon task", slog.Any("error", err))
		os.Exit(1)
	}
	integrityTask, err := jobs.NewGLIntegrityTask("cron")
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReconSnapshot, Handler: snapshotJob.Handle},
			{Type: jobs.TaskGLIntegrityCheck, Handler: integrityJob.Handle},
			{Type: jobs.TaskThresholdAlert, Handler: notify.HandleThresholdAlert(logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReconCron, Task: reconTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 3 * * *", Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	jobHandler := jobs.NewHandler(inspector, logger)
	opsServer := app.NewOpsServer(cfg, app.NewOpsRouter(app.OpsParams{
		Logger:     logger,
		Config:     cfg,
		Pool:       pool,
		Redis:      redisClient,
		Metrics:    metrics,
		JobHandler: jobHandler,
	}))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("worker started", slog.String("recon_cron", cfg.ReconCron))
		if err := worker.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("ops endpoint listening", slog.String("addr", cfg.OpsAddr))
		if err := opsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return opsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
