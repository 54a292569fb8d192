package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/rolemedic/rolemedic/internal/app"
	"github.com/rolemedic/rolemedic/internal/capstore"
	"github.com/rolemedic/rolemedic/internal/diagnose"
	jobmetrics "github.com/rolemedic/rolemedic/internal/jobs"
	"github.com/rolemedic/rolemedic/internal/observability"
	"github.com/rolemedic/rolemedic/internal/platform/cache"
	"github.com/rolemedic/rolemedic/internal/platform/db"
	"github.com/rolemedic/rolemedic/internal/rbac"
	"github.com/rolemedic/rolemedic/internal/repair"
	"github.com/rolemedic/rolemedic/internal/shared"
	"github.com/rolemedic/rolemedic/internal/sysenv"
	"github.com/rolemedic/rolemedic/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

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

	store := capstore.NewRepository(pool, redisClient)
	auditLogger := shared.NewAuditLogger(pool)
	rbacService := rbac.NewService(store, redisClient, cfg.CapCacheTTL)
	env := sysenv.NewPlatform(store, pool, redisClient, cfg.StoragePath, cfg.ThemeFile)

	checker := diagnose.NewChecker(store, env, rbacService, logger)
	fixer := repair.NewFixer(store, env, rbacService, auditLogger, logger)
	metrics := observability.NewMetrics()

	client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	scanHandler := jobs.NewHealthScanHandler(jobs.HealthScanDeps{
		Checker:    checker,
		Fixer:      fixer,
		Store:      store,
		Client:     client,
		Metrics:    metrics,
		Logger:     logger,
		AlertEmail: cfg.AlertEmail,
	})
	mailHandler := jobs.NewSendEmailHandler(&jobs.Mailer{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		From: cfg.SMTPFrom,
	}, logger)

	jm := jobmetrics.NewMetrics(metrics.Registerer())
	trackedScan := func(ctx context.Context, t *asynq.Task) error {
		return jm.Track("health_scan").End(scanHandler(ctx, t))
	}
	trackedMail := func(ctx context.Context, t *asynq.Task) error {
		return jm.Track("send_email").End(mailHandler(ctx, t))
	}

	scanTask, err := jobs.NewHealthScanTask(jobs.HealthScanPayload{OperatorID: cfg.CronOperatorID})
	if err != nil {
		logger.Error("build scan task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeHealthScan, Handler: trackedScan},
			{Type: jobs.TaskTypeSendEmail, Handler: trackedMail},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 * * * *", Task: scanTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
