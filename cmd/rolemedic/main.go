package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/rolemedic/rolemedic/internal/app"
	"github.com/rolemedic/rolemedic/internal/capstore"
	"github.com/rolemedic/rolemedic/internal/diagnose"
	"github.com/rolemedic/rolemedic/internal/observability"
	"github.com/rolemedic/rolemedic/internal/platform/cache"
	"github.com/rolemedic/rolemedic/internal/platform/db"
	"github.com/rolemedic/rolemedic/internal/rbac"
	"github.com/rolemedic/rolemedic/internal/recovery"
	"github.com/rolemedic/rolemedic/internal/repair"
	"github.com/rolemedic/rolemedic/internal/shared"
	"github.com/rolemedic/rolemedic/internal/sysenv"
	"github.com/rolemedic/rolemedic/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	store := capstore.NewRepository(dbpool, redisClient)
	auditLogger := shared.NewAuditLogger(dbpool)

	rbacService := rbac.NewService(store, redisClient, cfg.CapCacheTTL)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	env := sysenv.NewPlatform(store, dbpool, redisClient, cfg.StoragePath, cfg.ThemeFile)

	checker := diagnose.NewChecker(store, env, rbacService, logger)
	fixer := repair.NewFixer(store, env, rbacService, auditLogger, logger)
	recoveryService := recovery.NewService(store, store, env, rbacService, auditLogger, logger)

	metrics := observability.NewMetrics()

	diagnoseHandler := diagnose.NewHandler(logger, checker, rbacMiddleware, metrics)
	repairHandler := repair.NewHandler(logger, fixer, rbacMiddleware, metrics)
	recoveryHandler := recovery.NewHandler(logger, recoveryService, rbacMiddleware, metrics)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		DiagnoseHandler: diagnoseHandler,
		RepairHandler:   repairHandler,
		RecoveryHandler: recoveryHandler,
		JobsHandler:     jobsHandler,
		RBACMiddleware:  rbacMiddleware,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
