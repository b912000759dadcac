package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/xu-registrar/doctrack/internal/app"
	"github.com/xu-registrar/doctrack/internal/audit"
	jobmetrics "github.com/xu-registrar/doctrack/internal/jobs"
	"github.com/xu-registrar/doctrack/internal/platform/cache"
	"github.com/xu-registrar/doctrack/internal/rbac"
	"github.com/xu-registrar/doctrack/internal/session"
	"github.com/xu-registrar/doctrack/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	if cfg.SessionStore != app.StoreRedis {
		logger.Error("worker requires SESSION_STORE=redis", slog.String("session_store", cfg.SessionStore))
		os.Exit(1)
	}

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessions := session.NewStore(session.StoreConfig{
		Backend:   session.NewRedisBackend(redisClient, cfg.SessionMaxAge+cfg.SessionRetention),
		Registry:  rbac.NewRegistry(),
		Audit:     audit.NewLogger(logger, audit.DefaultCapacity),
		Logger:    logger,
		MaxAge:    cfg.SessionMaxAge,
		Retention: cfg.SessionRetention,
	})

	metrics := jobmetrics.NewMetrics(nil)
	sweepJob := jobs.NewSessionSweepJob(sessions, logger, metrics)
	notifyJob := jobs.NewStatusNotifyJob(jobs.LogSender{Logger: logger}, logger, metrics)

	sweepTask, err := jobs.NewSessionSweepTask(cfg.SessionMaxAge)
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSessionSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskRequestStatusNotify, Handler: notifyJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: jobs.SessionSweepSpec, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("redis_addr", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
