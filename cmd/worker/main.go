package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/authcore-io/authcore/internal/app"
	"github.com/authcore-io/authcore/internal/audit"
	"github.com/authcore-io/authcore/internal/authz"
	"github.com/authcore-io/authcore/internal/grant"
	jobmetrics "github.com/authcore-io/authcore/internal/jobs"
	"github.com/authcore-io/authcore/internal/platform/cache"
	"github.com/authcore-io/authcore/internal/platform/db"
	"github.com/authcore-io/authcore/internal/role"
	"github.com/authcore-io/authcore/jobs"
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

	recorder := audit.NewRecorder(audit.NewRepository(pool), logger)
	decisions := authz.NewRedisCache(redisClient, cfg.DecisionCacheTTL, logger)
	roleService := role.NewService(role.NewRepository(pool), decisions, recorder, logger)
	grantService := grant.NewService(grant.NewRepository(pool), roleService, decisions, recorder, logger)

	reapJob := jobs.NewGrantsReapJob(grantService, logger, jobmetrics.NewMetrics(nil))

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskGrantsReap, Handler: reapJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReapSchedule, Task: jobs.NewGrantsReapTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
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
