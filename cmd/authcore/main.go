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
	"golang.org/x/sync/errgroup"

	"github.com/authcore-io/authcore/internal/app"
	"github.com/authcore-io/authcore/internal/audit"
	"github.com/authcore-io/authcore/internal/authz"
	"github.com/authcore-io/authcore/internal/grant"
	"github.com/authcore-io/authcore/internal/observability"
	"github.com/authcore-io/authcore/internal/permission"
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
		logger.Error("connect postgres", slog.Any("error", err))
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
	auditStore := audit.NewRepository(pool)
	recorder := audit.NewRecorder(auditStore, logger)

	decisions := authz.NewRedisCache(redisClient, cfg.DecisionCacheTTL, logger)

	roleService := role.NewService(role.NewRepository(pool), decisions, recorder, logger)
	permissionService := permission.NewService(permission.NewRepository(pool), roleService, recorder, logger)
	grantService := grant.NewService(grant.NewRepository(pool), roleService, decisions, recorder, logger)

	resolver := authz.NewResolver(grantService, roleService, decisions, logger,
		authz.WithGlobalFallback(cfg.AuthzGlobalFallback),
		authz.WithMetrics(metrics),
	)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Metrics:           metrics,
		PermissionHandler: permission.NewHandler(logger, permissionService),
		RoleHandler:       role.NewHandler(logger, roleService),
		GrantHandler:      grant.NewHandler(logger, grantService),
		CheckHandler:      authz.NewHandler(logger, resolver),
		AuditHandler:      audit.NewHandler(logger, auditStore),
		JobHandler:        jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
