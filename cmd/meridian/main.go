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

	"github.com/meridian-his/meridian-his/internal/app"
	"github.com/meridian-his/meridian-his/internal/audit"
	"github.com/meridian-his/meridian-his/internal/auth"
	"github.com/meridian-his/meridian-his/internal/authz"
	"github.com/meridian-his/meridian-his/internal/observability"
	"github.com/meridian-his/meridian-his/internal/permission"
	"github.com/meridian-his/meridian-his/internal/platform/cache"
	"github.com/meridian-his/meridian-his/internal/platform/db"
	"github.com/meridian-his/meridian-his/internal/policy"
	"github.com/meridian-his/meridian-his/jobs"
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

	policyRepo := policy.NewRepository(pool)
	policyCache := policy.NewCache(redisClient, cfg.CacheTTL)
	store := policy.NewStore(policyRepo, policyCache, policy.BuiltinDefaults(), logger)
	settingsResolver := policy.NewSettingsResolver(store)

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		logger.Error("init token issuer", slog.Any("error", err))
		os.Exit(1)
	}
	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo, store, tokens)
	authHandler := auth.NewHandler(logger, authService)

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()
	recorder := audit.NewQueueRecorder(asynqClient, logger)

	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(auditRepo)
	auditHandler := audit.NewHandler(auditService, logger)

	resources := permission.NewResourceResolver(permission.DefaultMappings())
	builder := permission.NewBuilder(resources)
	permissionHandler := permission.NewHandler(resources)

	var authzOpts []authz.Option
	if len(cfg.PublicEndpoints) > 0 {
		authzOpts = append(authzOpts, authz.WithPublicEndpoints(cfg.PublicEndpoints))
	}
	authzOpts = append(authzOpts, authz.WithDecisionCounter(metrics.CountDecision))
	gate := authz.NewMiddleware(logger, builder, store, recorder, tokens, authzOpts...)

	policyHandler := policy.NewHandler(logger, store, settingsResolver)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		AuthHandler:       authHandler,
		PolicyHandler:     policyHandler,
		PermissionHandler: permissionHandler,
		AuditHandler:      auditHandler,
		JobsHandler:       jobsHandler,
		Authz:             gate,
		Metrics:           metrics,
		Pool:              pool,
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
