package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/xu-registrar/doctrack/internal/app"
	"github.com/xu-registrar/doctrack/internal/audit"
	"github.com/xu-registrar/doctrack/internal/auth"
	"github.com/xu-registrar/doctrack/internal/observability"
	"github.com/xu-registrar/doctrack/internal/platform/cache"
	"github.com/xu-registrar/doctrack/internal/platform/db"
	"github.com/xu-registrar/doctrack/internal/rbac"
	"github.com/xu-registrar/doctrack/internal/requests"
	"github.com/xu-registrar/doctrack/internal/session"
	"github.com/xu-registrar/doctrack/internal/throttle"
	"github.com/xu-registrar/doctrack/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
	metrics := observability.NewMetrics()
	registry := rbac.NewRegistry()
	auditLog := audit.NewLogger(logger, audit.DefaultCapacity)

	var redisClient *redis.Client
	var backend session.Backend = session.NewMemoryBackend()
	if cfg.SessionStore == app.StoreRedis {
		redisClient, err = cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			logger.Error("connect redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		backend = session.NewRedisBackend(redisClient, cfg.SessionMaxAge+cfg.SessionRetention)
	}

	sessions := session.NewStore(session.StoreConfig{
		Backend:   backend,
		Registry:  registry,
		Audit:     auditLog,
		Logger:    logger,
		MaxAge:    cfg.SessionMaxAge,
		Retention: cfg.SessionRetention,
	})

	seed := auth.DefaultSeed()
	if cfg.WhitelistFile != "" {
		seed, err = auth.LoadSeedFile(cfg.WhitelistFile)
		if err != nil {
			logger.Error("load whitelist", slog.String("path", cfg.WhitelistFile), slog.Any("error", err))
			os.Exit(1)
		}
	}
	whitelist := auth.NewWhitelist(cfg.StudentRole())
	if err := whitelist.Seed(seed, cfg.BcryptCost); err != nil {
		logger.Error("seed whitelist", slog.Any("error", err))
		os.Exit(1)
	}

	authService := auth.NewService(auth.Config{
		Registry:       registry,
		Sessions:       sessions,
		Throttle:       throttle.New(throttle.Config{MaxAttempts: cfg.LoginMaxAttempts, Lockout: cfg.LoginLockout}),
		Whitelist:      whitelist,
		Audit:          auditLog,
		Logger:         logger,
		Metrics:        metrics,
		Delay:          auth.RandomDelay(cfg.PasswordDelayMin, cfg.PasswordDelayMax),
		GoogleClientID: cfg.GoogleClientID,
	})
	var googleService *auth.GoogleService
	if cfg.GoogleEnabled() {
		googleService = auth.NewGoogleService(authService, auth.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURI,
			StateSecret:  cfg.OAuthStateSecret,
			Timeout:      cfg.OAuthTimeout,
		})
	}

	rbacMiddleware := rbac.Middleware{Logger: logger}
	authHandler := auth.NewHandler(logger, authService, googleService, rbacMiddleware, auth.HandlerOptions{
		Development:   cfg.IsDevelopment(),
		SecureCookies: cfg.IsProduction(),
		LoginLimit:    app.LoginRateLimit(),
	})

	var repo requests.Repository = requests.NewMemoryRepository()
	if cfg.RequestStore == app.StorePostgres {
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		pgRepo := requests.NewPGRepository(pool)
		if err := pgRepo.EnsureSchema(ctx); err != nil {
			logger.Error("ensure schema", slog.Any("error", err))
			os.Exit(1)
		}
		repo = pgRepo
	}

	var notifier requests.Notifier = jobs.DirectNotifier{Sender: jobs.LogSender{Logger: logger}}
	jobHandler := jobs.NewHandler(nil, logger)
	if redisClient != nil {
		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
		jobClient, err := jobs.NewClient(redisOpts)
		if err != nil {
			logger.Error("init job client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		notifier = jobClient

		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	requestService := requests.NewService(requests.Config{
		Repository: repo,
		Validator:  requests.NewValidator(requests.ValidatorConfig{Registry: registry}),
		Notifier:   notifier,
		Audit:      auditLog,
		Logger:     logger,
	})
	if cfg.SeedDemoData {
		seeded, err := requestService.Seed(ctx, requests.DemoRecords())
		if err != nil {
			logger.Error("seed demo requests", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("seeded demo requests", slog.Int("count", seeded))
	}

	janitor := session.NewJanitor(sessions, cfg.SessionSweepInterval, logger)
	go janitor.Run(ctx)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		AuthHandler:        authHandler,
		RequestsHandler:    requests.NewHandler(logger, requestService, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(registry, rbacMiddleware),
		JobHandler:         jobHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("session_store", cfg.SessionStore),
			slog.String("request_store", cfg.RequestStore),
			slog.Bool("google_oauth", cfg.GoogleEnabled()),
		)
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
