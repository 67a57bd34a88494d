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
	"github.com/redis/go-redis/v9"

	"github.com/warden-iam/warden/cmd/warden/cli"
	"github.com/warden-iam/warden/internal/app"
	"github.com/warden-iam/warden/internal/audit"
	audithttp "github.com/warden-iam/warden/internal/audit/http"
	"github.com/warden-iam/warden/internal/auth"
	"github.com/warden-iam/warden/internal/observability"
	"github.com/warden-iam/warden/internal/permissions"
	"github.com/warden-iam/warden/internal/platform/cache"
	"github.com/warden-iam/warden/internal/platform/db"
	"github.com/warden-iam/warden/internal/rbac"
	"github.com/warden-iam/warden/internal/roles"
	"github.com/warden-iam/warden/internal/users"
	"github.com/warden-iam/warden/jobs"
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
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger, redisOpts)
	case "migrate":
		err = db.Migrate(cfg.PGDSN, logger)
	case "jobs":
		jobsCLI := cli.NewJobsCLI(redisOpts)
		err = jobsCLI.Run(ctx, os.Args[2:], os.Stdout)
		if closeErr := jobsCLI.Close(); closeErr != nil {
			logger.Warn("jobs cli close", slog.Any("error", closeErr))
		}
	default:
		logger.Error("unknown command", slog.String("command", cmd))
		os.Exit(2)
	}
	if err != nil {
		logger.Error(cmd, slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger, redisOpts asynq.RedisClientOpt) error {
	if cfg.DBAutoMigrate {
		if err := db.Migrate(cfg.PGDSN, logger); err != nil {
			return err
		}
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, MinConns: cfg.PGMinConns})
	if err != nil {
		return err
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	userDefaults, err := cfg.UserDefaults()
	if err != nil {
		return err
	}
	catalog := rbac.NewCatalog(userDefaults)
	rolesRepo := roles.NewRepository(dbpool)
	templates, err := rolesRepo.ListTemplates(ctx)
	if err != nil {
		return err
	}
	if err := catalog.Load(templates); err != nil {
		return err
	}
	guard := rbac.NewGuard(rbac.NewResolver(catalog), rbac.Policy{MaxSuperAdmins: cfg.RBACMaxSuperAdmins}, metrics)

	accountStore := users.NewStore(dbpool)

	auditRepo := audit.NewRepository(dbpool)
	jobsClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	recorder := audit.NewRecorder(audit.RecorderConfig{
		Enqueuer:   jobsClient,
		Repository: auditRepo,
		Logger:     logger,
		Metrics:    metrics,
		Timeout:    cfg.AuditTimeout,
		Async:      cfg.AuditAsync,
	})

	denylist := auth.NewRedisDenylist(redisClient)
	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{
		Secret: []byte(cfg.JWTSecret),
		Issuer: cfg.JWTIssuer,
		TTL:    cfg.JWTTTL,
		Leeway: cfg.JWTLeeway,
		Logger: logger,
	}, denylist)
	if err != nil {
		return err
	}

	rbacMiddleware := rbac.NewMiddleware(rbac.MiddlewareConfig{
		Identity:      issuer,
		Accounts:      accountStore,
		Guard:         guard,
		Logger:        logger,
		LookupTimeout: cfg.AccountLookupTimeout,
	})

	authService := auth.NewService(auth.Config{
		Repository: accountStore,
		Issuer:     issuer,
		Denylist:   denylist,
		Resolver:   guard.Resolver(),
		Recorder:   recorder,
		Logger:     logger,
		BcryptCost: cfg.BcryptCost,
	})
	usersService := users.NewService(users.Config{
		Store:      accountStore,
		Guard:      guard,
		Recorder:   recorder,
		Logger:     logger,
		BcryptCost: cfg.BcryptCost,
	})
	permissionsService := permissions.NewService(permissions.Config{
		Store:    accountStore,
		Guard:    guard,
		Recorder: recorder,
		Logger:   logger,
	})
	rolesService := roles.NewService(roles.Config{
		Repository: rolesRepo,
		Catalog:    catalog,
		Guard:      guard,
		Notifier:   roles.NewRedisNotifier(redisClient),
		Recorder:   recorder,
		Logger:     logger,
	})

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		RBACMiddleware:     rbacMiddleware,
		AuthHandler:        auth.NewHandler(logger, authService, rbacMiddleware, cfg.LoginRateLimit),
		UsersHandler:       users.NewHandler(logger, usersService, rbacMiddleware),
		PermissionsHandler: permissions.NewHandler(logger, permissionsService, rbacMiddleware),
		AuditHandler:       audithttp.NewHandler(logger, audit.NewService(auditRepo), rbacMiddleware),
		RolesHandler:       roles.NewHandler(logger, rolesService, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	go watchTemplates(ctx, redisClient, rolesRepo, catalog, logger, cfg.RoleTemplateResync)

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func watchTemplates(ctx context.Context, client *redis.Client, repo roles.Repository, catalog *rbac.Catalog, logger *slog.Logger, resync time.Duration) {
	watcher := roles.NewWatcher(client, repo, catalog, logger, resync)
	for {
		err := watcher.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("role template watcher stopped, restarting", slog.Any("error", err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}
