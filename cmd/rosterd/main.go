package main

import (
	"context"
	"net/http"
	"os"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/rosterd/rosterd/pkg/api"
	"github.com/rosterd/rosterd/pkg/audit"
	"github.com/rosterd/rosterd/pkg/config"
	"github.com/rosterd/rosterd/pkg/departments"
	"github.com/rosterd/rosterd/pkg/files"
	"github.com/rosterd/rosterd/pkg/identity"
	"github.com/rosterd/rosterd/pkg/invites"
	"github.com/rosterd/rosterd/pkg/middleware"
	"github.com/rosterd/rosterd/pkg/observability"
	"github.com/rosterd/rosterd/pkg/projects"
	"github.com/rosterd/rosterd/pkg/rbac"
	"github.com/rosterd/rosterd/pkg/storage/postgres"
	storageredis "github.com/rosterd/rosterd/pkg/storage/redis"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.DefaultLogger().WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.ParseLogLevel(cfg.Logging.Level), os.Stdout)
	logger.WithField("version", version).Info("starting rosterd")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("rosterd exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()

	conns, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: postgres.ParseReplicaURLs(cfg.Database.ReplicaURLs),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
	}, logger)
	if err != nil {
		return err
	}
	defer conns.Close()
	db := conns.Primary()

	if err := rbac.RunMigrations(ctx, db, logger); err != nil {
		return err
	}
	if err := rbac.SeedPermissions(ctx, db, logger); err != nil {
		return err
	}

	var redisClient *goredis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = storageredis.NewClient(cfg.Redis)
		if err != nil {
			// Rate limiting degrades to per-instance buckets without Redis.
			logger.WithError(err).Warn("redis unavailable, using in-process rate limits")
			redisClient = nil
		}
	}

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Logging.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
		go metrics.PollDBPool(ctx, db, 15*time.Second)
	}

	userStore := identity.NewStore(db)
	rbacStore := rbac.NewStore(db)
	auditStore := audit.NewStore(db)
	roleService := rbac.NewService(rbacStore, auditStore, userStore, logger, metrics)
	checker := rbac.NewChecker(rbacStore, metrics)

	hasher := identity.NewHasher(cfg.Auth.BcryptCost)
	adminSeed := identity.AdminSeed{
		Name:     cfg.Auth.AdminName,
		Email:    cfg.Auth.AdminEmail,
		Password: cfg.Auth.AdminPassword,
	}
	if err := identity.SeedAdmin(ctx, userStore, hasher, roleService, adminSeed, logger); err != nil {
		return err
	}

	tokens := identity.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	inviteService := invites.NewService(invites.NewStore(db), userStore, hasher, roleService, cfg.Invitations.TTL, logger, metrics)

	deps := api.Deps{
		Config:      cfg,
		Logger:      logger,
		Metrics:     metrics,
		Redis:       redisClient,
		Identity:    identity.NewHandlers(userStore, hasher, tokens, roleService, logger, metrics),
		Auth:        middleware.NewAuthMiddleware(tokens, userStore, rbacStore),
		Roles:       rbac.NewHandlers(roleService, logger),
		Permissions: rbac.NewPermissionHandlers(rbacStore, checker, logger),
		Checker:     checker,
		Audit:       audit.NewHandlers(auditStore, logger),
		Invites:     invites.NewHandlers(inviteService, tokens, logger),
		Departments: departments.NewHandlers(departments.NewStore(db), logger),
		Projects:    projects.NewHandlers(projects.NewStore(db), logger),
	}

	if cfg.Files.Enabled() {
		blobs, err := files.NewS3Store(ctx, cfg.Files)
		if err != nil {
			return err
		}
		deps.Files = files.NewHandlers(files.NewStore(db), blobs, cfg.Files.MaxSizeBytes, logger)
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      api.NewServer(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	checkerHealth := observability.NewHealthChecker(db, redisClient, version)
	observability.RegisterHealthRoutes(healthMux, checkerHealth)
	if metrics != nil {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:        cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:     healthMux,
		ReadTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc("database", func(context.Context) error {
		return conns.Close()
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}

	if cfg.Sweeper.Enabled {
		sweeper := rbac.NewSweeper(roleService, cfg.Sweeper.Schedule, logger)
		if err := sweeper.Start(ctx); err != nil {
			return err
		}
		shutdown.RegisterShutdownFunc("sweeper", sweeper.Stop)
	}

	var group errgroup.Group
	group.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("API server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(shutdown.WaitForShutdown)

	return group.Wait()
}
