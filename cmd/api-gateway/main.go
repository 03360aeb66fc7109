package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/mentor-trust-api/api/swagger"
	"github.com/noah-isme/mentor-trust-api/internal/handler"
	"github.com/noah-isme/mentor-trust-api/internal/middleware"
	"github.com/noah-isme/mentor-trust-api/internal/models"
	"github.com/noah-isme/mentor-trust-api/internal/repository"
	"github.com/noah-isme/mentor-trust-api/internal/service"
	"github.com/noah-isme/mentor-trust-api/pkg/cache"
	"github.com/noah-isme/mentor-trust-api/pkg/config"
	"github.com/noah-isme/mentor-trust-api/pkg/database"
	"github.com/noah-isme/mentor-trust-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/mentor-trust-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/mentor-trust-api/pkg/middleware/requestid"
)

// @title Mentor Trust API
// @version 1.0.0
// @description Audit ledger and two-person approval workflow for platform administrators
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	switch {
	case err != nil:
		logr.Warn("redis unavailable, notifications dropped and re-auth kept in memory", zap.Error(err))
	case redisClient == nil:
		logr.Info("redis disabled, notifications dropped and re-auth kept in memory")
	default:
		defer redisClient.Close()
	}

	metricsSvc := service.NewMetricsService()

	ledgerRepo := repository.NewAuditLedgerRepository(db)
	if err := ledgerRepo.CheckImmutabilityGuard(ctx); err != nil {
		logr.Warn("audit ledger immutability guard not confirmed", zap.Error(err))
	}
	pendingRepo := repository.NewPendingActionRepository(db)
	userRepo := repository.NewUserRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	notificationRepo := repository.NewNotificationRepository(redisClient, cfg.Trust.NotifyChannel, logr)
	reauthRepo := repository.NewReauthRepository(redisClient)

	ledgerSvc := service.NewAuditLedgerService(ledgerRepo, logr,
		service.WithLedgerMetrics(metricsSvc),
		service.WithLedgerLimits(0, cfg.Trust.VerifyMaxRange, cfg.Trust.ExportMaxRows),
	)
	exportSvc := service.NewAuditExportService(ledgerSvc, nil, nil, logr)

	notificationSvc := service.NewNotificationService(notificationRepo, logr, service.NotificationConfig{
		Workers:    cfg.Trust.NotifyWorkers,
		MaxRetries: cfg.Trust.NotifyRetries,
		RetryDelay: time.Second,
	})
	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()

	reauthSvc := service.NewReauthService(userRepo, reauthRepo, ledgerSvc, cfg.Trust.ReauthWindow, logr)

	resolver := service.NewTargetResolver(logr).
		Register(models.TargetUser, models.TargetLookupFunc(func(ctx context.Context, id string) (models.Nameable, error) {
			return userRepo.FindByID(ctx, id)
		})).
		Register(models.TargetMentor, models.TargetLookupFunc(func(ctx context.Context, id string) (models.Nameable, error) {
			return profileRepo.FindMentorByID(ctx, id)
		})).
		Register(models.TargetStudent, models.TargetLookupFunc(func(ctx context.Context, id string) (models.Nameable, error) {
			return profileRepo.FindStudentByID(ctx, id)
		}))

	approvalSvc := service.NewApprovalService(pendingRepo, ledgerSvc, service.ApprovalConfig{
		TTL:           cfg.Trust.PendingTTL,
		SweepInterval: cfg.Trust.SweepInterval,
		Retention:     cfg.Trust.Retention,
		EnforceReauth: cfg.Trust.EnforceReauth,
	}, logr,
		service.WithActionExecutors(service.NewUserActionExecutors(userRepo, logr).Registry()),
		service.WithApprovalNotifier(notificationSvc),
		service.WithTargetNameResolver(resolver),
		service.WithReauthChecker(reauthSvc),
		service.WithApprovalMetrics(metricsSvc),
	)
	approvalSvc.StartExpirySweeper(ctx)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	probes := map[string]handler.ReadinessProbe{
		"postgres": func(ctx context.Context) error { return database.Ready(ctx, db) },
	}
	if redisClient != nil {
		probes["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	metricsHandler := handler.NewMetricsHandler(metricsSvc, probes)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(service.NewTokenService(cfg.JWT.Secret)), middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
	routes := handler.Routes{
		PendingActions: handler.NewPendingActionHandler(approvalSvc),
		Audit:          handler.NewAuditHandler(ledgerSvc, exportSvc),
		Reauth:         handler.NewReauthHandler(reauthSvc),
		Notifications:  handler.NewNotificationHandler(notificationRepo),
	}
	routes.Register(api)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
