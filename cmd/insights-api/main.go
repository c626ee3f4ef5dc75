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
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/session-insights-api/api/swagger"
	"github.com/noah-isme/session-insights-api/internal/handler"
	"github.com/noah-isme/session-insights-api/internal/middleware"
	"github.com/noah-isme/session-insights-api/internal/models"
	"github.com/noah-isme/session-insights-api/internal/repository"
	"github.com/noah-isme/session-insights-api/internal/service"
	"github.com/noah-isme/session-insights-api/pkg/cache"
	"github.com/noah-isme/session-insights-api/pkg/config"
	"github.com/noah-isme/session-insights-api/pkg/database"
	"github.com/noah-isme/session-insights-api/pkg/jobs"
	"github.com/noah-isme/session-insights-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/session-insights-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/session-insights-api/pkg/middleware/requestid"
	"github.com/noah-isme/session-insights-api/pkg/storage"
)

// @title Session Insights API
// @version 0.1.0
// @description Predictive analytics over appointment history
// @BasePath /
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	var redisClient *redis.Client
	if cfg.Insights.CacheEnabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			// analytics stay available without the cache
			logr.Warn("redis unavailable, caching disabled", zap.Error(err))
			redisClient = nil
		}
	}

	modelStorage, err := storage.NewLocalStorage(cfg.Insights.ModelDir)
	if err != nil {
		logr.Fatal("failed to prepare model directory", zap.Error(err))
	}

	metrics := service.NewMetricsService()
	location := cfg.Insights.Location()

	sessionRepo := repository.NewSessionRepository(db)
	statsRepo := repository.NewStatsRepository(db)
	modelRepo := repository.NewModelRepository(modelStorage, cfg.Insights.ModelFile)

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		redisRepo := repository.NewCacheRepository(redisClient, logr)
		defer redisRepo.Close() //nolint:errcheck
		cacheRepo = redisRepo
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Insights.CachePrefix, cfg.Insights.StorageTimeout, logr, cacheRepo != nil)

	engagementSvc := service.NewEngagementService(sessionRepo, metrics, cfg.Insights.RepositoryTimeout, location, logr)
	patternSvc := service.NewPatternService(service.PatternServiceParams{
		Sessions:          sessionRepo,
		Cache:             cacheSvc,
		Metrics:           metrics,
		Logger:            logr,
		Location:          location,
		CacheTTL:          cfg.Insights.PatternCacheTTL,
		RepositoryTimeout: cfg.Insights.RepositoryTimeout,
	})
	predictionSvc := service.NewPredictionService(service.PredictionServiceParams{
		Sessions:          sessionRepo,
		Store:             modelRepo,
		Cache:             cacheSvc,
		Metrics:           metrics,
		Logger:            logr,
		Location:          location,
		MinSamples:        cfg.Insights.MinTrainingSamples,
		TrainingWindow:    cfg.Insights.TrainingWindow,
		TrainingTimeout:   cfg.Insights.TrainingTimeout,
		RepositoryTimeout: cfg.Insights.RepositoryTimeout,
		StorageTimeout:    cfg.Insights.StorageTimeout,
		ModelMetaTTL:      cfg.Insights.ModelMetaTTL,
	})
	alertSvc := service.NewAlertService(service.AlertServiceParams{
		Sessions:          sessionRepo,
		Patterns:          patternSvc,
		Engagement:        engagementSvc,
		Predictions:       predictionSvc,
		Metrics:           metrics,
		Logger:            logr,
		Location:          location,
		MaxClients:        cfg.Insights.DashboardClients,
		RepositoryTimeout: cfg.Insights.RepositoryTimeout,
	})
	statsSvc := service.NewStatsService(sessionRepo, statsRepo, engagementSvc, metrics, cfg.Insights.RepositoryTimeout, logr)

	maintenance := service.NewMaintenanceService(cacheSvc, statsSvc, predictionSvc, logr)
	queue := jobs.NewQueue("maintenance", maintenance.Handle, jobs.QueueConfig{
		Workers:    cfg.Jobs.Workers,
		MaxRetries: cfg.Jobs.MaxRetries,
		RetryDelay: cfg.Jobs.RetryDelay,
		Logger:     logr,
	})
	queue.Start(ctx)
	defer queue.Stop()
	if cacheSvc.Enabled() {
		go maintenance.Run(ctx, queue, cfg.Insights.SweepInterval)
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))
	r.Use(middleware.WithResponseMeta())

	checks := map[string]handler.ReadinessCheck{
		"postgres": func(ctx context.Context) error { return db.PingContext(ctx) },
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	metricsHandler := handler.NewMetricsHandler(metrics, checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	insightsHandler := handler.NewInsightsHandler(handler.InsightsHandlerParams{
		Alerts:      alertSvc,
		Engagement:  engagementSvc,
		Patterns:    patternSvc,
		Predictions: predictionSvc,
		Stats:       statsSvc,
		Cache:       cacheSvc,
		Metrics:     metrics,
		Jobs:        queue,
	})

	api := r.Group(cfg.APIPrefix)
	insights := api.Group("/insights", middleware.JWT(middleware.NewTokenValidator(cfg.JWT.Secret)))
	insights.GET("/alerts", insightsHandler.Alerts)
	insights.GET("/clients/:clientID/engagement", insightsHandler.Engagement)
	insights.GET("/clients/:clientID/stats", insightsHandler.ClientStats)
	insights.GET("/cancellation-patterns", insightsHandler.CancellationPatterns)
	insights.POST("/predictions", insightsHandler.Predict)
	insights.GET("/predictions/:appointmentID", insightsHandler.PredictAppointment)
	insights.GET("/stats", insightsHandler.Overview)

	admin := insights.Group("", middleware.RequireRoles(models.RoleAdmin))
	admin.POST("/model/train", insightsHandler.TrainModel)
	admin.POST("/stats/refresh", insightsHandler.RefreshStats)
	admin.POST("/cache/purge", insightsHandler.PurgeCache)

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
