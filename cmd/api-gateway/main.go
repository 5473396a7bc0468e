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
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-timetable-engine/api/swagger"
	"github.com/noah-isme/sma-timetable-engine/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-timetable-engine/internal/middleware"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/repository"
	"github.com/noah-isme/sma-timetable-engine/internal/scheduler"
	"github.com/noah-isme/sma-timetable-engine/internal/service"
	"github.com/noah-isme/sma-timetable-engine/pkg/cache"
	"github.com/noah-isme/sma-timetable-engine/pkg/config"
	"github.com/noah-isme/sma-timetable-engine/pkg/database"
	"github.com/noah-isme/sma-timetable-engine/pkg/export"
	"github.com/noah-isme/sma-timetable-engine/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-timetable-engine/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-timetable-engine/pkg/middleware/requestid"
)

// @title Timetable Generation Engine API
// @version 1.0.0
// @description Asynchronous timetable generation, conflict detection, quality scoring and export.
// @BasePath /api/v1
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := service.NewMetricsService()
	checks := map[string]handler.ReadinessCheck{}

	var (
		loader service.SnapshotLoader
		store  service.TimetableStore
	)
	if cfg.Persistence.Enabled {
		db, err := database.NewPostgres(cfg.Database)
		if err != nil {
			logr.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer db.Close()
		loader = repository.NewSnapshotRepository(db)
		store = repository.NewTimetableRepository(db)
		checks["postgres"] = pingPostgres(db)
	} else {
		loader = repository.NewSnapshotFileRepository(cfg.Persistence.SnapshotDir)
		logr.Info("persistence disabled, reading snapshot files", zap.String("dir", cfg.Persistence.SnapshotDir))
	}

	var cacheRepo service.CacheRepository
	if cfg.ResultCache.Enabled {
		client, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, result cache disabled", zap.Error(err))
		} else {
			repo := repository.NewCacheRepository(client, logr)
			defer repo.Close()
			cacheRepo = repo
			checks["redis"] = pingRedis(client)
		}
	}
	resultCache := service.NewCacheService(cacheRepo, metrics, cfg.ResultCache.TTL, logr, cacheRepo != nil)

	generation := service.NewTimetableGenerationService(loader, store, scheduler.NewEngine(), resultCache, metrics, nil, logr,
		service.GenerationServiceConfig{
			Workers:          cfg.Generation.Workers,
			QueueSize:        cfg.Generation.QueueSize,
			EvalWorkers:      cfg.Generation.EvalWorkers,
			TimeLimit:        cfg.Generation.TimeLimit,
			RunRetention:     cfg.Generation.RunRetention,
			SweepSchedule:    cfg.Generation.SweepSchedule,
			DefaultAlgorithm: models.Algorithm(cfg.Generation.DefaultAlgorithm),
		})
	if err := generation.StartWorkers(ctx); err != nil {
		logr.Fatal("failed to start generation workers", zap.Error(err))
	}

	handlers := routeHandlers{
		generation: handler.NewGenerationHandler(generation),
		conflicts:  handler.NewConflictHandler(service.NewConflictService(generation, nil, logr)),
		export:     handler.NewExportHandler(service.NewExportService(generation, logr, export.NewCSVExporter(export.WithBOM()), nil)),
		metrics:    handler.NewMetricsHandler(metrics, checks),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics, "/metrics"))
	registerRoutes(r, cfg.APIPrefix, handlers)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

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
		logr.Warn("http shutdown incomplete", zap.Error(err))
	}
	generation.Shutdown()
}

type routeHandlers struct {
	generation *handler.GenerationHandler
	conflicts  *handler.ConflictHandler
	export     *handler.ExportHandler
	metrics    *handler.MetricsHandler
}

func registerRoutes(r *gin.Engine, prefix string, h routeHandlers) {
	r.GET("/health", h.metrics.Health)
	r.GET("/ready", h.metrics.Ready)
	r.GET("/metrics", h.metrics.Prometheus)

	api := r.Group(prefix)
	api.GET("/metrics/summary", h.metrics.Summary)

	timetables := api.Group("/timetables/:id")
	timetables.POST("/generate", h.generation.Generate)
	timetables.GET("/result", h.generation.LatestResult)
	timetables.GET("/export", h.export.Export)
	timetables.PATCH("/conflicts/:conflictId/resolve", h.conflicts.Resolve)

	runs := api.Group("/generation-runs/:runId")
	runs.GET("", h.generation.Status)
	runs.DELETE("", h.generation.Cancel)
	runs.GET("/result", h.generation.Result)

	api.POST("/conflicts/detect", h.conflicts.Detect)
	api.POST("/quality/score", h.conflicts.Score)
}

func pingPostgres(db *sqlx.DB) handler.ReadinessCheck {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}

func pingRedis(client *redis.Client) handler.ReadinessCheck {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
