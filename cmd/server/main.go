package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	complianceapp "github.com/govcon/shredder/internal/application/compliance"
	shredapp "github.com/govcon/shredder/internal/application/shredding"
	"github.com/govcon/shredder/internal/infrastructure/cache"
	"github.com/govcon/shredder/internal/infrastructure/config"
	"github.com/govcon/shredder/internal/infrastructure/event"
	"github.com/govcon/shredder/internal/infrastructure/llm"
	"github.com/govcon/shredder/internal/infrastructure/logger"
	"github.com/govcon/shredder/internal/infrastructure/persistence"
	"github.com/govcon/shredder/internal/infrastructure/printing"
	"github.com/govcon/shredder/internal/infrastructure/storage"
	"github.com/govcon/shredder/internal/infrastructure/telemetry"
	"github.com/govcon/shredder/internal/interfaces/http/handler"
	"github.com/govcon/shredder/internal/interfaces/http/middleware"
	"github.com/govcon/shredder/internal/interfaces/http/router"
	"go.uber.org/zap"
)

//	@title			Shredder API
//	@version		1.0
//	@description	Requirement shredding and compliance matrix service for solicitations.

//	@license.name	Apache 2.0
//	@license.url	http://www.apache.org/licenses/LICENSE-2.0.html

//	@host		localhost:8080
//	@BasePath	/api/v1

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logCfg := &logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}
	log, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx := context.Background()

	// Telemetry. With OTLP logs on, the logger is rebuilt so entries are
	// teed into the collector.
	settings := telemetry.SettingsFrom(cfg.Telemetry).WithSpanProfiles(cfg.Profiling)
	providers, err := telemetry.Setup(ctx, settings, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	if providers.LogsEnabled() {
		log, err = logger.New(logCfg, providers.ZapCore(logger.ParseLevel(cfg.Log.Level)))
		if err != nil {
			panic("Failed to initialize logger: " + err.Error())
		}
	}
	defer func() {
		_ = log.Sync()
	}()

	profiler, err := telemetry.StartProfiler(cfg.Profiling, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}

	log.Info("Starting shredder",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("classifier", cfg.Classifier.Provider),
	)

	shredMetrics, err := telemetry.NewShredMetrics(telemetry.ShredMetricsConfig{
		Meter:  providers.Meter("shredder"),
		Logger: log,
	})
	if err != nil {
		log.Fatal("Failed to create shredding metrics", zap.Error(err))
	}

	// Database
	dbOpts := []persistence.Option{persistence.WithLogger(log)}
	if cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled {
		dbOpts = append(dbOpts, persistence.WithTracing(telemetry.DBTracingConfig{
			Enabled:         true,
			LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
			SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
			DBSystem:        "postgresql",
		}))
	}
	db, err := persistence.NewDatabase(&cfg.Database, dbOpts...)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if cfg.Database.Driver == "sqlite" {
		if err := db.AutoMigrate(); err != nil {
			log.Fatal("Failed to migrate sqlite schema", zap.Error(err))
		}
	}
	log.Info("Database connected successfully", zap.String("driver", cfg.Database.Driver))

	store := persistence.NewGormComplianceStore(db.DB)

	// Run locking
	locker, err := cache.NewRunLockerFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
		cache.WithLockPollInterval(cfg.Pipeline.LockPollInterval),
	).CreateLocker(ctx)
	if err != nil {
		log.Fatal("Failed to create run locker", zap.Error(err))
	}

	// Event bus
	eventBus := event.NewInMemoryEventBus(log)
	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	defer func() {
		if err := eventBus.Stop(context.Background()); err != nil {
			log.Error("Error stopping event bus", zap.Error(err))
		}
	}()

	// Shredding pipeline
	classifier, err := llm.NewClassifier(cfg.Classifier, log)
	if err != nil {
		log.Fatal("Failed to create classifier", zap.Error(err))
	}
	orchestrator := shredapp.NewClassificationOrchestrator(
		classifier, shredapp.OrchestratorConfigFrom(cfg.Classifier), log, shredMetrics,
	)
	tracker := shredapp.NewRunTracker()
	pipeline := shredapp.NewPipeline(store, locker, orchestrator, shredapp.PipelineConfig{
		LockTTL:          cfg.Pipeline.LockTTL,
		RunTimeout:       cfg.Pipeline.RunTimeout,
		MinLength:        cfg.Extraction.MinLength,
		MaxHeadingLength: cfg.Extraction.MaxHeadingLength,
	},
		shredapp.WithLogger(log),
		shredapp.WithEventPublisher(eventBus),
		shredapp.WithRunTracker(tracker),
		shredapp.WithMetrics(shredMetrics),
	)

	// Compliance matrix
	archive, err := storage.NewMatrixArchive(ctx, cfg.Storage, log)
	if err != nil {
		log.Fatal("Failed to create matrix archive", zap.Error(err))
	}
	matrixOpts := []complianceapp.MatrixServiceOption{
		complianceapp.WithArchive(archive),
		complianceapp.WithRunTracker(tracker),
		complianceapp.WithEventPublisher(eventBus),
		complianceapp.WithLogger(log),
	}
	if cfg.Printing.Enabled {
		renderer, err := printing.NewChromeRenderer(cfg.Printing, log)
		if err != nil {
			log.Fatal("Failed to create PDF renderer", zap.Error(err))
		}
		defer func() { _ = renderer.Close() }()
		matrixOpts = append(matrixOpts, complianceapp.WithPDFRenderer(renderer))
	}
	matrixService := complianceapp.NewMatrixService(store, matrixOpts...)

	// HTTP handlers
	opportunityHandler := handler.NewOpportunityHandler(pipeline, matrixService)
	systemHandler := handler.NewSystemHandler(cfg.App.Name, version, map[string]handler.Pinger{
		"database": db,
	})

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Middleware order: request id, recovery, access log, tracing, metrics,
	// security headers, CORS, body limit.
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	if cfg.Telemetry.Enabled {
		engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     true,
		}))
		engine.Use(middleware.TracingAttributeInjector())
		engine.Use(middleware.SpanErrorMarker())
	}
	engine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
		Providers: providers,
		Enabled:   cfg.Telemetry.Enabled,
	}))
	engine.Use(middleware.Secure())
	corsConfig := middleware.DefaultCORSConfig()
	if len(cfg.HTTP.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.HTTP.AllowOrigins
	}
	engine.Use(middleware.CORSWithConfig(corsConfig))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	engine.GET("/health", systemHandler.Health)

	var shredMiddleware []gin.HandlerFunc
	var limiter *middleware.RateLimiter
	if cfg.HTTP.ShredRateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.HTTP.ShredRateLimit, time.Minute)
		shredMiddleware = append(shredMiddleware, middleware.RateLimit(limiter))
		log.Info("Shred rate limiting enabled", zap.Int("per_minute", cfg.HTTP.ShredRateLimit))
	}

	router.NewRouter(engine, router.WithAPIVersion("v1")).
		Register(router.OpportunityRoutes(opportunityHandler, shredMiddleware...)).
		Register(router.SystemRoutes(systemHandler)).
		Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := pipeline.Shutdown(shutdownCtx); err != nil {
		log.Error("Error stopping pipeline", zap.Error(err))
	}
	if limiter != nil {
		limiter.Stop()
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down telemetry", zap.Error(err))
	}
	if err := profiler.Stop(); err != nil {
		log.Error("Error stopping profiler", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
