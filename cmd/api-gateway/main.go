package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/campushq/apply-api/api/swagger"
	"github.com/campushq/apply-api/internal/formclient"
	"github.com/campushq/apply-api/internal/handler"
	"github.com/campushq/apply-api/internal/middleware"
	"github.com/campushq/apply-api/internal/models"
	"github.com/campushq/apply-api/internal/repository"
	"github.com/campushq/apply-api/internal/service"
	"github.com/campushq/apply-api/pkg/cache"
	"github.com/campushq/apply-api/pkg/config"
	"github.com/campushq/apply-api/pkg/database"
	"github.com/campushq/apply-api/pkg/jobs"
	"github.com/campushq/apply-api/pkg/logger"
	corsmiddleware "github.com/campushq/apply-api/pkg/middleware/cors"
	reqidmiddleware "github.com/campushq/apply-api/pkg/middleware/requestid"
	"github.com/campushq/apply-api/pkg/storage"
)

// @title Program Application API
// @version 1.0.0
// @description Synchronizes student program applications from an external form provider and manages review and admission.
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg.Env, cfg.Log)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()
	metricsService := service.NewMetricsService()

	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	cacheService := service.NewCacheService(cacheRepo, metricsService, cfg.Sync.CacheTTL, logr, redisClient != nil)

	userRepo := repository.NewUserRepository(db)
	programRepo := repository.NewProgramRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	applicationRepo := repository.NewApplicationRepository(db)
	exportJobRepo := repository.NewExportJobRepository(db)

	syncService := service.NewSyncService(programRepo, userRepo, subjectRepo, applicationRepo, nil, cacheService, metricsService, cfg.Sync.CacheTTL, logr)
	formClient := formclient.New(cfg.FormProvider, syncService, logr)
	syncService.SetFormClient(formClient)

	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "apply-api",
	})
	admissionService := service.NewAdmissionService(applicationRepo, validate, logr)
	reviewService := service.NewReviewService(applicationRepo, programRepo, formClient, cacheService, cfg.Sync.CacheTTL, logr)
	programService := service.NewProgramService(programRepo, formClient, validate, logr)
	subjectService := service.NewSubjectService(subjectRepo, logr)

	var exportService *service.ExportService
	var exportQueue *jobs.Queue
	if cfg.Exports.Enabled {
		localStorage, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportService = service.NewExportService(exportJobRepo, applicationRepo, programRepo, syncService, localStorage, signer, metricsService, service.ExportConfig{
			APIPrefix:  cfg.APIPrefix,
			ResultTTL:  cfg.Exports.SignedURLTTL,
			MaxRetries: cfg.Exports.WorkerRetries,
		}, logr, nil, nil)

		worker := service.NewExportWorker(exportJobRepo, exportService, metricsService, cfg.Exports.WorkerRetries, logr)
		exportQueue = jobs.NewQueue("exports", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
			Logger:     logr,
		})
		exportService.AttachQueue(exportQueue)
		exportQueue.Start(ctx)
		defer exportQueue.Stop()
		exportService.RecoverPendingJobs(ctx)
		exportService.StartCleanup(ctx)
	}

	authHandler := handler.NewAuthHandler(authService)
	applicationHandler := handler.NewApplicationHandler(syncService, reviewService)
	admissionHandler := handler.NewAdmissionHandler(admissionService)
	programHandler := handler.NewProgramHandler(programService, syncService, formClient)
	subjectHandler := handler.NewSubjectHandler(subjectService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.JWT(authService), authHandler.Logout)
	auth.GET("/me", middleware.JWT(authService), authHandler.Me)

	if cfg.Sync.Enabled {
		api.POST("/webhooks/form-events", programHandler.FormEvent)
	}

	protected := api.Group("")
	protected.Use(middleware.JWT(authService))

	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)
	admin := middleware.RequireRoles(models.RoleAdmin)

	protected.GET("/programs", programHandler.List)
	protected.GET("/programs/:id", staff, programHandler.Get)
	protected.PUT("/programs/:id/settings", admin, programHandler.UpdateSettings)
	protected.POST("/programs/:id/fields", admin, programHandler.ProvisionField)
	protected.POST("/programs/:id/sync", admin, programHandler.Sync)
	protected.GET("/programs/:id/subjects/:subject_id", staff, subjectHandler.Get)
	protected.GET("/programs/:id/applications", staff, applicationHandler.List)

	protected.GET("/subjects", subjectHandler.List)

	protected.GET("/applications", staff, applicationHandler.List)
	protected.GET("/applications/:id", staff, applicationHandler.Get)
	protected.GET("/applications/:id/responses", staff, applicationHandler.Responses)
	protected.GET("/applications/:id/teacher-view", staff, applicationHandler.TeacherView)
	protected.PUT("/applications/:id/review", admin, admissionHandler.Review)

	protected.POST("/class-applications/:id/admit", admin, admissionHandler.Admit)
	protected.POST("/class-applications/:id/unadmit", admin, admissionHandler.Unadmit)
	protected.POST("/class-applications/:id/waitlist", admin, admissionHandler.Waitlist)
	protected.PUT("/class-applications/:id/feedback", staff, admissionHandler.Feedback)

	if exportService != nil {
		exportHandler := handler.NewExportHandler(exportService)
		protected.POST("/exports", staff, exportHandler.Create)
		protected.GET("/exports/jobs/:id", staff, exportHandler.Status)
		api.GET("/exports/:token", exportHandler.Download)
	}

	protected.GET("/status", admin, metricsHandler.Status)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")
	if err := server.Shutdown(context.Background()); err != nil {
		logr.Sugar().Warnw("shutdown error", "error", err)
	}
}
