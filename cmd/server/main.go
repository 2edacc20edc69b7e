package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/feedloop-ai/newsbrief/internal/api/handlers"
	"github.com/feedloop-ai/newsbrief/internal/articles"
	"github.com/feedloop-ai/newsbrief/internal/config"
	"github.com/feedloop-ai/newsbrief/internal/database"
	"github.com/feedloop-ai/newsbrief/internal/drift"
	"github.com/feedloop-ai/newsbrief/internal/health"
	"github.com/feedloop-ai/newsbrief/internal/ledger"
	"github.com/feedloop-ai/newsbrief/internal/middleware"
	"github.com/feedloop-ai/newsbrief/internal/migration"
	"github.com/feedloop-ai/newsbrief/internal/models"
	"github.com/feedloop-ai/newsbrief/internal/promote"
	"github.com/feedloop-ai/newsbrief/internal/registry"
	"github.com/feedloop-ai/newsbrief/internal/repository"
	"github.com/feedloop-ai/newsbrief/internal/retrain"
	"github.com/feedloop-ai/newsbrief/internal/training"
	"github.com/feedloop-ai/newsbrief/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	logger := utils.GetLogger()
	logger.Info("Starting newsbrief lifecycle service...")

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if err := cfg.ValidateRegistry(); err != nil {
		logger.WithError(err).Fatal("Registry configuration validation failed")
	}

	dbConfig := &database.Config{
		DatabaseURL: cfg.Database.URL,
		RedisURL:    cfg.Redis.URL,
		LogLevel:    os.Getenv("LOG_LEVEL"),
	}

	dbManager, err := database.NewManager(dbConfig, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database manager")
	}
	defer dbManager.Close()

	migrator := migration.NewRunner(dbManager, logger)
	if err := migrator.RunMigrations(os.Getenv("MIGRATIONS_PATH")); err != nil {
		logger.WithError(err).Fatal("Database migration failed")
	}

	repoManager := repository.NewRepositoryManager(dbManager.DB)
	cache := database.NewCache(dbManager.Redis, logger)
	lease := database.NewLease(dbManager.Redis, logger)

	registryClient := registry.NewClient(cfg.Registry.BaseURL, cfg.Registry.APIKey, logger)
	articleStore := articles.NewClient(cfg.Articles.BaseURL, logger)

	feedbackLedger := ledger.NewLedger(repoManager.Feedback, logger)
	promoter := promote.NewPromoter(registryClient, repoManager.PromotionAudit, logger)
	detector := drift.NewDetector(repoManager.Prediction, drift.Config{
		Threshold:     cfg.Drift.Threshold,
		SoftThreshold: cfg.Drift.SoftThreshold,
		ReferenceDays: cfg.Drift.ReferenceDays,
		CurrentDays:   cfg.Drift.CurrentDays,
	}, logger)

	pipelines := map[models.Family]*retrain.Pipeline{
		models.FamilyClassifier: retrain.NewClassifierPipeline(retrain.Config{
			Threshold:   cfg.Retrain.ClassifierThreshold,
			Improvement: cfg.Retrain.ClassifierImprovement,
			LeaseTTL:    cfg.Retrain.LeaseTTL,
		}, retrain.Deps{
			Ledger:   feedbackLedger,
			Registry: registryClient,
			Promoter: promoter,
			Trainer:  training.NewClient(cfg.Training.BaseURL, models.FamilyClassifier, logger),
			Articles: articleStore,
			Lease:    lease,
			Logger:   logger,
		}),
		models.FamilySummarizer: retrain.NewSummarizerPipeline(retrain.Config{
			Threshold:    cfg.Retrain.SummarizerThreshold,
			Improvement:  cfg.Retrain.SummarizerImprovement,
			MinSamples:   cfg.Retrain.SummarizerMinSamples,
			GoodOverride: cfg.Retrain.GoodRatingOverride,
			LeaseTTL:     cfg.Retrain.LeaseTTL,
		}, retrain.Deps{
			Ledger:   feedbackLedger,
			Registry: registryClient,
			Promoter: promoter,
			Trainer:  training.NewClient(cfg.Training.BaseURL, models.FamilySummarizer, logger),
			Articles: articleStore,
			Lease:    lease,
			Logger:   logger,
		}),
	}

	feedbackHandler := handlers.NewFeedbackHandler(feedbackLedger, repoManager, cache, logger)
	lifecycleHandler := handlers.NewLifecycleHandler(promoter, detector, pipelines, cache, logger)
	healthChecker := health.NewHealthChecker(dbManager, logger, cfg.Registry.BaseURL)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestID())

	rateLimiter := middleware.NewRateLimiter(60)

	router.GET("/health", func(c *gin.Context) {
		overall := healthChecker.CheckAll()
		code := http.StatusOK
		if overall.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, overall)
	})

	// One-click links embedded in digest emails.
	router.GET("/feedback/quick/:article_id/:kind/:value", rateLimiter.RateLimit(), feedbackHandler.HandleQuickFeedback)

	api := router.Group("/api")
	api.Use(rateLimiter.RateLimit())
	{
		api.POST("/feedback/classification", feedbackHandler.HandleClassificationFeedback)
		api.POST("/feedback/summary", feedbackHandler.HandleSummaryFeedback)
		api.GET("/feedback/stats", feedbackHandler.HandleFeedbackStats)
		api.POST("/predictions", feedbackHandler.HandlePrediction)

		api.GET("/models/:family/versions", lifecycleHandler.HandleModelVersions)
		api.POST("/models/:family/rollback", lifecycleHandler.HandleRollback)
		api.POST("/models/:family/retrain", lifecycleHandler.HandleRetrain)
		api.GET("/drift/report", lifecycleHandler.HandleDriftReport)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute, // force-retrain runs synchronously
	}

	logger.WithField("port", cfg.Server.Port).Info("HTTP server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Fatal("HTTP server failed")
	}
}
