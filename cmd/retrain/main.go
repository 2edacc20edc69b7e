package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/feedloop-ai/newsbrief/internal/articles"
	"github.com/feedloop-ai/newsbrief/internal/config"
	"github.com/feedloop-ai/newsbrief/internal/database"
	"github.com/feedloop-ai/newsbrief/internal/ledger"
	"github.com/feedloop-ai/newsbrief/internal/models"
	"github.com/feedloop-ai/newsbrief/internal/promote"
	"github.com/feedloop-ai/newsbrief/internal/registry"
	"github.com/feedloop-ai/newsbrief/internal/repository"
	"github.com/feedloop-ai/newsbrief/internal/retrain"
	"github.com/feedloop-ai/newsbrief/internal/training"
	"github.com/feedloop-ai/newsbrief/pkg/utils"
	"github.com/joho/godotenv"
)

// Cron entry point: runs the retraining check for one model family or both.
func main() {
	modelFlag := flag.String("model", "all", "Model family to check: classifier, summarizer or all")
	forceFlag := flag.Bool("force", false, "Skip the feedback threshold check")
	timeoutFlag := flag.Duration("timeout", 4*time.Hour, "Overall run timeout")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	logger := utils.GetLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if err := cfg.ValidateRegistry(); err != nil {
		logger.WithError(err).Fatal("Registry configuration validation failed")
	}

	var families []models.Family
	switch *modelFlag {
	case "all":
		families = []models.Family{models.FamilyClassifier, models.FamilySummarizer}
	default:
		family, err := models.ParseFamily(*modelFlag)
		if err != nil {
			logger.WithError(err).Fatal("Invalid -model flag")
		}
		families = []models.Family{family}
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

	repoManager := repository.NewRepositoryManager(dbManager.DB)
	lease := database.NewLease(dbManager.Redis, logger)

	registryClient := registry.NewClient(cfg.Registry.BaseURL, cfg.Registry.APIKey, logger)
	articleStore := articles.NewClient(cfg.Articles.BaseURL, logger)
	feedbackLedger := ledger.NewLedger(repoManager.Feedback, logger)
	promoter := promote.NewPromoter(registryClient, repoManager.PromotionAudit, logger)

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

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	failed := false
	for _, family := range families {
		result := pipelines[family].Run(ctx, *forceFlag)
		entry := logger.WithFields(map[string]interface{}{
			"family":         family,
			"state":          result.State,
			"feedback_count": result.FeedbackCount,
		})
		switch result.State {
		case retrain.StateFailed:
			entry.WithField("error", result.Error).Error("Retraining run failed")
			failed = true
		case retrain.StateDone:
			entry.WithField("promoted", result.Promoted).Info("Retraining run completed")
		default:
			entry.Info("Retraining run finished without training")
		}
	}

	if failed {
		os.Exit(1)
	}
}
