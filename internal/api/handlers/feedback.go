package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/feedloop-ai/newsbrief/internal/database"
	"github.com/feedloop-ai/newsbrief/internal/ledger"
	"github.com/feedloop-ai/newsbrief/internal/models"
	"github.com/feedloop-ai/newsbrief/internal/repository"
	"github.com/feedloop-ai/newsbrief/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type FeedbackHandler struct {
	ledger      *ledger.Ledger
	repoManager *repository.RepositoryManager
	cache       *database.Cache
	logger      *logrus.Logger
}

func NewFeedbackHandler(
	ledger *ledger.Ledger,
	repoManager *repository.RepositoryManager,
	cache *database.Cache,
	logger *logrus.Logger,
) *FeedbackHandler {
	return &FeedbackHandler{
		ledger:      ledger,
		repoManager: repoManager,
		cache:       cache,
		logger:      logger,
	}
}

// HandleClassificationFeedback records a corrected article label
func (h *FeedbackHandler) HandleClassificationFeedback(c *gin.Context) {
	var req models.ClassificationFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid feedback format", err)
		return
	}

	entry, err := h.ledger.RecordClassification(req.ArticleID, req.PredictedLabel, req.CorrectedLabel, req.ClassifierVersion)
	if err != nil {
		h.logger.WithError(err).Error("Failed to save classification feedback")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to save feedback", err)
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, "Feedback recorded", entry)
}

// HandleSummaryFeedback records a summary rating and/or edited summary text
func (h *FeedbackHandler) HandleSummaryFeedback(c *gin.Context) {
	var req models.SummaryFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid feedback format", err)
		return
	}

	if req.Rating == "" && req.EditedSummary == "" {
		utils.ErrorResponse(c, http.StatusBadRequest, "Rating or edited summary is required", nil)
		return
	}

	entry, err := h.ledger.RecordSummary(req.ArticleID, req.Rating, req.EditedSummary, req.SummarizerVersion)
	if err != nil {
		h.logger.WithError(err).Error("Failed to save summary feedback")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to save feedback", err)
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, "Feedback recorded", entry)
}

// HandleQuickFeedback serves the one-click links embedded in digest emails:
// GET /feedback/quick/:article_id/:kind/:value
func (h *FeedbackHandler) HandleQuickFeedback(c *gin.Context) {
	articleID := c.Param("article_id")
	kind := c.Param("kind")
	value := c.Param("value")

	var err error
	switch kind {
	case models.FeedbackKindClassification:
		_, err = h.ledger.RecordClassification(articleID, "", value, "")
	case models.FeedbackKindSummary:
		if value != models.RatingGood && value != models.RatingPoor {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid summary rating", nil)
			return
		}
		_, err = h.ledger.RecordSummary(articleID, value, "", "")
	default:
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid feedback kind", nil)
		return
	}

	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"article_id": articleID,
			"kind":       kind,
		}).Error("Failed to save quick feedback")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to save feedback", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Thanks for the feedback!", nil)
}

// HandleFeedbackStats returns total/unconsumed counts per model type. A
// storage failure degrades to zeroed stats so dashboards keep rendering.
func (h *FeedbackHandler) HandleFeedbackStats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if cached, err := h.cache.GetCachedFeedbackStats(ctx); err == nil {
		utils.SuccessResponse(c, http.StatusOK, "Feedback stats retrieved", cached)
		return
	}

	stats, err := h.ledger.Stats()
	if err != nil {
		h.logger.WithError(err).Warn("Failed to load feedback stats, returning zeroes")
		utils.SuccessResponse(c, http.StatusOK, "Feedback stats unavailable", &models.FeedbackStats{})
		return
	}

	if err := h.cache.CacheFeedbackStats(ctx, stats, time.Minute); err != nil {
		h.logger.WithError(err).Warn("Failed to cache feedback stats")
	}

	utils.SuccessResponse(c, http.StatusOK, "Feedback stats retrieved", stats)
}

// HandlePrediction records a classifier output for drift monitoring
func (h *FeedbackHandler) HandlePrediction(c *gin.Context) {
	var req models.PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid prediction format", err)
		return
	}

	prediction := &models.Prediction{
		ArticleID:     req.ArticleID,
		Label:         req.Label,
		Confidence:    req.Confidence,
		ModelVersion:  req.ModelVersion,
		TextWordCount: req.TextWordCount,
	}

	if err := h.repoManager.Prediction.Create(prediction); err != nil {
		h.logger.WithError(err).Error("Failed to record prediction")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to record prediction", err)
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, "Prediction recorded", prediction)
}
