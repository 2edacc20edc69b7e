package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/feedloop-ai/newsbrief/internal/database"
	"github.com/feedloop-ai/newsbrief/internal/drift"
	"github.com/feedloop-ai/newsbrief/internal/models"
	"github.com/feedloop-ai/newsbrief/internal/promote"
	"github.com/feedloop-ai/newsbrief/internal/retrain"
	"github.com/feedloop-ai/newsbrief/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LifecycleHandler exposes the model lifecycle operations consumed by the
// dashboard: version history, rollback, drift reports and forced retraining.
type LifecycleHandler struct {
	promoter  *promote.Promoter
	detector  *drift.Detector
	pipelines map[models.Family]*retrain.Pipeline
	cache     *database.Cache
	logger    *logrus.Logger
}

func NewLifecycleHandler(
	promoter *promote.Promoter,
	detector *drift.Detector,
	pipelines map[models.Family]*retrain.Pipeline,
	cache *database.Cache,
	logger *logrus.Logger,
) *LifecycleHandler {
	return &LifecycleHandler{
		promoter:  promoter,
		detector:  detector,
		pipelines: pipelines,
		cache:     cache,
		logger:    logger,
	}
}

// HandleModelVersions returns the version history and current
// production/staging pointers for one model family
func (h *LifecycleHandler) HandleModelVersions(c *gin.Context) {
	family, err := models.ParseFamily(c.Param("family"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid model family", err)
		return
	}

	status, err := h.promoter.Status(c.Request.Context(), string(family))
	if err != nil {
		h.logger.WithError(err).Error("Failed to load model versions")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to load model versions", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Model versions retrieved", status)
}

// HandleRollback promotes an archived version back to production
func (h *LifecycleHandler) HandleRollback(c *gin.Context) {
	family, err := models.ParseFamily(c.Param("family"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid model family", err)
		return
	}

	// An absent or empty body means "pick the most recent archived version".
	var req models.RollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		req.ToVersion = 0
	}

	result, err := h.promoter.Rollback(c.Request.Context(), string(family), req.ToVersion)
	if err != nil {
		if errors.Is(err, promote.ErrNoRollbackTarget) {
			utils.ErrorResponse(c, http.StatusConflict, "No rollback target available", err)
			return
		}
		h.logger.WithError(err).Error("Rollback failed")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Rollback failed", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Rollback completed", result)
}

// HandleDriftReport returns the current drift snapshot, cached briefly since
// it is recomputed from scratch on every call
func (h *LifecycleHandler) HandleDriftReport(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	cached := &drift.Report{}
	if err := h.cache.GetCachedDriftReport(ctx, cached); err == nil {
		utils.SuccessResponse(c, http.StatusOK, "Drift report retrieved", cached)
		return
	}

	report, err := h.detector.GetReport()
	if err != nil {
		h.logger.WithError(err).Warn("Drift report unavailable")
		utils.SuccessResponse(c, http.StatusOK, "Drift report unavailable", &drift.Report{
			Timestamp:      time.Now().UTC(),
			AlertLevel:     drift.AlertUnknown,
			Recommendation: "Drift data temporarily unavailable",
		})
		return
	}

	if err := h.cache.CacheDriftReport(ctx, report, 5*time.Minute); err != nil {
		h.logger.WithError(err).Warn("Failed to cache drift report")
	}

	utils.SuccessResponse(c, http.StatusOK, "Drift report retrieved", report)
}

// HandleRetrain runs a retraining pipeline on demand (the dashboard's
// "force retrain" control). The structured result is returned as-is; a
// Failed state is reported inside it, not as an HTTP error.
func (h *LifecycleHandler) HandleRetrain(c *gin.Context) {
	family, err := models.ParseFamily(c.Param("family"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid model family", err)
		return
	}

	pipeline, ok := h.pipelines[family]
	if !ok {
		utils.ErrorResponse(c, http.StatusBadRequest, "No pipeline for family", nil)
		return
	}

	var req models.RetrainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		req.Force = false
	}

	h.logger.WithFields(logrus.Fields{
		"family": family,
		"force":  req.Force,
	}).Info("Retraining requested via API")

	result := pipeline.Run(c.Request.Context(), req.Force)

	utils.SuccessResponse(c, http.StatusOK, "Retraining pipeline finished", result)
}
