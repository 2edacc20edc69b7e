package repository

import (
	"fmt"
	"time"

	"github.com/feedloop-ai/newsbrief/internal/models"
	"gorm.io/gorm"
)

// FeedbackRepositoryImpl implements FeedbackRepository
type FeedbackRepositoryImpl struct {
	db *gorm.DB
}

func NewFeedbackRepository(db *gorm.DB) models.FeedbackRepository {
	return &FeedbackRepositoryImpl{db: db}
}

func (r *FeedbackRepositoryImpl) Create(entry *models.FeedbackEntry) error {
	return r.db.Create(entry).Error
}

// Unconsumed returns entries the given family can still learn from. An entry
// is relevant to the classifier only when it carries a corrected label, and to
// the summarizer only when it carries a rating or an edited summary.
func (r *FeedbackRepositoryImpl) Unconsumed(family models.Family) ([]models.FeedbackEntry, error) {
	var entries []models.FeedbackEntry
	q := r.db.Order("created_at")

	switch family {
	case models.FamilyClassifier:
		q = q.Where("consumed_by_classifier = ?", false).
			Where("kind = ?", models.FeedbackKindClassification).
			Where("corrected_label <> ''")
	case models.FamilySummarizer:
		q = q.Where("consumed_by_summarizer = ?", false).
			Where("kind = ?", models.FeedbackKindSummary).
			Where("rating <> '' OR edited_summary <> ''")
	default:
		return nil, fmt.Errorf("unknown model family: %q", family)
	}

	err := q.Find(&entries).Error
	return entries, err
}

// MarkConsumed flips the consumption flag for the given family only. The
// update is idempotent: flags move false to true and stay there.
func (r *FeedbackRepositoryImpl) MarkConsumed(ids []uint, family models.Family) error {
	if len(ids) == 0 {
		return nil
	}

	var column string
	switch family {
	case models.FamilyClassifier:
		column = "consumed_by_classifier"
	case models.FamilySummarizer:
		column = "consumed_by_summarizer"
	default:
		return fmt.Errorf("unknown model family: %q", family)
	}

	return r.db.Model(&models.FeedbackEntry{}).
		Where("id IN ?", ids).
		Update(column, true).Error
}

func (r *FeedbackRepositoryImpl) Stats() (*models.FeedbackStats, error) {
	var stats models.FeedbackStats
	err := r.db.Raw(`
		SELECT
			COUNT(*) AS total,
			SUM(CASE WHEN kind = 'classification' THEN 1 ELSE 0 END) AS classification,
			SUM(CASE WHEN kind = 'summary' THEN 1 ELSE 0 END) AS summary,
			SUM(CASE WHEN kind = 'classification' AND NOT consumed_by_classifier THEN 1 ELSE 0 END) AS unconsumed_classifier,
			SUM(CASE WHEN kind = 'summary' AND NOT consumed_by_summarizer THEN 1 ELSE 0 END) AS unconsumed_summarizer,
			SUM(CASE WHEN consumed_by_classifier AND consumed_by_summarizer THEN 1 ELSE 0 END) AS fully_consumed
		FROM feedback_entries
	`).Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (r *FeedbackRepositoryImpl) GetByArticle(articleID string) ([]models.FeedbackEntry, error) {
	var entries []models.FeedbackEntry
	err := r.db.Where("article_id = ?", articleID).
		Order("created_at DESC").
		Find(&entries).Error
	return entries, err
}

// PredictionRepositoryImpl implements PredictionRepository
type PredictionRepositoryImpl struct {
	db *gorm.DB
}

func NewPredictionRepository(db *gorm.DB) models.PredictionRepository {
	return &PredictionRepositoryImpl{db: db}
}

func (r *PredictionRepositoryImpl) Create(p *models.Prediction) error {
	return r.db.Create(p).Error
}

func (r *PredictionRepositoryImpl) LabelDistribution(since, until time.Time) ([]models.LabelCount, error) {
	var counts []models.LabelCount
	err := r.db.Model(&models.Prediction{}).
		Select("label, COUNT(*) AS count").
		Where("predicted_at >= ? AND predicted_at < ?", since, until).
		Group("label").
		Scan(&counts).Error
	return counts, err
}

func (r *PredictionRepositoryImpl) TextWordCounts(since, until time.Time) ([]float64, error) {
	var counts []float64
	err := r.db.Model(&models.Prediction{}).
		Where("predicted_at >= ? AND predicted_at < ?", since, until).
		Where("text_word_count > 0").
		Pluck("text_word_count", &counts).Error
	return counts, err
}

// PromotionAuditRepositoryImpl implements PromotionAuditRepository
type PromotionAuditRepositoryImpl struct {
	db *gorm.DB
}

func NewPromotionAuditRepository(db *gorm.DB) models.PromotionAuditRepository {
	return &PromotionAuditRepositoryImpl{db: db}
}

func (r *PromotionAuditRepositoryImpl) Create(audit *models.PromotionAudit) error {
	return r.db.Create(audit).Error
}

func (r *PromotionAuditRepositoryImpl) Recent(limit int) ([]models.PromotionAudit, error) {
	var audits []models.PromotionAudit
	err := r.db.Order("created_at DESC").
		Limit(limit).
		Find(&audits).Error
	return audits, err
}

// RepositoryManager bundles all repositories
type RepositoryManager struct {
	Feedback       models.FeedbackRepository
	Prediction     models.PredictionRepository
	PromotionAudit models.PromotionAuditRepository
}

func NewRepositoryManager(db *gorm.DB) *RepositoryManager {
	return &RepositoryManager{
		Feedback:       NewFeedbackRepository(db),
		Prediction:     NewPredictionRepository(db),
		PromotionAudit: NewPromotionAuditRepository(db),
	}
}
