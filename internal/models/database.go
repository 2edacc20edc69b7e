package models

// GORM models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Family identifies which model a feedback entry or registry version belongs to.
type Family string

const (
	FamilyClassifier Family = "classifier"
	FamilySummarizer Family = "summarizer"
)

func ParseFamily(s string) (Family, error) {
	switch Family(s) {
	case FamilyClassifier, FamilySummarizer:
		return Family(s), nil
	}
	return "", fmt.Errorf("unknown model family: %q", s)
}

// Feedback kinds
const (
	FeedbackKindClassification = "classification"
	FeedbackKindSummary        = "summary"
)

// Summary ratings
const (
	RatingGood = "good"
	RatingPoor = "poor"
)

// Base model with common fields
type BaseModel struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FeedbackEntry is one user correction tied to a single article. Entries are
// append-only: they are never deleted, and the per-family consumption flags
// only ever move from false to true, when a model trained on the entry is
// promoted to production.
type FeedbackEntry struct {
	BaseModel
	ArticleID string `json:"article_id" gorm:"not null;index"`
	Kind      string `json:"kind" gorm:"not null;check:kind IN ('classification','summary')"`

	// Classification feedback
	PredictedLabel    string `json:"predicted_label"`
	CorrectedLabel    string `json:"corrected_label"`
	ClassifierVersion string `json:"classifier_version"`

	// Summary feedback
	Rating            string `json:"rating" gorm:"check:rating IN ('','good','poor')"`
	EditedSummary     string `json:"edited_summary"`
	SummarizerVersion string `json:"summarizer_version"`

	ConsumedByClassifier bool `json:"consumed_by_classifier" gorm:"default:false;index"`
	ConsumedBySummarizer bool `json:"consumed_by_summarizer" gorm:"default:false;index"`
}

// Prediction records one classifier output, used by the drift monitor to
// build label distributions and text-length samples per time window.
type Prediction struct {
	BaseModel
	ArticleID     string    `json:"article_id" gorm:"not null;index"`
	Label         string    `json:"label" gorm:"not null"`
	Confidence    float64   `json:"confidence"`
	ModelVersion  string    `json:"model_version"`
	TextWordCount int       `json:"text_word_count"`
	PredictedAt   time.Time `json:"predicted_at" gorm:"index"`
}

// PromotionAudit is one stage-transition audit entry written by the
// promotion controller.
type PromotionAudit struct {
	BaseModel
	Family     string `json:"family" gorm:"not null;index"`
	OldVersion int    `json:"old_version"`
	NewVersion int    `json:"new_version" gorm:"not null"`
	Reason     string `json:"reason"`
}

// FeedbackStats summarizes ledger contents for the dashboard/API layer.
type FeedbackStats struct {
	Total                 int64 `json:"total"`
	Classification        int64 `json:"classification"`
	Summary               int64 `json:"summary"`
	UnconsumedClassifier  int64 `json:"unconsumed_classifier"`
	UnconsumedSummarizer  int64 `json:"unconsumed_summarizer"`
	FullyConsumed         int64 `json:"fully_consumed"`
}

// LabelCount is one bucket of a prediction label distribution.
type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// Database interfaces for repository pattern
type FeedbackRepository interface {
	Create(entry *FeedbackEntry) error
	Unconsumed(family Family) ([]FeedbackEntry, error)
	MarkConsumed(ids []uint, family Family) error
	Stats() (*FeedbackStats, error)
	GetByArticle(articleID string) ([]FeedbackEntry, error)
}

type PredictionRepository interface {
	Create(p *Prediction) error
	LabelDistribution(since, until time.Time) ([]LabelCount, error)
	TextWordCounts(since, until time.Time) ([]float64, error)
}

type PromotionAuditRepository interface {
	Create(audit *PromotionAudit) error
	Recent(limit int) ([]PromotionAudit, error)
}

// TableName methods for custom table names
func (FeedbackEntry) TableName() string  { return "feedback_entries" }
func (Prediction) TableName() string     { return "predictions" }
func (PromotionAudit) TableName() string { return "promotion_audits" }

// Model validation methods
func (f *FeedbackEntry) Validate() error {
	if f.ArticleID == "" {
		return fmt.Errorf("article ID is required")
	}
	switch f.Kind {
	case FeedbackKindClassification:
		if f.CorrectedLabel == "" {
			return fmt.Errorf("classification feedback requires a corrected label")
		}
	case FeedbackKindSummary:
		if f.Rating == "" && f.EditedSummary == "" {
			return fmt.Errorf("summary feedback requires a rating or an edited summary")
		}
		if f.Rating != "" && f.Rating != RatingGood && f.Rating != RatingPoor {
			return fmt.Errorf("invalid summary rating: %s", f.Rating)
		}
	default:
		return fmt.Errorf("invalid feedback kind: %s", f.Kind)
	}
	return nil
}

func (p *Prediction) Validate() error {
	if p.ArticleID == "" {
		return fmt.Errorf("article ID is required")
	}
	if p.Label == "" {
		return fmt.Errorf("label is required")
	}
	return nil
}

func (a *PromotionAudit) Validate() error {
	if _, err := ParseFamily(a.Family); err != nil {
		return err
	}
	if a.NewVersion <= 0 {
		return fmt.Errorf("new version must be positive")
	}
	return nil
}

// GORM hooks
func (f *FeedbackEntry) BeforeCreate(tx *gorm.DB) error {
	return f.Validate()
}

func (p *Prediction) BeforeCreate(tx *gorm.DB) error {
	if p.PredictedAt.IsZero() {
		p.PredictedAt = time.Now().UTC()
	}
	return p.Validate()
}

func (a *PromotionAudit) BeforeCreate(tx *gorm.DB) error {
	return a.Validate()
}
