package ledger

import (
	"fmt"

	"github.com/feedloop-ai/newsbrief/internal/models"
	"github.com/sirupsen/logrus"
)

// Ledger is the durable log of user corrections. Entries accumulate as
// evidence and are never deleted; each model family tracks its own
// consumption flag so classifier and summarizer retraining draw on
// independent evidence.
type Ledger struct {
	repo   models.FeedbackRepository
	logger *logrus.Logger
}

func NewLedger(repo models.FeedbackRepository, logger *logrus.Logger) *Ledger {
	return &Ledger{
		repo:   repo,
		logger: logger,
	}
}

// RecordClassification appends a classification correction. Duplicate
// feedback for the same article is accepted; multiple corrections accumulate.
func (l *Ledger) RecordClassification(articleID, predictedLabel, correctedLabel, classifierVersion string) (*models.FeedbackEntry, error) {
	entry := &models.FeedbackEntry{
		ArticleID:         articleID,
		Kind:              models.FeedbackKindClassification,
		PredictedLabel:    predictedLabel,
		CorrectedLabel:    correctedLabel,
		ClassifierVersion: classifierVersion,
	}

	if err := l.repo.Create(entry); err != nil {
		return nil, fmt.Errorf("failed to record classification feedback: %w", err)
	}

	l.logger.WithFields(logrus.Fields{
		"article_id":      articleID,
		"predicted_label": predictedLabel,
		"corrected_label": correctedLabel,
	}).Info("Classification feedback recorded")

	return entry, nil
}

// RecordSummary appends summary feedback: a good/poor rating, an edited
// summary text, or both.
func (l *Ledger) RecordSummary(articleID, rating, editedSummary, summarizerVersion string) (*models.FeedbackEntry, error) {
	entry := &models.FeedbackEntry{
		ArticleID:         articleID,
		Kind:              models.FeedbackKindSummary,
		Rating:            rating,
		EditedSummary:     editedSummary,
		SummarizerVersion: summarizerVersion,
	}

	if err := l.repo.Create(entry); err != nil {
		return nil, fmt.Errorf("failed to record summary feedback: %w", err)
	}

	l.logger.WithFields(logrus.Fields{
		"article_id": articleID,
		"rating":     rating,
		"edited":     editedSummary != "",
	}).Info("Summary feedback recorded")

	return entry, nil
}

// Unconsumed returns all entries the given family can still train on. An
// empty ledger yields an empty slice, never an error.
func (l *Ledger) Unconsumed(family models.Family) ([]models.FeedbackEntry, error) {
	return l.repo.Unconsumed(family)
}

// MarkConsumed flips the family's consumption flag on the given entries.
// Idempotent: repeating the call leaves the ledger unchanged.
func (l *Ledger) MarkConsumed(ids []uint, family models.Family) error {
	if err := l.repo.MarkConsumed(ids, family); err != nil {
		return fmt.Errorf("failed to mark feedback consumed: %w", err)
	}

	l.logger.WithFields(logrus.Fields{
		"count":  len(ids),
		"family": family,
	}).Info("Feedback marked consumed")

	return nil
}

// Stats returns total and unconsumed counts per model type.
func (l *Ledger) Stats() (*models.FeedbackStats, error) {
	return l.repo.Stats()
}

// ForArticle returns every correction recorded against one article.
func (l *Ledger) ForArticle(articleID string) ([]models.FeedbackEntry, error) {
	return l.repo.GetByArticle(articleID)
}
