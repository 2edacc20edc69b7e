package retrain

import (
	"context"
	"fmt"

	"github.com/feedloop-ai/newsbrief/internal/models"
	"github.com/feedloop-ai/newsbrief/internal/registry"
)

// Metric names reported by the training subroutines.
const (
	MetricTestAccuracy = "test_accuracy"
	MetricEvalLoss     = "eval_loss"
)

// NewClassifierPipeline builds the classifier retraining pipeline. Training
// examples pair article text with the user-corrected label; promotion
// requires the accuracy improvement threshold, except for the bootstrap case
// where no production model exists yet.
func NewClassifierPipeline(cfg Config, deps Deps) *Pipeline {
	return &Pipeline{
		family:  models.FamilyClassifier,
		cfg:     cfg,
		deps:    deps,
		prepare: prepareClassifierExamples,
		decide:  decideClassifier,
	}
}

// NewSummarizerPipeline builds the summarizer retraining pipeline. Edited
// summaries are preferred over merely good-rated originals, and promotion has
// a lenient second path when user satisfaction is high.
func NewSummarizerPipeline(cfg Config, deps Deps) *Pipeline {
	return &Pipeline{
		family:  models.FamilySummarizer,
		cfg:     cfg,
		deps:    deps,
		prepare: prepareSummarizerExamples,
		decide:  decideSummarizer,
	}
}

func prepareClassifierExamples(ctx context.Context, deps Deps, entries []models.FeedbackEntry) ([]Example, []uint, error) {
	examples := make([]Example, 0, len(entries))
	ids := make([]uint, 0, len(entries))

	for _, entry := range entries {
		text, err := deps.Articles.ArticleText(ctx, entry.ArticleID)
		if err != nil {
			deps.Logger.WithError(err).WithField("article_id", entry.ArticleID).
				Warn("Skipping feedback entry, article text unavailable")
			continue
		}

		examples = append(examples, Example{
			ArticleID: entry.ArticleID,
			Text:      text,
			Label:     entry.CorrectedLabel,
		})
		ids = append(ids, entry.ID)
	}

	deps.Logger.WithField("samples", len(examples)).Info("Prepared classifier training data from feedback")

	return examples, ids, nil
}

func prepareSummarizerExamples(ctx context.Context, deps Deps, entries []models.FeedbackEntry) ([]Example, []uint, error) {
	examples := make([]Example, 0, len(entries))
	ids := make([]uint, 0, len(entries))

	for _, entry := range entries {
		var reference string
		switch {
		case entry.EditedSummary != "":
			reference = entry.EditedSummary
		case entry.Rating == models.RatingGood:
			// A good rating endorses the stored summary as a reference target.
			summary, err := deps.Articles.Summary(ctx, entry.ArticleID)
			if err != nil || summary == "" {
				continue
			}
			reference = summary
		default:
			continue
		}

		text, err := deps.Articles.ArticleText(ctx, entry.ArticleID)
		if err != nil {
			deps.Logger.WithError(err).WithField("article_id", entry.ArticleID).
				Warn("Skipping feedback entry, article text unavailable")
			continue
		}

		examples = append(examples, Example{
			ArticleID:        entry.ArticleID,
			Text:             text,
			ReferenceSummary: reference,
		})
		ids = append(ids, entry.ID)
	}

	deps.Logger.WithField("samples", len(examples)).Info("Prepared summarizer training data from feedback")

	return examples, ids, nil
}

func decideClassifier(ctx context.Context, cfg Config, deps Deps, outcome *TrainOutcome, production *registry.ModelVersion, entries []models.FeedbackEntry) (bool, *Comparison, string, error) {
	if production == nil {
		return true, nil, "Initial production model", nil
	}

	prodMetrics, err := productionMetrics(ctx, deps, production)
	if err != nil {
		return false, nil, "", err
	}

	candidate := metricOr(outcome.Metrics, MetricTestAccuracy, 0)
	current := metricOr(prodMetrics, MetricTestAccuracy, 0)

	comparison := &Comparison{
		ProductionVersion: production.Version,
		ProductionMetric:  current,
		CandidateMetric:   candidate,
		Improvement:       candidate - current,
		Threshold:         cfg.Improvement,
	}

	if comparison.Improvement >= cfg.Improvement {
		return true, comparison, fmt.Sprintf("Improved accuracy by %.4f", comparison.Improvement), nil
	}
	return false, comparison, "", nil
}

func decideSummarizer(ctx context.Context, cfg Config, deps Deps, outcome *TrainOutcome, production *registry.ModelVersion, entries []models.FeedbackEntry) (bool, *Comparison, string, error) {
	if production == nil {
		return true, nil, "Initial production model", nil
	}

	prodMetrics, err := productionMetrics(ctx, deps, production)
	if err != nil {
		return false, nil, "", err
	}

	candidate := metricOr(outcome.Metrics, MetricEvalLoss, 1.0)
	current := metricOr(prodMetrics, MetricEvalLoss, 1.0)

	var good int
	for _, e := range entries {
		if e.Rating == models.RatingGood {
			good++
		}
	}
	goodFraction := float64(good) / float64(max(len(entries), 1))

	comparison := &Comparison{
		ProductionVersion: production.Version,
		ProductionMetric:  current,
		CandidateMetric:   candidate,
		// Lower loss is better.
		Improvement:  current - candidate,
		Threshold:    cfg.Improvement,
		GoodFraction: goodFraction,
	}

	// The high good-rating fraction is a deliberate second acceptance path:
	// strong user satisfaction can carry a candidate past a marginal
	// quantitative regression.
	if comparison.Improvement >= cfg.Improvement || goodFraction > cfg.GoodOverride {
		reason := fmt.Sprintf("Improved loss by %.4f, good rating: %.0f%%", comparison.Improvement, goodFraction*100)
		return true, comparison, reason, nil
	}
	return false, comparison, "", nil
}
