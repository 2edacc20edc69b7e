package retrain

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/feedloop-ai/newsbrief/internal/ledger"
	"github.com/feedloop-ai/newsbrief/internal/models"
	"github.com/feedloop-ai/newsbrief/internal/promote"
	"github.com/feedloop-ai/newsbrief/internal/registry"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memFeedbackRepo is an in-memory ledger backend mirroring the SQL
// relevance filters.
type memFeedbackRepo struct {
	entries []models.FeedbackEntry
	nextID  uint
}

func (m *memFeedbackRepo) Create(entry *models.FeedbackEntry) error {
	m.nextID++
	entry.ID = m.nextID
	entry.CreatedAt = time.Now().UTC()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memFeedbackRepo) Unconsumed(family models.Family) ([]models.FeedbackEntry, error) {
	var out []models.FeedbackEntry
	for _, e := range m.entries {
		switch family {
		case models.FamilyClassifier:
			if !e.ConsumedByClassifier && e.Kind == models.FeedbackKindClassification && e.CorrectedLabel != "" {
				out = append(out, e)
			}
		case models.FamilySummarizer:
			if !e.ConsumedBySummarizer && e.Kind == models.FeedbackKindSummary && (e.Rating != "" || e.EditedSummary != "") {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

func (m *memFeedbackRepo) MarkConsumed(ids []uint, family models.Family) error {
	marked := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		marked[id] = struct{}{}
	}
	for i := range m.entries {
		if _, ok := marked[m.entries[i].ID]; !ok {
			continue
		}
		switch family {
		case models.FamilyClassifier:
			m.entries[i].ConsumedByClassifier = true
		case models.FamilySummarizer:
			m.entries[i].ConsumedBySummarizer = true
		}
	}
	return nil
}

func (m *memFeedbackRepo) Stats() (*models.FeedbackStats, error) {
	return &models.FeedbackStats{Total: int64(len(m.entries))}, nil
}

func (m *memFeedbackRepo) GetByArticle(articleID string) ([]models.FeedbackEntry, error) {
	var out []models.FeedbackEntry
	for _, e := range m.entries {
		if e.ArticleID == articleID {
			out = append(out, e)
		}
	}
	return out, nil
}

// countingRegistry tracks interactions so tests can assert a short-circuited
// run never touched the registry.
type countingRegistry struct {
	production *registry.ModelVersion
	registered []registry.ModelVersion
	calls      int
}

func (r *countingRegistry) ProductionVersion(ctx context.Context, family string) (*registry.ModelVersion, error) {
	r.calls++
	return r.production, nil
}

func (r *countingRegistry) History(ctx context.Context, family string) ([]registry.ModelVersion, error) {
	r.calls++
	return r.registered, nil
}

func (r *countingRegistry) Register(ctx context.Context, family, runID string, metrics map[string]float64) (*registry.ModelVersion, error) {
	r.calls++
	mv := registry.ModelVersion{
		Family:  family,
		Version: len(r.registered) + 10,
		RunID:   runID,
		Stage:   registry.StageNone,
		Metrics: metrics,
	}
	r.registered = append(r.registered, mv)
	return &mv, nil
}

func (r *countingRegistry) Transition(ctx context.Context, family string, version int, stage registry.Stage, archiveExisting bool) error {
	r.calls++
	if archiveExisting && stage == registry.StageProduction {
		if r.production != nil {
			r.production.Stage = registry.StageArchived
		}
		for i := range r.registered {
			if r.registered[i].Version == version {
				r.registered[i].Stage = stage
				r.production = &r.registered[i]
			}
		}
	}
	return nil
}

func (r *countingRegistry) RunMetrics(ctx context.Context, runID string) (map[string]float64, error) {
	r.calls++
	if r.production != nil && r.production.RunID == runID {
		return r.production.Metrics, nil
	}
	return nil, fmt.Errorf("run %s not found", runID)
}

type stubTrainer struct {
	metrics map[string]float64
	err     error
	trained [][]Example
}

func (s *stubTrainer) Train(ctx context.Context, examples []Example) (*TrainOutcome, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.trained = append(s.trained, examples)
	return &TrainOutcome{RunID: uuid.NewString(), Metrics: s.metrics}, nil
}

type stubArticles struct {
	texts     map[string]string
	summaries map[string]string
}

func (s *stubArticles) ArticleText(ctx context.Context, articleID string) (string, error) {
	if text, ok := s.texts[articleID]; ok {
		return text, nil
	}
	return "", fmt.Errorf("article %s not found", articleID)
}

func (s *stubArticles) Summary(ctx context.Context, articleID string) (string, error) {
	if summary, ok := s.summaries[articleID]; ok {
		return summary, nil
	}
	return "", fmt.Errorf("summary for %s not found", articleID)
}

type stubLocker struct {
	held     bool
	released int
}

func (s *stubLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return !s.held, nil
}

func (s *stubLocker) Release(ctx context.Context, name string) error {
	s.released++
	return nil
}

type classifierFixture struct {
	repo     *memFeedbackRepo
	registry *countingRegistry
	trainer  *stubTrainer
	articles *stubArticles
	locker   *stubLocker
	pipeline *Pipeline
}

func newClassifierFixture(t *testing.T, cfg Config, reg *countingRegistry, trainer *stubTrainer) *classifierFixture {
	t.Helper()

	log := logrus.New()
	repo := &memFeedbackRepo{}
	articles := &stubArticles{texts: make(map[string]string), summaries: make(map[string]string)}
	locker := &stubLocker{}

	deps := Deps{
		Ledger:   ledger.NewLedger(repo, log),
		Registry: reg,
		Promoter: promote.NewPromoter(reg, &nopAuditRepo{}, log),
		Trainer:  trainer,
		Articles: articles,
		Lease:    locker,
		Logger:   log,
	}

	return &classifierFixture{
		repo:     repo,
		registry: reg,
		trainer:  trainer,
		articles: articles,
		locker:   locker,
		pipeline: NewClassifierPipeline(cfg, deps),
	}
}

type nopAuditRepo struct{}

func (nopAuditRepo) Create(audit *models.PromotionAudit) error { return nil }

func (nopAuditRepo) Recent(limit int) ([]models.PromotionAudit, error) { return nil, nil }

func (f *classifierFixture) seedClassification(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		articleID := fmt.Sprintf("article-%d", i)
		f.articles.texts[articleID] = fmt.Sprintf("Body of article %d about machine learning.", i)
		require.NoError(t, f.repo.Create(&models.FeedbackEntry{
			ArticleID:      articleID,
			Kind:           models.FeedbackKindClassification,
			PredictedLabel: "science",
			CorrectedLabel: "ai",
		}))
	}
}

func TestPipeline_BelowThresholdSkipsTraining(t *testing.T) {
	reg := &countingRegistry{}
	fix := newClassifierFixture(t, Config{Threshold: 100, Improvement: 0.02, LeaseTTL: time.Hour},
		reg, &stubTrainer{metrics: map[string]float64{MetricTestAccuracy: 0.9}})
	fix.seedClassification(t, 40)

	result := fix.pipeline.Run(context.Background(), false)

	assert.Equal(t, StateNotNeeded, result.State)
	assert.Equal(t, 40, result.FeedbackCount)
	assert.Empty(t, fix.trainer.trained)
	assert.Zero(t, reg.calls)
	assert.Equal(t, 1, fix.locker.released)

	unconsumed, err := fix.repo.Unconsumed(models.FamilyClassifier)
	require.NoError(t, err)
	assert.Len(t, unconsumed, 40)
}

func TestPipeline_ForceOverridesThreshold(t *testing.T) {
	fix := newClassifierFixture(t, Config{Threshold: 100, Improvement: 0.02, LeaseTTL: time.Hour},
		&countingRegistry{}, &stubTrainer{metrics: map[string]float64{MetricTestAccuracy: 0.9}})
	fix.seedClassification(t, 5)

	result := fix.pipeline.Run(context.Background(), true)

	assert.Equal(t, StateDone, result.State)
	require.Len(t, fix.trainer.trained, 1)
	assert.Len(t, fix.trainer.trained[0], 5)
}

func TestPipeline_BootstrapPromotesAndConsumes(t *testing.T) {
	fix := newClassifierFixture(t, Config{Threshold: 100, Improvement: 0.02, LeaseTTL: time.Hour},
		&countingRegistry{}, &stubTrainer{metrics: map[string]float64{MetricTestAccuracy: 0.85}})
	fix.seedClassification(t, 120)

	result := fix.pipeline.Run(context.Background(), false)

	assert.Equal(t, StateDone, result.State)
	assert.True(t, result.Promoted)
	assert.Equal(t, 120, result.FeedbackCount)
	assert.Equal(t, 120, result.ConsumedCount)
	assert.NotEmpty(t, result.RunID)

	unconsumed, err := fix.repo.Unconsumed(models.FamilyClassifier)
	require.NoError(t, err)
	assert.Empty(t, unconsumed)

	require.NotNil(t, fix.registry.production)
	assert.Equal(t, registry.StageProduction, fix.registry.production.Stage)
}

func TestPipeline_InsufficientImprovementKeepsFeedback(t *testing.T) {
	reg := &countingRegistry{
		production: &registry.ModelVersion{
			Family:  "classifier",
			Version: 3,
			RunID:   "run-prod",
			Stage:   registry.StageProduction,
			Metrics: map[string]float64{MetricTestAccuracy: 0.80},
		},
	}
	fix := newClassifierFixture(t, Config{Threshold: 100, Improvement: 0.02, LeaseTTL: time.Hour},
		reg, &stubTrainer{metrics: map[string]float64{MetricTestAccuracy: 0.81}})
	fix.seedClassification(t, 120)

	result := fix.pipeline.Run(context.Background(), false)

	assert.Equal(t, StateSkipped, result.State)
	assert.False(t, result.Promoted)
	require.NotNil(t, result.Comparison)
	assert.InDelta(t, 0.01, result.Comparison.Improvement, 1e-9)

	// The candidate stays registered for audit, production is untouched and
	// the evidence remains available for the next cycle.
	require.Len(t, reg.registered, 1)
	assert.Equal(t, registry.StageNone, reg.registered[0].Stage)
	assert.Equal(t, 3, reg.production.Version)

	unconsumed, err := fix.repo.Unconsumed(models.FamilyClassifier)
	require.NoError(t, err)
	assert.Len(t, unconsumed, 120)
}

func TestPipeline_SufficientImprovementPromotes(t *testing.T) {
	reg := &countingRegistry{
		production: &registry.ModelVersion{
			Family:  "classifier",
			Version: 3,
			RunID:   "run-prod",
			Stage:   registry.StageProduction,
			Metrics: map[string]float64{MetricTestAccuracy: 0.80},
		},
	}
	fix := newClassifierFixture(t, Config{Threshold: 100, Improvement: 0.02, LeaseTTL: time.Hour},
		reg, &stubTrainer{metrics: map[string]float64{MetricTestAccuracy: 0.83}})
	fix.seedClassification(t, 120)

	result := fix.pipeline.Run(context.Background(), false)

	assert.Equal(t, StateDone, result.State)
	assert.True(t, result.Promoted)
	assert.Equal(t, 120, result.ConsumedCount)
	require.NotNil(t, reg.production)
	assert.NotEqual(t, 3, reg.production.Version)
}

func TestPipeline_TrainingFailureLeavesFeedbackUnconsumed(t *testing.T) {
	fix := newClassifierFixture(t, Config{Threshold: 100, Improvement: 0.02, LeaseTTL: time.Hour},
		&countingRegistry{}, &stubTrainer{err: fmt.Errorf("gpu node unavailable")})
	fix.seedClassification(t, 120)

	result := fix.pipeline.Run(context.Background(), false)

	assert.Equal(t, StateFailed, result.State)
	assert.Contains(t, result.Error, "gpu node unavailable")
	assert.Equal(t, 1, fix.locker.released)

	unconsumed, err := fix.repo.Unconsumed(models.FamilyClassifier)
	require.NoError(t, err)
	assert.Len(t, unconsumed, 120)
}

func TestPipeline_LeaseHeldSkipsRun(t *testing.T) {
	fix := newClassifierFixture(t, Config{Threshold: 100, Improvement: 0.02, LeaseTTL: time.Hour},
		&countingRegistry{}, &stubTrainer{metrics: map[string]float64{MetricTestAccuracy: 0.9}})
	fix.seedClassification(t, 120)
	fix.locker.held = true

	result := fix.pipeline.Run(context.Background(), false)

	assert.Equal(t, StateSkipped, result.State)
	assert.Contains(t, result.Error, "lease")
	assert.Empty(t, fix.trainer.trained)
	assert.Zero(t, fix.locker.released)
}

func TestPipeline_SkipsEntriesWithMissingArticles(t *testing.T) {
	fix := newClassifierFixture(t, Config{Threshold: 2, Improvement: 0.02, LeaseTTL: time.Hour},
		&countingRegistry{}, &stubTrainer{metrics: map[string]float64{MetricTestAccuracy: 0.9}})
	fix.seedClassification(t, 3)
	// One article disappears between feedback and training.
	delete(fix.articles.texts, "article-1")

	result := fix.pipeline.Run(context.Background(), false)

	assert.Equal(t, StateDone, result.State)
	require.Len(t, fix.trainer.trained, 1)
	assert.Len(t, fix.trainer.trained[0], 2)
	// Only the materialized entries are consumed; the orphan stays pending.
	assert.Equal(t, 2, result.ConsumedCount)

	unconsumed, err := fix.repo.Unconsumed(models.FamilyClassifier)
	require.NoError(t, err)
	require.Len(t, unconsumed, 1)
	assert.Equal(t, "article-1", unconsumed[0].ArticleID)
}

func TestPipeline_NoUsableExamplesFails(t *testing.T) {
	fix := newClassifierFixture(t, Config{Threshold: 2, Improvement: 0.02, LeaseTTL: time.Hour},
		&countingRegistry{}, &stubTrainer{metrics: map[string]float64{MetricTestAccuracy: 0.9}})
	fix.seedClassification(t, 3)
	fix.articles.texts = map[string]string{}

	result := fix.pipeline.Run(context.Background(), false)

	assert.Equal(t, StateFailed, result.State)
	assert.Contains(t, result.Error, "no usable training data")
}

func newSummarizerFixture(t *testing.T, cfg Config, reg *countingRegistry, trainer *stubTrainer) *classifierFixture {
	t.Helper()

	log := logrus.New()
	repo := &memFeedbackRepo{}
	articles := &stubArticles{texts: make(map[string]string), summaries: make(map[string]string)}
	locker := &stubLocker{}

	deps := Deps{
		Ledger:   ledger.NewLedger(repo, log),
		Registry: reg,
		Promoter: promote.NewPromoter(reg, &nopAuditRepo{}, log),
		Trainer:  trainer,
		Articles: articles,
		Lease:    locker,
		Logger:   log,
	}

	return &classifierFixture{
		repo:     repo,
		registry: reg,
		trainer:  trainer,
		articles: articles,
		locker:   locker,
		pipeline: NewSummarizerPipeline(cfg, deps),
	}
}

func (f *classifierFixture) seedSummaries(t *testing.T, good, poor, edited int) {
	t.Helper()
	n := 0
	add := func(rating, editedSummary string) {
		articleID := fmt.Sprintf("article-%d", n)
		n++
		f.articles.texts[articleID] = "Article body with enough words to summarize."
		f.articles.summaries[articleID] = "Stored machine summary."
		require.NoError(t, f.repo.Create(&models.FeedbackEntry{
			ArticleID:     articleID,
			Kind:          models.FeedbackKindSummary,
			Rating:        rating,
			EditedSummary: editedSummary,
		}))
	}
	for i := 0; i < good; i++ {
		add(models.RatingGood, "")
	}
	for i := 0; i < poor; i++ {
		add(models.RatingPoor, "")
	}
	for i := 0; i < edited; i++ {
		add("", "A user-corrected summary.")
	}
}

func TestPipeline_SummarizerLenientPromotionOnGoodRatings(t *testing.T) {
	// The candidate's loss is slightly worse, but 75% good ratings carry it
	// through the lenient acceptance path.
	reg := &countingRegistry{
		production: &registry.ModelVersion{
			Family:  "summarizer",
			Version: 2,
			RunID:   "run-prod",
			Stage:   registry.StageProduction,
			Metrics: map[string]float64{MetricEvalLoss: 0.48},
		},
	}
	cfg := Config{Threshold: 10, Improvement: 0.05, MinSamples: 5, GoodOverride: 0.7, LeaseTTL: time.Hour}
	fix := newSummarizerFixture(t, cfg, reg, &stubTrainer{metrics: map[string]float64{MetricEvalLoss: 0.50}})
	fix.seedSummaries(t, 9, 3, 0)

	result := fix.pipeline.Run(context.Background(), false)

	assert.Equal(t, StateDone, result.State)
	assert.True(t, result.Promoted)
	require.NotNil(t, result.Comparison)
	assert.InDelta(t, 0.75, result.Comparison.GoodFraction, 1e-9)
	assert.Less(t, result.Comparison.Improvement, 0.0)
}

func TestPipeline_SummarizerSkipsWithoutImprovementOrGoodRatings(t *testing.T) {
	reg := &countingRegistry{
		production: &registry.ModelVersion{
			Family:  "summarizer",
			Version: 2,
			RunID:   "run-prod",
			Stage:   registry.StageProduction,
			Metrics: map[string]float64{MetricEvalLoss: 0.48},
		},
	}
	cfg := Config{Threshold: 10, Improvement: 0.05, MinSamples: 5, GoodOverride: 0.7, LeaseTTL: time.Hour}
	fix := newSummarizerFixture(t, cfg, reg, &stubTrainer{metrics: map[string]float64{MetricEvalLoss: 0.47}})
	fix.seedSummaries(t, 3, 6, 3)

	result := fix.pipeline.Run(context.Background(), false)

	assert.Equal(t, StateSkipped, result.State)
	assert.False(t, result.Promoted)

	unconsumed, err := fix.repo.Unconsumed(models.FamilySummarizer)
	require.NoError(t, err)
	assert.Len(t, unconsumed, 12)
}

func TestPipeline_SummarizerLossImprovementPromotes(t *testing.T) {
	reg := &countingRegistry{
		production: &registry.ModelVersion{
			Family:  "summarizer",
			Version: 2,
			RunID:   "run-prod",
			Stage:   registry.StageProduction,
			Metrics: map[string]float64{MetricEvalLoss: 0.55},
		},
	}
	cfg := Config{Threshold: 10, Improvement: 0.05, MinSamples: 5, GoodOverride: 0.7, LeaseTTL: time.Hour}
	fix := newSummarizerFixture(t, cfg, reg, &stubTrainer{metrics: map[string]float64{MetricEvalLoss: 0.45}})
	fix.seedSummaries(t, 3, 6, 3)

	result := fix.pipeline.Run(context.Background(), false)

	assert.Equal(t, StateDone, result.State)
	assert.True(t, result.Promoted)
	require.NotNil(t, result.Comparison)
	assert.InDelta(t, 0.10, result.Comparison.Improvement, 1e-9)
}

func TestPipeline_SummarizerPoorRatingsProduceNoExamples(t *testing.T) {
	cfg := Config{Threshold: 3, Improvement: 0.05, MinSamples: 1, GoodOverride: 0.7, LeaseTTL: time.Hour}
	fix := newSummarizerFixture(t, cfg, &countingRegistry{},
		&stubTrainer{metrics: map[string]float64{MetricEvalLoss: 0.45}})
	fix.seedSummaries(t, 0, 5, 0)

	result := fix.pipeline.Run(context.Background(), false)

	assert.Equal(t, StateFailed, result.State)
	assert.Contains(t, result.Error, "no usable training data")
}

func TestPipeline_SummarizerPrefersEditedSummaries(t *testing.T) {
	cfg := Config{Threshold: 2, Improvement: 0.05, MinSamples: 1, GoodOverride: 0.7, LeaseTTL: time.Hour}
	trainer := &stubTrainer{metrics: map[string]float64{MetricEvalLoss: 0.45}}
	fix := newSummarizerFixture(t, cfg, &countingRegistry{}, trainer)
	fix.seedSummaries(t, 1, 0, 1)

	result := fix.pipeline.Run(context.Background(), false)

	assert.Equal(t, StateDone, result.State)
	require.Len(t, trainer.trained, 1)
	require.Len(t, trainer.trained[0], 2)

	references := make(map[string]struct{})
	for _, ex := range trainer.trained[0] {
		references[ex.ReferenceSummary] = struct{}{}
	}
	assert.Contains(t, references, "Stored machine summary.")
	assert.Contains(t, references, "A user-corrected summary.")
}
