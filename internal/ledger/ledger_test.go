package ledger

import (
	"testing"

	"github.com/feedloop-ai/newsbrief/internal/models"
	"github.com/feedloop-ai/newsbrief/internal/repository"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupLedger(t *testing.T) *Ledger {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.FeedbackEntry{}))

	return NewLedger(repository.NewFeedbackRepository(db), logrus.New())
}

func TestLedger_RecordClassification(t *testing.T) {
	l := setupLedger(t)

	entry, err := l.RecordClassification("a1", "science", "ai", "v3")
	require.NoError(t, err)
	assert.NotZero(t, entry.ID)
	assert.Equal(t, models.FeedbackKindClassification, entry.Kind)

	unconsumed, err := l.Unconsumed(models.FamilyClassifier)
	require.NoError(t, err)
	require.Len(t, unconsumed, 1)
	assert.Equal(t, "ai", unconsumed[0].CorrectedLabel)
}

func TestLedger_RecordClassification_MissingLabel(t *testing.T) {
	l := setupLedger(t)

	_, err := l.RecordClassification("a1", "science", "", "v3")
	assert.Error(t, err)
}

func TestLedger_DuplicateFeedbackAccumulates(t *testing.T) {
	l := setupLedger(t)

	_, err := l.RecordClassification("a1", "science", "ai", "v3")
	require.NoError(t, err)
	_, err = l.RecordClassification("a1", "science", "sports", "v3")
	require.NoError(t, err)

	entries, err := l.ForArticle("a1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestLedger_RecordSummary_RatingOnly(t *testing.T) {
	l := setupLedger(t)

	entry, err := l.RecordSummary("a1", models.RatingGood, "", "v2")
	require.NoError(t, err)
	assert.Equal(t, models.RatingGood, entry.Rating)

	unconsumed, err := l.Unconsumed(models.FamilySummarizer)
	require.NoError(t, err)
	assert.Len(t, unconsumed, 1)
}

func TestLedger_FamiliesConsumeIndependently(t *testing.T) {
	l := setupLedger(t)

	class, err := l.RecordClassification("a1", "science", "ai", "v3")
	require.NoError(t, err)
	_, err = l.RecordSummary("a2", models.RatingGood, "", "v2")
	require.NoError(t, err)

	require.NoError(t, l.MarkConsumed([]uint{class.ID}, models.FamilyClassifier))

	classifier, err := l.Unconsumed(models.FamilyClassifier)
	require.NoError(t, err)
	assert.Empty(t, classifier)

	summarizer, err := l.Unconsumed(models.FamilySummarizer)
	require.NoError(t, err)
	assert.Len(t, summarizer, 1)
}

func TestLedger_Stats(t *testing.T) {
	l := setupLedger(t)

	_, err := l.RecordClassification("a1", "science", "ai", "v3")
	require.NoError(t, err)
	_, err = l.RecordSummary("a2", "", "Shorter summary.", "v2")
	require.NoError(t, err)

	stats, err := l.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Classification)
	assert.Equal(t, int64(1), stats.Summary)
}
