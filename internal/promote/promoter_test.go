package promote

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/feedloop-ai/newsbrief/internal/models"
	"github.com/feedloop-ai/newsbrief/internal/registry"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRegistry keeps versions in memory and honors the archive-existing
// transition contract.
type fakeRegistry struct {
	versions map[string][]registry.ModelVersion
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{versions: make(map[string][]registry.ModelVersion)}
}

func (f *fakeRegistry) add(family string, version int, stage registry.Stage) {
	f.versions[family] = append(f.versions[family], registry.ModelVersion{
		Family:    family,
		Version:   version,
		RunID:     fmt.Sprintf("run-%d", version),
		Stage:     stage,
		CreatedAt: time.Now().UTC(),
	})
}

func (f *fakeRegistry) ProductionVersion(ctx context.Context, family string) (*registry.ModelVersion, error) {
	for i := range f.versions[family] {
		if f.versions[family][i].Stage == registry.StageProduction {
			v := f.versions[family][i]
			return &v, nil
		}
	}
	return nil, nil
}

func (f *fakeRegistry) History(ctx context.Context, family string) ([]registry.ModelVersion, error) {
	return append([]registry.ModelVersion(nil), f.versions[family]...), nil
}

func (f *fakeRegistry) Register(ctx context.Context, family, runID string, metrics map[string]float64) (*registry.ModelVersion, error) {
	next := 1
	for _, v := range f.versions[family] {
		if v.Version >= next {
			next = v.Version + 1
		}
	}
	mv := registry.ModelVersion{
		Family:    family,
		Version:   next,
		RunID:     runID,
		Stage:     registry.StageNone,
		CreatedAt: time.Now().UTC(),
		Metrics:   metrics,
	}
	f.versions[family] = append(f.versions[family], mv)
	return &mv, nil
}

func (f *fakeRegistry) Transition(ctx context.Context, family string, version int, stage registry.Stage, archiveExisting bool) error {
	vs := f.versions[family]
	found := false
	for i := range vs {
		if vs[i].Version == version {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("version %d not found for %s", version, family)
	}

	for i := range vs {
		if archiveExisting && stage == registry.StageProduction &&
			vs[i].Stage == registry.StageProduction && vs[i].Version != version {
			vs[i].Stage = registry.StageArchived
		}
		if vs[i].Version == version {
			vs[i].Stage = stage
		}
	}
	return nil
}

func (f *fakeRegistry) RunMetrics(ctx context.Context, runID string) (map[string]float64, error) {
	for _, vs := range f.versions {
		for _, v := range vs {
			if v.RunID == runID {
				return v.Metrics, nil
			}
		}
	}
	return nil, fmt.Errorf("run %s not found", runID)
}

func (f *fakeRegistry) productionCount(family string) int {
	n := 0
	for _, v := range f.versions[family] {
		if v.Stage == registry.StageProduction {
			n++
		}
	}
	return n
}

type recordingAuditRepo struct {
	audits []models.PromotionAudit
	err    error
}

func (r *recordingAuditRepo) Create(audit *models.PromotionAudit) error {
	if r.err != nil {
		return r.err
	}
	r.audits = append(r.audits, *audit)
	return nil
}

func (r *recordingAuditRepo) Recent(limit int) ([]models.PromotionAudit, error) {
	return r.audits, nil
}

func TestPromoter_PromoteToProduction_ArchivesPrevious(t *testing.T) {
	reg := newFakeRegistry()
	reg.add("classifier", 1, registry.StageProduction)
	reg.add("classifier", 2, registry.StageNone)
	audits := &recordingAuditRepo{}
	promoter := NewPromoter(reg, audits, logrus.New())

	result, err := promoter.PromoteToProduction(context.Background(), "classifier", 2, "Improved accuracy by 0.0300")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Version)
	assert.Equal(t, 1, result.PreviousVersion)
	assert.Equal(t, registry.StageProduction, result.NewStage)

	assert.Equal(t, 1, reg.productionCount("classifier"))
	prod, err := reg.ProductionVersion(context.Background(), "classifier")
	require.NoError(t, err)
	assert.Equal(t, 2, prod.Version)

	require.Len(t, audits.audits, 1)
	assert.Equal(t, 2, audits.audits[0].NewVersion)
	assert.Equal(t, 1, audits.audits[0].OldVersion)
}

func TestPromoter_PromoteToProduction_Bootstrap(t *testing.T) {
	reg := newFakeRegistry()
	reg.add("summarizer", 1, registry.StageNone)
	promoter := NewPromoter(reg, &recordingAuditRepo{}, logrus.New())

	result, err := promoter.PromoteToProduction(context.Background(), "summarizer", 1, "Initial production model")
	require.NoError(t, err)

	assert.Zero(t, result.PreviousVersion)
	assert.Equal(t, 1, reg.productionCount("summarizer"))
}

func TestPromoter_PromoteToProduction_AuditFailureDoesNotUndo(t *testing.T) {
	reg := newFakeRegistry()
	reg.add("classifier", 1, registry.StageNone)
	promoter := NewPromoter(reg, &recordingAuditRepo{err: fmt.Errorf("db down")}, logrus.New())

	_, err := promoter.PromoteToProduction(context.Background(), "classifier", 1, "Initial production model")
	require.NoError(t, err)
	assert.Equal(t, 1, reg.productionCount("classifier"))
}

func TestPromoter_Rollback_PicksHighestArchivedVersion(t *testing.T) {
	reg := newFakeRegistry()
	reg.add("classifier", 3, registry.StageArchived)
	reg.add("classifier", 7, registry.StageArchived)
	reg.add("classifier", 5, registry.StageArchived)
	reg.add("classifier", 8, registry.StageProduction)
	promoter := NewPromoter(reg, &recordingAuditRepo{}, logrus.New())

	result, err := promoter.Rollback(context.Background(), "classifier", 0)
	require.NoError(t, err)

	assert.Equal(t, 7, result.Version)
	assert.Equal(t, "Rollback", result.Reason)
	assert.Equal(t, 8, result.PreviousVersion)

	assert.Equal(t, 1, reg.productionCount("classifier"))
	prod, err := reg.ProductionVersion(context.Background(), "classifier")
	require.NoError(t, err)
	assert.Equal(t, 7, prod.Version)
}

func TestPromoter_Rollback_ExplicitVersion(t *testing.T) {
	reg := newFakeRegistry()
	reg.add("classifier", 3, registry.StageArchived)
	reg.add("classifier", 5, registry.StageArchived)
	reg.add("classifier", 6, registry.StageProduction)
	promoter := NewPromoter(reg, &recordingAuditRepo{}, logrus.New())

	result, err := promoter.Rollback(context.Background(), "classifier", 3)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Version)
	assert.Equal(t, 1, reg.productionCount("classifier"))
}

func TestPromoter_Rollback_NoArchivedVersions(t *testing.T) {
	reg := newFakeRegistry()
	reg.add("classifier", 1, registry.StageProduction)
	promoter := NewPromoter(reg, &recordingAuditRepo{}, logrus.New())

	_, err := promoter.Rollback(context.Background(), "classifier", 0)
	assert.ErrorIs(t, err, ErrNoRollbackTarget)
	assert.Equal(t, 1, reg.productionCount("classifier"))
}

func TestPromoter_PromoteToStaging_DoesNotArchive(t *testing.T) {
	reg := newFakeRegistry()
	reg.add("classifier", 1, registry.StageProduction)
	reg.add("classifier", 2, registry.StageNone)
	promoter := NewPromoter(reg, &recordingAuditRepo{}, logrus.New())

	result, err := promoter.PromoteToStaging(context.Background(), "classifier", 2, "Candidate for review")
	require.NoError(t, err)

	assert.Equal(t, registry.StageStaging, result.NewStage)
	assert.Equal(t, 1, reg.productionCount("classifier"))
}

func TestPromoter_Status(t *testing.T) {
	reg := newFakeRegistry()
	reg.add("classifier", 1, registry.StageArchived)
	reg.add("classifier", 2, registry.StageProduction)
	reg.add("classifier", 3, registry.StageStaging)
	promoter := NewPromoter(reg, &recordingAuditRepo{}, logrus.New())

	status, err := promoter.Status(context.Background(), "classifier")
	require.NoError(t, err)

	assert.Len(t, status.Versions, 3)
	require.NotNil(t, status.Production)
	assert.Equal(t, 2, status.Production.Version)
	require.NotNil(t, status.Staging)
	assert.Equal(t, 3, status.Staging.Version)
}
