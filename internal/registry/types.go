package registry

import (
	"context"
	"fmt"
	"time"
)

// Stage is the registry-assigned lifecycle label of a model version. Exactly
// one version per family holds Production at a time; the registry enforces
// that during transitions with archiveExisting set.
type Stage string

const (
	StageNone       Stage = "None"
	StageStaging    Stage = "Staging"
	StageProduction Stage = "Production"
	StageArchived   Stage = "Archived"
)

func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case StageNone, StageStaging, StageProduction, StageArchived:
		return Stage(s), nil
	}
	return "", fmt.Errorf("unknown stage: %q", s)
}

// ModelVersion is one registered model artifact. Version numbers are
// monotonically increasing per family and are the authoritative ordering key.
type ModelVersion struct {
	Family    string             `json:"family"`
	Version   int                `json:"version"`
	RunID     string             `json:"run_id"`
	Stage     Stage              `json:"stage"`
	CreatedAt time.Time          `json:"created_at"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// Registry is the versioned-artifact store consumed by the promotion
// controller and the retraining pipelines. Every call can fail; callers must
// not assume atomicity beyond the transition contract.
type Registry interface {
	// ProductionVersion returns the current Production version for a family,
	// or nil when the family has no production model yet.
	ProductionVersion(ctx context.Context, family string) (*ModelVersion, error)

	// History returns all versions of a family with stage, creation time and
	// associated run id.
	History(ctx context.Context, family string) ([]ModelVersion, error)

	// Register records a completed training run as a new version at stage None.
	Register(ctx context.Context, family, runID string, metrics map[string]float64) (*ModelVersion, error)

	// Transition moves a version to a new stage. With archiveExisting and a
	// Production target, the prior Production version (if any) is moved to
	// Archived as part of the same logical operation.
	Transition(ctx context.Context, family string, version int, stage Stage, archiveExisting bool) error

	// RunMetrics returns the metrics recorded during a training run.
	RunMetrics(ctx context.Context, runID string) (map[string]float64, error)
}
