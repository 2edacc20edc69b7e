package promote

import (
	"context"
	"errors"
	"fmt"

	"github.com/feedloop-ai/newsbrief/internal/models"
	"github.com/feedloop-ai/newsbrief/internal/registry"
	"github.com/sirupsen/logrus"
)

// ErrNoRollbackTarget is returned when a rollback is requested for a family
// with no archived versions to fall back to.
var ErrNoRollbackTarget = errors.New("no archived versions to roll back to")

// PromotionResult is the audit record returned from a stage transition.
type PromotionResult struct {
	Family          string         `json:"family"`
	Version         int            `json:"version"`
	NewStage        registry.Stage `json:"new_stage"`
	PreviousVersion int            `json:"previous_version,omitempty"`
	Reason          string         `json:"reason,omitempty"`
}

// FamilyStatus describes a family's version history for the dashboard.
type FamilyStatus struct {
	Family     string                  `json:"family"`
	Versions   []registry.ModelVersion `json:"versions"`
	Production *registry.ModelVersion  `json:"production,omitempty"`
	Staging    *registry.ModelVersion  `json:"staging,omitempty"`
}

// Promoter drives stage transitions through the registry and records an
// audit entry for every production change.
type Promoter struct {
	registry registry.Registry
	audits   models.PromotionAuditRepository
	logger   *logrus.Logger
}

func NewPromoter(reg registry.Registry, audits models.PromotionAuditRepository, logger *logrus.Logger) *Promoter {
	return &Promoter{
		registry: reg,
		audits:   audits,
		logger:   logger,
	}
}

// PromoteToProduction moves a version to Production, archiving the prior
// production version in the same logical registry operation. The registry
// guarantees at most one Production version per family after the call.
func (p *Promoter) PromoteToProduction(ctx context.Context, family string, version int, reason string) (*PromotionResult, error) {
	previous, err := p.registry.ProductionVersion(ctx, family)
	if err != nil {
		return nil, fmt.Errorf("failed to look up current production: %w", err)
	}

	if err := p.registry.Transition(ctx, family, version, registry.StageProduction, true); err != nil {
		return nil, fmt.Errorf("failed to promote %s v%d: %w", family, version, err)
	}

	result := &PromotionResult{
		Family:   family,
		Version:  version,
		NewStage: registry.StageProduction,
		Reason:   reason,
	}
	if previous != nil {
		result.PreviousVersion = previous.Version
	}

	audit := &models.PromotionAudit{
		Family:     family,
		NewVersion: version,
		OldVersion: result.PreviousVersion,
		Reason:     reason,
	}
	if err := p.audits.Create(audit); err != nil {
		// The transition already happened; a lost audit row must not undo it.
		p.logger.WithError(err).Warn("Failed to write promotion audit entry")
	}

	p.logger.WithFields(logrus.Fields{
		"family":           family,
		"version":          version,
		"previous_version": result.PreviousVersion,
		"reason":           reason,
	}).Info("Promoted model version to production")

	return result, nil
}

// PromoteToStaging moves a version to Staging without archiving anything;
// multiple staging candidates may coexist transiently.
func (p *Promoter) PromoteToStaging(ctx context.Context, family string, version int, reason string) (*PromotionResult, error) {
	if err := p.registry.Transition(ctx, family, version, registry.StageStaging, false); err != nil {
		return nil, fmt.Errorf("failed to stage %s v%d: %w", family, version, err)
	}

	p.logger.WithFields(logrus.Fields{
		"family":  family,
		"version": version,
		"reason":  reason,
	}).Info("Promoted model version to staging")

	return &PromotionResult{
		Family:   family,
		Version:  version,
		NewStage: registry.StageStaging,
		Reason:   reason,
	}, nil
}

// Rollback promotes an archived version back to Production. With toVersion
// zero, the archived version with the highest version number is chosen;
// version numbers, not creation timestamps, are the ordering key. Rollback is
// a plain production promotion with reason "Rollback", not a separate
// registry primitive.
func (p *Promoter) Rollback(ctx context.Context, family string, toVersion int) (*PromotionResult, error) {
	if toVersion == 0 {
		history, err := p.registry.History(ctx, family)
		if err != nil {
			return nil, fmt.Errorf("failed to load version history: %w", err)
		}

		for _, v := range history {
			if v.Stage == registry.StageArchived && v.Version > toVersion {
				toVersion = v.Version
			}
		}

		if toVersion == 0 {
			return nil, ErrNoRollbackTarget
		}
	}

	p.logger.WithFields(logrus.Fields{
		"family":     family,
		"to_version": toVersion,
	}).Info("Rolling back model")

	return p.PromoteToProduction(ctx, family, toVersion, "Rollback")
}

// Status returns a family's full version history with its current
// production and staging pointers.
func (p *Promoter) Status(ctx context.Context, family string) (*FamilyStatus, error) {
	history, err := p.registry.History(ctx, family)
	if err != nil {
		return nil, fmt.Errorf("failed to load version history: %w", err)
	}

	status := &FamilyStatus{
		Family:   family,
		Versions: history,
	}

	for i := range history {
		switch history[i].Stage {
		case registry.StageProduction:
			status.Production = &history[i]
		case registry.StageStaging:
			if status.Staging == nil || history[i].Version > status.Staging.Version {
				status.Staging = &history[i]
			}
		}
	}

	return status, nil
}
