package retrain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/feedloop-ai/newsbrief/internal/ledger"
	"github.com/feedloop-ai/newsbrief/internal/models"
	"github.com/feedloop-ai/newsbrief/internal/promote"
	"github.com/feedloop-ai/newsbrief/internal/registry"
	"github.com/sirupsen/logrus"
)

// ErrNoTrainingData is returned when no usable examples could be built from
// the unconsumed feedback.
var ErrNoTrainingData = errors.New("no usable training data")

// State names the step a pipeline run finished in.
type State string

const (
	StateIdle           State = "idle"
	StateCheckThreshold State = "check_threshold"
	StateNotNeeded      State = "not_needed"
	StateTraining       State = "training"
	StateEvaluating     State = "evaluating"
	StatePromoting      State = "promoting"
	StateDone           State = "done"
	StateSkipped        State = "skipped"
	StateFailed         State = "failed"
)

// Example is one training sample materialized from feedback.
type Example struct {
	ArticleID        string
	Text             string
	Label            string
	ReferenceSummary string
}

// TrainOutcome is what the opaque training subroutine reports back.
type TrainOutcome struct {
	RunID   string
	Metrics map[string]float64
}

// Trainer runs one training job over the prepared examples. Its internals
// are outside this package; any error it returns fails the pipeline run.
type Trainer interface {
	Train(ctx context.Context, examples []Example) (*TrainOutcome, error)
}

// ArticleStore supplies article text and stored summaries when materializing
// training examples.
type ArticleStore interface {
	ArticleText(ctx context.Context, articleID string) (string, error)
	Summary(ctx context.Context, articleID string) (string, error)
}

// Locker is the per-family advisory lock taken around the
// check-train-promote critical section.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

// Comparison records how a candidate scored against current production.
type Comparison struct {
	ProductionVersion int     `json:"production_version"`
	ProductionMetric  float64 `json:"production_metric"`
	CandidateMetric   float64 `json:"candidate_metric"`
	Improvement       float64 `json:"improvement"`
	Threshold         float64 `json:"threshold"`
	GoodFraction      float64 `json:"good_fraction,omitempty"`
}

// Result is the structured outcome of one pipeline run. Errors are folded in
// rather than raised so a cron-style caller can log and continue.
type Result struct {
	Family        models.Family `json:"family"`
	State         State         `json:"state"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	FeedbackCount int           `json:"feedback_count"`
	Threshold     int           `json:"threshold"`
	RunID         string        `json:"run_id,omitempty"`
	Version       int           `json:"version,omitempty"`
	Comparison    *Comparison   `json:"comparison,omitempty"`
	Promoted      bool          `json:"promoted"`
	ConsumedCount int           `json:"consumed_count"`
	Error         string        `json:"error,omitempty"`
}

// Config carries the per-family thresholds.
type Config struct {
	Threshold   int
	Improvement float64
	MinSamples  int
	// GoodOverride is the summarizer's lenient acceptance path: a good-rating
	// fraction above it promotes even without the quantitative improvement.
	GoodOverride float64
	LeaseTTL     time.Duration
}

// Deps are the injected collaborators; pipelines hold no globals.
type Deps struct {
	Ledger   *ledger.Ledger
	Registry registry.Registry
	Promoter *promote.Promoter
	Trainer  Trainer
	Articles ArticleStore
	Lease    Locker
	Logger   *logrus.Logger
}

type prepareFunc func(ctx context.Context, deps Deps, entries []models.FeedbackEntry) ([]Example, []uint, error)

type decideFunc func(ctx context.Context, cfg Config, deps Deps, outcome *TrainOutcome, production *registry.ModelVersion, entries []models.FeedbackEntry) (bool, *Comparison, string, error)

// Pipeline is the feedback-driven retraining state machine, shared by both
// model families; only example preparation and the promotion decision differ.
type Pipeline struct {
	family  models.Family
	cfg     Config
	deps    Deps
	prepare prepareFunc
	decide  decideFunc
}

// Run executes one pass: count unconsumed feedback, train a candidate,
// compare it with production, promote when it clears the bar, and only then
// mark the consumed feedback. A Failed or Skipped run leaves every
// consumption flag untouched so the evidence is retried next cycle.
func (p *Pipeline) Run(ctx context.Context, force bool) *Result {
	res := &Result{
		Family:    p.family,
		State:     StateIdle,
		StartedAt: time.Now().UTC(),
		Threshold: p.cfg.Threshold,
	}
	defer func() { res.FinishedAt = time.Now().UTC() }()

	log := p.deps.Logger.WithField("family", p.family)
	log.Info("Retraining pipeline starting")

	leaseName := fmt.Sprintf("retrain:%s", p.family)
	if p.deps.Lease != nil {
		ok, err := p.deps.Lease.Acquire(ctx, leaseName, p.cfg.LeaseTTL)
		if err != nil {
			return p.fail(res, fmt.Errorf("lease acquisition failed: %w", err))
		}
		if !ok {
			log.Warn("Another retraining run holds the lease, skipping")
			res.State = StateSkipped
			res.Error = "another retraining run holds the lease"
			return res
		}
		defer func() {
			if err := p.deps.Lease.Release(context.Background(), leaseName); err != nil {
				log.WithError(err).Warn("Failed to release retrain lease")
			}
		}()
	}

	res.State = StateCheckThreshold
	entries, err := p.deps.Ledger.Unconsumed(p.family)
	if err != nil {
		return p.fail(res, fmt.Errorf("failed to read unconsumed feedback: %w", err))
	}
	res.FeedbackCount = len(entries)

	if !force && len(entries) < p.cfg.Threshold {
		log.WithFields(logrus.Fields{
			"feedback_count": len(entries),
			"threshold":      p.cfg.Threshold,
		}).Info("Retraining not needed")
		res.State = StateNotNeeded
		return res
	}

	examples, feedbackIDs, err := p.prepare(ctx, p.deps, entries)
	if err != nil {
		return p.fail(res, err)
	}
	if len(examples) == 0 {
		return p.fail(res, ErrNoTrainingData)
	}
	if p.cfg.MinSamples > 0 && len(examples) < p.cfg.MinSamples {
		log.WithFields(logrus.Fields{
			"samples": len(examples),
			"minimum": p.cfg.MinSamples,
		}).Warn("Training set below recommended minimum")
	}

	res.State = StateTraining
	log.WithField("samples", len(examples)).Info("Training candidate model")

	outcome, err := p.deps.Trainer.Train(ctx, examples)
	if err != nil {
		return p.fail(res, fmt.Errorf("training failed: %w", err))
	}
	res.RunID = outcome.RunID

	version, err := p.deps.Registry.Register(ctx, string(p.family), outcome.RunID, outcome.Metrics)
	if err != nil {
		return p.fail(res, fmt.Errorf("failed to register candidate: %w", err))
	}
	res.Version = version.Version

	res.State = StateEvaluating
	production, err := p.deps.Registry.ProductionVersion(ctx, string(p.family))
	if err != nil {
		return p.fail(res, fmt.Errorf("failed to look up production version: %w", err))
	}

	shouldPromote, comparison, reason, err := p.decide(ctx, p.cfg, p.deps, outcome, production, entries)
	if err != nil {
		return p.fail(res, err)
	}
	res.Comparison = comparison

	if !shouldPromote {
		// Candidate stays registered at stage None for audit; feedback stays
		// unconsumed so the next cycle reuses it with whatever arrives next.
		log.WithField("comparison", comparison).Info("Candidate did not meet promotion criteria")
		res.State = StateSkipped
		return res
	}

	res.State = StatePromoting
	if _, err := p.deps.Promoter.PromoteToProduction(ctx, string(p.family), version.Version, reason); err != nil {
		return p.fail(res, fmt.Errorf("promotion failed: %w", err))
	}
	res.Promoted = true

	// Consumption marking happens strictly after the promotion succeeded.
	// Marking before promoting would silently lose evidence on a failed
	// promotion.
	if err := p.deps.Ledger.MarkConsumed(feedbackIDs, p.family); err != nil {
		log.WithError(err).Error("Promotion succeeded but consumption marking failed; feedback will be reused next cycle")
		res.Error = err.Error()
	} else {
		res.ConsumedCount = len(feedbackIDs)
	}

	res.State = StateDone
	log.WithFields(logrus.Fields{
		"run_id":   res.RunID,
		"version":  res.Version,
		"consumed": res.ConsumedCount,
	}).Info("Retraining pipeline completed")

	return res
}

func (p *Pipeline) fail(res *Result, err error) *Result {
	p.deps.Logger.WithError(err).WithField("family", p.family).Error("Retraining pipeline failed")
	res.State = StateFailed
	res.Error = err.Error()
	return res
}

// metricOr reads a named metric with a fallback for absent keys.
func metricOr(metrics map[string]float64, name string, fallback float64) float64 {
	if v, ok := metrics[name]; ok {
		return v
	}
	return fallback
}

// productionMetrics resolves the metrics snapshot of the production version,
// going back to the tracking server when the registry did not inline them.
func productionMetrics(ctx context.Context, deps Deps, production *registry.ModelVersion) (map[string]float64, error) {
	if len(production.Metrics) > 0 {
		return production.Metrics, nil
	}
	metrics, err := deps.Registry.RunMetrics(ctx, production.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch production metrics: %w", err)
	}
	return metrics, nil
}
