package drift

import (
	"strings"
	"time"

	"github.com/feedloop-ai/newsbrief/internal/models"
	"github.com/sirupsen/logrus"
)

// AlertLevel classifies how urgent a drift report is.
type AlertLevel string

const (
	AlertHigh    AlertLevel = "high"
	AlertMedium  AlertLevel = "medium"
	AlertLow     AlertLevel = "low"
	AlertUnknown AlertLevel = "unknown"
)

// Recommendation strings per alert level.
const (
	recommendHigh    = "Consider investigating recent data and retraining models"
	recommendMedium  = "Monitor closely, drift may be emerging"
	recommendLow     = "No action needed"
	recommendUnknown = "Not enough recent predictions to evaluate drift"
)

// Report is the on-demand drift snapshot. It is recomputed per call and
// never persisted as primary state.
type Report struct {
	Timestamp       time.Time   `json:"timestamp"`
	PredictionDrift TestResult  `json:"prediction_drift"`
	TextLength      *TestResult `json:"text_length,omitempty"`
	AlertLevel      AlertLevel  `json:"alert_level"`
	Recommendation  string      `json:"recommendation"`
}

// TextDriftReport compares text characteristics between two windows.
type TextDriftReport struct {
	TextLength          TestResult `json:"text_length"`
	VocabularyDiversity TestResult `json:"vocabulary_diversity"`
	OverallScore        float64    `json:"overall_drift_score"`
	DriftDetected       bool       `json:"drift_detected"`
}

type Config struct {
	Threshold     float64
	SoftThreshold float64
	ReferenceDays int
	CurrentDays   int
}

func DefaultConfig() Config {
	return Config{
		Threshold:     0.05,
		SoftThreshold: 0.1,
		ReferenceDays: 7,
		CurrentDays:   1,
	}
}

// Detector compares reference and current prediction windows. It is
// read-only and side-effect-free; concurrent use needs no coordination.
type Detector struct {
	predictions models.PredictionRepository
	config      Config
	logger      *logrus.Logger
}

func NewDetector(predictions models.PredictionRepository, config Config, logger *logrus.Logger) *Detector {
	if config.Threshold == 0 {
		config = DefaultConfig()
	}
	return &Detector{
		predictions: predictions,
		config:      config,
		logger:      logger,
	}
}

// PredictionDrift compares the label distribution of the reference window
// (default last 7 days) against the current window (default last day).
func (d *Detector) PredictionDrift() (TestResult, error) {
	now := time.Now().UTC()

	refCounts, err := d.labelCounts(now.AddDate(0, 0, -d.config.ReferenceDays), now)
	if err != nil {
		return TestResult{}, err
	}
	curCounts, err := d.labelCounts(now.AddDate(0, 0, -d.config.CurrentDays), now)
	if err != nil {
		return TestResult{}, err
	}

	result := ChiSquareTest(refCounts, curCounts, d.config.Threshold)

	d.logger.WithFields(logrus.Fields{
		"drift_detected": result.DriftDetected,
		"p_value":        result.PValue,
		"reference_size": result.ReferenceSize,
		"current_size":   result.CurrentSize,
	}).Debug("Prediction drift computed")

	return result, nil
}

func (d *Detector) labelCounts(since, until time.Time) (map[string]int64, error) {
	dist, err := d.predictions.LabelDistribution(since, until)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(dist))
	for _, lc := range dist {
		counts[lc.Label] += lc.Count
	}
	return counts, nil
}

// TextLengthDrift runs a KS test over stored per-prediction word counts from
// the two windows.
func (d *Detector) TextLengthDrift() (TestResult, error) {
	now := time.Now().UTC()

	ref, err := d.predictions.TextWordCounts(now.AddDate(0, 0, -d.config.ReferenceDays), now)
	if err != nil {
		return TestResult{}, err
	}
	cur, err := d.predictions.TextWordCounts(now.AddDate(0, 0, -d.config.CurrentDays), now)
	if err != nil {
		return TestResult{}, err
	}

	return KSTest(ref, cur, d.config.Threshold), nil
}

// TextDrift compares text characteristics of two sample sets directly:
// word-count distribution and unique-word ratio.
func (d *Detector) TextDrift(referenceTexts, currentTexts []string) TextDriftReport {
	report := TextDriftReport{
		TextLength:          KSTest(wordCounts(referenceTexts), wordCounts(currentTexts), d.config.Threshold),
		VocabularyDiversity: KSTest(uniqueWordRatios(referenceTexts), uniqueWordRatios(currentTexts), d.config.Threshold),
	}

	var scores []float64
	for _, r := range []TestResult{report.TextLength, report.VocabularyDiversity} {
		if r.Insufficient {
			continue
		}
		if r.DriftDetected {
			scores = append(scores, 1.0)
		} else {
			scores = append(scores, 1-r.PValue)
		}
	}

	if len(scores) > 0 {
		var sum float64
		for _, s := range scores {
			sum += s
		}
		report.OverallScore = sum / float64(len(scores))
	}
	report.DriftDetected = report.OverallScore > 0.5

	return report
}

// GetReport produces the drift snapshot with its derived alert level. The
// level is a pure function of the test outcome: high when drift is detected,
// medium when the p-value sits under the soft boundary, unknown when the
// windows lack data.
func (d *Detector) GetReport() (*Report, error) {
	prediction, err := d.PredictionDrift()
	if err != nil {
		return nil, err
	}

	report := &Report{
		Timestamp:       time.Now().UTC(),
		PredictionDrift: prediction,
	}

	// Text-length drift is advisory; it never blocks the report.
	if textLength, err := d.TextLengthDrift(); err == nil {
		report.TextLength = &textLength
	} else {
		d.logger.WithError(err).Warn("Text length drift unavailable")
	}

	switch {
	case prediction.Insufficient:
		report.AlertLevel = AlertUnknown
		report.Recommendation = recommendUnknown
	case prediction.DriftDetected:
		report.AlertLevel = AlertHigh
		report.Recommendation = recommendHigh
	case prediction.PValue < d.config.SoftThreshold:
		report.AlertLevel = AlertMedium
		report.Recommendation = recommendMedium
	default:
		report.AlertLevel = AlertLow
		report.Recommendation = recommendLow
	}

	return report, nil
}

func wordCounts(texts []string) []float64 {
	counts := make([]float64, 0, len(texts))
	for _, t := range texts {
		if t == "" {
			continue
		}
		counts = append(counts, float64(len(strings.Fields(t))))
	}
	return counts
}

func uniqueWordRatios(texts []string) []float64 {
	ratios := make([]float64, 0, len(texts))
	for _, t := range texts {
		words := strings.Fields(strings.ToLower(t))
		if len(words) == 0 {
			continue
		}
		unique := make(map[string]struct{}, len(words))
		for _, w := range words {
			unique[w] = struct{}{}
		}
		ratios = append(ratios, float64(len(unique))/float64(len(words)))
	}
	return ratios
}
