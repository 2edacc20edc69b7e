package drift

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// minKSSamples is the smallest per-side sample size the KS test accepts.
const minKSSamples = 5

// TestResult holds the outcome of one statistical comparison.
type TestResult struct {
	DriftDetected bool    `json:"drift_detected"`
	Statistic     float64 `json:"statistic,omitempty"`
	PValue        float64 `json:"p_value,omitempty"`
	Threshold     float64 `json:"threshold,omitempty"`
	ReferenceSize int     `json:"reference_size"`
	CurrentSize   int     `json:"current_size"`
	Insufficient  bool    `json:"insufficient,omitempty"`
	Reason        string  `json:"reason,omitempty"`
}

// ChiSquareTest compares a current categorical count table against a
// reference one. Reference counts are normalized into proportions and scaled
// to the current total to form expected counts, then a goodness-of-fit test
// is run on the actual current counts.
func ChiSquareTest(reference, current map[string]int64, threshold float64) TestResult {
	categories := make(map[string]struct{})
	for c := range reference {
		categories[c] = struct{}{}
	}
	for c := range current {
		categories[c] = struct{}{}
	}

	var totalRef, totalCur int64
	for _, v := range reference {
		totalRef += v
	}
	for _, v := range current {
		totalCur += v
	}

	if totalRef == 0 || totalCur == 0 {
		return TestResult{
			Insufficient:  true,
			Reason:        "insufficient data",
			ReferenceSize: int(totalRef),
			CurrentSize:   int(totalCur),
		}
	}

	df := len(categories) - 1
	if df <= 0 {
		return TestResult{
			Insufficient:  true,
			Reason:        "fewer than two categories",
			ReferenceSize: int(totalRef),
			CurrentSize:   int(totalCur),
		}
	}

	var statistic float64
	for c := range categories {
		expected := float64(reference[c]) / float64(totalRef) * float64(totalCur)
		observed := float64(current[c])
		if expected == 0 {
			continue
		}
		statistic += (observed - expected) * (observed - expected) / expected
	}

	pValue := 1 - distuv.ChiSquared{K: float64(df)}.CDF(statistic)

	return TestResult{
		DriftDetected: pValue < threshold,
		Statistic:     statistic,
		PValue:        pValue,
		Threshold:     threshold,
		ReferenceSize: int(totalRef),
		CurrentSize:   int(totalCur),
	}
}

// KSTest runs a two-sample Kolmogorov-Smirnov test between reference and
// current numeric samples. Either side below minKSSamples reports
// insufficient data instead of a drift claim.
func KSTest(reference, current []float64, threshold float64) TestResult {
	if len(reference) < minKSSamples || len(current) < minKSSamples {
		return TestResult{
			Insufficient:  true,
			Reason:        "insufficient samples",
			ReferenceSize: len(reference),
			CurrentSize:   len(current),
		}
	}

	ref := append([]float64(nil), reference...)
	cur := append([]float64(nil), current...)
	sort.Float64s(ref)
	sort.Float64s(cur)

	statistic := ksStatistic(ref, cur)
	pValue := ksPValue(statistic, len(ref), len(cur))

	return TestResult{
		DriftDetected: pValue < threshold,
		Statistic:     statistic,
		PValue:        pValue,
		Threshold:     threshold,
		ReferenceSize: len(ref),
		CurrentSize:   len(cur),
	}
}

// ksStatistic walks both sorted samples and returns the supremum distance
// between their empirical CDFs.
func ksStatistic(a, b []float64) float64 {
	var i, j int
	var d float64
	na, nb := float64(len(a)), float64(len(b))

	for i < len(a) && j < len(b) {
		// Advance both sides past the tied value before measuring, otherwise
		// ties inflate the supremum.
		v := math.Min(a[i], b[j])
		for i < len(a) && a[i] == v {
			i++
		}
		for j < len(b) && b[j] == v {
			j++
		}
		diff := math.Abs(float64(i)/na - float64(j)/nb)
		if diff > d {
			d = diff
		}
	}

	return d
}

// ksPValue approximates the two-sided p-value with the Kolmogorov asymptotic
// series, the same approximation scipy uses for large samples.
func ksPValue(statistic float64, n1, n2 int) float64 {
	ne := float64(n1) * float64(n2) / float64(n1+n2)
	lambda := (math.Sqrt(ne) + 0.12 + 0.11/math.Sqrt(ne)) * statistic

	if lambda <= 0 {
		return 1
	}

	var sum float64
	sign := 1.0
	for j := 1; j <= 100; j++ {
		term := sign * math.Exp(-2*float64(j)*float64(j)*lambda*lambda)
		sum += term
		if math.Abs(term) < 1e-10 {
			break
		}
		sign = -sign
	}

	p := 2 * sum
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
