// Package estimator computes confidence intervals for aggregates estimated from a
// Bernoulli sample with inclusion probability f.
//
// Every row of a scramble is scanned with probability f = relativeSize ×
// scannedRows/scrambleRows, so the Horvitz-Thompson estimators below are unbiased:
//
//	count_hat = n / f                 Var = N(1-f)/f          ≈ count_hat(1-f)/f
//	sum_hat   = Σy / f                Var = Σ_pop y²(1-f)/f   ≈ Σ_sample y²(1-f)/f²
//	avg_hat   = Σy / n                Var ≈ s²/n · (1-f)
//
// For f = 1 (a full-copy scramble scanned completely) every interval collapses to
// the estimate itself.
package estimator

import (
	"math"
)

// CIResult contains confidence interval metadata.
type CIResult struct {
	Estimate        float64 `json:"estimate"`
	StdError        float64 `json:"std_error"`
	ConfidenceLevel float64 `json:"confidence_level"`
	Lower           float64 `json:"ci_low"`
	Upper           float64 `json:"ci_high"`
	SampleFraction  float64 `json:"sample_fraction"`
	RelativeError   float64 `json:"relative_error"`
}

// ZScore returns z for a two-sided confidence level (e.g., 0.95 -> ~1.96).
func ZScore(confidence float64) float64 {
	switch {
	case math.Abs(confidence-0.90) < 1e-9:
		return 1.6448536269514722
	case math.Abs(confidence-0.95) < 1e-9:
		return 1.959963984540054
	case math.Abs(confidence-0.99) < 1e-9:
		return 2.5758293035489004
	case confidence <= 0 || confidence >= 1:
		return 1.959963984540054
	default:
		return math.Sqrt2 * math.Erfinv(confidence)
	}
}

func interval(est, se, f, confidence float64) CIResult {
	z := ZScore(confidence)
	rel := 0.0
	if est != 0 {
		rel = se / math.Abs(est)
	}
	return CIResult{
		Estimate:        est,
		StdError:        se,
		ConfidenceLevel: confidence,
		Lower:           est - z*se,
		Upper:           est + z*se,
		SampleFraction:  f,
		RelativeError:   rel,
	}
}

// CountCI for COUNT scaled from a sample of inclusion probability f.
func CountCI(countSample int64, f float64, confidence float64) CIResult {
	if f <= 0 {
		return CIResult{ConfidenceLevel: confidence}
	}
	est := float64(countSample) / f
	se := math.Sqrt(est*(1-f)) / math.Sqrt(f)
	ci := interval(est, se, f, confidence)
	if ci.Lower < float64(countSample) {
		ci.Lower = float64(countSample)
	}
	return ci
}

// SumCI for SUM scaled from a sample: sumSq is the sample sum of squared values.
func SumCI(sumSample, sumSqSample float64, f float64, confidence float64) CIResult {
	if f <= 0 {
		return CIResult{ConfidenceLevel: confidence}
	}
	est := sumSample / f
	se := math.Sqrt(math.Max(sumSqSample, 0)*(1-f)) / f
	return interval(est, se, f, confidence)
}

// MeanCI for AVG over n sampled values with the given sum and sum of squares.
func MeanCI(sumSample, sumSqSample float64, n int64, f float64, confidence float64) CIResult {
	if n == 0 {
		return CIResult{ConfidenceLevel: confidence, SampleFraction: f}
	}
	mean := sumSample / float64(n)
	variance := 0.0
	if n > 1 {
		variance = (sumSqSample - float64(n)*mean*mean) / float64(n-1)
	}
	se := math.Sqrt(math.Max(variance, 0) / float64(n) * (1 - f))
	return interval(mean, se, f, confidence)
}

// DistinctCI wraps a sketch or GEE distinct-count estimate with a relative
// standard error (HLL: 1.04/√m; GEE: derived from the sampling fraction).
func DistinctCI(est float64, relStdErr float64, f float64, confidence float64) CIResult {
	return interval(est, est*relStdErr, f, confidence)
}

// GEE is the guaranteed-error estimator for the number of distinct values:
// sqrt(1/f)·f1 + Σ_{j≥2} f_j where freq holds each sampled value's multiplicity.
// Its ratio error is bounded by sqrt(1/f).
func GEE(freq []int64, f float64) float64 {
	if f <= 0 {
		return 0
	}
	var singletons, rest float64
	for _, c := range freq {
		if c == 1 {
			singletons++
		} else if c > 1 {
			rest++
		}
	}
	return math.Sqrt(1/f)*singletons + rest
}

// GEECI bounds a GEE estimate by its guaranteed ratio error sqrt(1/f).
func GEECI(freq []int64, f float64, confidence float64) CIResult {
	est := GEE(freq, f)
	if f <= 0 {
		return CIResult{ConfidenceLevel: confidence}
	}
	r := math.Sqrt(1 / f)
	ci := CIResult{
		Estimate:        est,
		ConfidenceLevel: confidence,
		Lower:           est / r,
		Upper:           est * r,
		SampleFraction:  f,
	}
	ci.StdError = (ci.Upper - ci.Lower) / (2 * ZScore(confidence))
	if est != 0 {
		ci.RelativeError = ci.StdError / est
	}
	return ci
}

// FrequencyCI for a Count-Min point query: the sketch never underestimates and
// overestimates by at most bound with the sketch's confidence.
func FrequencyCI(est, bound uint64, confidence float64) CIResult {
	lower := 0.0
	if est > bound {
		lower = float64(est - bound)
	}
	ci := CIResult{
		Estimate:        float64(est),
		StdError:        float64(bound) / 2,
		ConfidenceLevel: confidence,
		Lower:           lower,
		Upper:           float64(est),
		SampleFraction:  1,
	}
	if est != 0 {
		ci.RelativeError = float64(bound) / float64(est)
	}
	return ci
}
