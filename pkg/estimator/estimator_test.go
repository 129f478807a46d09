package estimator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZScore(t *testing.T) {
	assert.InDelta(t, 1.96, ZScore(0.95), 1e-3)
	assert.InDelta(t, 2.576, ZScore(0.99), 1e-3)
	assert.InDelta(t, 1.282, ZScore(0.80), 1e-3)
	assert.InDelta(t, 1.96, ZScore(2), 1e-3)
}

func TestCountCIFullScan(t *testing.T) {
	ci := CountCI(1000, 1.0, 0.95)

	assert.Equal(t, 1000.0, ci.Estimate)
	assert.Equal(t, 0.0, ci.StdError)
	assert.Equal(t, 1000.0, ci.Lower)
	assert.Equal(t, 1000.0, ci.Upper)
}

func TestCountCIHalfSample(t *testing.T) {
	ci := CountCI(500, 0.5, 0.95)

	assert.Equal(t, 1000.0, ci.Estimate)
	// Var = 1000 * 0.5 / 0.5
	assert.InDelta(t, math.Sqrt(1000), ci.StdError, 1e-9)
	assert.True(t, ci.Lower < 1000 && ci.Upper > 1000)
	assert.InDelta(t, ci.StdError/1000, ci.RelativeError, 1e-12)
}

func TestSumAndMeanCI(t *testing.T) {
	// values 1..4
	sum, sumSq := 10.0, 30.0

	full := SumCI(sum, sumSq, 1, 0.95)
	assert.Equal(t, 10.0, full.Estimate)
	assert.Equal(t, 0.0, full.StdError)

	half := SumCI(sum, sumSq, 0.5, 0.95)
	assert.Equal(t, 20.0, half.Estimate)
	assert.InDelta(t, math.Sqrt(15)/0.5, half.StdError, 1e-9)

	mean := MeanCI(sum, sumSq, 4, 0.5, 0.95)
	assert.Equal(t, 2.5, mean.Estimate)
	// sample variance of 1..4 is 5/3
	assert.InDelta(t, math.Sqrt(5.0/3/4*0.5), mean.StdError, 1e-9)

	assert.Equal(t, 0.0, MeanCI(0, 0, 0, 1, 0.95).Estimate)
}

func TestGEE(t *testing.T) {
	freq := []int64{1, 1, 1, 1, 2, 3}

	assert.Equal(t, 6.0, GEE(freq, 1))
	assert.InDelta(t, 2*4+2, GEE(freq, 0.25), 1e-9)
	assert.Equal(t, 0.0, GEE(freq, 0))
}
