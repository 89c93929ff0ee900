package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"stratum/pkg/domain"
)

func TestCalculateStats(t *testing.T) {
	stats := calculateStats([]float64{2, 4, 4, 4, 5, 5, 7, 9})

	assert.Equal(t, 5.0, stats.Mean)
	assert.Equal(t, 2.0, stats.StdDev)
	assert.Equal(t, 2.0, stats.Min)
	assert.Equal(t, 9.0, stats.Max)

	empty := calculateStats(nil)
	assert.Zero(t, empty.Mean)
	assert.Zero(t, empty.StdDev)
}

func TestConfidenceInterval(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}

	ci := confidenceInterval(values, 0.95)
	assert.Equal(t, 5.0, ci.Mean)
	assert.Less(t, ci.Lower, ci.Mean)
	assert.Greater(t, ci.Upper, ci.Mean)

	// Более высокий уровень доверия даёт более широкий интервал
	wide := confidenceInterval(values, 0.99)
	assert.Greater(t, wide.Upper-wide.Lower, ci.Upper-ci.Lower)

	empty := confidenceInterval(nil, 0.95)
	assert.Zero(t, empty.Mean)
	assert.Equal(t, 0.95, empty.Level)
}

func TestCalculatePercentiles(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i + 1)
	}

	p := calculatePercentiles(values)
	assert.Equal(t, 50.0, p["p50"])
	assert.Less(t, p["p5"], p["p95"])

	assert.Nil(t, calculatePercentiles(nil))
}

func TestFailureHistogram(t *testing.T) {
	hist := failureHistogram(map[domain.NodeID]float64{
		"power":    1.0,
		"pump":     0.85,
		"water":    0.5,
		"clinic":   0.15,
		"hospital": 0.0,
	})

	assert.Equal(t, 2, hist["0.8-1.0"])
	assert.Equal(t, 1, hist["0.4-0.6"])
	assert.Equal(t, 2, hist["0.0-0.2"])

	assert.Nil(t, failureHistogram(nil))
}

func TestNormalInverse(t *testing.T) {
	tests := []struct {
		p    float64
		want float64
	}{
		{0.975, 1.959964},
		{0.995, 2.575829},
		{0.5, 0},
		{0.01, -2.326348},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, normalInverse(tt.p), 1e-3, "normalInverse(%v)", tt.p)
	}

	// Симметрия вокруг медианы
	assert.InDelta(t, 0, normalInverse(0.975)+normalInverse(0.025), 1e-9)
}
