package engine

import (
	"math"
	"sort"

	"stratum/pkg/domain"
)

// summaryStats - сводная статистика по выборке прогонов
type summaryStats struct {
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
	Median float64
}

// calculateStats считает сводную статистику выборки
func calculateStats(values []float64) summaryStats {
	n := float64(len(values))
	if n == 0 {
		return summaryStats{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum, sumSq float64
	for _, v := range values {
		sum += v
		sumSq += v * v
	}
	mean := sum / n
	variance := sumSq/n - mean*mean
	stdDev := math.Sqrt(math.Max(0, variance))

	return summaryStats{
		Mean:   mean,
		StdDev: stdDev,
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Median: sorted[len(sorted)/2],
	}
}

// confidenceInterval строит доверительный интервал нормального приближения
func confidenceInterval(values []float64, level float64) domain.ConfidenceInterval {
	stats := calculateStats(values)
	n := float64(len(values))
	if n == 0 {
		return domain.ConfidenceInterval{Level: level}
	}

	zScore := 1.96 // 95% CI
	if level > 0 && level < 1 {
		zScore = normalInverse((1 + level) / 2)
	}
	marginOfError := zScore * stats.StdDev / math.Sqrt(n)

	return domain.ConfidenceInterval{
		Level: level,
		Mean:  stats.Mean,
		Lower: stats.Mean - marginOfError,
		Upper: stats.Mean + marginOfError,
	}
}

// calculatePercentiles считает стандартный набор перцентилей
func calculatePercentiles(values []float64) map[string]float64 {
	if len(values) == 0 {
		return nil
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	percentile := func(p float64) float64 {
		idx := int(p / 100 * float64(len(sorted)-1))
		return sorted[idx]
	}

	return map[string]float64{
		"p5":  percentile(5),
		"p25": percentile(25),
		"p50": percentile(50),
		"p75": percentile(75),
		"p95": percentile(95),
	}
}

// failureHistogram раскладывает вероятности отказа узлов по корзинам 0.2
func failureHistogram(probs map[domain.NodeID]float64) map[string]int {
	if len(probs) == 0 {
		return nil
	}

	buckets := []string{"0.0-0.2", "0.2-0.4", "0.4-0.6", "0.6-0.8", "0.8-1.0"}
	hist := make(map[string]int, len(buckets))
	for _, p := range probs {
		idx := int(p / 0.2)
		if idx >= len(buckets) {
			idx = len(buckets) - 1
		}
		hist[buckets[idx]]++
	}
	return hist
}

// normalInverse - обратная функция стандартного нормального распределения
// (рациональная аппроксимация Acklam)
func normalInverse(p float64) float64 {
	a := []float64{-3.969683028665376e+01, 2.209460984245205e+02,
		-2.759285104469687e+02, 1.383577518672690e+02,
		-3.066479806614716e+01, 2.506628277459239e+00}
	b := []float64{-5.447609879822406e+01, 1.615858368580409e+02,
		-1.556989798598866e+02, 6.680131188771972e+01, -1.328068155288572e+01}
	c := []float64{-7.784894002430293e-03, -3.223964580411365e-01,
		-2.400758277161838e+00, -2.549732539343734e+00,
		4.374664141464968e+00, 2.938163982698783e+00}
	d := []float64{7.784695709041462e-03, 3.224671290700398e-01,
		2.445134137142996e+00, 3.754408661907416e+00}

	pLow := 0.02425
	pHigh := 1 - pLow

	var q, r float64
	if p < pLow {
		q = math.Sqrt(-2 * math.Log(p))
		return (((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	} else if p <= pHigh {
		q = p - 0.5
		r = q * q
		return (((((a[0]*r+a[1])*r+a[2])*r+a[3])*r+a[4])*r + a[5]) * q /
			(((((b[0]*r+b[1])*r+b[2])*r+b[3])*r+b[4])*r + 1)
	} else {
		q = math.Sqrt(-2 * math.Log(1-p))
		return -(((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	}
}
