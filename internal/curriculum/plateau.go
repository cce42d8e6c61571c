package curriculum

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// #region plateau-result
// PlateauResult is one evaluation of the plateau detector.
type PlateauResult struct {
	Confidence  float64
	Trend       float64
	Stability   float64
	Performance float64
	Windows     int // full trend windows that contributed
}
// #endregion plateau-result

// #region detector
// DetectPlateau scores how settled the composite-score history is. scores is
// oldest first; coupling is the coupling-ratio history. Trend consistency is
// averaged over every short/medium/long window that is full; a coupling ratio
// still falling faster than the tolerance halves it.
func DetectPlateau(scores, coupling []float64, cfg PlateauConfig) PlateauResult {
	var res PlateauResult

	var trendSum float64
	for _, size := range []int{cfg.ShortWindow, cfg.MediumWindow, cfg.LongWindow} {
		if size < 2 || len(scores) < size {
			continue
		}
		trendSum += trendConsistency(scores[len(scores)-size:], cfg.TrendTolerance)
		res.Windows++
	}
	if res.Windows > 0 {
		res.Trend = trendSum / float64(res.Windows)
	}
	if n := cfg.MediumWindow; n >= 2 && len(coupling) >= n {
		if drift := relativeDrift(coupling[len(coupling)-n:]); drift < -cfg.TrendTolerance {
			res.Trend *= 0.5
		}
	}

	if n := cfg.MediumWindow; n > 0 && len(scores) >= n {
		recent := scores[len(scores)-n:]
		mean, std := stat.PopMeanStdDev(recent, nil)
		cv := 0.0
		if mean != 0 {
			cv = std / math.Abs(mean)
		}
		ref := cfg.StabilityCVRef
		if ref <= 0 {
			ref = 1
		}
		res.Stability = 1 - math.Min(cv/ref, 1)
		res.Performance = mean
	}

	res.Confidence = cfg.TrendWeight*res.Trend +
		cfg.StabilityWeight*res.Stability +
		cfg.PerformanceWeight*res.Performance
	return res
}

// trendConsistency is 1 for a flat series, falling to 0 once the fitted
// drift across the window reaches tol relative to the mean.
func trendConsistency(ys []float64, tol float64) float64 {
	if tol <= 0 {
		tol = 1
	}
	return 1 - math.Min(math.Abs(relativeDrift(ys))/tol, 1)
}

// relativeDrift is the least-squares slope times the window length over the
// absolute mean.
func relativeDrift(ys []float64) float64 {
	xs := make([]float64, len(ys))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, ys, nil, false)
	mean := stat.Mean(ys, nil)
	return slope * float64(len(ys)) / (math.Abs(mean) + 1e-8)
}
// #endregion detector
