package strategy

import (
	"math"
)

// RSI 相对强弱指标. Gains and losses over the trailing period deltas are averaged
// separately (simple mean). A window with only gains gives 100, only losses gives 0,
// a flat window has no defined value.
func RSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}
	window := closes[len(closes)-period-1:]

	var gain, loss float64
	for i := 1; i < len(window); i++ {
		delta := window[i] - window[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)

	// avgLoss == 0 makes rs +Inf (rsi 100) or NaN when avgGain is also 0
	rs := avgGain / avgLoss
	rsi := 100 - 100/(1+rs)
	if !isFinite(rsi) {
		return 0, false
	}
	return rsi, true
}

// Correlation is the Pearson coefficient of the trailing window values of a and b.
// Both slices must be aligned on the same timestamps.
func Correlation(a, b []float64, window int) (float64, bool) {
	if window < 2 || len(a) < window || len(b) < window {
		return 0, false
	}
	xa := a[len(a)-window:]
	xb := b[len(b)-window:]

	var meanA, meanB float64
	for i := 0; i < window; i++ {
		meanA += xa[i]
		meanB += xb[i]
	}
	meanA /= float64(window)
	meanB /= float64(window)

	var cov, varA, varB float64
	for i := 0; i < window; i++ {
		da := xa[i] - meanA
		db := xb[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}

	corr := cov / math.Sqrt(varA*varB)
	if !isFinite(corr) {
		return 0, false
	}
	// rounding can push |corr| marginally past 1
	return math.Max(-1, math.Min(1, corr)), true
}

// RSISeries evaluates RSI at every position using the same trailing window the
// live path uses. Positions without a value are NaN.
func RSISeries(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	for i := range closes {
		v, ok := RSI(closes[:i+1], period)
		if !ok {
			v = math.NaN()
		}
		out[i] = v
	}
	return out
}

// CorrelationSeries is the rolling counterpart of Correlation. NaN marks gaps.
func CorrelationSeries(a, b []float64, window int) []float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		v, ok := Correlation(a[:i+1], b[:i+1], window)
		if !ok {
			v = math.NaN()
		}
		out[i] = v
	}
	return out
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
