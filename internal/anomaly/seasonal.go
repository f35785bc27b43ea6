package anomaly

import (
	"math"
	"time"
)

// seasonalBaseline fits an additive or multiplicative baseline with daily
// and weekly periodic components, plus a global trend (the overall mean):
// classical decomposition over the raw series, with no forecasting library
// behind it.
func seasonalBaseline(timestamps []time.Time, values []float64, mode SeasonalityMode) (baseline, lower, upper []float64) {
	n := len(values)
	baseline = make([]float64, n)
	lower = make([]float64, n)
	upper = make([]float64, n)

	interval := samplingInterval(timestamps)
	dailyPeriod := periodFor(24*time.Hour, interval)
	weeklyPeriod := periodFor(7*24*time.Hour, interval)

	overallMean := mean(values)

	dailyEffect := periodicEffect(values, dailyPeriod, overallMean)
	weeklyEffect := periodicEffect(values, weeklyPeriod, overallMean)

	for i := range values {
		d := dailyEffect[i%dailyPeriod]
		w := weeklyEffect[i%weeklyPeriod]

		var b float64
		if mode == Multiplicative && overallMean != 0 {
			b = overallMean * (d / overallMean) * (w / overallMean)
		} else {
			b = overallMean + (d - overallMean) + (w - overallMean)
		}
		baseline[i] = b
	}

	// Bounds derive from the residual standard deviation around the fitted
	// baseline.
	resid := make([]float64, n)
	for i := range values {
		resid[i] = values[i] - baseline[i]
	}
	sigma := stddev(resid, mean(resid))
	for i := range values {
		lower[i] = baseline[i] - 2*sigma
		upper[i] = baseline[i] + 2*sigma
	}
	return baseline, lower, upper
}

func samplingInterval(timestamps []time.Time) time.Duration {
	if len(timestamps) < 2 {
		return time.Hour
	}
	d := timestamps[1].Sub(timestamps[0])
	if d <= 0 {
		return time.Hour
	}
	return d
}

func periodFor(cycle, interval time.Duration) int {
	p := int(cycle / interval)
	if p < 1 {
		p = 1
	}
	return p
}

// periodicEffect averages values that share the same phase within the
// period, producing one seasonal mean per phase bucket.
func periodicEffect(values []float64, period int, fallback float64) []float64 {
	sums := make([]float64, period)
	counts := make([]int, period)
	for i, v := range values {
		phase := i % period
		sums[phase] += v
		counts[phase]++
	}
	effect := make([]float64, period)
	for i := range effect {
		if counts[i] == 0 {
			effect[i] = fallback
			continue
		}
		effect[i] = sums[i] / float64(counts[i])
	}
	return effect
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64, m float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}

// rollingMeanStd computes a centered rolling mean/stddev of xs over the
// given window, falling back to the global mean/stddev at the edges where
// a full centered window isn't available.
func rollingMeanStd(xs []float64, window int) (means, stddevs []float64) {
	n := len(xs)
	means = make([]float64, n)
	stddevs = make([]float64, n)

	globalMean := mean(xs)
	globalStd := stddev(xs, globalMean)

	half := window / 2
	for i := range xs {
		lo := i - half
		hi := i + half
		if window%2 == 0 {
			hi--
		}
		if lo < 0 || hi >= n {
			means[i] = globalMean
			stddevs[i] = globalStd
			continue
		}
		slice := xs[lo : hi+1]
		m := mean(slice)
		s := stddev(slice, m)
		means[i] = m
		stddevs[i] = s
	}
	return means, stddevs
}
