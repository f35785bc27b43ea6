package anomaly

import (
	"math"
	"time"
)

// generateSyntheticMetrics builds an hourly series with daily and weekly
// seasonality around the given base level, for detector tests that need a
// realistic operational metric rather than a flat line.
func generateSyntheticMetrics(n int, start time.Time, base, dailyAmp, weeklyAmp float64) ([]time.Time, []float64) {
	timestamps := make([]time.Time, n)
	values := make([]float64, n)
	for i := 0; i < n; i++ {
		timestamps[i] = start.Add(time.Duration(i) * time.Hour)
		daily := dailyAmp * math.Sin(2*math.Pi*float64(i)/24)
		weekly := weeklyAmp * math.Sin(2*math.Pi*float64(i)/(24*7))
		values[i] = base + daily + weekly
	}
	return timestamps, values
}

// injectSpike overwrites one point with an outlier value, returning its
// timestamp for assertions.
func injectSpike(timestamps []time.Time, values []float64, idx int, value float64) time.Time {
	values[idx] = value
	return timestamps[idx]
}
