package internal

import "math"

// trendThresholdPercent is the minimum percent change between the earlier and
// later half of a series before it is classified as moving. The source data
// is noisy enough that smaller swings are indistinguishable from jitter.
const trendThresholdPercent = 10.0

// Summarize reduces a series to its digest: most recent value, arithmetic
// mean, and trend. It never fails; an empty series produces a digest with no
// values and a stable trend.
func Summarize(series MetricSeries) MetricDigest {
	if len(series) == 0 {
		return MetricDigest{Trend: TrendStable}
	}

	chronological := series.sorted()

	current := chronological[len(chronological)-1].Value

	var sum float64
	for _, sample := range chronological {
		sum += sample.Value
	}
	average := sum / float64(len(chronological))

	return MetricDigest{
		Current: &current,
		Average: &average,
		Trend:   classifyTrend(chronological),
	}
}

// classifyTrend splits the chronological samples into two halves by count and
// compares their means. A single sample leaves one half empty, which is
// always stable.
func classifyTrend(chronological MetricSeries) Trend {
	half := len(chronological) / 2

	first := chronological[:half]
	second := chronological[half:]

	if len(first) == 0 || len(second) == 0 {
		return TrendStable
	}

	firstMean := mean(first)
	secondMean := mean(second)

	// A zero or non-finite baseline makes the percent change meaningless, so
	// fall back to the sign of the later half instead of dividing by it.
	if firstMean == 0 || math.IsNaN(firstMean) || math.IsInf(firstMean, 0) {
		switch {
		case secondMean > 0:
			return TrendIncreasing
		case secondMean < 0:
			return TrendDecreasing
		default:
			return TrendStable
		}
	}

	percentChange := (secondMean - firstMean) / math.Abs(firstMean) * 100

	switch {
	case percentChange > trendThresholdPercent:
		return TrendIncreasing
	case percentChange < -trendThresholdPercent:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func mean(samples MetricSeries) float64 {
	var sum float64
	for _, sample := range samples {
		sum += sample.Value
	}

	return sum / float64(len(samples))
}
