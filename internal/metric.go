package internal

import (
	"sort"
	"time"
)

// Dimension names a single resource dimension observed on the scale set.
type Dimension string

const (
	DimensionCPU        Dimension = "cpu"
	DimensionMemory     Dimension = "memory"
	DimensionNetworkIn  Dimension = "networkIn"
	DimensionNetworkOut Dimension = "networkOut"
)

// Dimensions lists all known dimensions in the order they appear in prompts
// and logs. Map iteration order is randomized in Go, so anything user-visible
// iterates over this slice instead.
var Dimensions = []Dimension{DimensionCPU, DimensionMemory, DimensionNetworkIn, DimensionNetworkOut}

// MetricSample is a single observed value. Samples arrive in no particular
// order and are sorted before any trend analysis.
type MetricSample struct {
	Timestamp time.Time
	Value     float64
}

// MetricSeries is the set of samples for one dimension. An empty series is
// valid and means "no data", not an error.
type MetricSeries []MetricSample

// sorted returns a copy of the series ordered by ascending timestamp. The
// receiver is never mutated so that callers can hold on to the raw snapshot.
func (s MetricSeries) sorted() MetricSeries {
	out := make(MetricSeries, len(s))
	copy(out, s)

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	return out
}

// Trend classifies the direction a metric series is moving in.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// MetricDigest is the compact statistical summary of one series for one
// decision cycle. Current and Average are nil when the series was empty.
type MetricDigest struct {
	Current *float64
	Average *float64
	Trend   Trend
}
