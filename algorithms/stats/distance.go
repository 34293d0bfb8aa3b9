package stats

import (
	"fmt"
	"strings"

	"github.com/CargoCultScientist/E-ENFork/algorithms/common"
)

// Metric selects how a reference segment is scored against the query.
type Metric string

const (
	// MetricDistance scores by Euclidean distance divided by the query
	// length; lower is better.
	MetricDistance Metric = "distance"
	// MetricCorrelation scores by Pearson correlation; higher is better.
	MetricCorrelation Metric = "correlation"
)

// ParseMetric maps a config string onto a Metric.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case MetricDistance, "mmse", "euclidean":
		return MetricDistance, nil
	case MetricCorrelation, "pcc", "pearson":
		return MetricCorrelation, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
	}
}

// ScoreFunction scores one reference segment against the query. Both slices
// have the same length.
type ScoreFunction func(segment, query []float64) float64

// GetScoreFunction returns the score function for the metric.
func GetScoreFunction(metric Metric) (ScoreFunction, error) {
	switch metric {
	case MetricDistance:
		return MeanDistanceScore, nil
	case MetricCorrelation:
		return CorrelationScore, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}
}

// Better reports whether score a beats score b under the metric. It is
// strict, so the earlier of two equal scores wins a scan.
func (m Metric) Better(a, b float64) bool {
	if m == MetricCorrelation {
		return a > b
	}
	return a < b
}

// MeanDistanceScore returns ||segment - query||_2 / len(query).
func MeanDistanceScore(segment, query []float64) float64 {
	return common.EuclideanDistance(segment, query) / float64(len(query))
}

// CorrelationScore returns the Pearson correlation of segment and query, NaN
// when either is constant.
func CorrelationScore(segment, query []float64) float64 {
	return common.Correlation(segment, query)
}
