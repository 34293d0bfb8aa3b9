package stats

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// QuartileInfo contains quartile-specific information
type QuartileInfo struct {
	Q1  float64 `json:"q1"`  // First quartile (25th percentile)
	Q2  float64 `json:"q2"`  // Second quartile (50th percentile, median)
	Q3  float64 `json:"q3"`  // Third quartile (75th percentile)
	IQR float64 `json:"iqr"` // Interquartile range (Q3 - Q1)
}

// TraceSummary describes the spread of a frequency trace.
type TraceSummary struct {
	Count     int          `json:"count"`
	Mean      float64      `json:"mean"`
	StdDev    float64      `json:"std_dev"`
	Min       float64      `json:"min"`
	Max       float64      `json:"max"`
	Quartiles QuartileInfo `json:"quartiles"`

	// Outliers counts values outside [Q1 - 1.5*IQR, Q3 + 1.5*IQR].
	Outliers int `json:"outliers"`
}

// Summarize returns summary statistics of values, or ErrEmptyQuery for an
// empty trace. Quartiles are empirical: the lowest value at or above the
// requested fraction of samples.
func Summarize(values []float64) (*TraceSummary, error) {
	if len(values) == 0 {
		return nil, ErrEmptyQuery
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mean, std := stat.MeanStdDev(sorted, nil)
	if len(sorted) == 1 {
		std = 0
	}

	q1 := stat.Quantile(0.25, stat.Empirical, sorted, nil)
	q2 := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	q3 := stat.Quantile(0.75, stat.Empirical, sorted, nil)
	iqr := q3 - q1

	lo, hi := q1-1.5*iqr, q3+1.5*iqr
	outliers := 0
	for _, v := range sorted {
		if v < lo || v > hi {
			outliers++
		}
	}

	return &TraceSummary{
		Count:     len(sorted),
		Mean:      mean,
		StdDev:    std,
		Min:       floats.Min(sorted),
		Max:       floats.Max(sorted),
		Quartiles: QuartileInfo{Q1: q1, Q2: q2, Q3: q3, IQR: iqr},
		Outliers:  outliers,
	}, nil
}
