package common

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Basic numeric helpers shared by the trace algorithms, using gonum where it
// has the primitive.

// Correlation calculates the Pearson correlation coefficient between two
// equal-length series. The result is NaN when either series is constant.
func Correlation(x, y []float64) float64 {
	if len(x) != len(y) || len(x) == 0 {
		return math.NaN()
	}

	return stat.Correlation(x, y, nil)
}

// EuclideanDistance returns ||x - y||_2.
func EuclideanDistance(x, y []float64) float64 {
	return floats.Distance(x, y, 2)
}

// MeanAbsoluteError returns the mean of |x[i] - y[i]|.
func MeanAbsoluteError(x, y []float64) float64 {
	if len(x) != len(y) || len(x) == 0 {
		return math.NaN()
	}
	return floats.Distance(x, y, 1) / float64(len(x))
}

// ReplicatePad extends data by repeating its first and last value pad times
// on each side.
func ReplicatePad(data []float64, pad int) []float64 {
	if len(data) == 0 {
		return []float64{}
	}

	out := make([]float64, 0, len(data)+2*pad)
	for i := 0; i < pad; i++ {
		out = append(out, data[0])
	}
	out = append(out, data...)
	for i := 0; i < pad; i++ {
		out = append(out, data[len(data)-1])
	}
	return out
}

// OrderStatistic returns the k-th smallest element (0-based) of data,
// sorting scratch in place. scratch must have the same length as data.
func OrderStatistic(data, scratch []float64, k int) float64 {
	copy(scratch, data)
	sort.Float64s(scratch)
	return scratch[k]
}

// Clamp constrains a value to a range
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
