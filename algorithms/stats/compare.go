package stats

import (
	"fmt"

	"github.com/CargoCultScientist/E-ENFork/algorithms/common"
)

// Comparison summarises how closely two aligned traces agree.
type Comparison struct {
	Similarity float64 `json:"similarity"` // Pearson correlation in percent
	MAE        float64 `json:"mae"`        // mean absolute error, Hz
	Length     int     `json:"length"`
}

// Compare scores two traces that are already aligned sample for sample.
// Similarity is NaN when either trace is constant.
func Compare(query, reference []float64) (*Comparison, error) {
	if len(query) == 0 {
		return nil, ErrEmptyQuery
	}
	if len(query) != len(reference) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(query), len(reference))
	}

	return &Comparison{
		Similarity: common.Correlation(query, reference) * 100,
		MAE:        common.MeanAbsoluteError(query, reference),
		Length:     len(query),
	}, nil
}
