package filters

import (
	"errors"
	"fmt"
	"math"

	"github.com/CargoCultScientist/E-ENFork/algorithms/common"
)

var (
	// ErrInvalidOrder is returned for a non-positive or even median window.
	ErrInvalidOrder = errors.New("median window order must be positive and odd")
	// ErrInvalidThreshold is returned for a negative or NaN threshold.
	ErrInvalidThreshold = errors.New("outlier threshold must be a non-negative number")
)

// SmootherConfig configures the median outlier filter.
type SmootherConfig struct {
	Order     int     `json:"order"`     // odd median window length
	Threshold float64 `json:"threshold"` // Hz
}

// DefaultSmootherConfig returns a 21-point window with a 0.02 Hz threshold.
func DefaultSmootherConfig() SmootherConfig {
	return SmootherConfig{Order: 21, Threshold: 0.02}
}

// Validate checks the configuration.
func (c SmootherConfig) Validate() error {
	if c.Order <= 0 || c.Order%2 == 0 {
		return fmt.Errorf("%w: %d", ErrInvalidOrder, c.Order)
	}
	if math.IsNaN(c.Threshold) || c.Threshold < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidThreshold, c.Threshold)
	}
	return nil
}

// Smoother replaces samples that stray from their local median by more than
// a threshold and leaves every other sample untouched. It removes impulsive
// outliers without low-pass filtering the trace.
type Smoother struct {
	config SmootherConfig
}

// NewSmoother validates the configuration and builds a smoother.
func NewSmoother(config SmootherConfig) (*Smoother, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Smoother{config: config}, nil
}

// Config returns the smoother configuration.
func (s *Smoother) Config() SmootherConfig {
	return s.config
}

// Median returns the running median of input. The ends are padded by
// replicating the first and last sample (Order-1)/2 times.
func (s *Smoother) Median(input []float64) []float64 {
	order := s.config.Order
	pad := (order - 1) / 2
	padded := common.ReplicatePad(input, pad)

	scratch := make([]float64, order)
	out := make([]float64, len(input))
	for i := range input {
		out[i] = common.OrderStatistic(padded[i:i+order], scratch, pad)
	}
	return out
}

// Smooth returns the corrected trace and how many samples were replaced.
// A sample is kept when |median - sample| <= Threshold.
func (s *Smoother) Smooth(input []float64) ([]float64, int) {
	filtered := s.Median(input)

	out := make([]float64, len(input))
	replaced := 0
	for i, v := range input {
		residual := filtered[i] - v
		if math.Abs(residual) <= s.config.Threshold {
			out[i] = v
		} else {
			out[i] = filtered[i]
			replaced++
		}
	}
	return out, replaced
}
