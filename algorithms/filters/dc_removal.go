package filters

import (
	"fmt"
	"math"
)

// DCRemoval is a one-pole DC blocking filter:
//
//	y[n] = x[n] - x[n-1] + R*y[n-1]
//
// The sampled polarity signal sits on a DC level of about one half, which
// would otherwise own the largest spectral bin when the band-pass is off.
//
// References:
//   - Julius O. Smith III, "Introduction to Digital Filters with Audio Applications"
//     https://ccrma.stanford.edu/~jos/filters/DC_Blocker.html
type DCRemoval struct {
	poleLocation float64 // R parameter (0 < R < 1)

	// State variables
	x1 float64 // Previous input sample x[n-1]
	y1 float64 // Previous output sample y[n-1]
}

// NewDCRemoval creates a DC blocker with the given -3 dB cutoff. The pole
// location uses R = 1 - 2*pi*fc/fs, valid for fc << fs/2.
func NewDCRemoval(sampleRate, cutoffHz float64) (*DCRemoval, error) {
	if err := CheckDCCutoff(sampleRate, cutoffHz); err != nil {
		return nil, err
	}
	return &DCRemoval{poleLocation: 1 - 2*math.Pi*cutoffHz/sampleRate}, nil
}

// CheckDCCutoff reports whether a DC blocker can be built for the cutoff:
// it needs 0 < fc < fs/(2*pi) so that the pole stays inside (0, 1).
func CheckDCCutoff(sampleRate, cutoffHz float64) error {
	if !(sampleRate > 0) || !(cutoffHz > 0) || cutoffHz >= sampleRate/(2*math.Pi) {
		return fmt.Errorf("%w: DC cutoff %v Hz at %v Hz", ErrInvalidBand, cutoffHz, sampleRate)
	}
	return nil
}

// Process applies DC removal to a single sample.
func (dc *DCRemoval) Process(input float64) float64 {
	output := input - dc.x1 + dc.poleLocation*dc.y1
	dc.x1 = input
	dc.y1 = output
	return output
}

// ProcessBuffer filters input from a state primed on its first sample, so a
// constant input yields zeros instead of a decaying step.
func (dc *DCRemoval) ProcessBuffer(input []float64) []float64 {
	output := make([]float64, len(input))
	if len(input) == 0 {
		return output
	}
	dc.x1, dc.y1 = input[0], 0
	for i, sample := range input {
		output[i] = dc.Process(sample)
	}
	return output
}

// Reset clears the filter's internal state.
func (dc *DCRemoval) Reset() {
	dc.x1 = 0.0
	dc.y1 = 0.0
}

// PoleLocation returns R.
func (dc *DCRemoval) PoleLocation() float64 {
	return dc.poleLocation
}

// Response returns the magnitude response at frequency:
// |H(e^jw)| = |1 - e^-jw| / |1 - R*e^-jw|
func (dc *DCRemoval) Response(frequency, sampleRate float64) float64 {
	w := 2.0 * math.Pi * frequency / sampleRate
	z := complex(math.Cos(w), -math.Sin(w))
	h := (1 - z) / (1 - complex(dc.poleLocation, 0)*z)
	return math.Hypot(real(h), imag(h))
}
