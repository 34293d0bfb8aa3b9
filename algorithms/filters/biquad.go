package filters

import (
	"math"
	"math/cmplx"
)

// Biquad is one second-order section normalised so that a0 = 1.
//
// The difference equation is:
// y[n] = b0*x[n] + b1*x[n-1] + b2*x[n-2] - a1*y[n-1] - a2*y[n-2]
type Biquad struct {
	B0, B1, B2 float64
	A1, A2     float64

	// transposed direct form II state
	z1, z2 float64
}

// Process filters a single sample.
// Uses the transposed Direct Form II for numerical stability.
func (bq *Biquad) Process(input float64) float64 {
	output := bq.B0*input + bq.z1
	bq.z1 = bq.B1*input - bq.A1*output + bq.z2
	bq.z2 = bq.B2*input - bq.A2*output
	return output
}

// ProcessBuffer filters a whole buffer, continuing from the current state.
func (bq *Biquad) ProcessBuffer(input []float64) []float64 {
	output := make([]float64, len(input))
	for i, sample := range input {
		output[i] = bq.Process(sample)
	}
	return output
}

// Reset clears the delay line.
func (bq *Biquad) Reset() {
	bq.z1, bq.z2 = 0, 0
}

// SetState loads the delay line.
func (bq *Biquad) SetState(z1, z2 float64) {
	bq.z1, bq.z2 = z1, z2
}

// DCGain returns H(z=1).
func (bq *Biquad) DCGain() float64 {
	return (bq.B0 + bq.B1 + bq.B2) / (1 + bq.A1 + bq.A2)
}

// steadyState returns the delay line reached after an infinitely long unit
// step input.
func (bq *Biquad) steadyState() (z1, z2 float64) {
	g := bq.DCGain()
	return g - bq.B0, bq.B2 - bq.A2*g
}

// Response evaluates the section's complex frequency response at frequency Hz.
//
// H(e^jw) = (b0 + b1*e^-jw + b2*e^-j2w) / (1 + a1*e^-jw + a2*e^-j2w)
func (bq *Biquad) Response(frequency, sampleRate float64) complex128 {
	w := 2.0 * math.Pi * frequency / sampleRate
	z1 := cmplx.Exp(complex(0, -w))
	z2 := z1 * z1

	num := complex(bq.B0, 0) + complex(bq.B1, 0)*z1 + complex(bq.B2, 0)*z2
	den := 1 + complex(bq.A1, 0)*z1 + complex(bq.A2, 0)*z2
	return num / den
}
