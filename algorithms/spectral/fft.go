package spectral

import (
	"github.com/mjibson/go-dsp/fft"
)

// FFT computes N-point transforms of real frames using mjibson/go-dsp.
type FFT struct {
	size int
}

// NewFFT creates a transform of the given size. A size of 0 means the
// transform length follows the input length.
func NewFFT(size int) *FFT {
	return &FFT{size: size}
}

// Size returns the configured transform length.
func (f *FFT) Size() int {
	return f.size
}

// Compute returns the transform of x, zero-padded (or truncated) to the
// configured size.
func (f *FFT) Compute(x []float64) []complex128 {
	if len(x) == 0 && f.size == 0 {
		return []complex128{}
	}

	n := f.size
	if n == 0 || n == len(x) {
		// mjibson/go-dsp handles all sizes efficiently, including non-power-of-2
		return fft.FFTReal(x)
	}

	padded := make([]float64, n)
	copy(padded, x)
	return fft.FFTReal(padded)
}

// HalfSpectrum returns the non-negative frequency half of a transform: the
// first len(spectrum)/2 bins.
func HalfSpectrum(spectrum []complex128) []complex128 {
	return spectrum[:len(spectrum)/2]
}

// BinFrequency converts a (fractional) bin index to Hz.
func BinFrequency(bin float64, sampleRate float64, size int) float64 {
	return bin * sampleRate / float64(size)
}
