package filters

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
)

// ErrInvalidBand is returned for band edges outside (0, Nyquist) or
// reversed edges.
var ErrInvalidBand = errors.New("invalid band-pass edges")

// ErrSignalTooShort is returned when a signal is shorter than the padding
// needed for zero-phase filtering.
var ErrSignalTooShort = errors.New("signal too short for zero-phase filtering")

// BandpassConfig describes a Butterworth band-pass filter.
type BandpassConfig struct {
	Order      int     `json:"order"` // prototype order; the band-pass has twice as many poles
	LowHz      float64 `json:"low_hz"`
	HighHz     float64 `json:"high_hz"`
	SampleRate float64 `json:"sample_rate"`
}

// DefaultBandpassConfig isolates 98-102 Hz, the second harmonic of a 50 Hz
// grid as it appears in lamp flicker.
func DefaultBandpassConfig(sampleRate float64) BandpassConfig {
	return BandpassConfig{
		Order:      4,
		LowHz:      98,
		HighHz:     102,
		SampleRate: sampleRate,
	}
}

// Validate checks the band edges against the Nyquist frequency.
func (c BandpassConfig) Validate() error {
	if c.Order <= 0 {
		return fmt.Errorf("%w: order %d", ErrInvalidBand, c.Order)
	}
	if !(c.SampleRate > 0) {
		return fmt.Errorf("%w: sample rate %v", ErrInvalidBand, c.SampleRate)
	}
	nyquist := c.SampleRate / 2
	if !(c.LowHz > 0) || !(c.HighHz < nyquist) || !(c.LowHz < c.HighHz) {
		return fmt.Errorf("%w: [%v, %v] Hz with Nyquist %v Hz", ErrInvalidBand, c.LowHz, c.HighHz, nyquist)
	}
	return nil
}

// Bandpass is a Butterworth band-pass realised as a cascade of biquads.
//
// The design follows the classic analog route: Butterworth low-pass
// prototype, low-pass to band-pass transform on pre-warped edges, and the
// bilinear transform. Every section has zeros at z = 1 and z = -1.
type Bandpass struct {
	config   BandpassConfig
	sections []Biquad
}

// NewBandpass designs the filter.
func NewBandpass(config BandpassConfig) (*Bandpass, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Bandpass{
		config:   config,
		sections: designButterworthBandpass(config),
	}, nil
}

// Config returns the filter configuration.
func (bp *Bandpass) Config() BandpassConfig {
	return bp.config
}

// Sections returns a copy of the second-order sections with cleared state.
func (bp *Bandpass) Sections() []Biquad {
	out := make([]Biquad, len(bp.sections))
	for i, s := range bp.sections {
		s.Reset()
		out[i] = s
	}
	return out
}

// Response returns the magnitude response of the cascade at frequency Hz.
func (bp *Bandpass) Response(frequency float64) float64 {
	h := complex(1, 0)
	for i := range bp.sections {
		h *= bp.sections[i].Response(frequency, bp.config.SampleRate)
	}
	return cmplx.Abs(h)
}

// Filter runs the cascade once, causally, from rest.
func (bp *Bandpass) Filter(input []float64) []float64 {
	sections := bp.Sections()
	out := input
	for i := range sections {
		out = sections[i].ProcessBuffer(out)
	}
	return out
}

// PadLen is the number of samples mirrored at each end by FiltFilt.
func (bp *Bandpass) PadLen() int {
	return 3 * (2*len(bp.sections) + 1)
}

// FiltFilt applies the filter forward and backward for zero phase shift.
// Both ends are extended by odd reflection and every pass starts from the
// steady state matching its first input sample.
func (bp *Bandpass) FiltFilt(input []float64) ([]float64, error) {
	padLen := bp.PadLen()
	if len(input) <= padLen {
		return nil, fmt.Errorf("%w: %d samples, need more than %d", ErrSignalTooShort, len(input), padLen)
	}

	ext := oddExtend(input, padLen)

	y := bp.runFromSteadyState(ext)
	reverse(y)
	y = bp.runFromSteadyState(y)
	reverse(y)

	return y[padLen : padLen+len(input)], nil
}

func (bp *Bandpass) runFromSteadyState(x []float64) []float64 {
	sections := bp.Sections()

	// each section sees the previous sections' DC gain times x[0]
	scale := x[0]
	for i := range sections {
		z1, z2 := sections[i].steadyState()
		sections[i].SetState(z1*scale, z2*scale)
		scale *= sections[i].DCGain()
	}

	out := x
	for i := range sections {
		out = sections[i].ProcessBuffer(out)
	}
	return out
}

func oddExtend(x []float64, n int) []float64 {
	last := len(x) - 1
	ext := make([]float64, 0, len(x)+2*n)
	for i := n; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := 1; i <= n; i++ {
		ext = append(ext, 2*x[last]-x[last-i])
	}
	return ext
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}

func designButterworthBandpass(c BandpassConfig) []Biquad {
	n := c.Order
	fs2 := 2 * c.SampleRate

	// pre-warped edges in rad/s
	wLo := fs2 * math.Tan(math.Pi*c.LowHz/c.SampleRate)
	wHi := fs2 * math.Tan(math.Pi*c.HighHz/c.SampleRate)
	bw := wHi - wLo
	w0sq := complex(wLo*wHi, 0)

	// low-pass prototype poles on the left half of the unit circle, each
	// mapped to a pair of band-pass poles
	analog := make([]complex128, 0, 2*n)
	for k := 0; k < n; k++ {
		p := cmplx.Exp(complex(0, math.Pi*float64(2*k+n+1)/float64(2*n)))
		a := p * complex(bw/2, 0)
		d := cmplx.Sqrt(a*a - w0sq)
		analog = append(analog, a+d, a-d)
	}

	// bilinear transform; the n analog zeros at s=0 land on z=1 and the
	// remaining n zeros at infinity on z=-1
	gain := complex(math.Pow(bw, float64(n))*math.Pow(fs2, float64(n)), 0)
	digital := make([]complex128, len(analog))
	for i, p := range analog {
		gain /= complex(fs2, 0) - p
		digital[i] = (complex(fs2, 0) + p) / (complex(fs2, 0) - p)
	}

	sections := make([]Biquad, 0, n)
	var realPoles []float64
	for _, p := range digital {
		switch {
		case math.Abs(imag(p)) < 1e-12:
			realPoles = append(realPoles, real(p))
		case imag(p) > 0:
			sections = append(sections, Biquad{
				B0: 1, B1: 0, B2: -1,
				A1: -2 * real(p),
				A2: real(p)*real(p) + imag(p)*imag(p),
			})
		}
	}
	// odd prototype orders leave real poles, always an even count
	for i := 0; i+1 < len(realPoles); i += 2 {
		p1, p2 := realPoles[i], realPoles[i+1]
		sections = append(sections, Biquad{
			B0: 1, B1: 0, B2: -1,
			A1: -(p1 + p2),
			A2: p1 * p2,
		})
	}

	g := real(gain)
	sections[0].B0 *= g
	sections[0].B2 *= g
	return sections
}
