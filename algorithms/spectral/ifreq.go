package spectral

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"runtime"
	"slices"
	"sync"

	"github.com/CargoCultScientist/E-ENFork/algorithms/common"
	"github.com/CargoCultScientist/E-ENFork/logging"
)

var (
	// ErrInvalidParams is returned for non-positive sizes or a transform
	// shorter than the window.
	ErrInvalidParams = errors.New("invalid estimator parameters")
	// ErrSignalTooShort is returned when not a single analysis frame fits.
	ErrSignalTooShort = errors.New("signal too short for analysis window")
)

// degenerateTolerance bounds the interpolation denominator relative to the
// peak magnitude below which the correction is not trusted.
const degenerateTolerance = 1e-12

// FrameStatus describes how a frame's frequency estimate was obtained.
type FrameStatus int

const (
	// FrameOK means the peak was interior and the sub-bin correction applied.
	FrameOK FrameStatus = iota
	// FrameEdgePeak means the peak sat on the first or last retained bin; the
	// coarse bin frequency is reported.
	FrameEdgePeak
	// FrameDegenerate means the correction was undefined (zero denominator or
	// non-finite result); the coarse bin frequency is reported.
	FrameDegenerate
)

func (s FrameStatus) String() string {
	switch s {
	case FrameOK:
		return "ok"
	case FrameEdgePeak:
		return "edge_peak"
	case FrameDegenerate:
		return "degenerate"
	default:
		return "unknown"
	}
}

// EstimatorConfig holds the analysis parameters in samples.
type EstimatorConfig struct {
	WindowSize int     `json:"window_size"` // W
	HopSize    int     `json:"hop_size"`    // H
	NFFT       int     `json:"nfft"`        // N >= W
	SampleRate float64 `json:"sample_rate"` // Fs

	// LegacyBinOffset subtracts one bin from every estimate, reproducing
	// traces computed with 1-based bin numbering.
	LegacyBinOffset bool `json:"legacy_bin_offset"`

	// Workers caps the frame worker pool. 0 sizes it from the CPU count.
	Workers int `json:"workers"`
}

// DefaultEstimatorConfig returns 16 s windows, 1 s hops and a 200 s transform
// for the given sample rate.
func DefaultEstimatorConfig(sampleRate float64) EstimatorConfig {
	return EstimatorConfigForSeconds(sampleRate, 16, 1, 200)
}

// EstimatorConfigForSeconds scales window, hop and transform lengths given in
// seconds to the sample rate.
func EstimatorConfigForSeconds(sampleRate, window, hop, nfft float64) EstimatorConfig {
	return EstimatorConfig{
		WindowSize: int(math.Round(window * sampleRate)),
		HopSize:    int(math.Round(hop * sampleRate)),
		NFFT:       int(math.Round(nfft * sampleRate)),
		SampleRate: sampleRate,
	}
}

// Validate checks the configuration.
func (c EstimatorConfig) Validate() error {
	if c.WindowSize <= 0 {
		return fmt.Errorf("%w: window size %d", ErrInvalidParams, c.WindowSize)
	}
	if c.HopSize <= 0 {
		return fmt.Errorf("%w: hop size %d", ErrInvalidParams, c.HopSize)
	}
	if c.NFFT < c.WindowSize {
		return fmt.Errorf("%w: transform size %d shorter than window %d", ErrInvalidParams, c.NFFT, c.WindowSize)
	}
	if c.NFFT < 4 {
		return fmt.Errorf("%w: transform size %d", ErrInvalidParams, c.NFFT)
	}
	if !(c.SampleRate > 0) {
		return fmt.Errorf("%w: sample rate %v", ErrInvalidParams, c.SampleRate)
	}
	return nil
}

// FrequencyTrace is a series of per-frame frequency estimates in Hz.
type FrequencyTrace struct {
	Values []float64     `json:"values"`
	Step   float64       `json:"step"`  // seconds between estimates
	Start  float64       `json:"start"` // time of the first estimate
	Status []FrameStatus `json:"status,omitempty"`
}

// Len returns the number of estimates.
func (t *FrequencyTrace) Len() int {
	return len(t.Values)
}

// LowConfidence counts frames whose status is not FrameOK.
func (t *FrequencyTrace) LowConfidence() int {
	n := 0
	for _, s := range t.Status {
		if s != FrameOK {
			n++
		}
	}
	return n
}

// Scale returns a copy of the trace with every value divided by divisor.
func (t *FrequencyTrace) Scale(divisor float64) *FrequencyTrace {
	out := &FrequencyTrace{
		Values: make([]float64, len(t.Values)),
		Step:   t.Step,
		Start:  t.Start,
		Status: slices.Clone(t.Status),
	}
	for i, v := range t.Values {
		out.Values[i] = v / divisor
	}
	return out
}

// Estimator extracts an instantaneous-frequency trace with sub-bin peak
// interpolation.
type Estimator struct {
	config EstimatorConfig
	fft    *FFT
	logger logging.Logger
}

// NewEstimator validates the configuration and builds an estimator.
func NewEstimator(config EstimatorConfig) (*Estimator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{
		config: config,
		fft:    NewFFT(config.NFFT),
		logger: logging.WithFields(logging.Fields{
			"component": "frequency_estimator",
			"window":    config.WindowSize,
			"hop":       config.HopSize,
			"nfft":      config.NFFT,
		}),
	}, nil
}

// Config returns the estimator configuration.
func (e *Estimator) Config() EstimatorConfig {
	return e.config
}

// NumFrames returns how many frames a signal of n samples produces.
func (e *Estimator) NumFrames(n int) int {
	padded := n + 2*(e.config.WindowSize/2)
	if n == 0 || padded < e.config.WindowSize {
		return 0
	}
	return (padded-e.config.WindowSize)/e.config.HopSize + 1
}

// Estimate computes the frequency trace of signal.
func (e *Estimator) Estimate(signal []float64) (*FrequencyTrace, error) {
	return e.EstimateContext(context.Background(), signal)
}

// EstimateContext is Estimate with cancellation between frames.
//
// The signal is zero-padded by W/2 on both sides and frame i covers padded
// samples [i*H, i*H+W), so frame i is centred on original sample i*H.
func (e *Estimator) EstimateContext(ctx context.Context, signal []float64) (*FrequencyTrace, error) {
	numFrames := e.NumFrames(len(signal))
	if numFrames <= 0 {
		return nil, fmt.Errorf("%w: %d samples, window %d", ErrSignalTooShort, len(signal), e.config.WindowSize)
	}

	w := e.config.WindowSize
	half := w / 2
	padded := make([]float64, len(signal)+2*half)
	copy(padded[half:], signal)

	values := make([]float64, numFrames)
	status := make([]FrameStatus, numFrames)

	numWorkers := e.workerCount(numFrames)
	jobs := make(chan int, numFrames)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for frameIdx := range jobs {
				if ctx.Err() != nil {
					continue
				}
				start := frameIdx * e.config.HopSize
				spectrum := HalfSpectrum(e.fft.Compute(padded[start : start+w]))
				values[frameIdx], status[frameIdx] = e.frameFrequency(spectrum)
			}
		}()
	}

	for frameIdx := 0; frameIdx < numFrames; frameIdx++ {
		jobs <- frameIdx
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trace := &FrequencyTrace{
		Values: values,
		Step:   float64(e.config.HopSize) / e.config.SampleRate,
		Status: status,
	}

	if low := trace.LowConfidence(); low > 0 {
		e.logger.Debug("Low confidence frames", logging.Fields{"frames": numFrames, "low_confidence": low})
	}

	return trace, nil
}

func (e *Estimator) frameFrequency(spectrum []complex128) (float64, FrameStatus) {
	k := PeakBin(spectrum)
	correction, status := InterpolatePeak(spectrum, k)

	bin := float64(k) + correction
	if e.config.LegacyBinOffset {
		bin--
	}
	return BinFrequency(bin, e.config.SampleRate, e.config.NFFT), status
}

// PeakBin returns the index of the largest magnitude, first one on ties.
func PeakBin(spectrum []complex128) int {
	best := 0
	bestMag := -1.0
	for i, v := range spectrum {
		if m := cmplx.Abs(v); m > bestMag {
			best = i
			bestMag = m
		}
	}
	return best
}

// InterpolatePeak returns the sub-bin offset of the peak at bin k from the
// complex values of its neighbours:
//
//	c = -Re[(V[k+1] - V[k-1]) / (2V[k] - V[k+1] - V[k-1])]
//
// The result is clamped to [-1, 1]. Edge and degenerate peaks yield 0.
func InterpolatePeak(spectrum []complex128, k int) (float64, FrameStatus) {
	if k <= 0 || k >= len(spectrum)-1 {
		return 0, FrameEdgePeak
	}

	left, center, right := spectrum[k-1], spectrum[k], spectrum[k+1]
	denom := 2*center - right - left
	if cmplx.Abs(denom) <= degenerateTolerance*cmplx.Abs(center) || cmplx.Abs(denom) == 0 {
		return 0, FrameDegenerate
	}

	c := -real((right - left) / denom)
	if !common.IsFinite(c) {
		return 0, FrameDegenerate
	}
	return common.Clamp(c, -1, 1), FrameOK
}

// workerCount sizes the frame pool from the workload and CPU count.
func (e *Estimator) workerCount(numFrames int) int {
	if e.config.Workers > 0 {
		return min(e.config.Workers, numFrames)
	}

	numCPU := runtime.NumCPU()

	// For small workloads, don't over-parallelize
	if numFrames < 100 {
		return max(1, min(numCPU/2, numFrames))
	}
	if numFrames < 1000 {
		return min(numCPU, 8)
	}
	return numCPU
}
