package enf

import (
	"errors"
	"fmt"

	"github.com/CargoCultScientist/E-ENFork/algorithms/filters"
	"github.com/CargoCultScientist/E-ENFork/algorithms/stats"
	"github.com/CargoCultScientist/E-ENFork/events"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid pipeline config")

// BandpassSettings configures the pre-filter applied to the sampled signal.
type BandpassSettings struct {
	Enabled bool    `json:"enabled"`
	Order   int     `json:"order"`
	LowHz   float64 `json:"low_hz"`
	HighHz  float64 `json:"high_hz"`
}

// Config holds every pipeline setting.
type Config struct {
	Sampler  events.SamplerConfig `json:"sampler"`
	Bandpass BandpassSettings     `json:"bandpass"`

	// DCCutoffHz enables a DC blocker ahead of estimation. 0 disables it.
	DCCutoffHz float64 `json:"dc_cutoff_hz"`

	// Estimator lengths in seconds, scaled to each signal's own rate.
	WindowSeconds   float64 `json:"window_seconds"`
	HopSeconds      float64 `json:"hop_seconds"`
	NFFTSeconds     float64 `json:"nfft_seconds"`
	LegacyBinOffset bool    `json:"legacy_bin_offset"`

	Smoother filters.SmootherConfig `json:"smoother"`

	// HarmonicDivisor maps the flicker frequency back to the grid frequency.
	HarmonicDivisor float64 `json:"harmonic_divisor"`

	Metric  stats.Metric `json:"metric"`
	Workers int          `json:"workers"` // 0 = one per CPU
}

// DefaultConfig returns the settings for 1 kHz captures of a 50 Hz grid.
func DefaultConfig() Config {
	return Config{
		Sampler: events.DefaultSamplerConfig(),
		Bandpass: BandpassSettings{
			Enabled: true,
			Order:   4,
			LowHz:   98,
			HighHz:  102,
		},
		WindowSeconds:   16,
		HopSeconds:      1,
		NFFTSeconds:     200,
		Smoother:        filters.DefaultSmootherConfig(),
		HarmonicDivisor: 2,
		Metric:          stats.MetricDistance,
		Workers:         0,
	}
}

// Validate rejects settings no stage can run with.
func (c Config) Validate() error {
	if !(c.Sampler.FPS > 0) {
		return fmt.Errorf("%w: fps %v", ErrInvalidConfig, c.Sampler.FPS)
	}
	if !(c.WindowSeconds > 0) || !(c.HopSeconds > 0) {
		return fmt.Errorf("%w: window %vs, hop %vs", ErrInvalidConfig, c.WindowSeconds, c.HopSeconds)
	}
	if c.NFFTSeconds < c.WindowSeconds {
		return fmt.Errorf("%w: transform %vs shorter than window %vs", ErrInvalidConfig, c.NFFTSeconds, c.WindowSeconds)
	}
	if !(c.HarmonicDivisor > 0) {
		return fmt.Errorf("%w: harmonic divisor %v", ErrInvalidConfig, c.HarmonicDivisor)
	}
	if c.DCCutoffHz < 0 {
		return fmt.Errorf("%w: DC cutoff %v", ErrInvalidConfig, c.DCCutoffHz)
	}
	if c.DCCutoffHz > 0 {
		if err := filters.CheckDCCutoff(c.Sampler.FPS, c.DCCutoffHz); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers %d", ErrInvalidConfig, c.Workers)
	}
	if _, err := stats.ParseMetric(string(c.Metric)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Smoother.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Bandpass.Enabled {
		if err := c.bandpassConfig().Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

// Fingerprint identifies the estimator settings a reference trace depends on.
func (c Config) Fingerprint() string {
	return fmt.Sprintf("w%g-h%g-n%g-legacy%t", c.WindowSeconds, c.HopSeconds, c.NFFTSeconds, c.LegacyBinOffset)
}

func (c Config) bandpassConfig() filters.BandpassConfig {
	return filters.BandpassConfig{
		Order:      c.Bandpass.Order,
		LowHz:      c.Bandpass.LowHz,
		HighHz:     c.Bandpass.HighHz,
		SampleRate: c.Sampler.FPS,
	}
}
