// Package config defines the enfmatch configuration and its layered loader.
//
// Keys are flat so that every field maps onto one ENF_ environment variable,
// e.g. window_seconds <- ENF_WINDOW_SECONDS.
package config

import (
	"fmt"
	"time"

	"github.com/CargoCultScientist/E-ENFork/algorithms/filters"
	"github.com/CargoCultScientist/E-ENFork/algorithms/stats"
	"github.com/CargoCultScientist/E-ENFork/enf"
	"github.com/CargoCultScientist/E-ENFork/events"
	"github.com/CargoCultScientist/E-ENFork/logging"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// ReferenceDir holds the hourly reference recordings.
	ReferenceDir string `koanf:"reference_dir"`
	// ReferenceExt is the extension of the reference recordings.
	ReferenceExt string `koanf:"reference_ext"`
	// TimeZone names the location capture timestamps are recorded in.
	TimeZone string `koanf:"time_zone"`

	// DBPath is the SQLite cache file. Empty disables caching.
	DBPath string `koanf:"db_path"`
	// MetricsAddr serves /metrics when set, e.g. ":9100".
	MetricsAddr string `koanf:"metrics_addr"`

	FFmpegPath    string        `koanf:"ffmpeg_path"`
	FFprobePath   string        `koanf:"ffprobe_path"`
	DecodeTimeout time.Duration `koanf:"decode_timeout"`

	// Sampling
	FPS              float64 `koanf:"fps"`
	SensorWidth      int     `koanf:"sensor_width"`
	SensorHeight     int     `koanf:"sensor_height"`
	ValidateGeometry bool    `koanf:"validate_geometry"`
	Bucket           string  `koanf:"bucket"`

	// Pre-filter
	BandpassEnabled bool    `koanf:"bandpass_enabled"`
	BandpassOrder   int     `koanf:"bandpass_order"`
	BandpassLowHz   float64 `koanf:"bandpass_low_hz"`
	BandpassHighHz  float64 `koanf:"bandpass_high_hz"`
	DCCutoffHz      float64 `koanf:"dc_cutoff_hz"`

	// Estimation, lengths in seconds
	WindowSeconds   float64 `koanf:"window_seconds"`
	HopSeconds      float64 `koanf:"hop_seconds"`
	NFFTSeconds     float64 `koanf:"nfft_seconds"`
	LegacyBinOffset bool    `koanf:"legacy_bin_offset"`

	SmootherOrder     int     `koanf:"smoother_order"`
	SmootherThreshold float64 `koanf:"smoother_threshold"`
	HarmonicDivisor   float64 `koanf:"harmonic_divisor"`

	// Matching
	Metric  string `koanf:"metric"`
	Workers int    `koanf:"workers"`
}

// New returns a Config holding the defaults.
func New() *Config {
	p := enf.DefaultConfig()
	return &Config{
		LogLevel:          "info",
		ReferenceDir:      "reference",
		ReferenceExt:      ".wav",
		TimeZone:          "Local",
		DBPath:            "",
		MetricsAddr:       "",
		FFmpegPath:        "ffmpeg",
		FFprobePath:       "ffprobe",
		DecodeTimeout:     5 * time.Minute,
		FPS:               p.Sampler.FPS,
		SensorWidth:       p.Sampler.Width,
		SensorHeight:      p.Sampler.Height,
		ValidateGeometry:  p.Sampler.ValidateGeometry,
		Bucket:            string(p.Sampler.Bucket),
		BandpassEnabled:   p.Bandpass.Enabled,
		BandpassOrder:     p.Bandpass.Order,
		BandpassLowHz:     p.Bandpass.LowHz,
		BandpassHighHz:    p.Bandpass.HighHz,
		DCCutoffHz:        p.DCCutoffHz,
		WindowSeconds:     p.WindowSeconds,
		HopSeconds:        p.HopSeconds,
		NFFTSeconds:       p.NFFTSeconds,
		LegacyBinOffset:   p.LegacyBinOffset,
		SmootherOrder:     p.Smoother.Order,
		SmootherThreshold: p.Smoother.Threshold,
		HarmonicDivisor:   p.HarmonicDivisor,
		Metric:            string(p.Metric),
		Workers:           p.Workers,
	}
}

// PipelineConfig converts c into the pipeline's own configuration.
func (c *Config) PipelineConfig() enf.Config {
	return enf.Config{
		Sampler: events.SamplerConfig{
			FPS:              c.FPS,
			Width:            c.SensorWidth,
			Height:           c.SensorHeight,
			ValidateGeometry: c.ValidateGeometry,
			Bucket:           events.BucketMode(c.Bucket),
		},
		Bandpass: enf.BandpassSettings{
			Enabled: c.BandpassEnabled,
			Order:   c.BandpassOrder,
			LowHz:   c.BandpassLowHz,
			HighHz:  c.BandpassHighHz,
		},
		DCCutoffHz:      c.DCCutoffHz,
		WindowSeconds:   c.WindowSeconds,
		HopSeconds:      c.HopSeconds,
		NFFTSeconds:     c.NFFTSeconds,
		LegacyBinOffset: c.LegacyBinOffset,
		Smoother: filters.SmootherConfig{
			Order:     c.SmootherOrder,
			Threshold: c.SmootherThreshold,
		},
		HarmonicDivisor: c.HarmonicDivisor,
		Metric:          stats.Metric(c.Metric),
		Workers:         c.Workers,
	}
}

// Location resolves TimeZone.
func (c *Config) Location() (*time.Location, error) {
	if c.TimeZone == "" || c.TimeZone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.TimeZone)
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: time zone %q: %w", ErrInvalidConfig, c.TimeZone, err)
	}
	if c.SensorWidth <= 0 || c.SensorHeight <= 0 {
		return fmt.Errorf("%w: sensor %dx%d", ErrInvalidConfig, c.SensorWidth, c.SensorHeight)
	}
	switch events.BucketMode(c.Bucket) {
	case events.BucketHalfOpen, events.BucketLatestInstant:
	default:
		return fmt.Errorf("%w: bucket %q", ErrInvalidConfig, c.Bucket)
	}
	if err := c.PipelineConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
