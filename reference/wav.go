package reference

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/wav"
)

var (
	// ErrInvalidWAV is returned for files go-audio/wav does not recognise.
	ErrInvalidWAV = errors.New("invalid WAV file")
	// ErrNotPCM is returned for WAV files whose samples are not integer PCM,
	// e.g. IEEE float. Open hands those to ffmpeg.
	ErrNotPCM = errors.New("WAV samples are not integer PCM")
)

// wavFormatPCM is the WAVE_FORMAT_PCM format tag.
const wavFormatPCM = 1

// Audio is a decoded mono recording.
type Audio struct {
	Samples    []float64     `json:"-"` // [-1, 1]
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"` // before downmix
	Duration   time.Duration `json:"duration"`
	Source     string        `json:"source"`
}

// Append concatenates other onto a. Both must share a sample rate.
func (a *Audio) Append(other *Audio) error {
	if a.SampleRate != other.SampleRate {
		return fmt.Errorf("cannot append %s at %d Hz to %s at %d Hz", other.Source, other.SampleRate, a.Source, a.SampleRate)
	}
	a.Samples = append(a.Samples, other.Samples...)
	a.Duration += other.Duration
	return nil
}

// DecodeWAV reads a PCM WAV file and downmixes it to mono.
func DecodeWAV(path string) (*Audio, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open reference: %w", err)
	}
	defer f.Close()

	return DecodeWAVReader(filepath.Base(path), f)
}

// DecodeWAVReader decodes WAV data from r.
func DecodeWAVReader(name string, r io.ReadSeeker) (*Audio, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%s: %w", name, ErrInvalidWAV)
	}

	// go-audio reads every format as integers, so float data would decode
	// to garbage without an error
	if decoder.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%s: %w: %w: format tag %d", name, ErrInvalidWAV, ErrNotPCM, decoder.WavAudioFormat)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read samples from %s: %w", name, err)
	}

	channels := int(decoder.NumChans)
	if channels <= 0 {
		return nil, fmt.Errorf("%s: %w: %d channels", name, ErrInvalidWAV, channels)
	}
	bitDepth := int(decoder.BitDepth)
	if bitDepth <= 0 {
		return nil, fmt.Errorf("%s: %w: bit depth %d", name, ErrInvalidWAV, bitDepth)
	}

	// Normalize to [-1.0, 1.0] and average the channels
	maxVal := float64(int(1) << (uint(bitDepth) - 1))
	frames := len(buf.Data) / channels
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += buf.Data[i*channels+c]
		}
		samples[i] = float64(sum) / float64(channels) / maxVal
	}

	rate := int(decoder.SampleRate)
	return &Audio{
		Samples:    samples,
		SampleRate: rate,
		Channels:   channels,
		Duration:   time.Duration(float64(frames) / float64(rate) * float64(time.Second)),
		Source:     name,
	}, nil
}
