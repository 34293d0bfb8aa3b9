package events

import (
	"fmt"
	"sort"

	"github.com/CargoCultScientist/E-ENFork/logging"
)

// BucketMode selects which events a sampling window collects.
type BucketMode string

const (
	// BucketHalfOpen collects every event in [t, t+Δ). Events stamped exactly
	// at t+Δ belong to the next window.
	BucketHalfOpen BucketMode = "half_open"
	// BucketLatestInstant collects only the events sharing the latest
	// timestamp at or before t+Δ, a sample-and-hold of the most recent instant.
	BucketLatestInstant BucketMode = "latest_instant"
)

// SamplerConfig configures the windowed event sampler.
type SamplerConfig struct {
	FPS              float64    `json:"fps"`
	Width            int        `json:"width"`
	Height           int        `json:"height"`
	ValidateGeometry bool       `json:"validate_geometry"`
	Bucket           BucketMode `json:"bucket"`
}

// DefaultSamplerConfig returns the settings used for 640x480 captures
// sampled at 1 kHz.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		FPS:              1000,
		Width:            640,
		Height:           480,
		ValidateGeometry: false,
		Bucket:           BucketHalfOpen,
	}
}

// Cursor is the position of a traversal over one Stream. It is a plain value:
// every call to NextWindow returns the advanced copy.
//
// Window starts are Origin + Window/fps, never a running sum, so the window
// length stays exact at epoch-scale timestamps.
type Cursor struct {
	Index     int     `json:"index"`
	Origin    float64 `json:"origin"`
	Window    int     `json:"window"`
	Time      float64 `json:"time"`
	Exhausted bool    `json:"exhausted"`
}

// Window is one sampling interval and the events bucketed into it. Events
// aliases the stream's backing slice.
type Window struct {
	Start  float64
	End    float64
	Events []Event
}

// Empty reports whether no event fell into the window.
func (w Window) Empty() bool {
	return len(w.Events) == 0
}

// SamplerState is carried from one stream to the next so that windows stay
// contiguous across file boundaries.
type SamplerState struct {
	Origin      float64 `json:"origin"`
	Windows     int     `json:"windows"` // windows emitted since Origin
	CurrentTime float64 `json:"current_time"`
	Started     bool    `json:"started"`
	Last        float64 `json:"last"`
	HasLast     bool    `json:"has_last"`
}

// Signal is a regularly sampled scalar series.
type Signal struct {
	Samples    []float64 `json:"samples"`
	SampleRate float64   `json:"sample_rate"`
	StartTime  float64   `json:"start_time"`
	Fallbacks  int       `json:"fallbacks"` // windows filled with the previous value
}

// Duration returns the covered time span in seconds.
func (s *Signal) Duration() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(len(s.Samples)) / s.SampleRate
}

// Sampler turns event streams into a fixed-rate signal by reducing each window
// to its dominant polarity.
type Sampler struct {
	config SamplerConfig
	logger logging.Logger
}

// NewSampler validates the configuration and builds a sampler.
func NewSampler(config SamplerConfig) (*Sampler, error) {
	if !(config.FPS > 0) {
		return nil, fmt.Errorf("fps %v: %w", config.FPS, ErrInvalidRate)
	}
	switch config.Bucket {
	case "":
		config.Bucket = BucketHalfOpen
	case BucketHalfOpen, BucketLatestInstant:
	default:
		return nil, fmt.Errorf("unknown bucket mode %q", config.Bucket)
	}
	if config.ValidateGeometry && (config.Width <= 0 || config.Height <= 0) {
		return nil, fmt.Errorf("invalid sensor geometry %dx%d", config.Width, config.Height)
	}

	return &Sampler{
		config: config,
		logger: logging.WithFields(logging.Fields{
			"component": "event_sampler",
			"fps":       config.FPS,
			"bucket":    string(config.Bucket),
		}),
	}, nil
}

// Config returns the sampler configuration.
func (s *Sampler) Config() SamplerConfig {
	return s.config
}

// Begin returns a cursor positioned at the first event of the stream.
func (s *Sampler) Begin(stream *Stream) Cursor {
	return Cursor{Index: 0, Origin: stream.BeginTime, Time: stream.BeginTime}
}

// clock returns the start of window n counted from origin.
func (s *Sampler) clock(origin float64, n int) float64 {
	return origin + float64(n)/s.config.FPS
}

// NextWindow cuts the window starting at cur.Time and returns it with the
// advanced cursor. Once cur.Time+Δ passes the stream's final timestamp the
// returned cursor is exhausted and the window must be ignored; a trailing
// partial window is never produced.
func (s *Sampler) NextWindow(stream *Stream, cur Cursor) (Window, Cursor) {
	if cur.Exhausted || s.clock(cur.Origin, cur.Window+1) > stream.FinalTime {
		cur.Exhausted = true
		return Window{Start: cur.Time, End: cur.Time}, cur
	}

	if s.config.Bucket == BucketLatestInstant {
		return s.latestInstant(stream, cur)
	}
	return s.halfOpen(stream, cur)
}

func (s *Sampler) halfOpen(stream *Stream, cur Cursor) (Window, Cursor) {
	evs := stream.Events
	finish := s.clock(cur.Origin, cur.Window+1)

	i := cur.Index
	for i < len(evs) && evs[i].Timestamp < cur.Time {
		i++
	}
	j := i
	for j < len(evs) && evs[j].Timestamp < finish {
		j++
	}

	w := Window{Start: cur.Time, End: finish, Events: evs[i:j]}
	return w, Cursor{Index: j, Origin: cur.Origin, Window: cur.Window + 1, Time: finish}
}

func (s *Sampler) latestInstant(stream *Stream, cur Cursor) (Window, Cursor) {
	evs := stream.Events
	start := cur.Time
	end := s.clock(cur.Origin, cur.Window+1)
	finish := max(end, stream.BeginTime)

	last := sort.Search(len(evs), func(i int) bool { return evs[i].Timestamp > finish }) - 1
	first := last
	for first > 0 && evs[first-1].Timestamp == evs[last].Timestamp {
		first--
	}

	w := Window{Start: start, End: finish, Events: evs[first : last+1]}
	return w, Cursor{Index: last + 1, Origin: cur.Origin, Window: cur.Window + 1, Time: end}
}

// Sample walks one stream from the carried state and returns its samples
// together with the state to hand to the next stream.
func (s *Sampler) Sample(stream *Stream, state SamplerState) (*Signal, SamplerState, error) {
	if err := s.validateGeometry(stream); err != nil {
		return nil, state, err
	}

	if !state.Started {
		state.Origin = stream.BeginTime
		state.Windows = 0
		state.Started = true
	}
	state.CurrentTime = s.clock(state.Origin, state.Windows)

	signal := &Signal{
		SampleRate: s.config.FPS,
		StartTime:  state.CurrentTime,
	}

	cur := Cursor{Origin: state.Origin, Window: state.Windows, Time: state.CurrentTime}
	for {
		var w Window
		w, cur = s.NextWindow(stream, cur)
		if cur.Exhausted {
			break
		}

		if w.Empty() {
			if !state.HasLast {
				return nil, state, fmt.Errorf("%s: window [%f, %f): %w", stream.Name, w.Start, w.End, ErrNoFallback)
			}
			signal.Samples = append(signal.Samples, state.Last)
			signal.Fallbacks++
		} else {
			v := float64(DominantPolarity(w.Events))
			signal.Samples = append(signal.Samples, v)
			state.Last = v
			state.HasLast = true
		}
		state.Windows = cur.Window
		state.CurrentTime = cur.Time
	}

	s.logger.Debug("Stream sampled", logging.Fields{
		"stream":    stream.Name,
		"events":    stream.Size(),
		"windows":   len(signal.Samples),
		"fallbacks": signal.Fallbacks,
	})

	return signal, state, nil
}

func (s *Sampler) validateGeometry(stream *Stream) error {
	if !s.config.ValidateGeometry {
		return nil
	}
	for i, e := range stream.Events {
		if e.X < 0 || e.X >= s.config.Width || e.Y < 0 || e.Y >= s.config.Height {
			return fmt.Errorf("%s: event %d at (%d,%d) on %dx%d sensor: %w",
				stream.Name, i, e.X, e.Y, s.config.Width, s.config.Height, ErrOutOfBounds)
		}
	}
	return nil
}

// DominantPolarity returns the most frequent polarity among events. Ties
// resolve to 0. It returns 0 for an empty slice.
func DominantPolarity(evs []Event) uint8 {
	var on int
	for _, e := range evs {
		if e.Polarity != 0 {
			on++
		}
	}
	if on > len(evs)-on {
		return 1
	}
	return 0
}
