package events

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyStream is returned when a stream is built from zero events.
	ErrEmptyStream = errors.New("event stream is empty")
	// ErrMalformedLine is returned by the text loader for unparsable lines.
	ErrMalformedLine = errors.New("malformed event line")
	// ErrOutOfOrder is returned by the text loader when timestamps decrease.
	ErrOutOfOrder = errors.New("event timestamps are not sorted")
	// ErrOutOfBounds is returned when geometry validation finds a pixel outside the sensor.
	ErrOutOfBounds = errors.New("event outside sensor geometry")
	// ErrInvalidRate is returned for a non-positive sampling rate.
	ErrInvalidRate = errors.New("sampling rate must be positive")
	// ErrNoFallback is returned when the very first window is empty.
	ErrNoFallback = errors.New("empty window with no previous value to fall back on")
)

// Event is a single brightness change reported by the sensor.
type Event struct {
	Timestamp float64 `json:"t"` // seconds
	X         int     `json:"x"`
	Y         int     `json:"y"`
	Polarity  uint8   `json:"p"` // 0 or 1
}

// Stream is an ordered, read-only run of events, typically one file segment
// of a capture.
type Stream struct {
	Name      string
	Events    []Event
	BeginTime float64
	FinalTime float64
}

// NewStream wraps events that are already sorted by timestamp. The slice is
// not copied and must not be modified afterwards.
func NewStream(name string, events []Event) (*Stream, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrEmptyStream)
	}
	return &Stream{
		Name:      name,
		Events:    events,
		BeginTime: events[0].Timestamp,
		FinalTime: events[len(events)-1].Timestamp,
	}, nil
}

// Size returns the number of events in the stream.
func (s *Stream) Size() int {
	return len(s.Events)
}

// Duration returns FinalTime - BeginTime.
func (s *Stream) Duration() float64 {
	return s.FinalTime - s.BeginTime
}
