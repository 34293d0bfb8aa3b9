package events

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LoadText parses the unpacked capture format: one event per line, four
// whitespace separated fields "<seconds> <x> <y> <polarity>". Blank lines are
// ignored.
func LoadText(name string, r io.Reader) (*Stream, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var evs []Event
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		e, err := parseEventLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", name, lineNo, err)
		}
		if n := len(evs); n > 0 && e.Timestamp < evs[n-1].Timestamp {
			return nil, fmt.Errorf("%s:%d: %.6f after %.6f: %w", name, lineNo, e.Timestamp, evs[n-1].Timestamp, ErrOutOfOrder)
		}
		evs = append(evs, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	return NewStream(name, evs)
}

// LoadTextFile opens path and parses it with LoadText.
func LoadTextFile(path string) (*Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event file: %w", err)
	}
	defer f.Close()

	return LoadText(filepath.Base(path), f)
}

func parseEventLine(line string) (Event, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return Event{}, fmt.Errorf("%w: want 4 fields, got %d", ErrMalformedLine, len(fields))
	}

	ts, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Event{}, fmt.Errorf("%w: timestamp %q", ErrMalformedLine, fields[0])
	}
	x, err := parseCoord(fields[1])
	if err != nil {
		return Event{}, fmt.Errorf("%w: x %q", ErrMalformedLine, fields[1])
	}
	y, err := parseCoord(fields[2])
	if err != nil {
		return Event{}, fmt.Errorf("%w: y %q", ErrMalformedLine, fields[2])
	}

	var p uint8
	switch fields[3] {
	case "0", "0.0", "0.000000":
		p = 0
	case "1", "1.0", "1.000000":
		p = 1
	default:
		return Event{}, fmt.Errorf("%w: polarity %q", ErrMalformedLine, fields[3])
	}

	return Event{Timestamp: ts, X: x, Y: y, Polarity: p}, nil
}

// parseCoord accepts integers, and floats with no fractional part as written
// by numpy savetxt.
func parseCoord(s string) (int, error) {
	if v, err := strconv.Atoi(s); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return int(f), nil
}
