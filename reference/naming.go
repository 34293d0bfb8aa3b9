package reference

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ErrBadCaptureName is returned when a capture directory name does not
// carry a timestamp.
var ErrBadCaptureName = errors.New("capture name has no YYYY_MM_DD_HH_MM_SS timestamp")

const (
	// fileLayout names an hourly reference recording by the hour it ends,
	// e.g. 2023_05_17_Wed_15_00_00 covers 14:00 to 15:00.
	fileLayout = "2006_01_02_Mon_15_04_05"

	captureLayout = "2006_01_02_15_04_05"

	// capturePrefixLen is the length of the recorder prefix, "dvSave-".
	capturePrefixLen = 7
)

// FileName returns the base name (without extension) of the hourly
// reference recording that contains instant t.
func FileName(t time.Time) string {
	end := hourStart(t).Add(time.Hour)
	return end.Format(fileLayout)
}

// hourStart drops minutes and below in t's own location.
func hourStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

// FilesCovering returns, in order, the names of every hourly recording that
// overlaps [start, start+d).
func FilesCovering(start time.Time, d time.Duration) []string {
	if d <= 0 {
		return []string{FileName(start)}
	}

	var names []string
	last := start.Add(d - time.Nanosecond)
	for h := hourStart(start); !h.After(last); h = h.Add(time.Hour) {
		names = append(names, FileName(h))
	}
	return names
}

// ParseCaptureName reads the capture start time from a directory name such
// as "dvSave-2023_05_17_14_23_05". The time is interpreted in loc.
func ParseCaptureName(name string, loc *time.Location) (time.Time, error) {
	base := filepath.Base(strings.TrimRight(name, `/\`))
	if len(base) < capturePrefixLen+len(captureLayout) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadCaptureName, base)
	}

	stamp := base[capturePrefixLen : capturePrefixLen+len(captureLayout)]
	t, err := time.ParseInLocation(captureLayout, stamp, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrBadCaptureName, base, err)
	}
	return t, nil
}

// SecondOfHour returns the offset of t inside its hour in whole seconds.
func SecondOfHour(t time.Time) int {
	return t.Minute()*60 + t.Second()
}
