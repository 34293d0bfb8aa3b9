package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/CargoCultScientist/E-ENFork/logging"
)

// StreamSource yields the segments of one capture in time order. Next
// returns io.EOF after the last stream.
type StreamSource interface {
	Next(ctx context.Context) (*Stream, error)
}

// SliceSource serves streams that are already in memory.
type SliceSource struct {
	streams []*Stream
	pos     int
}

// NewSliceSource returns a source over the given streams.
func NewSliceSource(streams ...*Stream) *SliceSource {
	return &SliceSource{streams: streams}
}

func (s *SliceSource) Next(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.streams) {
		return nil, io.EOF
	}
	st := s.streams[s.pos]
	s.pos++
	return st, nil
}

var eventFilePattern = regexp.MustCompile(`^events(\d+)\.txt$`)

// DirSource loads events<N>.txt files lazily, ordered by N.
type DirSource struct {
	files []string
	pos   int
}

// NewDirSource scans dir for event files. A capture directory holding an
// events/ subdirectory is accepted as well.
func NewDirSource(dir string) (*DirSource, error) {
	if sub := filepath.Join(dir, "events"); isDir(sub) {
		dir = sub
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read capture directory: %w", err)
	}

	type numbered struct {
		n    int
		path string
	}
	var found []numbered
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := eventFilePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		found = append(found, numbered{n: n, path: filepath.Join(dir, e.Name())})
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("no events<N>.txt files in %s", dir)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })

	files := make([]string, len(found))
	for i, f := range found {
		files[i] = f.path
	}
	return &DirSource{files: files}, nil
}

// Files returns the ordered event file paths.
func (d *DirSource) Files() []string {
	return d.files
}

func (d *DirSource) Next(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.pos >= len(d.files) {
		return nil, io.EOF
	}
	path := d.files[d.pos]
	d.pos++
	return LoadTextFile(path)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// SampleAll drains source through the sampler. The first stream's begin time
// seeds the window clock; later streams continue from the carried state.
func (s *Sampler) SampleAll(ctx context.Context, source StreamSource) (*Signal, error) {
	var (
		state  SamplerState
		out    *Signal
		nFiles int
	)

	for {
		stream, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("next event stream: %w", err)
		}

		seg, next, err := s.Sample(stream, state)
		if err != nil {
			return nil, err
		}
		state = next
		nFiles++

		if out == nil {
			out = seg
			continue
		}
		out.Samples = append(out.Samples, seg.Samples...)
		out.Fallbacks += seg.Fallbacks
	}

	if out == nil {
		return nil, ErrEmptyStream
	}

	if out.Fallbacks > 0 {
		s.logger.Warn("Empty windows filled with previous value", logging.Fields{
			"fallbacks": out.Fallbacks,
			"windows":   len(out.Samples),
		})
	}
	s.logger.Info("Capture sampled", logging.Fields{
		"streams":  nFiles,
		"windows":  len(out.Samples),
		"duration": out.Duration(),
	})

	return out, nil
}
