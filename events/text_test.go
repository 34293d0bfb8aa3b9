package events

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadText(t *testing.T) {
	in := `0.000100 12 40 1
0.000100 13 40 0

0.000250 600.0 479 1.000000
`
	s, err := LoadText("events0.txt", strings.NewReader(in))
	require.NoError(t, err)

	require.Equal(t, 3, s.Size())
	assert.Equal(t, Event{Timestamp: 0.00025, X: 600, Y: 479, Polarity: 1}, s.Events[2])
	assert.Equal(t, 0.0001, s.BeginTime)
	assert.Equal(t, 0.00025, s.FinalTime)
	assert.Equal(t, "events0.txt", s.Name)
}

func TestLoadTextRejects(t *testing.T) {
	cases := map[string]struct {
		input string
		want  error
	}{
		"short line":    {"0.1 1 1\n", ErrMalformedLine},
		"bad timestamp": {"abc 1 1 1\n", ErrMalformedLine},
		"bad polarity":  {"0.1 1 1 2\n", ErrMalformedLine},
		"fractional x":  {"0.1 1.5 1 1\n", ErrMalformedLine},
		"out of order":  {"0.2 1 1 1\n0.1 1 1 1\n", ErrOutOfOrder},
		"no events":     {"\n\n", ErrEmptyStream},
	}
	for name, tc := range cases {
		_, err := LoadText(name, strings.NewReader(tc.input))
		assert.ErrorIs(t, err, tc.want, name)
	}
}

func TestLoadTextReportsLineNumber(t *testing.T) {
	_, err := LoadText("events3.txt", strings.NewReader("0.1 1 1 1\n0.2 1 1 x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "events3.txt:2")
}

func writeEvents(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestDirSourceOrdersBySuffix(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "events")
	require.NoError(t, os.Mkdir(dir, 0o755))

	writeEvents(t, dir, "events10.txt", "2.0 1 1 0\n3.0 1 1 0\n")
	writeEvents(t, dir, "events2.txt", "0.0 1 1 1\n1.0 1 1 1\n")
	writeEvents(t, dir, "notes.txt", "ignored")

	src, err := NewDirSource(root)
	require.NoError(t, err)
	require.Len(t, src.Files(), 2)
	assert.Equal(t, "events2.txt", filepath.Base(src.Files()[0]))
	assert.Equal(t, "events10.txt", filepath.Base(src.Files()[1]))

	ctx := context.Background()
	first, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, first.BeginTime)

	second, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2.0, second.BeginTime)

	_, err = src.Next(ctx)
	assert.True(t, errors.Is(err, io.EOF))
}

func TestDirSourceEmpty(t *testing.T) {
	_, err := NewDirSource(t.TempDir())
	assert.Error(t, err)
}
