package logging

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"":        InfoLevel,
		"warning": WarnLevel,
		" error ": ErrorLevel,
		"fatal":   FatalLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestDefaultLoggerRoutesByLevel(t *testing.T) {
	var stdout, stderr bytes.Buffer
	l := NewDefaultLoggerWithWriters(&stdout, &stderr)

	l.Debug("hidden")
	l.Info("sampled", Fields{"windows": 3})
	l.Warn("fallback used")
	l.Error(errors.New("boom"), "alignment failed")

	assert.NotContains(t, stdout.String(), "hidden")
	assert.Contains(t, stdout.String(), "[INFO] sampled windows=3")
	assert.Contains(t, stderr.String(), "[WARN] fallback used")
	assert.Contains(t, stderr.String(), "[ERROR] alignment failed: boom")
}

func TestDefaultLoggerFieldsAreSortedAndInherited(t *testing.T) {
	var stdout bytes.Buffer
	l := NewDefaultLoggerWithWriters(&stdout, &stdout)
	l.SetLevel(DebugLevel)

	scoped := l.WithFields(Fields{"component": "sampler"})
	scoped.Debug("window", Fields{"b": 2, "a": 1})

	assert.Contains(t, stdout.String(), "[DEBUG] window a=1 b=2 component=sampler")
}

func TestDefaultLoggerWithContext(t *testing.T) {
	var stdout bytes.Buffer
	l := NewDefaultLoggerWithWriters(&stdout, &stdout)

	ctx := ContextWithFields(context.Background(), Fields{"capture": "dvSave-2023_05_17_14_23_05"})
	l.WithContext(ctx).Info("start")

	assert.Contains(t, stdout.String(), "capture=dvSave-2023_05_17_14_23_05")
	assert.Same(t, l, l.WithContext(context.Background()))
}

func TestDefaultLoggerFatalExits(t *testing.T) {
	var stderr bytes.Buffer
	l := NewDefaultLoggerWithWriters(&stderr, &stderr)
	code := -1
	l.exit = func(c int) { code = c }

	l.Fatal(errors.New("no reference"), "cannot continue")

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "[FATAL] cannot continue: no reference")
}

func TestSetGlobalLoggerNil(t *testing.T) {
	prev := GetGlobalLogger()
	defer SetGlobalLogger(prev)

	SetGlobalLogger(nil)
	_, ok := GetGlobalLogger().(*NoOpLogger)
	assert.True(t, ok)
	Info("discarded")
}
