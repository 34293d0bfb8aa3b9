package spectral

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRate = 1000.0
	testNFFT = 4000
)

func sine(freq, rate float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2*math.Pi*freq*float64(i)/rate + 0.3)
	}
	return out
}

func testEstimator(t *testing.T, legacy bool) *Estimator {
	t.Helper()
	e, err := NewEstimator(EstimatorConfig{
		WindowSize:      1000,
		HopSize:         500,
		NFFT:            testNFFT,
		SampleRate:      testRate,
		LegacyBinOffset: legacy,
	})
	require.NoError(t, err)
	return e
}

func TestEstimateSinusoidWithinResolution(t *testing.T) {
	e := testEstimator(t, false)
	resolution := testRate / testNFFT

	for _, f0 := range []float64{100.0, 100.1, 99.93} {
		trace, err := e.Estimate(sine(f0, testRate, 3000))
		require.NoError(t, err)

		require.Equal(t, 7, trace.Len())
		assert.Equal(t, 0.5, trace.Step)
		assert.Zero(t, trace.LowConfidence())
		for i, v := range trace.Values {
			assert.InDelta(t, f0, v, resolution, "f0=%v frame %d", f0, i)
		}
	}
}

func TestEstimateLegacyOffsetShiftsOneBin(t *testing.T) {
	signal := sine(100.1, testRate, 3000)

	plain, err := testEstimator(t, false).Estimate(signal)
	require.NoError(t, err)
	legacy, err := testEstimator(t, true).Estimate(signal)
	require.NoError(t, err)

	for i := range plain.Values {
		assert.InDelta(t, testRate/testNFFT, plain.Values[i]-legacy.Values[i], 1e-9)
	}
}

func TestEstimateFlagsEdgePeak(t *testing.T) {
	dc := make([]float64, 3000)
	for i := range dc {
		dc[i] = 1
	}

	trace, err := testEstimator(t, false).Estimate(dc)
	require.NoError(t, err)

	assert.Equal(t, trace.Len(), trace.LowConfidence())
	for i, s := range trace.Status {
		assert.Equal(t, FrameEdgePeak, s, "frame %d", i)
		assert.Equal(t, 0.0, trace.Values[i])
	}
}

func TestEstimateSerialMatchesParallel(t *testing.T) {
	signal := sine(99.93, testRate, 3000)

	parallel, err := testEstimator(t, false).Estimate(signal)
	require.NoError(t, err)

	serialCfg := testEstimator(t, false).Config()
	serialCfg.Workers = 1
	serial, err := NewEstimator(serialCfg)
	require.NoError(t, err)
	single, err := serial.Estimate(signal)
	require.NoError(t, err)

	assert.Equal(t, single.Values, parallel.Values)
}

func TestEstimateRejects(t *testing.T) {
	_, err := NewEstimator(EstimatorConfig{WindowSize: 100, HopSize: 10, NFFT: 50, SampleRate: 1000})
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = NewEstimator(EstimatorConfig{WindowSize: 100, HopSize: 0, NFFT: 100, SampleRate: 1000})
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = NewEstimator(EstimatorConfig{WindowSize: 100, HopSize: 10, NFFT: 100, SampleRate: 0})
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = testEstimator(t, false).Estimate(nil)
	assert.ErrorIs(t, err, ErrSignalTooShort)
}

func TestEstimateContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testEstimator(t, false).EstimateContext(ctx, sine(100, testRate, 3000))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNumFrames(t *testing.T) {
	e := testEstimator(t, false)
	// padded length n+1000, frames start every 500 samples
	assert.Equal(t, 1, e.NumFrames(1))
	assert.Equal(t, 3, e.NumFrames(1000))
	assert.Equal(t, 7, e.NumFrames(3000))
	assert.Equal(t, 0, e.NumFrames(0))
}

func TestInterpolatePeak(t *testing.T) {
	// symmetric neighbours: no correction
	c, status := InterpolatePeak([]complex128{1, 4, 1, 0}, 1)
	assert.Equal(t, FrameOK, status)
	assert.InDelta(t, 0, c, 1e-12)

	// -Re[(3-1)/(8-3-1)]
	c, status = InterpolatePeak([]complex128{1, 4, 3, 0}, 1)
	assert.Equal(t, FrameOK, status)
	assert.InDelta(t, -0.5, c, 1e-12)

	// clamped
	c, status = InterpolatePeak([]complex128{0, 1, 1.9, 0}, 1)
	assert.Equal(t, FrameOK, status)
	assert.Equal(t, -1.0, c)

	// 2V[k] == V[k-1] + V[k+1]
	_, status = InterpolatePeak([]complex128{1, 2, 3, 0}, 1)
	assert.Equal(t, FrameDegenerate, status)

	_, status = InterpolatePeak([]complex128{5, 1, 1}, 0)
	assert.Equal(t, FrameEdgePeak, status)
	_, status = InterpolatePeak([]complex128{1, 1, 5}, 2)
	assert.Equal(t, FrameEdgePeak, status)
}

func TestDefaultEstimatorConfig(t *testing.T) {
	cfg := DefaultEstimatorConfig(1000)
	assert.Equal(t, 16000, cfg.WindowSize)
	assert.Equal(t, 1000, cfg.HopSize)
	assert.Equal(t, 200000, cfg.NFFT)
	require.NoError(t, cfg.Validate())
}

func TestTraceScale(t *testing.T) {
	tr := &FrequencyTrace{
		Values: []float64{100, 100.2},
		Step:   1,
		Start:  3,
		Status: []FrameStatus{FrameOK, FrameEdgePeak},
	}
	half := tr.Scale(2)
	assert.Equal(t, []float64{50, 50.1}, half.Values)
	assert.Equal(t, 3.0, half.Start)
	assert.Equal(t, []float64{100, 100.2}, tr.Values)
	assert.Equal(t, tr.Status, half.Status)

	half.Status[0] = FrameDegenerate
	assert.Equal(t, FrameOK, tr.Status[0])
}
