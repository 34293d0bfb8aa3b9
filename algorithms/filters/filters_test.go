package filters

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSmoother(t *testing.T, order int, threshold float64) *Smoother {
	t.Helper()
	s, err := NewSmoother(SmootherConfig{Order: order, Threshold: threshold})
	require.NoError(t, err)
	return s
}

func TestSmootherConfigValidate(t *testing.T) {
	for _, order := range []int{0, -3, 4, 20} {
		_, err := NewSmoother(SmootherConfig{Order: order, Threshold: 0.02})
		assert.ErrorIs(t, err, ErrInvalidOrder, "order %d", order)
	}
	for _, th := range []float64{-0.1, math.NaN()} {
		_, err := NewSmoother(SmootherConfig{Order: 5, Threshold: th})
		assert.ErrorIs(t, err, ErrInvalidThreshold)
	}
	require.NoError(t, DefaultSmootherConfig().Validate())
}

func TestSmoothIdempotentOnConstant(t *testing.T) {
	trace := make([]float64, 40)
	for i := range trace {
		trace[i] = 50.01
	}

	for _, order := range []int{1, 3, 21, 61} {
		for _, th := range []float64{0, 0.02, 5} {
			s := newSmoother(t, order, th)
			once, n := s.Smooth(trace)
			twice, _ := s.Smooth(once)
			assert.Equal(t, once, twice)
			assert.Equal(t, trace, once)
			assert.Zero(t, n)
		}
	}
}

func TestSmoothReplacesSingleSpike(t *testing.T) {
	trace := []float64{50.000, 50.001, 50.002, 50.003, 50.004, 50.005, 50.006, 50.007, 50.008}
	spiked := append([]float64(nil), trace...)
	spiked[4] = 50.5

	s := newSmoother(t, 5, 0.02)
	out, n := s.Smooth(spiked)

	assert.Equal(t, 1, n)
	// median of {50.002, 50.003, 50.5, 50.005, 50.006}
	assert.Equal(t, 50.005, out[4])
	for i := range trace {
		if i == 4 {
			continue
		}
		assert.Equal(t, spiked[i], out[i], "sample %d", i)
	}
}

func TestSmoothKeepsSlowTrend(t *testing.T) {
	trace := make([]float64, 30)
	for i := range trace {
		trace[i] = 49.95 + 0.002*float64(i)
	}

	out, n := newSmoother(t, 21, 0.02).Smooth(trace)
	assert.Zero(t, n)
	assert.Equal(t, trace, out)
}

func TestMedianEdgeReplication(t *testing.T) {
	s := newSmoother(t, 3, 0)
	// padded: 5 5 1 9 2 2
	assert.Equal(t, []float64{5, 5, 2, 2}, s.Median([]float64{5, 1, 9, 2}))
	assert.Empty(t, s.Median(nil))
}

func sine(freq, rate float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * freq * float64(i) / rate)
	}
	return out
}

func maxAbs(x []float64) float64 {
	m := 0.0
	for _, v := range x {
		m = math.Max(m, math.Abs(v))
	}
	return m
}

func TestBandpassDesign(t *testing.T) {
	bp, err := NewBandpass(DefaultBandpassConfig(1000))
	require.NoError(t, err)

	assert.Len(t, bp.Sections(), 4)
	assert.Equal(t, 27, bp.PadLen())

	assert.InDelta(t, 1.0, bp.Response(100), 1e-6)
	assert.InDelta(t, 1/math.Sqrt2, bp.Response(98), 1e-6)
	assert.InDelta(t, 1/math.Sqrt2, bp.Response(102), 1e-6)
	assert.Less(t, bp.Response(50), 1e-5)
	assert.Less(t, bp.Response(150), 1e-4)
}

func TestBandpassFiltFilt(t *testing.T) {
	bp, err := NewBandpass(DefaultBandpassConfig(1000))
	require.NoError(t, err)

	pass, err := bp.FiltFilt(sine(100, 1000, 6000))
	require.NoError(t, err)
	require.Len(t, pass, 6000)
	// 10 samples per cycle, so the largest sample is sin(72 deg)
	assert.InDelta(t, math.Sin(0.4*math.Pi), maxAbs(pass[2000:4000]), 1e-3)

	stop, err := bp.FiltFilt(sine(50, 1000, 6000))
	require.NoError(t, err)
	assert.Less(t, maxAbs(stop[2000:4000]), 1e-3)

	_, err = bp.FiltFilt(make([]float64, 27))
	assert.ErrorIs(t, err, ErrSignalTooShort)
}

func TestBandpassFiltFiltIsZeroPhase(t *testing.T) {
	bp, err := NewBandpass(DefaultBandpassConfig(1000))
	require.NoError(t, err)

	in := sine(100, 1000, 6000)
	out, err := bp.FiltFilt(in)
	require.NoError(t, err)

	for i := 2000; i < 4000; i++ {
		assert.InDelta(t, in[i], out[i], 1e-3)
	}
}

func TestBandpassRejectsBadBand(t *testing.T) {
	cases := []BandpassConfig{
		{Order: 4, LowHz: 0, HighHz: 102, SampleRate: 1000},
		{Order: 4, LowHz: 102, HighHz: 98, SampleRate: 1000},
		{Order: 4, LowHz: 98, HighHz: 500, SampleRate: 1000},
		{Order: 0, LowHz: 98, HighHz: 102, SampleRate: 1000},
		{Order: 4, LowHz: 98, HighHz: 102, SampleRate: 0},
	}
	for _, c := range cases {
		_, err := NewBandpass(c)
		assert.ErrorIs(t, err, ErrInvalidBand, "%+v", c)
	}
}

func TestBiquadSteadyState(t *testing.T) {
	bq := Biquad{B0: 0.2, B1: 0.3, B2: 0.1, A1: -0.5, A2: 0.2}
	z1, z2 := bq.steadyState()
	bq.SetState(z1, z2)

	g := bq.DCGain()
	for i := 0; i < 5; i++ {
		assert.InDelta(t, g, bq.Process(1), 1e-12)
	}

	bq.Reset()
	assert.Equal(t, 0.2, bq.Process(1))
}

func TestDCRemoval(t *testing.T) {
	dc, err := NewDCRemoval(1000, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1-2*math.Pi/1000, dc.PoleLocation(), 1e-15)

	assert.Equal(t, 0.0, dc.Response(0, 1000))
	assert.InDelta(t, 1.0, dc.Response(100, 1000), 5e-3)

	for _, v := range dc.ProcessBuffer([]float64{0.5, 0.5, 0.5, 0.5}) {
		assert.Equal(t, 0.0, v)
	}

	x := make([]float64, 2000)
	for i := range x {
		x[i] = 0.5 + 0.5*math.Sin(2*math.Pi*100*float64(i)/1000)
	}
	y := dc.ProcessBuffer(x)
	mean := 0.0
	for _, v := range y[1000:] {
		mean += v
	}
	assert.InDelta(t, 0.0, mean/1000, 0.01)

	_, err = NewDCRemoval(1000, 0)
	assert.ErrorIs(t, err, ErrInvalidBand)
	_, err = NewDCRemoval(1000, 200)
	assert.ErrorIs(t, err, ErrInvalidBand)
}
