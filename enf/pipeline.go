// Package enf wires the sampler, pre-filter, frequency estimator, outlier
// filter and aligner into the end-to-end ENF matching pipeline.
package enf

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/CargoCultScientist/E-ENFork/algorithms/filters"
	"github.com/CargoCultScientist/E-ENFork/algorithms/spectral"
	"github.com/CargoCultScientist/E-ENFork/algorithms/stats"
	"github.com/CargoCultScientist/E-ENFork/events"
	"github.com/CargoCultScientist/E-ENFork/logging"
	"github.com/CargoCultScientist/E-ENFork/metrics"
	"github.com/CargoCultScientist/E-ENFork/reference"
	"github.com/CargoCultScientist/E-ENFork/storage"
)

// ErrStepMismatch is returned when two traces were estimated with different
// hop durations.
var ErrStepMismatch = errors.New("traces have different steps")

// TraceCache stores reference traces between runs. *storage.DB implements it.
type TraceCache interface {
	LoadReferenceTrace(ctx context.Context, source, fingerprint string) ([]float64, float64, error)
	SaveReferenceTrace(ctx context.Context, source, fingerprint string, step float64, values []float64) error
}

// Pipeline runs every stage with one Config.
type Pipeline struct {
	config   Config
	sampler  *events.Sampler
	bandpass *filters.Bandpass
	dcCutoff float64
	smoother *filters.Smoother
	aligner  *stats.Aligner
	recorder *metrics.Recorder
	logger   logging.Logger
}

// NewPipeline validates config and builds every stage. recorder may be nil.
func NewPipeline(config Config, recorder *metrics.Recorder) (*Pipeline, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	metric, _ := stats.ParseMetric(string(config.Metric))
	config.Metric = metric

	sampler, err := events.NewSampler(config.Sampler)
	if err != nil {
		return nil, fmt.Errorf("building sampler: %w", err)
	}

	var bandpass *filters.Bandpass
	if config.Bandpass.Enabled {
		bandpass, err = filters.NewBandpass(config.bandpassConfig())
		if err != nil {
			return nil, fmt.Errorf("building band-pass: %w", err)
		}
	}

	smoother, err := filters.NewSmoother(config.Smoother)
	if err != nil {
		return nil, fmt.Errorf("building smoother: %w", err)
	}

	aligner, err := stats.NewAligner(stats.AlignerConfig{
		Metric:  config.Metric,
		Workers: config.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("building aligner: %w", err)
	}

	return &Pipeline{
		config:   config,
		sampler:  sampler,
		bandpass: bandpass,
		dcCutoff: config.DCCutoffHz,
		smoother: smoother,
		aligner:  aligner,
		recorder: recorder,
		logger:   logging.WithFields(logging.Fields{"component": "enf_pipeline"}),
	}, nil
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config {
	return p.config
}

// EstimateEvents computes the grid frequency trace of an event capture:
// sample, band-pass, estimate, remove outliers, divide by the harmonic.
func (p *Pipeline) EstimateEvents(ctx context.Context, source events.StreamSource) (*spectral.FrequencyTrace, error) {
	signal, err := p.sampler.SampleAll(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("sampling events: %w", err)
	}
	p.recorder.RecordSampling(len(signal.Samples), signal.Fallbacks)

	x := signal.Samples
	if p.dcCutoff > 0 {
		// the blocker carries state, so each run gets its own
		dc, err := filters.NewDCRemoval(signal.SampleRate, p.dcCutoff)
		if err != nil {
			return nil, err
		}
		x = dc.ProcessBuffer(x)
	}
	if p.bandpass != nil {
		x, err = p.bandpass.FiltFilt(x)
		if err != nil {
			return nil, fmt.Errorf("band-pass: %w", err)
		}
	}

	trace, err := p.estimate(ctx, x, signal.SampleRate)
	if err != nil {
		return nil, err
	}

	smoothed, replaced := p.smoother.Smooth(trace.Values)
	p.recorder.RecordOutliers(replaced)
	trace.Values = smoothed
	trace.Start = signal.StartTime

	out := trace.Scale(p.config.HarmonicDivisor)
	p.logger.Info("Capture trace estimated", logging.Fields{
		"windows":        len(signal.Samples),
		"frames":         out.Len(),
		"outliers":       replaced,
		"low_confidence": out.LowConfidence(),
	})
	return out, nil
}

// EstimateSignal computes the frequency trace of a regularly sampled signal,
// typically reference mains audio. Lengths are scaled to rate; no pre-filter,
// outlier filter or harmonic division is applied.
func (p *Pipeline) EstimateSignal(ctx context.Context, samples []float64, rate float64) (*spectral.FrequencyTrace, error) {
	return p.estimate(ctx, samples, rate)
}

func (p *Pipeline) estimate(ctx context.Context, x []float64, rate float64) (*spectral.FrequencyTrace, error) {
	cfg := spectral.EstimatorConfigForSeconds(rate, p.config.WindowSeconds, p.config.HopSeconds, p.config.NFFTSeconds)
	cfg.LegacyBinOffset = p.config.LegacyBinOffset
	cfg.Workers = p.config.Workers

	estimator, err := spectral.NewEstimator(cfg)
	if err != nil {
		return nil, fmt.Errorf("building estimator: %w", err)
	}

	trace, err := estimator.EstimateContext(ctx, x)
	if err != nil {
		return nil, fmt.Errorf("estimating frequency: %w", err)
	}

	low := trace.LowConfidence()
	p.recorder.RecordEstimation(trace.Len(), low)
	if low > 0 {
		p.logger.Warn("Frames without a refined peak", logging.Fields{
			"frames":         trace.Len(),
			"low_confidence": low,
		})
	}
	return trace, nil
}

// referenceKey names a set of reference files for the trace cache. Paths are
// made absolute so that folders sharing hourly file names do not collide.
func referenceKey(paths []string) string {
	names := make([]string, len(paths))
	for i, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = filepath.Clean(path)
		}
		names[i] = abs
	}
	return strings.Join(names, "+")
}

// ReferenceTrace decodes the reference recordings in paths, joins them in
// order and estimates their trace. Results are cached in cache when it is
// not nil.
func (p *Pipeline) ReferenceTrace(ctx context.Context, paths []string, decoder *reference.Decoder, cache TraceCache) (*spectral.FrequencyTrace, error) {
	if len(paths) == 0 {
		return nil, errors.New("no reference files")
	}

	key := referenceKey(paths)
	fingerprint := p.config.Fingerprint()

	logger := p.logger.WithFields(logging.Fields{"reference": key})

	if cache != nil {
		values, step, err := cache.LoadReferenceTrace(ctx, key, fingerprint)
		switch {
		case err == nil:
			logger.Debug("Reference trace loaded from cache", logging.Fields{"frames": len(values)})
			return &spectral.FrequencyTrace{Values: values, Step: step}, nil
		case !errors.Is(err, storage.ErrNotFound):
			logger.Warn("Reference cache unavailable", logging.Fields{"error": err.Error()})
		}
	}

	var joined *reference.Audio
	for _, path := range paths {
		audio, err := reference.Open(ctx, path, decoder)
		if err != nil {
			return nil, fmt.Errorf("decoding reference %s: %w", path, err)
		}
		if joined == nil {
			joined = audio
			continue
		}
		if err := joined.Append(audio); err != nil {
			return nil, err
		}
	}

	trace, err := p.EstimateSignal(ctx, joined.Samples, float64(joined.SampleRate))
	if err != nil {
		return nil, fmt.Errorf("reference %s: %w", key, err)
	}

	if cache != nil {
		if err := cache.SaveReferenceTrace(ctx, key, fingerprint, trace.Step, trace.Values); err != nil {
			logger.Warn("Reference trace not cached", logging.Fields{"error": err.Error()})
		}
	}

	logger.Info("Reference trace estimated", logging.Fields{
		"sample_rate": joined.SampleRate,
		"duration":    joined.Duration.String(),
		"frames":      trace.Len(),
	})
	return trace, nil
}

// Align searches the whole reference for the best match of query.
func (p *Pipeline) Align(query, ref *spectral.FrequencyTrace) (*stats.AlignmentResult, error) {
	if err := checkSteps(query, ref); err != nil {
		return nil, err
	}

	res, err := p.aligner.Align(query.Values, ref.Values, query.Step)
	if err != nil {
		return nil, err
	}
	p.recorder.RecordAlignment(string(res.Metric), time.Duration(res.ProcessingTime*float64(time.Millisecond)))

	p.logger.Info("Alignment complete", logging.Fields{
		"metric": string(res.Metric),
		"offset": res.Offset,
		"score":  res.Score,
		"start":  res.Start.String(),
		"end":    res.End.String(),
	})
	return res, nil
}

// CompareAt scores query against the reference segment starting offset
// steps into ref.
func (p *Pipeline) CompareAt(query, ref *spectral.FrequencyTrace, offset int) (*stats.Comparison, error) {
	if err := checkSteps(query, ref); err != nil {
		return nil, err
	}
	if offset < 0 || offset+query.Len() > ref.Len() {
		return nil, fmt.Errorf("%w: offset %d + query %d > reference %d",
			stats.ErrReferenceTooShort, offset, query.Len(), ref.Len())
	}
	return stats.Compare(query.Values, ref.Values[offset:offset+query.Len()])
}

func checkSteps(query, ref *spectral.FrequencyTrace) error {
	if math.Abs(query.Step-ref.Step) > 1e-9 {
		return fmt.Errorf("%w: query %vs, reference %vs", ErrStepMismatch, query.Step, ref.Step)
	}
	return nil
}
