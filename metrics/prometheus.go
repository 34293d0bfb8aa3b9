// Package metrics provides Prometheus instrumentation for the ENF pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the pipeline's counters. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	namespace string
	subsystem string
	buckets   []float64
	registry  prometheus.Registerer

	// Sampling
	windowsSampled  prometheus.Counter
	fallbackWindows prometheus.Counter

	// Estimation
	framesEstimated     prometheus.Counter
	lowConfidenceFrames prometheus.Counter
	outliersReplaced    prometheus.Counter

	// Alignment
	alignments        *prometheus.CounterVec
	alignmentDuration prometheus.Histogram
}

// NewRecorder creates a Recorder. Without WithRegistry the metrics are
// registered on prometheus.DefaultRegisterer.
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{
		namespace: "enf",
		subsystem: "pipeline",
		buckets:   prometheus.DefBuckets,
		registry:  prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(r)
	}

	r.initializeMetrics()
	return r
}

func (r *Recorder) initializeMetrics() {
	auto := promauto.With(r.registry)

	r.windowsSampled = auto.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: r.subsystem,
		Name:      "windows_sampled_total",
		Help:      "Total number of sampling windows emitted",
	})

	r.fallbackWindows = auto.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: r.subsystem,
		Name:      "fallback_windows_total",
		Help:      "Total number of empty windows filled with the previous value",
	})

	r.framesEstimated = auto.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: r.subsystem,
		Name:      "frames_estimated_total",
		Help:      "Total number of analysis frames estimated",
	})

	r.lowConfidenceFrames = auto.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: r.subsystem,
		Name:      "low_confidence_frames_total",
		Help:      "Total number of frames whose peak could not be refined",
	})

	r.outliersReplaced = auto.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: r.subsystem,
		Name:      "outliers_replaced_total",
		Help:      "Total number of trace values replaced by the outlier filter",
	})

	r.alignments = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: r.namespace,
			Subsystem: r.subsystem,
			Name:      "alignments_total",
			Help:      "Total number of reference alignments by metric",
		},
		[]string{"metric"},
	)

	r.alignmentDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Subsystem: r.subsystem,
		Name:      "alignment_duration_seconds",
		Help:      "Reference alignment duration in seconds",
		Buckets:   r.buckets,
	})
}

// RecordSampling counts emitted windows and how many of them fell back.
func (r *Recorder) RecordSampling(windows, fallbacks int) {
	if r == nil {
		return
	}
	r.windowsSampled.Add(float64(windows))
	r.fallbackWindows.Add(float64(fallbacks))
}

// RecordEstimation counts estimated frames and low-confidence frames.
func (r *Recorder) RecordEstimation(frames, lowConfidence int) {
	if r == nil {
		return
	}
	r.framesEstimated.Add(float64(frames))
	r.lowConfidenceFrames.Add(float64(lowConfidence))
}

// RecordOutliers counts trace values replaced by the median smoother.
func (r *Recorder) RecordOutliers(replaced int) {
	if r == nil {
		return
	}
	r.outliersReplaced.Add(float64(replaced))
}

// RecordAlignment counts an alignment under metric and observes its duration.
func (r *Recorder) RecordAlignment(metric string, d time.Duration) {
	if r == nil {
		return
	}
	r.alignments.WithLabelValues(metric).Inc()
	r.alignmentDuration.Observe(d.Seconds())
}
