package stats

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/CargoCultScientist/E-ENFork/logging"
)

var (
	// ErrReferenceTooShort is returned when the reference is shorter than the query.
	ErrReferenceTooShort = errors.New("reference trace shorter than query")
	// ErrEmptyQuery is returned for a zero-length query.
	ErrEmptyQuery = errors.New("query trace is empty")
	// ErrUnknownMetric is returned for an unsupported metric name.
	ErrUnknownMetric = errors.New("unknown alignment metric")
	// ErrDegenerateScores is returned when no offset produced a defined score,
	// e.g. every correlation was undefined.
	ErrDegenerateScores = errors.New("no offset produced a defined score")
	// ErrInvalidStep is returned for a non-positive trace step.
	ErrInvalidStep = errors.New("trace step must be positive")
	// ErrLengthMismatch is returned by Compare for traces of different length.
	ErrLengthMismatch = errors.New("traces differ in length")
)

// AlignerConfig configures the reference aligner.
type AlignerConfig struct {
	Metric Metric `json:"metric"`

	// Workers splits the offset scan into contiguous shards. Values <= 1
	// scan serially.
	Workers int `json:"workers"`

	// KeepScores keeps the per-offset score series in the result.
	KeepScores bool `json:"keep_scores"`
}

// DefaultAlignerConfig returns a serial minimum-distance aligner.
func DefaultAlignerConfig() AlignerConfig {
	return AlignerConfig{
		Metric:  MetricDistance,
		Workers: 1,
	}
}

// TimeMark is a time index split into minutes and seconds.
type TimeMark struct {
	Minute int     `json:"minute"`
	Second float64 `json:"second"`
}

// NewTimeMark splits seconds into (seconds // 60, seconds % 60).
func NewTimeMark(seconds float64) TimeMark {
	minute := math.Floor(seconds / 60)
	return TimeMark{Minute: int(minute), Second: seconds - 60*minute}
}

func (t TimeMark) String() string {
	return fmt.Sprintf("%d min %g s", t.Minute, t.Second)
}

// AlignmentResult is the best placement of a query inside a reference.
type AlignmentResult struct {
	Metric Metric  `json:"metric"`
	Offset int     `json:"offset"` // index of the first matched reference sample
	Score  float64 `json:"score"`

	Matched    []float64 `json:"matched"`
	StartIndex int       `json:"start_index"`
	EndIndex   int       `json:"end_index"` // inclusive

	// StartTime = round(step*offset), EndTime = StartTime + step*R - step
	StartTime float64  `json:"start_time"`
	EndTime   float64  `json:"end_time"`
	Start     TimeMark `json:"start"`
	End       TimeMark `json:"end"`

	QueryLength     int       `json:"query_length"`
	ReferenceLength int       `json:"reference_length"`
	Evaluated       int       `json:"evaluated"`
	Scores          []float64 `json:"scores,omitempty"`

	ProcessingTime float64 `json:"processing_time"` // ms
}

// Aligner scans every offset of a reference trace for the segment that best
// matches a query trace.
type Aligner struct {
	config AlignerConfig
	score  ScoreFunction
	logger logging.Logger
}

// NewAligner validates the configuration and builds an aligner.
func NewAligner(config AlignerConfig) (*Aligner, error) {
	score, err := GetScoreFunction(config.Metric)
	if err != nil {
		return nil, err
	}
	return &Aligner{
		config: config,
		score:  score,
		logger: logging.WithFields(logging.Fields{
			"component": "reference_aligner",
			"metric":    string(config.Metric),
		}),
	}, nil
}

// Config returns the aligner configuration.
func (a *Aligner) Config() AlignerConfig {
	return a.config
}

// Offsets returns the number of start offsets evaluated for reference length
// l and query length r: l-r offsets, or a single one when l == r.
func Offsets(l, r int) int {
	if l == r {
		return 1
	}
	return l - r
}

// Align finds the best offset of query in reference. step is the duration of
// one trace sample in seconds.
func (a *Aligner) Align(query, reference []float64, step float64) (*AlignmentResult, error) {
	startTime := time.Now()

	r, l := len(query), len(reference)
	if r == 0 {
		return nil, ErrEmptyQuery
	}
	if l < r {
		return nil, fmt.Errorf("%w: reference %d < query %d", ErrReferenceTooShort, l, r)
	}
	if !(step > 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStep, step)
	}

	n := Offsets(l, r)
	var scores []float64
	if a.config.KeepScores {
		scores = make([]float64, n)
	}

	best, bestScore := a.scan(query, reference, n, scores)
	if best < 0 {
		return nil, fmt.Errorf("%w: %d offsets", ErrDegenerateScores, n)
	}

	start := math.Round(step * float64(best))
	end := start + step*float64(r) - step

	matched := make([]float64, r)
	copy(matched, reference[best:best+r])

	result := &AlignmentResult{
		Metric:          a.config.Metric,
		Offset:          best,
		Score:           bestScore,
		Matched:         matched,
		StartIndex:      best,
		EndIndex:        best + r - 1,
		StartTime:       start,
		EndTime:         end,
		Start:           NewTimeMark(start),
		End:             NewTimeMark(end),
		QueryLength:     r,
		ReferenceLength: l,
		Evaluated:       n,
		Scores:          scores,
		ProcessingTime:  float64(time.Since(startTime).Microseconds()) / 1000,
	}

	a.logger.Debug("Alignment found", logging.Fields{
		"offset":    best,
		"score":     bestScore,
		"evaluated": n,
	})

	return result, nil
}

type shardBest struct {
	offset int
	score  float64
}

// scan evaluates offsets [0, n) and returns the first best offset, or -1
// when every score is NaN.
func (a *Aligner) scan(query, reference []float64, n int, scores []float64) (int, float64) {
	workers := min(max(a.config.Workers, 1), n)
	if workers == 1 {
		res := a.scanRange(query, reference, 0, n, scores)
		return res.offset, res.score
	}

	shards := make([]shardBest, workers)
	size := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		w := w
		lo := w * size
		hi := min(lo+size, n)
		if lo >= hi {
			shards[w] = shardBest{offset: -1}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			shards[w] = a.scanRange(query, reference, lo, hi, scores)
		}()
	}
	wg.Wait()

	// shards are in offset order, so a strict comparison keeps the first
	best := shardBest{offset: -1}
	for _, s := range shards {
		if s.offset < 0 {
			continue
		}
		if best.offset < 0 || a.config.Metric.Better(s.score, best.score) {
			best = s
		}
	}
	return best.offset, best.score
}

func (a *Aligner) scanRange(query, reference []float64, lo, hi int, scores []float64) shardBest {
	r := len(query)
	best := shardBest{offset: -1}
	for i := lo; i < hi; i++ {
		s := a.score(reference[i:i+r], query)
		if scores != nil {
			scores[i] = s
		}
		if math.IsNaN(s) {
			continue
		}
		if best.offset < 0 || a.config.Metric.Better(s, best.score) {
			best = shardBest{offset: i, score: s}
		}
	}
	return best
}
