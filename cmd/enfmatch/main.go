// Command enfmatch estimates the grid frequency trace of an event-camera
// capture and locates it in hourly reference recordings of the mains.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CargoCultScientist/E-ENFork/algorithms/stats"
	"github.com/CargoCultScientist/E-ENFork/config"
	"github.com/CargoCultScientist/E-ENFork/enf"
	"github.com/CargoCultScientist/E-ENFork/events"
	"github.com/CargoCultScientist/E-ENFork/logging"
	"github.com/CargoCultScientist/E-ENFork/metrics"
	"github.com/CargoCultScientist/E-ENFork/reference"
	"github.com/CargoCultScientist/E-ENFork/storage"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

type options struct {
	eventsDir    string
	referenceDir string
	configPath   string
	metric       string
	dbPath       string
	metricsAddr  string
}

// report is printed to stdout as JSON.
type report struct {
	Capture      string                 `json:"capture"`
	CaptureStart time.Time              `json:"capture_start"`
	References   []string               `json:"references"`
	Query        []float64              `json:"query"`
	QueryStats   *stats.TraceSummary    `json:"query_stats"`
	Alignment    *stats.AlignmentResult `json:"alignment"`
	MatchedStats *stats.TraceSummary    `json:"matched_stats"`
	MatchedAt    time.Time              `json:"matched_at"`
	Comparison   *comparison            `json:"comparison,omitempty"`
	RunID        string                 `json:"run_id,omitempty"`
}

type comparison struct {
	Offset     int      `json:"offset"`
	Similarity *float64 `json:"similarity,omitempty"` // percent, absent when undefined
	MAE        float64  `json:"mae"`
}

func main() {
	var opts options
	flag.StringVar(&opts.eventsDir, "events", "", "Capture directory, e.g. dvSave-2023_05_17_14_23_05 (required)")
	flag.StringVar(&opts.referenceDir, "reference", "", "Folder of hourly reference recordings")
	flag.StringVar(&opts.configPath, "config", "", "YAML config file (default $ENF_CONFIG)")
	flag.StringVar(&opts.metric, "metric", "", "Alignment metric: distance or correlation")
	flag.StringVar(&opts.dbPath, "db", "", "SQLite cache and run log")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	flag.Parse()

	logging.SetGlobalLogger(logging.NewDefaultLogger())

	if opts.eventsDir == "" {
		logging.Fatal(errors.New("missing -events"), "Invalid arguments")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		stop()
		logging.Fatal(err, "ENF matching failed", logging.Fields{"capture": opts.eventsDir})
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	cfg, err := config.Load(ctx, opts.configPath)
	if err != nil {
		return err
	}
	applyFlags(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	logging.SetLevel(level)
	logger := logging.WithFields(logging.Fields{"component": "enfmatch"})

	registry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(metrics.WithRegistry(registry))
	if cfg.MetricsAddr != "" {
		shutdown := serveMetrics(cfg.MetricsAddr, registry, logger)
		defer shutdown()
	}

	pipeline, err := enf.NewPipeline(cfg.PipelineConfig(), recorder)
	if err != nil {
		return err
	}

	loc, _ := cfg.Location()
	capture := filepath.Base(filepath.Clean(opts.eventsDir))
	start, err := reference.ParseCaptureName(capture, loc)
	if err != nil {
		return err
	}

	source, err := events.NewDirSource(opts.eventsDir)
	if err != nil {
		return err
	}
	query, err := pipeline.EstimateEvents(ctx, source)
	if err != nil {
		return err
	}

	span := time.Duration(float64(query.Len()) * query.Step * float64(time.Second))
	names := reference.FilesCovering(start, span)
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(cfg.ReferenceDir, name+cfg.ReferenceExt)
	}

	var (
		db    *storage.DB
		cache enf.TraceCache
	)
	if cfg.DBPath != "" {
		db, err = storage.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		cache = db
	}

	decoder := reference.NewDecoder(&reference.DecoderConfig{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		Timeout:     cfg.DecodeTimeout,
	})
	ref, err := pipeline.ReferenceTrace(ctx, paths, decoder, cache)
	if err != nil {
		return err
	}

	alignment, err := pipeline.Align(query, ref)
	if err != nil {
		return err
	}

	queryStats, err := stats.Summarize(query.Values)
	if err != nil {
		return err
	}
	matchedStats, err := stats.Summarize(alignment.Matched)
	if err != nil {
		return err
	}

	hour := time.Date(start.Year(), start.Month(), start.Day(), start.Hour(), 0, 0, 0, start.Location())
	rep := report{
		Capture:      capture,
		CaptureStart: start,
		References:   names,
		Query:        query.Values,
		QueryStats:   queryStats,
		Alignment:    alignment,
		MatchedStats: matchedStats,
		MatchedAt:    hour.Add(time.Duration(alignment.StartTime * float64(time.Second))),
	}

	// The capture's own timestamp gives the expected offset directly.
	offset := int(math.Round(float64(reference.SecondOfHour(start)) / query.Step))
	if cmp, err := pipeline.CompareAt(query, ref, offset); err != nil {
		logger.Warn("Known-offset comparison skipped", logging.Fields{"offset": offset, "error": err.Error()})
	} else {
		rep.Comparison = &comparison{Offset: offset, MAE: cmp.MAE}
		if !math.IsNaN(cmp.Similarity) {
			rep.Comparison.Similarity = &cmp.Similarity
		}
	}

	if db != nil {
		run := &storage.AlignmentRun{
			Capture:     capture,
			Metric:      string(alignment.Metric),
			Offset:      alignment.Offset,
			Score:       alignment.Score,
			StartTime:   alignment.StartTime,
			EndTime:     alignment.EndTime,
			QueryLength: alignment.QueryLength,
		}
		if rep.Comparison != nil {
			run.Similarity = rep.Comparison.Similarity
			run.MAE = &rep.Comparison.MAE
		}
		if err := db.RecordAlignment(ctx, run); err != nil {
			return err
		}
		rep.RunID = run.ID
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

func applyFlags(cfg *config.Config, opts options) {
	if opts.referenceDir != "" {
		cfg.ReferenceDir = opts.referenceDir
	}
	if opts.metric != "" {
		cfg.Metric = opts.metric
	}
	if opts.dbPath != "" {
		cfg.DBPath = opts.dbPath
	}
	if opts.metricsAddr != "" {
		cfg.MetricsAddr = opts.metricsAddr
	}
}

// serveMetrics exposes registry on addr until the returned func is called.
func serveMetrics(addr string, registry *prometheus.Registry, logger logging.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		logger.Info("Serving metrics", logging.Fields{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err, "Metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error(err, "Metrics server shutdown failed")
		}
	}
}
