package config_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/CargoCultScientist/E-ENFork/algorithms/stats"
	"github.com/CargoCultScientist/E-ENFork/config"
	"github.com/CargoCultScientist/E-ENFork/events"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then it should load the capture defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.FPS, convey.ShouldEqual, 1000.0)
				convey.So(cfg.SensorWidth, convey.ShouldEqual, 640)
				convey.So(cfg.SensorHeight, convey.ShouldEqual, 480)
				convey.So(cfg.BandpassEnabled, convey.ShouldBeTrue)
				convey.So(cfg.BandpassLowHz, convey.ShouldEqual, 98.0)
				convey.So(cfg.BandpassHighHz, convey.ShouldEqual, 102.0)
				convey.So(cfg.WindowSeconds, convey.ShouldEqual, 16.0)
				convey.So(cfg.NFFTSeconds, convey.ShouldEqual, 200.0)
				convey.So(cfg.SmootherOrder, convey.ShouldEqual, 21)
				convey.So(cfg.SmootherThreshold, convey.ShouldEqual, 0.02)
				convey.So(cfg.HarmonicDivisor, convey.ShouldEqual, 2.0)
				convey.So(cfg.Metric, convey.ShouldEqual, "distance")
				convey.So(cfg.DecodeTimeout, convey.ShouldEqual, 5*time.Minute)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("ENF_FPS", "2000")
			_ = os.Setenv("ENF_METRIC", "correlation")
			_ = os.Setenv("ENF_BANDPASS_ENABLED", "false")
			_ = os.Setenv("ENF_DECODE_TIMEOUT", "30s")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.FPS, convey.ShouldEqual, 2000.0)
				convey.So(cfg.Metric, convey.ShouldEqual, "correlation")
				convey.So(cfg.BandpassEnabled, convey.ShouldBeFalse)
				convey.So(cfg.DecodeTimeout, convey.ShouldEqual, 30*time.Second)
				convey.So(cfg.WindowSeconds, convey.ShouldEqual, 16.0)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
fps: 500
bucket: latest_instant
window_seconds: 8
nfft_seconds: 100
smoother_order: 11
db_path: /tmp/enf.sqlite3
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("ENF_CONFIG", tmpFile)
			_ = os.Setenv("ENF_SMOOTHER_ORDER", "31") // This should override the file
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.FPS, convey.ShouldEqual, 500.0)               // From file
				convey.So(cfg.Bucket, convey.ShouldEqual, "latest_instant") // From file
				convey.So(cfg.WindowSeconds, convey.ShouldEqual, 8.0)       // From file
				convey.So(cfg.SmootherOrder, convey.ShouldEqual, 31)        // Overridden by env
				convey.So(cfg.HopSeconds, convey.ShouldEqual, 1.0)          // From defaults
				convey.So(cfg.DBPath, convey.ShouldEqual, "/tmp/enf.sqlite3")
			})

			convey.Convey("Then the pipeline config should carry the values", func() {
				p := cfg.PipelineConfig()
				convey.So(p.Sampler.FPS, convey.ShouldEqual, 500.0)
				convey.So(p.Sampler.Bucket, convey.ShouldEqual, events.BucketLatestInstant)
				convey.So(p.Smoother.Order, convey.ShouldEqual, 31)
				convey.So(p.Metric, convey.ShouldEqual, stats.MetricDistance)
				convey.So(p.Validate(), convey.ShouldBeNil)
			})
		})

		convey.Convey("When an explicit path is given", func() {
			tmpFile := createTempConfigFile("metric: pcc\nworkers: 4\n")
			defer func() { _ = os.Remove(tmpFile) }()

			cfg, err := config.Load(ctx, tmpFile)

			convey.Convey("Then it should be used without ENF_CONFIG", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Metric, convey.ShouldEqual, "pcc")
				convey.So(cfg.Workers, convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("ENF_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			cfg, err := config.Load(ctx, "/non/existent/file.yaml")

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("ENF_FPS", "fast")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with impossible values", func() {
			cases := map[string]string{
				"ENF_SMOOTHER_ORDER":   "20",
				"ENF_METRIC":           "dtw",
				"ENF_BUCKET":           "closed",
				"ENF_BANDPASS_HIGH_HZ": "700",
				"ENF_LOG_LEVEL":        "chatty",
				"ENF_NFFT_SECONDS":     "4",
				"ENF_TIME_ZONE":        "Mars/Olympus_Mons",
			}

			for key, value := range cases {
				_ = os.Setenv(key, value)
				cfg, err := config.Load(ctx, "")
				_ = os.Unsetenv(key)

				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			}
		})
	})
}

func TestConfigNew(t *testing.T) {
	convey.Convey("Given a new config with default values", t, func() {
		cfg := config.New()

		convey.Convey("Then it should validate", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then the local time zone should resolve", func() {
			loc, err := cfg.Location()
			convey.So(err, convey.ShouldBeNil)
			convey.So(loc, convey.ShouldEqual, time.Local)
		})
	})
}

func clearConfigEnvVars() {
	envVars := []string{
		"ENF_CONFIG",
		"ENF_FPS",
		"ENF_METRIC",
		"ENF_BANDPASS_ENABLED",
		"ENF_DECODE_TIMEOUT",
		"ENF_SMOOTHER_ORDER",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "enf-config-*.yaml")
	if err != nil {
		panic(err)
	}

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	if err := tmpFile.Close(); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}
