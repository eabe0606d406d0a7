package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/okian/ranktree/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldResemble, config.New())
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("RANKTREE_ADDR", ":8080")
			_ = os.Setenv("RANKTREE_QUEUE_SIZE", "1000")
			_ = os.Setenv("RANKTREE_WORKER_COUNT", "16")
			_ = os.Setenv("RANKTREE_BACKEND", "bolt")
			_ = os.Setenv("RANKTREE_SCORE_RANGE", "0,1000,-5,5")
			_ = os.Setenv("RANKTREE_BRANCHING_FACTOR", "8")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 1000)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 16)
				convey.So(cfg.Backend, convey.ShouldEqual, config.BackendBolt)
				convey.So(cfg.ScoreRange, convey.ShouldResemble, []int64{0, 1000, -5, 5})
				convey.So(cfg.BranchingFactor, convey.ShouldEqual, 8)
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			path := writeConfigFile(t, `
# comments are allowed
addr: ":9090"
backend: bolt
bolt_path: /tmp/ranks.db
score_range: [0, 500, 0, 10]
branching_factor: 4
queue_size: 300
worker_count: 24  # inline comment
metrics_prefix: edge
metrics_labels:
  region: eu
metrics_buckets: [1, 5, 25]
metrics_refresh_interval: 30s
`)
			_ = os.Setenv("RANKTREE_CONFIG", path)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from the file and keep defaults elsewhere", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.BoltPath, convey.ShouldEqual, "/tmp/ranks.db")
				convey.So(cfg.ScoreRange, convey.ShouldResemble, []int64{0, 500, 0, 10})
				convey.So(cfg.BranchingFactor, convey.ShouldEqual, 4)
				convey.So(cfg.QueueSize, convey.ShouldEqual, 300)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 24)
				convey.So(cfg.DedupeSize, convey.ShouldEqual, 500_000)
				convey.So(cfg.BatchSize, convey.ShouldEqual, 256)
				convey.So(cfg.MetricsPrefix, convey.ShouldEqual, "edge")
				convey.So(cfg.MetricsLabels, convey.ShouldResemble, map[string]string{"region": "eu"})
				convey.So(cfg.MetricsBuckets, convey.ShouldResemble, []float64{1, 5, 25})
				convey.So(cfg.MetricsRefreshInterval, convey.ShouldEqual, 30*time.Second)
				convey.So(cfg.MetricsNamespace, convey.ShouldEqual, "ranktree")
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			path := writeConfigFile(t, "addr: \":9090\"\nworker_count: 24\nqueue_size: 300\n")
			_ = os.Setenv("RANKTREE_CONFIG", path)
			_ = os.Setenv("RANKTREE_ADDR", ":8080")
			_ = os.Setenv("RANKTREE_WORKER_COUNT", "32")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 32)
				convey.So(cfg.QueueSize, convey.ShouldEqual, 300)
			})
		})

		convey.Convey("When the file is invalid or missing", func() {
			_ = os.Setenv("RANKTREE_CONFIG", writeConfigFile(t, `invalid: yaml: content: [`))
			cfg, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			convey.So(cfg, convey.ShouldBeNil)

			_ = os.Setenv("RANKTREE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
			defer clearConfigEnvVars()
			cfg, err = config.Load(ctx)
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			convey.So(cfg, convey.ShouldBeNil)
		})

		convey.Convey("When a numeric environment variable is malformed", func() {
			_ = os.Setenv("RANKTREE_QUEUE_SIZE", "invalid")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the loaded values fail validation", func() {
			_ = os.Setenv("RANKTREE_CONFIG", writeConfigFile(t, "addr: \"\"\n"))
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the score range describes no tree", func() {
			_ = os.Setenv("RANKTREE_SCORE_RANGE", "5,6")
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		if name, _, _ := strings.Cut(kv, "="); strings.HasPrefix(name, config.EnvPrefix) {
			_ = os.Unsetenv(name)
		}
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ranktree.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
