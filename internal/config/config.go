// Package config defines service configuration and its loading from files
// and environment variables.
package config

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/okian/ranktree/internal/domain/tree"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// Backend selects the node store: memory or bolt.
	Backend    string `koanf:"backend"`
	BoltPath   string `koanf:"bolt_path"`
	BoltBucket string `koanf:"bolt_bucket"`

	// MaxMutationsPerTx caps mutations per backend transaction. Zero leaves
	// only the backend's own limit.
	MaxMutationsPerTx int `koanf:"max_mutations_per_tx"`

	// RankerName names the ranker; its handle is derived from it.
	RankerName string `koanf:"ranker_name"`

	// ScoreRange is the flat list of [lo, hi) pairs, one per score component.
	ScoreRange      []int64 `koanf:"score_range"`
	BranchingFactor int64   `koanf:"branching_factor"`

	// QueueSize bounds the in-memory submission queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of workers applying submissions.
	WorkerCount int `koanf:"worker_count"`

	// BatchSize caps the submissions coalesced into one tree update.
	BatchSize int `koanf:"batch_size"`

	// DedupeSize sets the size of the submission id set.
	DedupeSize int `koanf:"dedupe_size"`

	// Metrics settings. Empty names keep the collector defaults and empty
	// buckets keep the Prometheus default buckets.
	MetricsEnabled         bool              `koanf:"metrics_enabled"`
	MetricsNamespace       string            `koanf:"metrics_namespace"`
	MetricsSubsystem       string            `koanf:"metrics_subsystem"`
	MetricsPrefix          string            `koanf:"metrics_prefix"`
	MetricsLabels          map[string]string `koanf:"metrics_labels"`
	MetricsBuckets         []float64         `koanf:"metrics_buckets"`
	MetricsRefreshInterval time.Duration     `koanf:"metrics_refresh_interval"`
}

// New returns a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		Addr:              ":9080",
		Backend:           BackendMemory,
		BoltPath:          "ranktree.db",
		BoltBucket:        "ranktree",
		MaxMutationsPerTx: 500,
		RankerName:        "global",
		ScoreRange:        []int64{0, 1_000_000},
		BranchingFactor:   16,
		QueueSize:         100_000,
		WorkerCount:       runtime.NumCPU(),
		BatchSize:         256,
		DedupeSize:        500_000,

		MetricsEnabled:         true,
		MetricsNamespace:       "ranktree",
		MetricsSubsystem:       "ranker",
		MetricsRefreshInterval: 5 * time.Second,
	}
}

// Definition returns the validated tree definition the config describes.
func (c *Config) Definition() (tree.Definition, error) {
	def, err := tree.NewDefinition(c.ScoreRange, c.BranchingFactor)
	if err != nil {
		return tree.Definition{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return def, nil
}

// Validate reports the first invalid setting, wrapped in ErrInvalidConfig.
func (c *Config) Validate(_ context.Context) error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return invalid("addr must not be empty")
	case c.Backend != BackendMemory && c.Backend != BackendBolt:
		return invalid("backend must be %q or %q, got %q", BackendMemory, BackendBolt, c.Backend)
	case c.Backend == BackendBolt && strings.TrimSpace(c.BoltPath) == "":
		return invalid("bolt_path must not be empty for the bolt backend")
	case c.LogFormat != "text" && c.LogFormat != "json":
		return invalid("log_format must be text or json, got %q", c.LogFormat)
	case strings.TrimSpace(c.RankerName) == "":
		return invalid("ranker_name must not be empty")
	case c.MaxMutationsPerTx < 0:
		return invalid("max_mutations_per_tx must not be negative")
	case c.QueueSize <= 0:
		return invalid("queue_size must be positive")
	case c.WorkerCount <= 0:
		return invalid("worker_count must be positive")
	case c.BatchSize <= 0:
		return invalid("batch_size must be positive")
	case c.DedupeSize < 0:
		return invalid("dedupe_size must not be negative")
	case c.MetricsRefreshInterval <= 0:
		return invalid("metrics_refresh_interval must be positive")
	case !slices.IsSorted(c.MetricsBuckets) || len(slices.Compact(slices.Clone(c.MetricsBuckets))) != len(c.MetricsBuckets):
		return invalid("metrics_buckets must be strictly increasing")
	}
	for key, v := range map[string]string{
		"metrics_namespace": c.MetricsNamespace,
		"metrics_subsystem": c.MetricsSubsystem,
		"metrics_prefix":    c.MetricsPrefix,
	} {
		if !metricToken(v) {
			return invalid("%s %q is not a valid metric name part", key, v)
		}
	}
	for name := range c.MetricsLabels {
		if name == "" || !metricToken(name) || strings.HasPrefix(name, "__") {
			return invalid("metrics_labels name %q is not a valid label name", name)
		}
	}
	_, err := c.Definition()
	return err
}

// metricToken reports whether s may appear in a metric or label name. The
// empty string is accepted.
func metricToken(s string) bool {
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
