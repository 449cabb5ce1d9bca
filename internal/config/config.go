package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/guimove/hpcfit/internal/model"
	"github.com/guimove/hpcfit/internal/placement"
)

// Config is the top-level configuration for hpcfit.
type Config struct {
	Cluster    ClusterConfig    `yaml:"cluster" mapstructure:"cluster"`
	Snapshot   SnapshotConfig   `yaml:"snapshot" mapstructure:"snapshot"`
	Scheduling SchedulingConfig `yaml:"scheduling" mapstructure:"scheduling"`
	Simulation SimulationConfig `yaml:"simulation" mapstructure:"simulation"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
}

type ClusterConfig struct {
	Name string `yaml:"name" mapstructure:"name"`
}

// SnapshotConfig locates the cluster snapshot. With a Prometheus URL the
// file provides the inventory and live node state is scraped on top.
type SnapshotConfig struct {
	Path          string        `yaml:"path" mapstructure:"path"`
	PrometheusURL string        `yaml:"prometheus_url" mapstructure:"prometheus_url"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// SchedulingConfig holds the cluster-wide placement policy.
type SchedulingConfig struct {
	PackSerialAtEnd  bool `yaml:"pack_serial_at_end" mapstructure:"pack_serial_at_end"`
	PreferAllocNodes bool `yaml:"prefer_alloc_nodes" mapstructure:"prefer_alloc_nodes"`
	LeastLoaded      bool `yaml:"lln" mapstructure:"lln"`
	EnforceBinding   bool `yaml:"enforce_binding" mapstructure:"enforce_binding"`
}

type SimulationConfig struct {
	Parallelism int      `yaml:"parallelism" mapstructure:"parallelism"` // 0 = one per CPU
	Scenarios   []string `yaml:"scenarios" mapstructure:"scenarios"`     // empty = all
}

type ScoringConfig struct {
	Weights ScoringWeightsConf `yaml:"weights" mapstructure:"weights"`
}

type ScoringWeightsConf struct {
	Placement     float64 `yaml:"placement" mapstructure:"placement"`
	Utilization   float64 `yaml:"utilization" mapstructure:"utilization"`
	Fragmentation float64 `yaml:"fragmentation" mapstructure:"fragmentation"`
	Locality      float64 `yaml:"locality" mapstructure:"locality"`
}

type OutputConfig struct {
	Format string `yaml:"format" mapstructure:"format"`
	TopN   int    `yaml:"top_n" mapstructure:"top_n"`
}

type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	JSON  bool   `yaml:"json" mapstructure:"json"`
}

// MetricsConfig enables the placement metrics dump.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Output  string `yaml:"output" mapstructure:"output"` // empty = stderr
}

// Default returns a Config with sensible defaults.
func Default() Config {
	w := model.DefaultScoringWeights()
	return Config{
		Snapshot: SnapshotConfig{
			Timeout: 30 * time.Second,
		},
		Scoring: ScoringConfig{
			Weights: ScoringWeightsConf{
				Placement:     w.Placement,
				Utilization:   w.Utilization,
				Fragmentation: w.Fragmentation,
				Locality:      w.Locality,
			},
		},
		Output: OutputConfig{
			Format: "table",
			TopN:   5,
		},
		Log: LogConfig{
			Level: "warn",
		},
	}
}

// Validate checks the config for consistency.
func (c *Config) Validate() error {
	var mErr *multierror.Error

	if c.Snapshot.Timeout < 0 {
		mErr = multierror.Append(mErr, fmt.Errorf("snapshot timeout must be non-negative, got %v", c.Snapshot.Timeout))
	}
	if c.Simulation.Parallelism < 0 {
		mErr = multierror.Append(mErr, fmt.Errorf("parallelism must be non-negative, got %d", c.Simulation.Parallelism))
	}

	ws := c.Scoring.Weights
	for name, v := range map[string]float64{
		"placement": ws.Placement, "utilization": ws.Utilization,
		"fragmentation": ws.Fragmentation, "locality": ws.Locality,
	} {
		if v < 0 {
			mErr = multierror.Append(mErr, fmt.Errorf("scoring weight %s must be non-negative, got %v", name, v))
		}
	}
	if ws.Placement+ws.Utilization+ws.Fragmentation+ws.Locality <= 0 {
		mErr = multierror.Append(mErr, fmt.Errorf("at least one scoring weight must be positive"))
	}

	validFormats := map[string]bool{"table": true, "json": true, "markdown": true}
	if !validFormats[c.Output.Format] {
		mErr = multierror.Append(mErr, fmt.Errorf("output format must be table, json, or markdown, got %q", c.Output.Format))
	}
	if hclog.LevelFromString(c.Log.Level) == hclog.NoLevel {
		mErr = multierror.Append(mErr, fmt.Errorf("unknown log level %q", c.Log.Level))
	}

	if c.Output.TopN <= 0 {
		c.Output.TopN = 5
	}
	return mErr.ErrorOrNil()
}

// Policy returns the placement policy of the scheduling section.
func (c *Config) Policy() placement.Policy {
	return placement.Policy{
		PackSerialAtEnd:  c.Scheduling.PackSerialAtEnd,
		PreferAllocNodes: c.Scheduling.PreferAllocNodes,
		LeastLoaded:      c.Scheduling.LeastLoaded,
		EnforceBinding:   c.Scheduling.EnforceBinding,
	}
}

// Weights returns the scoring weights.
func (c *Config) Weights() model.ScoringWeights {
	return model.ScoringWeights{
		Placement:     c.Scoring.Weights.Placement,
		Utilization:   c.Scoring.Weights.Utilization,
		Fragmentation: c.Scoring.Weights.Fragmentation,
		Locality:      c.Scoring.Weights.Locality,
	}
}
