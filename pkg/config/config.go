// Package config loads and resolves the pipeline configuration. Settings
// are layered: global HTTP defaults, then a named profile, then the
// per-source overrides, most specific layer winning field by field.
package config

import (
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/clients"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/errors"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/qc"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/ratelimit"
)

// Config is the root of the pipeline configuration file.
type Config struct {
	// Output controls where and how artifacts are written.
	Output OutputConfig `yaml:"output"`
	// GlobalRateLimit caps the combined request rate across all sources.
	GlobalRateLimit *ratelimit.Config `yaml:"global_rate_limit"`
	// HTTP is the global settings layer shared by every source.
	HTTP clients.Settings `yaml:"http"`
	// Profiles are named reusable settings layers sources can reference.
	Profiles map[string]clients.Settings `yaml:"profiles"`
	// Sources configures each external registry.
	Sources map[string]SourceConfig `yaml:"sources"`
	// Quality configures threshold evaluation and the failure gate.
	Quality QualityConfig `yaml:"quality"`
	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging"`
	// Tracing enables span export.
	Tracing TracingConfig `yaml:"tracing"`
}

// OutputConfig controls artifact writing.
type OutputConfig struct {
	Dir string `yaml:"dir"`
	// NullRepr is the CSV cell text for missing values.
	NullRepr string `yaml:"null_repr"`
	// Gzip compresses the dataset artifact.
	Gzip bool `yaml:"gzip"`
	// PipelineVersion is stamped into the metadata sidecar.
	PipelineVersion string `yaml:"pipeline_version"`
}

// SourceConfig configures one external registry.
type SourceConfig struct {
	// Profile names the settings layer applied between the global layer
	// and this source's overrides.
	Profile string `yaml:"profile"`
	// HTTP is the source-specific override layer.
	HTTP clients.Settings `yaml:"http"`
	// PageSize requested per page.
	PageSize int `yaml:"page_size"`
	// MaxPages bounds pagination; 0 means unbounded.
	MaxPages int `yaml:"max_pages"`
	// SchemaVersion the source emits; data is migrated from here to the
	// pipeline's target version.
	SchemaVersion string `yaml:"schema_version"`
	// Enabled gates the source; disabled sources are skipped by the run
	// command.
	Enabled bool `yaml:"enabled"`
}

// QualityConfig configures the quality gate.
type QualityConfig struct {
	// FailOn is the severity at or above which a run fails
	// ("info", "warning", "error").
	FailOn string `yaml:"fail_on"`
	// Thresholds per source.
	Thresholds map[string][]ThresholdConfig `yaml:"thresholds"`
}

// ThresholdConfig is the file form of one quality threshold.
type ThresholdConfig struct {
	Metric   string   `yaml:"metric"`
	Min      *float64 `yaml:"min"`
	Max      *float64 `yaml:"max"`
	Severity string   `yaml:"severity"`
}

// LoggingConfig is the file form of the logger setup.
type LoggingConfig struct {
	Level       string   `yaml:"level"`
	Development bool     `yaml:"development"`
	Encoding    string   `yaml:"encoding"`
	OutputPaths []string `yaml:"output_paths"`
}

// TracingConfig is the file form of the tracing setup.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Validate checks cross-field consistency after loading.
func (c *Config) Validate() error {
	if c.Output.Dir == "" {
		return errors.New(errors.ErrorTypeConfig, "output.dir must be set")
	}
	if len(c.Sources) == 0 {
		return errors.New(errors.ErrorTypeConfig, "at least one source must be configured")
	}

	if c.GlobalRateLimit != nil {
		if err := c.GlobalRateLimit.Validate(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "global rate limit")
		}
	}

	for name, src := range c.Sources {
		if src.Profile != "" {
			if _, ok := c.Profiles[src.Profile]; !ok {
				return errors.Newf(errors.ErrorTypeConfig, "source %s references unknown profile %q", name, src.Profile)
			}
		}
		if src.HTTP.RateLimit != nil {
			if err := src.HTTP.RateLimit.Validate(); err != nil {
				return errors.Wrap(err, errors.ErrorTypeConfig, "source "+name+" rate limit")
			}
		}
	}

	if c.Quality.FailOn != "" {
		if _, err := qc.ParseSeverity(c.Quality.FailOn); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "quality.fail_on")
		}
	}
	for source, thresholds := range c.Quality.Thresholds {
		for _, th := range thresholds {
			if th.Metric == "" {
				return errors.Newf(errors.ErrorTypeConfig, "source %s has a threshold without a metric", source)
			}
			if th.Min == nil && th.Max == nil {
				return errors.Newf(errors.ErrorTypeConfig, "threshold %s for %s has neither min nor max", th.Metric, source)
			}
			if th.Severity != "" {
				if _, err := qc.ParseSeverity(th.Severity); err != nil {
					return errors.Wrap(err, errors.ErrorTypeConfig, "threshold "+th.Metric)
				}
			}
		}
	}

	return nil
}

// ResolveSettings produces the merged settings for one source.
func (c *Config) ResolveSettings(source string) (clients.Settings, error) {
	src, ok := c.Sources[source]
	if !ok {
		return clients.Settings{}, errors.Newf(errors.ErrorTypeConfig, "source %s is not configured", source)
	}

	layers := []clients.Settings{clients.DefaultSettings(), c.HTTP}
	if src.Profile != "" {
		profile, ok := c.Profiles[src.Profile]
		if !ok {
			return clients.Settings{}, errors.Newf(errors.ErrorTypeConfig, "source %s references unknown profile %q", source, src.Profile)
		}
		layers = append(layers, profile)
	}
	layers = append(layers, src.HTTP)

	return clients.MergeSettings(layers...), nil
}

// Thresholds materializes the quality thresholds for one source.
func (c *Config) Thresholds(source string) ([]qc.Threshold, error) {
	var out []qc.Threshold
	for _, th := range c.Quality.Thresholds[source] {
		severity := qc.SeverityError
		if th.Severity != "" {
			parsed, err := qc.ParseSeverity(th.Severity)
			if err != nil {
				return nil, err
			}
			severity = parsed
		}
		out = append(out, qc.Threshold{
			Metric:   th.Metric,
			Min:      th.Min,
			Max:      th.Max,
			Severity: severity,
		})
	}
	return out, nil
}

// FailGate returns the configured failure severity, defaulting to error.
func (c *Config) FailGate() qc.Severity {
	if c.Quality.FailOn == "" {
		return qc.SeverityError
	}
	gate, err := qc.ParseSeverity(c.Quality.FailOn)
	if err != nil {
		return qc.SeverityError
	}
	return gate
}
