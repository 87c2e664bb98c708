// Package config reads tracedeck's configuration file.
package config

import (
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"honnef.co/go/tracedeck/layout"
	"honnef.co/go/tracedeck/trace"
)

type Config struct {
	LogLevel        string `yaml:"log_level"`
	LayoutCacheSize int    `yaml:"layout_cache_size"`
	// AggregationConcurrency limits concurrent aggregations. Zero means no limit.
	AggregationConcurrency int      `yaml:"aggregation_concurrency"`
	DisabledPlugins        []string `yaml:"disabled_plugins"`
}

func Default() Config {
	return Config{
		LogLevel:               "info",
		LayoutCacheSize:        layout.DefaultCacheSize,
		AggregationConcurrency: 4,
	}
}

// Parse reads a YAML document from r. Settings missing from the document keep their default values. Unknown keys are
// an error.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, errors.Wrap(err, "parsing config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads the config file at path. An empty path yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "opening config")
	}
	defer f.Close()
	cfg, err := Parse(f)
	return cfg, errors.Wrapf(err, "reading %s", path)
}

func (cfg Config) Validate() error {
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		return errors.Wrap(err, "log_level")
	}
	if cfg.LayoutCacheSize <= 0 {
		return errors.Errorf("layout_cache_size must be positive, is %d", cfg.LayoutCacheSize)
	}
	if cfg.AggregationConcurrency < 0 {
		return errors.Errorf("aggregation_concurrency must not be negative, is %d", cfg.AggregationConcurrency)
	}
	return nil
}

// Level returns the configured log level.
func (cfg Config) Level() log.Level {
	lvl, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// TraceOptions returns the options for loading a trace with this configuration.
func (cfg Config) TraceOptions(l *log.Entry) trace.Options {
	return trace.Options{
		LayoutCacheSize:        cfg.LayoutCacheSize,
		AggregationConcurrency: cfg.AggregationConcurrency,
		Disabled:               cfg.DisabledPlugins,
		Log:                    l,
	}
}

func (cfg Config) Marshal() ([]byte, error) {
	return yaml.Marshal(cfg)
}
