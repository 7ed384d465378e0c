// Package config loads perfbudget settings from defaults, an optional
// config file, and PERFBUDGET_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/perfbudget/internal/collector"
)

const (
	DefaultDatafilePath = "djpt.results_collected"
	DefaultMaxExamples  = 10
	DefaultAPIAddr      = "127.0.0.1:3000"
	DefaultQueryTimeout = 30 * time.Second

	envPrefix = "PERFBUDGET"
)

// LimitRule is one entry of performance-limits. Sender types are values
// rather than map keys because viper folds key case and splits keys on
// dots.
type LimitRule struct {
	Sender string         `mapstructure:"sender" yaml:"sender"`
	Limits map[string]int `mapstructure:"limits" yaml:"limits"`
}

// Config is the runtime configuration.
type Config struct {
	DatafilePath  string        `mapstructure:"datafile-path"`
	Limits        []LimitRule   `mapstructure:"performance-limits"`
	LimitsFile    string        `mapstructure:"limits-file"`
	MaxExamples   int           `mapstructure:"max-examples"`
	Metric        string        `mapstructure:"metric"`
	SkipMalformed bool          `mapstructure:"skip-malformed"`
	DBPath        string        `mapstructure:"db-path"`
	APIAddr       string        `mapstructure:"api-addr"`
	QueryTimeout  time.Duration `mapstructure:"query-timeout"`
	ConfigPath    string        `mapstructure:"-"` // not from config file

	fileLimits collector.Limits
}

// Load reads configuration. An empty configPath looks for perfbudget.yml
// in the working directory; a missing file is not an error.
func Load(configPath string) (Config, error) {
	var cfg Config

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("datafile-path", DefaultDatafilePath)
	v.SetDefault("performance-limits", []LimitRule{})
	v.SetDefault("limits-file", "")
	v.SetDefault("max-examples", DefaultMaxExamples)
	v.SetDefault("metric", "queries")
	v.SetDefault("skip-malformed", false)
	v.SetDefault("db-path", "")
	v.SetDefault("api-addr", DefaultAPIAddr)
	v.SetDefault("query-timeout", DefaultQueryTimeout)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("perfbudget")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()

	if strings.TrimSpace(cfg.DatafilePath) == "" {
		return cfg, errors.New("config: datafile-path is empty")
	}
	if cfg.MaxExamples < 0 {
		return cfg, fmt.Errorf("config: invalid max-examples: %d", cfg.MaxExamples)
	}
	for i, rule := range cfg.Limits {
		if strings.TrimSpace(rule.Sender) == "" {
			return cfg, fmt.Errorf("config: performance-limits[%d]: sender is empty", i)
		}
		for metric, n := range rule.Limits {
			if n < 0 {
				return cfg, fmt.Errorf("config: performance-limits[%d]: %s.%s is negative", i, rule.Sender, metric)
			}
		}
	}

	if cfg.LimitsFile != "" {
		limits, err := LoadLimitsFile(cfg.LimitsFile)
		if err != nil {
			return cfg, err
		}
		cfg.fileLimits = limits
	}
	return cfg, nil
}

// LoadLimitsFile parses a YAML mapping of sender type to metric ceilings:
//
//	perfbudget/instrument.Client:
//	  total: 4
//	  write: 0
func LoadLimitsFile(path string) (collector.Limits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read limits file: %w", err)
	}
	var limits collector.Limits
	if err := yaml.Unmarshal(data, &limits); err != nil {
		return nil, fmt.Errorf("config: parse limits file %s: %w", path, err)
	}
	for senderType, ceilings := range limits {
		for metric, n := range ceilings {
			if n < 0 {
				return nil, fmt.Errorf("config: limits file %s: %s.%s is negative", path, senderType, metric)
			}
		}
	}
	return limits, nil
}

// PerformanceLimits merges the limits file with performance-limits; rules
// from the main config win per metric.
func (c Config) PerformanceLimits() collector.Limits {
	out := collector.Limits{}
	merge := func(senderType string, ceilings map[string]int) {
		dst, ok := out[senderType]
		if !ok {
			dst = map[string]int{}
			out[senderType] = dst
		}
		for metric, n := range ceilings {
			dst[metric] = n
		}
	}
	for senderType, ceilings := range c.fileLimits {
		merge(senderType, ceilings)
	}
	for _, rule := range c.Limits {
		merge(rule.Sender, rule.Limits)
	}
	return out
}

// CollectorConfig builds the collector settings from c.
func (c Config) CollectorConfig() collector.Config {
	return collector.Config{
		Limits:      c.PerformanceLimits(),
		Metric:      c.Metric,
		MaxExamples: c.MaxExamples,
		Classify:    collector.SQLClassifier,
	}
}
