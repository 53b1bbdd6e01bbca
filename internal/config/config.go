// Package config loads the run configuration from defaults, an optional
// config file, MZTEMPLATE_ environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/524D/mztemplate/internal/logger"
	"github.com/524D/mztemplate/internal/params"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// MZTEMPLATE_PARAMS_SNR or MZTEMPLATE_LOG_LEVEL
const EnvPrefix = "MZTEMPLATE"

// Config holds the complete run configuration
type Config struct {
	Params  params.Params
	Workers int // 0 uses all CPUs
	Log     logger.Config
	Store   StoreConfig
	Metrics MetricsConfig
}

// StoreConfig holds the run database settings
type StoreConfig struct {
	Path string // SQLite file, empty disables the store
}

// MetricsConfig holds the Prometheus textfile settings
type MetricsConfig struct {
	File string // Textfile to write after the run, empty disables metrics
}

// FlagKeys maps command line flag names to configuration keys
var FlagKeys = map[string]string{
	"workers":            "workers",
	"log-level":          "log.level",
	"log-format":         "log.format",
	"log-output":         "log.output",
	"store":              "store.path",
	"metrics-file":       "metrics.file",
	"half-window":        "params.half_window_size",
	"smoothing-window":   "params.smoothing_half_window",
	"snr":                "params.snr",
	"tolerance":          "params.tolerance",
	"relative-tolerance": "params.relative_tolerance",
	"iterations":         "params.iterations",
	"min-support":        "params.min_support",
}

func setDefaults(v *viper.Viper) {
	p := params.Defaults()
	v.SetDefault("params.half_window_size", p.HalfWindowSize)
	v.SetDefault("params.smoothing_half_window", p.SmoothingHalfWindow)
	v.SetDefault("params.snr", p.SNR)
	v.SetDefault("params.tolerance", p.Tolerance)
	v.SetDefault("params.relative_tolerance", p.RelativeTolerance)
	v.SetDefault("params.iterations", p.Iterations)
	v.SetDefault("params.polynomial_order", p.PolynomialOrder)
	v.SetDefault("params.min_samples", p.MinSamples)
	v.SetDefault("params.min_support", p.MinSupport)
	v.SetDefault("params.reference_min_frequency", p.ReferenceMinFrequency)
	v.SetDefault("params.min_alignment_matches", p.MinAlignmentMatches)
	v.SetDefault("params.lowess_span", p.LowessSpan)
	v.SetDefault("params.lowess_iterations", p.LowessIterations)
	v.SetDefault("params.mass_min", p.MassMin)
	v.SetDefault("params.mass_max", p.MassMax)

	l := logger.DefaultConfig()
	v.SetDefault("workers", 0)
	v.SetDefault("log.level", l.Level)
	v.SetDefault("log.format", l.Format)
	v.SetDefault("log.output", l.Output)
}

// Load builds the configuration. Priority (highest to lowest):
//  1. flags in flags that were set on the command line
//  2. environment variables with the MZTEMPLATE_ prefix
//  3. configFile, or mztemplate.{toml,yaml,json} in the working directory
//  4. built-in defaults
//
// flags may be nil.
func Load(configFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		v.SetConfigName("mztemplate")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, err
				}
			}
		}
	}

	cfg := Config{
		Params: params.Params{
			HalfWindowSize:        v.GetInt("params.half_window_size"),
			SmoothingHalfWindow:   v.GetInt("params.smoothing_half_window"),
			SNR:                   v.GetFloat64("params.snr"),
			Tolerance:             v.GetFloat64("params.tolerance"),
			RelativeTolerance:     v.GetBool("params.relative_tolerance"),
			Iterations:            v.GetInt("params.iterations"),
			PolynomialOrder:       v.GetInt("params.polynomial_order"),
			MinSamples:            v.GetInt("params.min_samples"),
			MinSupport:            v.GetFloat64("params.min_support"),
			ReferenceMinFrequency: v.GetFloat64("params.reference_min_frequency"),
			MinAlignmentMatches:   v.GetInt("params.min_alignment_matches"),
			LowessSpan:            v.GetFloat64("params.lowess_span"),
			LowessIterations:      v.GetInt("params.lowess_iterations"),
			MassMin:               v.GetFloat64("params.mass_min"),
			MassMax:               v.GetFloat64("params.mass_max"),
		},
		Workers: v.GetInt("workers"),
		Log: logger.Config{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Store: StoreConfig{
			Path: v.GetString("store.path"),
		},
		Metrics: MetricsConfig{
			File: v.GetString("metrics.file"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.Log.Output == "" {
		return fmt.Errorf("log.output must not be empty")
	}
	return c.Params.Validate()
}
