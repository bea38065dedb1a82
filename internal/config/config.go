// ABOUTME: Conversion configuration
// ABOUTME: YAML-backed settings with defaults and validation
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete converter configuration.
type Config struct {
	Audio   AudioConfig   `yaml:"audio"`
	Output  OutputConfig  `yaml:"output"`
	Logging LoggingConfig `yaml:"logging"`
}

// AudioConfig contains the pipeline parameters. The pipeline is
// single-rate by design; every voice message must announce this rate.
type AudioConfig struct {
	SampleRate     int     `yaml:"sample_rate"`
	WarmupSeconds  float64 `yaml:"warmup_seconds"`
	MaxConcealment int     `yaml:"max_concealment"`
	FrameSamples   int     `yaml:"frame_samples"`
	SampleFormat   string  `yaml:"sample_format"` // int16 or float32
}

// OutputConfig controls where and how tracks are written.
type OutputConfig struct {
	Directory  string `yaml:"directory"`
	SampleRate int    `yaml:"sample_rate"` // 0 keeps the pipeline rate
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate:     24000,
			WarmupSeconds:  0.2,
			MaxConcealment: 10,
			FrameSamples:   1024,
			SampleFormat:   "int16",
		},
		Output: OutputConfig{
			Directory: ".",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads and parses a configuration file. Fields absent from the
// file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// Validate performs validation of the configuration.
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates audio configuration.
func (a *AudioConfig) Validate() error {
	switch a.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return fmt.Errorf("sample_rate must be an Opus rate (8000/12000/16000/24000/48000), got %d", a.SampleRate)
	}

	if a.WarmupSeconds < 0 {
		return fmt.Errorf("warmup_seconds cannot be negative, got %f", a.WarmupSeconds)
	}

	if a.MaxConcealment < 1 {
		return fmt.Errorf("max_concealment must be at least 1, got %d", a.MaxConcealment)
	}

	if a.FrameSamples < 1 {
		return fmt.Errorf("frame_samples must be at least 1, got %d", a.FrameSamples)
	}

	if a.SampleFormat != "int16" && a.SampleFormat != "float32" {
		return fmt.Errorf("sample_format must be 'int16' or 'float32', got %q", a.SampleFormat)
	}
	return nil
}

// Validate validates output configuration.
func (o *OutputConfig) Validate() error {
	if o.Directory == "" {
		return fmt.Errorf("directory cannot be empty")
	}
	if o.SampleRate < 0 {
		return fmt.Errorf("sample_rate cannot be negative, got %d", o.SampleRate)
	}
	return nil
}

// Validate validates logging configuration.
func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("level must be one of [debug, info, warn, error], got %q", l.Level)
	}
}
