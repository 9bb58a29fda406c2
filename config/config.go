// Package config loads the collector's YAML configuration file.
// Every field mirrors a command-line flag; flags win when both are
// set.
package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration for the collector binary.
type Config struct {
	Listen        string `yaml:"listen"`
	MetricsListen string `yaml:"metrics_listen"`
	ReadTimeout   int    `yaml:"read_timeout"`
	WriteTimeout  int    `yaml:"write_timeout"`

	MaxMessageSize          int64    `yaml:"max_message_size"`
	MaxAge                  int      `yaml:"max_age"`
	IgnoreBrowserExtensions bool     `yaml:"ignore_browser_extensions"`
	AllowedOrigins          []string `yaml:"allowed_origins"`
	AllowedOriginPatterns   []string `yaml:"allowed_origin_patterns"`
	Strict                  bool     `yaml:"strict"`
	Debug                   bool     `yaml:"debug"`
	Trace                   bool     `yaml:"trace"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:       ":8080",
		ReadTimeout:  10,
		WriteTimeout: 10,
	}
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unable to parse config %q: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxMessageSize < 0 {
		return fmt.Errorf("max_message_size must be non-negative")
	}
	if c.MaxAge < 0 {
		return fmt.Errorf("max_age must be non-negative")
	}
	for _, p := range c.AllowedOriginPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("bad origin pattern %q: %w", p, err)
		}
	}
	return nil
}

// OriginPatterns compiles the configured origin regular expressions.
// validate has already checked them, so Load-produced configs cannot
// fail here.
func (c *Config) OriginPatterns() ([]*regexp.Regexp, error) {
	patterns := make([]*regexp.Regexp, 0, len(c.AllowedOriginPatterns))
	for _, p := range c.AllowedOriginPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, re)
	}
	return patterns, nil
}
