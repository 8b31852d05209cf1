/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/ssargent/stdfconv/pkg/codec"
)

// Config represents the stdfconv configuration
type Config struct {
	Conversion Conversion `yaml:"conversion"`
	Paths      Paths      `yaml:"paths"`
	Watch      Watch      `yaml:"watch"`
	Logging    Logging    `yaml:"logging"`
}

// Conversion holds the defaults applied to every conversion job
type Conversion struct {
	HeadNumber int    `yaml:"head_number"`
	SiteNumber int    `yaml:"site_number"`
	MetaFile   string `yaml:"meta_file"`
	Gzip       bool   `yaml:"gzip"`
	Fsync      bool   `yaml:"fsync"`
	Workers    int    `yaml:"workers"`
	LossPolicy string `yaml:"loss_policy"`
	Label      string `yaml:"label"`
}

// Paths contains output and state locations
type Paths struct {
	OutputDir       string `yaml:"output_dir"`
	LedgerDir       string `yaml:"ledger_dir"`
	MetricsTextfile string `yaml:"metrics_textfile"`
}

// Watch contains watch mode settings
type Watch struct {
	Inbox    string        `yaml:"inbox"`
	Debounce time.Duration `yaml:"debounce"`
	Sweep    string        `yaml:"sweep"`
	Listen   string        `yaml:"listen"`
	APIKey   string        `yaml:"api_key"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Conversion: Conversion{
			HeadNumber: 1,
			SiteNumber: 1,
			Workers:    4,
			LossPolicy: "silent",
			Label:      "CLI",
		},
		Paths: Paths{
			OutputDir: ".",
			LedgerDir: defaultStateDir("ledger"),
		},
		Watch: Watch{
			Debounce: 500 * time.Millisecond,
		},
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks values that cannot be caught by YAML typing
func (c *Config) Validate() error {
	if c.Conversion.HeadNumber < 0 || c.Conversion.HeadNumber > 255 {
		return errors.Newf("conversion.head_number %d out of range 0-255", c.Conversion.HeadNumber)
	}
	if c.Conversion.SiteNumber < 0 || c.Conversion.SiteNumber > 255 {
		return errors.Newf("conversion.site_number %d out of range 0-255", c.Conversion.SiteNumber)
	}
	if c.Conversion.Workers < 1 {
		return errors.Newf("conversion.workers must be at least 1, got %d", c.Conversion.Workers)
	}
	if _, err := codec.ParseLossPolicy(c.Conversion.LossPolicy); err != nil {
		return errors.Wrap(err, "conversion.loss_policy")
	}
	if c.Watch.Debounce < 0 {
		return errors.Newf("watch.debounce must not be negative, got %s", c.Watch.Debounce)
	}
	return nil
}

// LoadConfig loads configuration from the specified path. Keys missing from
// the file keep their default values.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, errors.Newf("config file does not exist: %s", configPath)
	}

	if !filepath.IsAbs(configPath) {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, errors.Wrap(err, "invalid config path")
		}
		configPath = absPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// SaveConfig saves the configuration to the specified path
func SaveConfig(config *Config, configPath string) error {
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0750); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	return nil
}

// GetDefaultConfigPath returns the default configuration path for the current platform
func GetDefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./stdfconv.yaml"
	}

	// ~/.config/stdfconv/config.yaml on Linux and macOS
	return filepath.Join(homeDir, ".config", "stdfconv", "config.yaml")
}

// ConfigExists checks if a configuration file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return !os.IsNotExist(err)
}

func defaultStateDir(name string) string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".stdfconv", name)
	}
	return filepath.Join(homeDir, ".local", "state", "stdfconv", name)
}
