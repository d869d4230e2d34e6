// Package config provides configuration loading and management for
// budtrack. It handles loading configuration from YAML files and
// provides the default values of the measurement protocol.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML.
type Config struct {
	// Fitting parameters
	Fitting struct {
		// Method selects the ellipse fit: "geometric" or "algebraic"
		Method string `yaml:"method"`
	} `yaml:"fitting"`

	// Imaging parameters
	Imaging struct {
		// PixelSize is the physical size of one pixel in micrometers
		PixelSize float64 `yaml:"pixelSize"`

		// BrightfieldChannel is the channel index used for boundary detection
		BrightfieldChannel int `yaml:"brightfieldChannel"`

		// FluorescenceChannels are the channel indices summarized per cell
		FluorescenceChannels []int `yaml:"fluorescenceChannels"`
	} `yaml:"imaging"`

	// Detection parameters
	Detection struct {
		// CellRadius is the maximum boundary search radius in micrometers
		CellRadius float64 `yaml:"cellRadius"`

		// EdgeWindow is the edge search window width in micrometers
		EdgeWindow float64 `yaml:"edgeWindow"`

		// MinRelativeDrop is the minimum edge drop relative to the
		// background, in percent
		MinRelativeDrop float64 `yaml:"minRelativeDrop"`
	} `yaml:"detection"`

	// Selection parameters
	Selection struct {
		// Radius defines "same selection" for add/remove queries, in pixels
		Radius float64 `yaml:"radius"`
	} `yaml:"selection"`
}

// DefaultConfig returns a configuration with the protocol's default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Fitting.Method = "algebraic"

	cfg.Imaging.PixelSize = 0.0645
	cfg.Imaging.BrightfieldChannel = 0
	cfg.Imaging.FluorescenceChannels = []int{1}

	cfg.Detection.CellRadius = 4.0
	cfg.Detection.EdgeWindow = 1.0
	cfg.Detection.MinRelativeDrop = 30.0

	cfg.Selection.Radius = 10.0

	return cfg
}

// LoadConfig loads configuration from a YAML file. If the file doesn't
// exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the
// specified path.
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
