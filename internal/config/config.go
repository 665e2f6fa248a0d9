// Package config loads the optional cil2cpp.yaml build configuration.
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Mode selects debug or release code generation in the emitter.
type Mode string

const (
	ModeDebug   Mode = "debug"
	ModeRelease Mode = "release"
)

// Config is the build configuration consumed by the driver.
type Config struct {
	// Mode selects Debug or Release emission.
	Mode Mode `yaml:"mode"`

	// LibraryMode seeds every public method instead of an entry point.
	LibraryMode bool `yaml:"libraryMode"`

	// ForceLibraryMode seeds every method of every non-module type.
	ForceLibraryMode bool `yaml:"forceLibraryMode"`

	// ExtraFilteredNamespaces extends the generic-argument namespace filter.
	ExtraFilteredNamespaces []string `yaml:"extraFilteredNamespaces"`

	// DumpIR writes the finished module as JSON to this path, "" disables.
	DumpIR string `yaml:"dumpIR"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{Mode: ModeRelease}
}

// Load reads a YAML config file. A missing file returns defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Mode != ModeDebug && cfg.Mode != ModeRelease {
		return nil, fmt.Errorf("config %s: unknown mode %q", path, cfg.Mode)
	}
	return cfg, nil
}
