// Copyright The Symtrace Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the symtrace YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string `yaml:"log_level"`

	SelfTelemetry struct {
		Listen string `yaml:"listen"`
		NS     string `yaml:"prometheus_namespace"`
	} `yaml:"selfTelemetry"`

	Symbols struct {
		// Demangle selects C++/Rust name rendering: none, simplified,
		// templates or full.
		Demangle string `yaml:"demangle"`
	} `yaml:"symbols"`
}

// Load reads path and applies defaults. A missing file yields the defaults
// alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.SelfTelemetry.NS == "" {
		cfg.SelfTelemetry.NS = "symtrace"
	}
	if cfg.Symbols.Demangle == "" {
		cfg.Symbols.Demangle = "full"
	}
	return cfg, nil
}
