// Copyright The Symtrace Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "symtrace", cfg.SelfTelemetry.NS)
	assert.Empty(t, cfg.SelfTelemetry.Listen)
	assert.Equal(t, "full", cfg.Symbols.Demangle)
}

func TestLoadFile(t *testing.T) {
	path := writeTempYAML(t, `
log_level: debug
selfTelemetry:
  listen: ":9090"
symbols:
  demangle: none
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.SelfTelemetry.Listen)
	assert.Equal(t, "symtrace", cfg.SelfTelemetry.NS, "unset fields keep their defaults")
	assert.Equal(t, "none", cfg.Symbols.Demangle)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeTempYAML(t, "log_level: [unterminated\n")

	_, err := Load(path)
	assert.Error(t, err)
}
