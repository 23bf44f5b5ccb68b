package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pgharness.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
proxy:
  path: ./bin/pgtwixt
  args: ["--verbose"]
  ready_timeout: 20s
postgres:
  bin_dir: /usr/lib/postgresql/16/bin
  location_format: address
metrics:
  side_label: bind
ports:
  base_port: 30000
run:
  paths: [features/simple_proxy.feature]
  concurrency: 4
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "./bin/pgtwixt", cfg.Proxy.Path)
	assert.Equal(t, []string{"--verbose"}, cfg.Proxy.Args)
	assert.Equal(t, 20*time.Second, cfg.Proxy.ReadyTimeout)
	assert.Equal(t, "/usr/lib/postgresql/16/bin", cfg.Postgres.BinDir)
	assert.Equal(t, LocationAddress, cfg.Postgres.LocationFormat)
	assert.Equal(t, "bind", cfg.Metrics.SideLabel)
	assert.Equal(t, 30000, cfg.Ports.BasePort)
	assert.Equal(t, []string{"features/simple_proxy.feature"}, cfg.Run.Paths)
	assert.Equal(t, 4, cfg.Run.Concurrency)

	// Unset keys keep their defaults.
	assert.Equal(t, 100*time.Millisecond, cfg.Proxy.ReadyInterval)
	assert.Equal(t, "pgtwixt_connects_total", cfg.Metrics.Connects)
	assert.Equal(t, "prefer", cfg.Postgres.SSLMode)

	assert.NoError(t, cfg.Validate())
}

func TestLoad_Malformed(t *testing.T) {
	path := writeConfig(t, "proxy: [unclosed")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, "proxy:\n  ready_timeout: soon\n")
	_, err := Load(path)
	assert.Error(t, err)
}
