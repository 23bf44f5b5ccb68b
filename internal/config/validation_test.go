package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"log level", func(c *Config) { c.LogLevel = "chatty" }, "log_level"},
		{"proxy path", func(c *Config) { c.Proxy.Path = "" }, "proxy.path"},
		{"ready timeout", func(c *Config) { c.Proxy.ReadyTimeout = 0 }, "proxy.ready_timeout"},
		{"ready interval", func(c *Config) { c.Proxy.ReadyInterval = time.Minute }, "proxy.ready_interval"},
		{"shutdown grace", func(c *Config) { c.Proxy.ShutdownGrace = -time.Second }, "proxy.shutdown_grace"},
		{"location format", func(c *Config) { c.Postgres.LocationFormat = "url" }, "postgres.location_format"},
		{"sslmode", func(c *Config) { c.Postgres.SSLMode = "sometimes" }, "postgres.sslmode"},
		{"start timeout", func(c *Config) { c.Postgres.StartTimeout = 0 }, "postgres.start_timeout"},
		{"side value", func(c *Config) { c.Metrics.FrontendValue = "" }, "metrics.frontend_value"},
		{"presence label", func(c *Config) { c.Metrics.SideLabel = ""; c.Metrics.BackendLabel = "" }, "metrics.backend_label"},
		{"scrape timeout", func(c *Config) { c.Metrics.ScrapeTimeout = 0 }, "metrics.scrape_timeout"},
		{"base port", func(c *Config) { c.Ports.BasePort = 70000 }, "ports.base_port"},
		{"negative base port", func(c *Config) { c.Ports.BasePort = -1 }, "ports.base_port"},
		{"port range", func(c *Config) { c.Ports.BasePort = 65500; c.Ports.Range = 100 }, "ports.range"},
		{"paths", func(c *Config) { c.Run.Paths = nil }, "run.paths"},
		{"concurrency", func(c *Config) { c.Run.Concurrency = 0 }, "run.concurrency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.field, verrs[0].Field)
		})
	}
}

func TestValidate_MultipleErrorsSorted(t *testing.T) {
	cfg := Default()
	cfg.Run.Concurrency = 0
	cfg.Proxy.Path = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, "validation failed: field 'proxy.path': is required; field 'run.concurrency': must be at least 1", err.Error())
}
