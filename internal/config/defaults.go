package config

import "time"

const (
	DefaultConfigFile = "pgharness.yaml"

	DefaultProxyPath = "pgtwixt"
	DefaultHost      = "127.0.0.1"
)

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		LogLevel: "info",
		Proxy: ProxyConfig{
			Path:          DefaultProxyPath,
			Host:          DefaultHost,
			ReadyTimeout:  10 * time.Second,
			ReadyInterval: 100 * time.Millisecond,
			ShutdownGrace: 10 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:           DefaultHost,
			User:           "postgres",
			Database:       "postgres",
			SSLMode:        "prefer",
			LocationFormat: LocationDSN,
			StartTimeout:   30 * time.Second,
		},
		Metrics: MetricsConfig{
			Path:          "/metrics",
			ScrapeTimeout: 5 * time.Second,
			SideLabel:     "side",
			FrontendValue: "frontend",
			BackendValue:  "backend",
			FrontendLabel: "bind",
			BackendLabel:  "host",
			Connects:      "pgtwixt_connects_total",
			Disconnects:   "pgtwixt_disconnects_total",
			Connections:   "pgtwixt_connections",
			Retry:         2 * time.Second,
		},
		Ports: PortsConfig{
			Range: 100,
		},
		Run: RunConfig{
			Paths:       []string{"features"},
			Format:      "pretty",
			Concurrency: 1,
			Strict:      true,
		},
	}
}
