package config

import "time"

// Config is the complete pgharness configuration.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Postgres PostgresConfig `yaml:"postgres"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Ports    PortsConfig    `yaml:"ports"`
	Run      RunConfig      `yaml:"run"`
}

// ProxyConfig describes the proxy executable under test.
type ProxyConfig struct {
	Path string `yaml:"path"`
	// Args are passed before the frontend, metrics and backend arguments.
	Args []string `yaml:"args"`
	// Host is the interface the frontend and metrics binds use.
	Host          string        `yaml:"host"`
	Env           []string      `yaml:"env"`
	ReadyTimeout  time.Duration `yaml:"ready_timeout"`
	ReadyInterval time.Duration `yaml:"ready_interval"`
	// ProbeFrontend also dials the frontend during readiness checks.
	ProbeFrontend bool          `yaml:"probe_frontend"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// Location formats for handing a backend to the proxy.
const (
	LocationDSN     = "dsn"
	LocationAddress = "address"
)

// PostgresConfig describes the backend servers.
type PostgresConfig struct {
	BinDir   string `yaml:"bin_dir"`
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Database string `yaml:"database"`
	// SSLMode is used in dsn locations and client connections.
	SSLMode string `yaml:"sslmode"`
	// LocationFormat is LocationDSN or LocationAddress.
	LocationFormat string        `yaml:"location_format"`
	StartTimeout   time.Duration `yaml:"start_timeout"`
}

// MetricsConfig names the proxy's metric families and how samples of each
// side are told apart.
//
// With SideLabel set, a sample belongs to a side when that label equals
// FrontendValue or BackendValue. With SideLabel empty, a sample belongs to a
// side when it carries FrontendLabel or BackendLabel at all, which matches
// builds that label frontend series with "bind" and backend series with
// "host".
type MetricsConfig struct {
	Path          string        `yaml:"path"`
	ScrapeTimeout time.Duration `yaml:"scrape_timeout"`
	SideLabel     string        `yaml:"side_label"`
	FrontendValue string        `yaml:"frontend_value"`
	BackendValue  string        `yaml:"backend_value"`
	FrontendLabel string        `yaml:"frontend_label"`
	BackendLabel  string        `yaml:"backend_label"`
	Connects      string        `yaml:"connects"`
	Disconnects   string        `yaml:"disconnects"`
	Connections   string        `yaml:"connections"`
	// Retry bounds how long count assertions wait for the expected value.
	Retry time.Duration `yaml:"retry"`
}

// PortsConfig selects how fixture ports are allocated.
type PortsConfig struct {
	// BasePort enables range scanning from this port; zero uses ephemeral
	// ports.
	BasePort int `yaml:"base_port"`
	Range    int `yaml:"range"`
}

// RunConfig controls the feature run.
type RunConfig struct {
	Paths       []string `yaml:"paths"`
	Format      string   `yaml:"format"`
	Tags        string   `yaml:"tags"`
	Concurrency int      `yaml:"concurrency"`
	Strict      bool     `yaml:"strict"`
	// ReportPath is a directory for the JSON run report; empty disables it.
	ReportPath string `yaml:"report_path"`
}
