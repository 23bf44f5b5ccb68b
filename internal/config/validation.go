package config

import (
	"fmt"
	"sort"
	"strings"

	"pgharness/pkg/logging"
)

// ValidationError reports one invalid field.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// Add appends a validation error.
func (ve *ValidationErrors) Add(field, message string, value interface{}) {
	*ve = append(*ve, ValidationError{Field: field, Value: value, Message: message})
}

// Validate checks ranges and enumerations in cfg.
func (cfg Config) Validate() error {
	var errs ValidationErrors

	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		errs.Add("log_level", "must be one of debug, info, warn, error", cfg.LogLevel)
	}

	if cfg.Proxy.Path == "" {
		errs.Add("proxy.path", "is required", cfg.Proxy.Path)
	}
	if cfg.Proxy.ReadyTimeout <= 0 {
		errs.Add("proxy.ready_timeout", "must be positive", cfg.Proxy.ReadyTimeout)
	}
	if cfg.Proxy.ReadyInterval <= 0 {
		errs.Add("proxy.ready_interval", "must be positive", cfg.Proxy.ReadyInterval)
	} else if cfg.Proxy.ReadyTimeout > 0 && cfg.Proxy.ReadyInterval > cfg.Proxy.ReadyTimeout {
		errs.Add("proxy.ready_interval", "must not exceed proxy.ready_timeout", cfg.Proxy.ReadyInterval)
	}
	if cfg.Proxy.ShutdownGrace <= 0 {
		errs.Add("proxy.shutdown_grace", "must be positive", cfg.Proxy.ShutdownGrace)
	}

	switch cfg.Postgres.LocationFormat {
	case LocationDSN, LocationAddress:
	default:
		errs.Add("postgres.location_format", fmt.Sprintf("must be %q or %q", LocationDSN, LocationAddress), cfg.Postgres.LocationFormat)
	}
	switch cfg.Postgres.SSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		errs.Add("postgres.sslmode", "is not a libpq sslmode", cfg.Postgres.SSLMode)
	}
	if cfg.Postgres.StartTimeout <= 0 {
		errs.Add("postgres.start_timeout", "must be positive", cfg.Postgres.StartTimeout)
	}

	required := map[string]string{
		"metrics.connects":    cfg.Metrics.Connects,
		"metrics.disconnects": cfg.Metrics.Disconnects,
		"metrics.connections": cfg.Metrics.Connections,
	}
	if cfg.Metrics.SideLabel != "" {
		required["metrics.frontend_value"] = cfg.Metrics.FrontendValue
		required["metrics.backend_value"] = cfg.Metrics.BackendValue
	} else {
		required["metrics.frontend_label"] = cfg.Metrics.FrontendLabel
		required["metrics.backend_label"] = cfg.Metrics.BackendLabel
	}
	for field, v := range required {
		if v == "" {
			errs.Add(field, "is required", v)
		}
	}
	if cfg.Metrics.ScrapeTimeout <= 0 {
		errs.Add("metrics.scrape_timeout", "must be positive", cfg.Metrics.ScrapeTimeout)
	}
	if cfg.Metrics.Retry < 0 {
		errs.Add("metrics.retry", "must not be negative", cfg.Metrics.Retry)
	}

	baseValid := cfg.Ports.BasePort >= 0 && cfg.Ports.BasePort <= 65535
	if !baseValid {
		errs.Add("ports.base_port", "must be between 0 and 65535", cfg.Ports.BasePort)
	}
	if cfg.Ports.Range <= 0 {
		errs.Add("ports.range", "must be positive", cfg.Ports.Range)
	} else if baseValid && cfg.Ports.BasePort > 0 && cfg.Ports.BasePort+cfg.Ports.Range-1 > 65535 {
		errs.Add("ports.range", "extends past port 65535", cfg.Ports.Range)
	}

	if len(cfg.Run.Paths) == 0 {
		errs.Add("run.paths", "at least one feature path is required", cfg.Run.Paths)
	}
	if cfg.Run.Concurrency < 1 {
		errs.Add("run.concurrency", "must be at least 1", cfg.Run.Concurrency)
	}

	if len(errs) > 0 {
		sortErrors(errs)
		return errs
	}
	return nil
}

func sortErrors(errs ValidationErrors) {
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
}
